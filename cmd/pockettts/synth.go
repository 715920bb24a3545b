package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/pockettts/internal/audio"
	"github.com/example/pockettts/internal/config"
	"github.com/example/pockettts/internal/onnx"
	"github.com/example/pockettts/internal/tts"
	"github.com/spf13/cobra"
)

// synthEngine is the slice of tts.Service the synth command needs.
type synthEngine interface {
	Synthesize(ctx context.Context, input, voicePath string) ([]float32, error)
	EncodeVoice(ctx context.Context, sourcePath string) (*tts.Voice, error)
	SynthesizeStream(ctx context.Context, input string, voice *tts.Voice, onChunk func(samples []float32, final bool), opts tts.StreamOptions) (int, error)
	Close()
}

var openSynthEngine = func(cfg config.Config) (synthEngine, error) {
	return tts.NewService(cfg)
}

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var voice string
	var stream bool

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			inputText, err := readSynthText(text, os.Stdin)
			if err != nil {
				return err
			}

			selectedVoice := cfg.TTS.Voice
			if voice != "" {
				selectedVoice = voice
			}
			voicePath := tts.ResolveVoicePath(cfg.Paths.VoicesDir, selectedVoice)

			svc, err := openSynthEngine(cfg)
			if err != nil {
				return fmt.Errorf("initialize service: %w", err)
			}
			defer svc.Close()

			if stream {
				return streamSynthesis(cmd.Context(), svc, inputText, voicePath, out, os.Stdout)
			}

			samples, err := svc.Synthesize(cmd.Context(), inputText, voicePath)
			if err != nil {
				return err
			}
			if len(samples) == 0 {
				return errors.New("synthesis produced no samples")
			}

			wavData, err := audio.EncodeWAV(samples, onnx.SampleRate)
			if err != nil {
				return fmt.Errorf("encode WAV: %w", err)
			}

			return writeSynthOutput(out, wavData, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice name from the voices dir, or a .wav/.safetensors path (overrides config)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Write audio incrementally as it is generated")

	return cmd
}

// streamSynthesis encodes the voice once, then writes PCM chunks as the
// engine produces them. A file destination gets its WAV sizes patched on
// close; stdout keeps the streaming markers.
func streamSynthesis(ctx context.Context, svc synthEngine, input, voicePath, outPath string, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}
		return streamSynthesisTo(ctx, svc, input, voicePath, stdout)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}

	if err := streamSynthesisTo(ctx, svc, input, voicePath, f); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

func streamSynthesisTo(ctx context.Context, svc synthEngine, input, voicePath string, w io.Writer) error {
	voice, err := svc.EncodeVoice(ctx, voicePath)
	if err != nil {
		return err
	}

	sw, err := audio.NewStreamWriter(w, onnx.SampleRate)
	if err != nil {
		return err
	}

	var writeErr error
	total, err := svc.SynthesizeStream(ctx, input, voice, func(samples []float32, _ bool) {
		if writeErr != nil || len(samples) == 0 {
			return
		}
		if _, err := sw.WriteSamples(samples); err != nil {
			writeErr = err
		}
	}, tts.StreamOptions{})
	if err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("write streamed audio: %w", writeErr)
	}
	if total == 0 {
		return errors.New("synthesis produced no samples")
	}

	return sw.Close()
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return errors.New("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --text or pipe text on stdin")
	}
	return input, nil
}
