package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/pockettts/internal/audio"
	"github.com/example/pockettts/internal/config"
	"github.com/example/pockettts/internal/onnx"
	"github.com/example/pockettts/internal/tts"
)

type fakeSynthEngine struct {
	samples []float32
	chunks  [][]float32

	synthErr  error
	encodeErr error
	streamErr error

	input     string
	voicePath string
	closed    bool
}

func (f *fakeSynthEngine) Synthesize(_ context.Context, input, voicePath string) ([]float32, error) {
	f.input = input
	f.voicePath = voicePath
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return append([]float32(nil), f.samples...), nil
}

func (f *fakeSynthEngine) EncodeVoice(_ context.Context, sourcePath string) (*tts.Voice, error) {
	f.voicePath = sourcePath
	if f.encodeErr != nil {
		return nil, f.encodeErr
	}

	emb, err := onnx.NewTensor(make([]float32, onnx.VoiceEmbeddingDim), []int64{1, 1, onnx.VoiceEmbeddingDim})
	if err != nil {
		return nil, err
	}
	return &tts.Voice{Key: sourcePath, Embedding: emb}, nil
}

func (f *fakeSynthEngine) SynthesizeStream(_ context.Context, input string, _ *tts.Voice, onChunk func(samples []float32, final bool), _ tts.StreamOptions) (int, error) {
	f.input = input
	if f.streamErr != nil {
		return 0, f.streamErr
	}

	total := 0
	for _, c := range f.chunks {
		onChunk(c, false)
		total += len(c)
	}
	onChunk(nil, true)
	return total, nil
}

func (f *fakeSynthEngine) Close() { f.closed = true }

func installFakeEngine(t *testing.T, fake *fakeSynthEngine) {
	t.Helper()

	orig := openSynthEngine
	t.Cleanup(func() { openSynthEngine = orig })

	openSynthEngine = func(config.Config) (synthEngine, error) { return fake, nil }
}

func TestReadSynthText(t *testing.T) {
	t.Run("uses flag text", func(t *testing.T) {
		got, err := readSynthText("hello", strings.NewReader("ignored"))
		if err != nil {
			t.Fatalf("readSynthText returned error: %v", err)
		}
		if got != "hello" {
			t.Fatalf("expected hello, got %q", got)
		}
	})

	t.Run("falls back to stdin", func(t *testing.T) {
		got, err := readSynthText("", strings.NewReader(" from stdin \n"))
		if err != nil {
			t.Fatalf("readSynthText returned error: %v", err)
		}
		if got != "from stdin" {
			t.Fatalf("expected trimmed stdin text, got %q", got)
		}
	})

	t.Run("fails when both empty", func(t *testing.T) {
		_, err := readSynthText("", strings.NewReader("   \n\t"))
		if err == nil {
			t.Fatal("expected error for empty input")
		}
	})
}

func TestSynthCmd_Flags(t *testing.T) {
	cmd := newSynthCmd()

	for _, tc := range []struct {
		name string
		def  string
	}{
		{name: "text", def: ""},
		{name: "out", def: "out.wav"},
		{name: "voice", def: ""},
		{name: "stream", def: "false"},
	} {
		flag := cmd.Flags().Lookup(tc.name)
		if flag == nil {
			t.Fatalf("flag %q not registered", tc.name)
		}

		if flag.DefValue != tc.def {
			t.Fatalf("flag %q default = %q, want %q", tc.name, flag.DefValue, tc.def)
		}
	}
}

func TestSynthCmd_BatchWritesWAV(t *testing.T) {
	fake := &fakeSynthEngine{samples: []float32{0.1, 0.2, 0.3}}
	installFakeEngine(t, fake)

	voicesDir := t.TempDir()
	out := filepath.Join(t.TempDir(), "out.wav")

	cmd := NewRootCmd()
	cmd.SilenceUsage = true
	cmd.SetArgs([]string{
		"synth",
		"--text=Hello there.",
		"--out=" + out,
		"--voice=emma",
		"--voices-dir=" + voicesDir,
	})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("synth command failed: %v", err)
	}

	if fake.input != "Hello there." {
		t.Errorf("engine input = %q, want the flag text", fake.input)
	}

	wantVoice := filepath.Join(voicesDir, "emma.safetensors")
	if fake.voicePath != wantVoice {
		t.Errorf("voice path = %q, want %q", fake.voicePath, wantVoice)
	}

	if !fake.closed {
		t.Error("engine was not closed")
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != onnx.SampleRate {
		t.Errorf("sample rate = %d, want %d", rate, onnx.SampleRate)
	}
	if len(samples) != 3 {
		t.Errorf("sample count = %d, want 3", len(samples))
	}
}

func TestSynthCmd_StreamToFilePatchesSizes(t *testing.T) {
	fake := &fakeSynthEngine{chunks: [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5}}}
	installFakeEngine(t, fake)

	out := filepath.Join(t.TempDir(), "stream.wav")

	cmd := NewRootCmd()
	cmd.SilenceUsage = true
	cmd.SetArgs([]string{"synth", "--stream", "--text=Hello.", "--out=" + out})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("synth --stream failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	// File destinations are seekable, so the finalized sizes decode cleanly.
	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != onnx.SampleRate {
		t.Errorf("sample rate = %d, want %d", rate, onnx.SampleRate)
	}
	if len(samples) != 5 {
		t.Errorf("sample count = %d, want 5", len(samples))
	}
}

func TestSynthCmd_StreamEncodeVoiceError(t *testing.T) {
	fake := &fakeSynthEngine{encodeErr: errors.New("no encoder loaded")}
	installFakeEngine(t, fake)

	cmd := NewRootCmd()
	cmd.SilenceUsage = true
	cmd.SetArgs([]string{
		"synth", "--stream", "--text=Hello.",
		"--out=" + filepath.Join(t.TempDir(), "x.wav"),
	})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "no encoder loaded") {
		t.Fatalf("Execute = %v, want voice encode error", err)
	}
}

func TestSynthCmd_NoSamplesIsAnError(t *testing.T) {
	fake := &fakeSynthEngine{}
	installFakeEngine(t, fake)

	cmd := NewRootCmd()
	cmd.SilenceUsage = true
	cmd.SetArgs([]string{"synth", "--text=Hello.", "--out=-"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "no samples") {
		t.Fatalf("Execute = %v, want no-samples error", err)
	}
}

func TestStreamSynthesisToStdoutKeepsMarkers(t *testing.T) {
	fake := &fakeSynthEngine{chunks: [][]float32{{0.5, -0.5}}}

	var buf bytes.Buffer
	if err := streamSynthesisTo(context.Background(), fake, "Hi.", "v.safetensors", &buf); err != nil {
		t.Fatalf("streamSynthesisTo: %v", err)
	}

	body := buf.Bytes()
	if len(body) != 44+2*4 {
		t.Fatalf("body length = %d, want %d", len(body), 44+2*4)
	}
	if string(body[:4]) != "RIFF" {
		t.Fatalf("missing RIFF header: % x", body[:4])
	}
}

func TestWriteSynthOutput_File(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.wav")

	in, err := audio.EncodeWAV([]float32{0.2, 0.4}, onnx.SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV returned error: %v", err)
	}

	if err := writeSynthOutput(out, in, nil); err != nil {
		t.Fatalf("writeSynthOutput file returned error: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if _, _, err := audio.DecodeWAV(got); err != nil {
		t.Fatalf("written file is not a valid WAV: %v", err)
	}
}

func TestWriteSynthOutput_Stdout(t *testing.T) {
	in, err := audio.EncodeWAV([]float32{0.2, 0.4}, onnx.SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV returned error: %v", err)
	}

	var stdout bytes.Buffer
	if err := writeSynthOutput("-", in, &stdout); err != nil {
		t.Fatalf("writeSynthOutput stdout returned error: %v", err)
	}
	if _, _, err := audio.DecodeWAV(stdout.Bytes()); err != nil {
		t.Fatalf("stdout bytes are not a valid WAV: %v", err)
	}
}
