package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	pockettts "github.com/cwbudde/go-call-pocket-tts"
	"github.com/example/pockettts/internal/config"
	"github.com/example/pockettts/internal/tts"
	"github.com/spf13/cobra"
)

// voiceExporter is the slice of tts.Service the export-voice command needs.
type voiceExporter interface {
	ExportVoice(ctx context.Context, sourcePath, outPath string) (*tts.Voice, error)
	Close()
}

var openVoiceExporter = func(cfg config.Config) (voiceExporter, error) {
	return tts.NewService(cfg)
}

var runPythonExport = pythonExportVoice

func newExportVoiceCmd() *cobra.Command {
	var inputPath string
	var audioPathAlias string
	var outPath string
	var usePythonCLI bool

	cmd := &cobra.Command{
		Use:   "export-voice",
		Short: "Export a voice embedding (.safetensors) from a reference WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			audioPath := strings.TrimSpace(inputPath)
			if audioPath == "" {
				audioPath = strings.TrimSpace(audioPathAlias)
			}
			if audioPath == "" {
				return errors.New("--input is required")
			}

			if strings.TrimSpace(outPath) == "" {
				return errors.New("--out is required")
			}

			if _, err := os.Stat(audioPath); err != nil {
				return fmt.Errorf("read --input %q: %w", audioPath, err)
			}

			if usePythonCLI {
				if err := runPythonExport(cmd.Context(), cfg, audioPath, outPath); err != nil {
					return err
				}

				_, _ = fmt.Fprintf(os.Stdout, "exported voice embedding to %s\n", outPath)

				return nil
			}

			svc, err := openVoiceExporter(cfg)
			if err != nil {
				return fmt.Errorf("initialize service: %w", err)
			}
			defer svc.Close()

			voice, err := svc.ExportVoice(cmd.Context(), audioPath, outPath)
			if err != nil {
				return err
			}

			var frames int64
			if shape := voice.Embedding.Shape(); len(shape) == 3 {
				frames = shape[1]
			}
			_, _ = fmt.Fprintf(os.Stdout, "exported voice embedding to %s (%d frames)\n", outPath, frames)

			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "Reference speaker WAV path")
	cmd.Flags().StringVar(&audioPathAlias, "audio", "", "Alias for --input")
	cmd.Flags().StringVar(&outPath, "out", "", "Output voice .safetensors path")
	cmd.Flags().BoolVar(&usePythonCLI, "python-cli", false,
		"Export through the Python pocket-tts CLI instead of the local voice encoder")

	return cmd
}

// pythonExportVoice shells out to the reference Python implementation. Useful
// when the model set was downloaded without the voice encoder graph.
func pythonExportVoice(ctx context.Context, cfg config.Config, audioPath, outPath string) error {
	exe := cfg.TTS.CLIPath
	if exe == "" {
		exe = "pocket-tts"
	}

	if _, err := exec.LookPath(exe); err != nil {
		return fmt.Errorf(
			"--python-cli requires the pocket-tts CLI (Python tooling) on PATH or --cli-path: %w",
			err,
		)
	}

	err := pockettts.ExportVoice(ctx, audioPath, outPath, &pockettts.ExportVoiceOptions{
		Config:         cfg.TTS.CLIConfigPath,
		Quiet:          cfg.TTS.Quiet,
		ExecutablePath: cfg.TTS.CLIPath,
		LogWriter:      os.Stderr,
	})
	if err != nil {
		var notFound *pockettts.ErrExecutableNotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("--python-cli requires the pocket-tts CLI (Python tooling): %w", err)
		}

		return fmt.Errorf("python voice export failed: %w", err)
	}

	return nil
}
