package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/pockettts/internal/onnx"
)

type VerifyOptions struct {
	Dir           string
	Precision     string
	TokenizerPath string
	Stdout        io.Writer
	Stderr        io.Writer
}

// Verify checks that a model directory can back an engine: the unit manifest
// parses, every graph file it declares for the precision exists, the units
// the engine requires are declared, and the tokenizer model is present. One
// line per file with its size goes to Stdout.
func Verify(opts VerifyOptions) error {
	if opts.Dir == "" {
		return errors.New("model dir is required")
	}

	precision, err := normalizePrecision(opts.Precision)
	if err != nil {
		return err
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	manifestPath := filepath.Join(opts.Dir, onnx.ManifestFilename)
	if _, err := os.Stat(manifestPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s is not a model directory (expected: %s)", opts.Dir, expectedNames(precision))
	}

	sessions, err := onnx.LoadManifest(manifestPath, precision)
	if err != nil {
		return err
	}

	var failures []string

	declared := make(map[string]bool)

	for _, session := range sessions {
		declared[session.Name] = true

		info, err := os.Stat(session.Path)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: %v\n", session.Name, err)
			failures = append(failures, session.Name)

			continue
		}

		_, _ = fmt.Fprintf(opts.Stdout, "PASS %s (%s, %d bytes)\n",
			session.Name, filepath.Base(session.Path), info.Size())
	}

	for _, unit := range []string{
		onnx.UnitTextConditioner,
		onnx.UnitFlowLMMain,
		onnx.UnitFlowLMFlow,
		onnx.UnitMimiDecoder,
	} {
		if !declared[unit] {
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: not declared in manifest\n", unit)
			failures = append(failures, unit)
		}
	}

	if !declared[onnx.UnitMimiEncoder] {
		_, _ = fmt.Fprintf(opts.Stdout, "SKIP %s: not declared; voice encoding unavailable\n", onnx.UnitMimiEncoder)
	}

	tokenizerPath := TokenizerPath(opts.Dir, opts.TokenizerPath)

	info, err := os.Stat(tokenizerPath)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "FAIL tokenizer: %v\n", err)
		failures = append(failures, "tokenizer")
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "PASS tokenizer (%s, %d bytes)\n",
			filepath.Base(tokenizerPath), info.Size())
	}

	if len(failures) > 0 {
		return fmt.Errorf("verify failed for %d entry(s): %s", len(failures), strings.Join(failures, ", "))
	}

	return nil
}
