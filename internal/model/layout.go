// Package model describes the on-disk layout of a pocket-tts model directory
// and verifies that a directory can back an inference engine.
package model

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/example/pockettts/internal/onnx"
)

// TokenizerFilename is the SentencePiece model expected inside the model
// directory.
const TokenizerFilename = "tokenizer.model"

// quantized lists the units published with an int8 variant. The mimi encoder
// and the text conditioner ship at full precision only.
var quantized = map[string]bool{
	onnx.UnitFlowLMMain:  true,
	onnx.UnitFlowLMFlow:  true,
	onnx.UnitMimiDecoder: true,
}

// File is one expected entry of a model directory.
type File struct {
	Name     string
	Optional bool
}

// GraphFilename returns the conventional graph filename for a unit at the
// given precision, e.g. "flow_lm_main_int8.onnx" for int8 and
// "flow_lm_main.onnx" for fp32.
func GraphFilename(unit, precision string) string {
	if precision == "int8" && quantized[unit] {
		return unit + "_int8.onnx"
	}

	return unit + ".onnx"
}

// ExpectedFiles lists the conventional contents of a model directory for one
// precision. The mimi encoder is optional; engines that only synthesize from
// saved embeddings never open it.
func ExpectedFiles(precision string) []File {
	return []File{
		{Name: onnx.ManifestFilename},
		{Name: GraphFilename(onnx.UnitTextConditioner, precision)},
		{Name: GraphFilename(onnx.UnitFlowLMMain, precision)},
		{Name: GraphFilename(onnx.UnitFlowLMFlow, precision)},
		{Name: GraphFilename(onnx.UnitMimiDecoder, precision)},
		{Name: GraphFilename(onnx.UnitMimiEncoder, precision), Optional: true},
		{Name: TokenizerFilename},
	}
}

// TokenizerPath resolves the tokenizer model location: an explicit path wins,
// otherwise tokenizer.model inside the model directory.
func TokenizerPath(modelDir, explicit string) string {
	if explicit != "" {
		return explicit
	}

	return filepath.Join(modelDir, TokenizerFilename)
}

func normalizePrecision(precision string) (string, error) {
	if precision == "" {
		return "int8", nil
	}

	if precision != "int8" && precision != "fp32" {
		return "", fmt.Errorf("unsupported precision %q (want int8 or fp32)", precision)
	}

	return precision, nil
}

func expectedNames(precision string) string {
	files := ExpectedFiles(precision)
	names := make([]string, 0, len(files))

	for _, f := range files {
		name := f.Name
		if f.Optional {
			name += " (optional)"
		}

		names = append(names, name)
	}

	return strings.Join(names, ", ")
}
