package tts

import (
	"context"

	"github.com/example/pockettts/internal/onnx"
)

// Runtime is the engine surface the service depends on. The ONNX engine is
// the production implementation; tests substitute function-backed fakes so
// the whole pipeline runs without ONNX Runtime.
type Runtime interface {
	GenerateAudio(ctx context.Context, tokens []int64, opts onnx.GenerateOptions) ([]float32, error)
	GenerateStreaming(ctx context.Context, tokens []int64, opts onnx.GenerateOptions, stream onnx.StreamOptions) (int, error)
	EncodeVoiceSamples(ctx context.Context, samples []float32) (*onnx.Tensor, error)
	HasVoiceEncoder() bool
	Close()
}

var _ Runtime = (*onnx.Engine)(nil)
