package onnx

import (
	"context"
	"errors"
	"fmt"
)

// VoiceEmbeddingDim is the per-position width of voice conditioning tensors.
const VoiceEmbeddingDim = 1024

// MaxReferenceSamples caps the reference audio fed to the mimi encoder at
// five seconds. Longer prompts add latency without improving the clone.
const MaxReferenceSamples = 5 * SampleRate

// EncodeVoiceSamples runs the mimi encoder on mono 24 kHz samples and
// returns the voice conditioning tensor with shape [1, T, 1024]. Input
// beyond MaxReferenceSamples is dropped.
func (e *Engine) EncodeVoiceSamples(ctx context.Context, samples []float32) (*Tensor, error) {
	if len(samples) == 0 {
		return nil, errors.New("encode voice: empty audio samples")
	}

	runner, ok := e.runners[UnitMimiEncoder]
	if !ok {
		return nil, fmt.Errorf("unit %q not loaded; enable the voice encoder to encode references", UnitMimiEncoder)
	}

	if len(samples) > MaxReferenceSamples {
		samples = samples[:MaxReferenceSamples]
	}

	audioTensor, err := NewTensor(samples, []int64{1, 1, int64(len(samples))})
	if err != nil {
		return nil, fmt.Errorf("encode voice: build audio tensor: %w", err)
	}

	outputs, err := runner.Run(ctx, map[string]*Tensor{"audio": audioTensor})
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", UnitMimiEncoder, err)
	}

	latents, ok := outputs["latents"]
	if !ok {
		return nil, fmt.Errorf("unit %s: missing output %q", UnitMimiEncoder, "latents")
	}

	return normalizeVoiceEmbedding(latents)
}

// normalizeVoiceEmbedding coerces the encoder output to rank 3. Leading
// singleton dims beyond rank 3 are trimmed and missing leading dims are
// filled with 1, so [T, 1024] and [1, 1, T, 1024] both become [1, T, 1024].
func normalizeVoiceEmbedding(latents *Tensor) (*Tensor, error) {
	shape := latents.Shape()

	for len(shape) > 3 {
		if shape[0] != 1 {
			return nil, fmt.Errorf("voice embedding shape %v cannot be reduced to rank 3", latents.Shape())
		}
		shape = shape[1:]
	}
	for len(shape) < 3 {
		shape = append([]int64{1}, shape...)
	}

	if shape[2] != VoiceEmbeddingDim {
		return nil, fmt.Errorf("voice embedding width %d, want %d", shape[2], VoiceEmbeddingDim)
	}

	data, err := ExtractFloat32(latents)
	if err != nil {
		return nil, fmt.Errorf("extract voice embedding: %w", err)
	}

	return NewTensor(data, shape)
}
