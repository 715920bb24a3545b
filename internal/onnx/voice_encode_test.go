package onnx

import (
	"context"
	"testing"
)

// encoderRunner answers audio [1, 1, n] with latents shaped by shapeFor.
func encoderRunner(t *testing.T, gotSamples *int64, shapeFor func(frames int64) []int64) *fakeRunner {
	t.Helper()

	return &fakeRunner{
		name: UnitMimiEncoder,
		fn: func(_ context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
			audio, ok := inputs["audio"]
			if !ok {
				t.Error("expected 'audio' input")
				return nil, context.Canceled
			}
			shape := audio.Shape()
			if len(shape) != 3 || shape[0] != 1 || shape[1] != 1 {
				t.Errorf("audio shape = %v, want [1, 1, n]", shape)
			}
			if gotSamples != nil {
				*gotSamples = shape[2]
			}

			// One latent position per 1920 input samples, minimum one.
			frames := max(shape[2]/SamplesPerFrame, 1)
			outShape := shapeFor(frames)
			n := int64(1)
			for _, d := range outShape {
				n *= d
			}
			out, err := NewTensor(make([]float32, n), outShape)
			if err != nil {
				return nil, err
			}
			return map[string]*Tensor{"latents": out}, nil
		},
	}
}

func TestEncodeVoiceSamples_ReturnsEmbedding(t *testing.T) {
	enc := encoderRunner(t, nil, func(frames int64) []int64 {
		return []int64{1, frames, VoiceEmbeddingDim}
	})
	e := engineWithRunners(map[string]GraphRunner{UnitMimiEncoder: enc})

	emb, err := e.EncodeVoiceSamples(context.Background(), make([]float32, 4*SamplesPerFrame))
	if err != nil {
		t.Fatalf("EncodeVoiceSamples: %v", err)
	}

	shape := emb.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] != 4 || shape[2] != VoiceEmbeddingDim {
		t.Errorf("embedding shape = %v, want [1 4 %d]", shape, VoiceEmbeddingDim)
	}
}

func TestEncodeVoiceSamples_TruncatesLongReferences(t *testing.T) {
	var got int64
	enc := encoderRunner(t, &got, func(frames int64) []int64 {
		return []int64{1, frames, VoiceEmbeddingDim}
	})
	e := engineWithRunners(map[string]GraphRunner{UnitMimiEncoder: enc})

	long := make([]float32, MaxReferenceSamples+SampleRate)
	if _, err := e.EncodeVoiceSamples(context.Background(), long); err != nil {
		t.Fatalf("EncodeVoiceSamples: %v", err)
	}

	if got != MaxReferenceSamples {
		t.Errorf("encoder saw %d samples, want cap %d", got, MaxReferenceSamples)
	}
}

func TestEncodeVoiceSamples_EmptyInput(t *testing.T) {
	e := engineWithRunners(map[string]GraphRunner{})
	if _, err := e.EncodeVoiceSamples(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty samples")
	}
}

func TestEncodeVoiceSamples_EncoderNotLoaded(t *testing.T) {
	e := engineWithRunners(map[string]GraphRunner{})
	if _, err := e.EncodeVoiceSamples(context.Background(), make([]float32, 100)); err == nil {
		t.Fatal("expected error when the encoder unit is absent")
	}
}

func TestEncodeVoiceSamples_NormalizesRank(t *testing.T) {
	cases := []struct {
		name  string
		shape func(frames int64) []int64
	}{
		{"rank 2", func(frames int64) []int64 { return []int64{frames, VoiceEmbeddingDim} }},
		{"rank 4 leading one", func(frames int64) []int64 { return []int64{1, 1, frames, VoiceEmbeddingDim} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := encoderRunner(t, nil, tc.shape)
			e := engineWithRunners(map[string]GraphRunner{UnitMimiEncoder: enc})

			emb, err := e.EncodeVoiceSamples(context.Background(), make([]float32, 2*SamplesPerFrame))
			if err != nil {
				t.Fatalf("EncodeVoiceSamples: %v", err)
			}
			shape := emb.Shape()
			if len(shape) != 3 || shape[0] != 1 || shape[1] != 2 || shape[2] != VoiceEmbeddingDim {
				t.Errorf("embedding shape = %v, want [1 2 %d]", shape, VoiceEmbeddingDim)
			}
		})
	}
}

func TestEncodeVoiceSamples_RejectsBadShapes(t *testing.T) {
	cases := []struct {
		name  string
		shape func(frames int64) []int64
	}{
		{"wrong width", func(frames int64) []int64 { return []int64{1, frames, 512} }},
		{"irreducible rank 4", func(frames int64) []int64 { return []int64{2, 1, frames, VoiceEmbeddingDim} }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := encoderRunner(t, nil, tc.shape)
			e := engineWithRunners(map[string]GraphRunner{UnitMimiEncoder: enc})

			if _, err := e.EncodeVoiceSamples(context.Background(), make([]float32, SamplesPerFrame)); err == nil {
				t.Fatal("expected shape error")
			}
		})
	}
}
