package onnx

import (
	"context"
	"errors"
	"fmt"
)

// decodeBatchFrames is the largest latent batch handed to the mimi decoder in
// one call. Larger requests are split.
const decodeBatchFrames = 15

// StackLatentFrames concatenates latent frames [1, 1, 32] into [1, T, 32].
func StackLatentFrames(frames []*Tensor) (*Tensor, error) {
	if len(frames) == 0 {
		return nil, errors.New("no latent frames to stack")
	}

	var combined []float32

	for i, f := range frames {
		data, err := ExtractFloat32(f)
		if err != nil {
			return nil, fmt.Errorf("extract frame %d: %w", i, err)
		}

		combined = append(combined, data...)
	}

	return NewTensor(combined, []int64{1, int64(len(frames)), latentDim})
}

// decodeStream carries the mimi decoder's recurrent state across calls so
// successive batches decode as one continuous latent sequence. One stream
// serves one generation.
type decodeStream struct {
	engine *Engine
	st     State
}

func (e *Engine) newDecodeStream() (*decodeStream, error) {
	st, err := e.decoder.InitState()
	if err != nil {
		return nil, err
	}
	return &decodeStream{engine: e, st: st}, nil
}

// decode converts latent frames to PCM samples, splitting the input into
// sub-batches of at most decodeBatchFrames.
func (d *decodeStream) decode(ctx context.Context, frames []*Tensor) ([]float32, error) {
	var pcm []float32

	for start := 0; start < len(frames); start += decodeBatchFrames {
		end := min(start+decodeBatchFrames, len(frames))

		batch, err := StackLatentFrames(frames[start:end])
		if err != nil {
			return nil, err
		}

		chunk, err := d.decodeBatch(ctx, batch)
		if err != nil {
			return nil, err
		}

		pcm = append(pcm, chunk...)
	}

	return pcm, nil
}

func (d *decodeStream) decodeBatch(ctx context.Context, latent *Tensor) ([]float32, error) {
	e := d.engine

	outputs, err := e.decoder.Step(ctx, map[string]*Tensor{"latent": latent}, d.st)
	if err != nil {
		return nil, err
	}

	audioName, err := e.decoder.OutputName(0)
	if err != nil {
		return nil, err
	}
	audio, ok := outputs[audioName]
	if !ok {
		return nil, fmt.Errorf("unit %s: missing output %q", UnitMimiDecoder, audioName)
	}

	pcm, err := ExtractFloat32(audio)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", UnitMimiDecoder, err)
	}

	return pcm, nil
}
