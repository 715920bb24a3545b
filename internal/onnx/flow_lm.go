package onnx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// latentDim is the latent dimension of the acoustic frames (32 for PocketTTS).
const latentDim = 32

// contextDim is the width of the text conditioning vectors.
const contextDim = 1024

// NewBOSSequence creates the initial beginning-of-sequence tensor, shape
// [1, 1, 32] filled with NaN. The flow_lm_main graph replaces NaN with its
// learned bos embedding.
func NewBOSSequence() *Tensor {
	data := make([]float32, latentDim)
	for i := range data {
		data[i] = float32(math.NaN())
	}
	t, _ := NewTensor(data, []int64{1, 1, latentDim})
	return t
}

// NewEmptySequence creates a latent sequence with zero frames, shape
// [1, 0, 32]. Prefill passes feed it while conditioning lives in the text
// input.
func NewEmptySequence() *Tensor {
	t, _ := NewTensor([]float32{}, []int64{1, 0, latentDim})
	return t
}

// NewEmptyContext creates a text conditioning tensor with zero positions,
// shape [1, 0, 1024]. Autoregressive steps feed it once the prompt has been
// absorbed into the recurrent state.
func NewEmptyContext() *Tensor {
	t, _ := NewTensor([]float32{}, []int64{1, 0, contextDim})
	return t
}

// AppendLatentFrame concatenates a latent frame [1, 1, 32] onto the sequence
// tensor [1, S, 32], producing [1, S+1, 32].
func AppendLatentFrame(sequence, frame *Tensor) (*Tensor, error) {
	seqShape := sequence.Shape()
	frameShape := frame.Shape()

	if len(seqShape) != 3 || seqShape[0] != 1 || seqShape[2] != latentDim {
		return nil, fmt.Errorf("sequence shape %v invalid, want [1, S, %d]", seqShape, latentDim)
	}
	if len(frameShape) != 3 || frameShape[0] != 1 || frameShape[1] != 1 || frameShape[2] != latentDim {
		return nil, fmt.Errorf("frame shape %v invalid, want [1, 1, %d]", frameShape, latentDim)
	}

	seqData, err := ExtractFloat32(sequence)
	if err != nil {
		return nil, fmt.Errorf("extract sequence data: %w", err)
	}
	frameData, err := ExtractFloat32(frame)
	if err != nil {
		return nil, fmt.Errorf("extract frame data: %w", err)
	}

	combined := append(seqData, frameData...)
	return NewTensor(combined, []int64{1, seqShape[1] + 1, latentDim})
}

// TextConditioner runs the text_conditioner graph on the token ids and
// returns the embeddings reshaped to [1, T, 1024].
func (e *Engine) TextConditioner(ctx context.Context, tokens []int64) (*Tensor, error) {
	runner, ok := e.runners[UnitTextConditioner]
	if !ok {
		return nil, fmt.Errorf("unit %q not loaded", UnitTextConditioner)
	}
	if len(tokens) == 0 {
		return nil, errors.New("token sequence is empty")
	}

	ids, err := NewTensor(tokens, []int64{1, int64(len(tokens))})
	if err != nil {
		return nil, err
	}

	outputs, err := runner.Run(ctx, map[string]*Tensor{"token_ids": ids})
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", UnitTextConditioner, err)
	}

	emb, ok := outputs["embeddings"]
	if !ok {
		return nil, fmt.Errorf("unit %s: missing output %q", UnitTextConditioner, "embeddings")
	}
	data, err := ExtractFloat32(emb)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", UnitTextConditioner, err)
	}
	if len(data) != len(tokens)*contextDim {
		return nil, fmt.Errorf("unit %s: embeddings hold %d values, want %d", UnitTextConditioner, len(data), len(tokens)*contextDim)
	}

	return NewTensor(data, []int64{1, int64(len(tokens)), contextDim})
}

// FlowLMStep runs one pass of the flow_lm_main graph through its recurrent
// state. Sequence is [1, S, 32] and textEmbeddings is [1, T, 1024]; either
// may have zero extent along dim 1.
//
// Returns the conditioning vector flattened to [1, C] and the raw EOS logit.
func (e *Engine) FlowLMStep(ctx context.Context, sequence, textEmbeddings *Tensor, st State) (*Tensor, float32, error) {
	feeds := map[string]*Tensor{
		"sequence":        sequence,
		"text_embeddings": textEmbeddings,
	}
	outputs, err := e.lm.Step(ctx, feeds, st)
	if err != nil {
		return nil, 0, err
	}

	condName, err := e.lm.OutputName(0)
	if err != nil {
		return nil, 0, err
	}
	cond, ok := outputs[condName]
	if !ok {
		return nil, 0, fmt.Errorf("unit %s: missing output %q", UnitFlowLMMain, condName)
	}
	condData, err := ExtractFloat32(cond)
	if err != nil {
		return nil, 0, fmt.Errorf("unit %s: %w", UnitFlowLMMain, err)
	}
	conditioning, err := NewTensor(condData, []int64{1, int64(len(condData))})
	if err != nil {
		return nil, 0, err
	}

	eosName, err := e.lm.OutputName(1)
	if err != nil {
		return nil, 0, err
	}
	eos, ok := outputs[eosName]
	if !ok {
		return nil, 0, fmt.Errorf("unit %s: missing output %q", UnitFlowLMMain, eosName)
	}
	eosData, err := ExtractFloat32(eos)
	if err != nil {
		return nil, 0, fmt.Errorf("unit %s: %w", UnitFlowLMMain, err)
	}
	if len(eosData) == 0 {
		return nil, 0, fmt.Errorf("unit %s: output %q is empty", UnitFlowLMMain, eosName)
	}

	return conditioning, eosData[0], nil
}

// flowBoundaries returns the integration boundaries for the Euler solver:
// lower[i] = i/steps and upper[i] = (i+1)/steps.
func flowBoundaries(steps int) (lower, upper []float32) {
	lower = make([]float32, steps)
	upper = make([]float32, steps)
	f := float32(steps)
	for i := range steps {
		lower[i] = float32(i) / f
		upper[i] = float32(i+1) / f
	}
	return lower, upper
}

// FlowIntegrate converts a conditioning vector into a latent frame [1, 1, 32]
// by Euler integration of the flow_lm_flow field.
//
// The walk starts from noise x ~ N(0, sqrt(temperature)); temperature 0 gives
// the zero vector. Each step queries the field at the lower boundary and
// advances x by flow_dir/steps.
func (e *Engine) FlowIntegrate(ctx context.Context, conditioning *Tensor, temperature float64, lower, upper []float32) (*Tensor, error) {
	runner, ok := e.runners[UnitFlowLMFlow]
	if !ok {
		return nil, fmt.Errorf("unit %q not loaded", UnitFlowLMFlow)
	}
	steps := len(lower)
	if steps == 0 || len(upper) != steps {
		return nil, fmt.Errorf("invalid flow boundaries: %d lower, %d upper", len(lower), len(upper))
	}

	x := make([]float32, latentDim)
	if temperature > 0 {
		stddev := math.Sqrt(temperature)
		for i := range x {
			x[i] = float32(randNormal() * stddev)
		}
	}

	dt := 1 / float32(steps)
	for i := range steps {
		sT, err := NewTensor([]float32{lower[i]}, []int64{1, 1})
		if err != nil {
			return nil, err
		}
		tT, err := NewTensor([]float32{upper[i]}, []int64{1, 1})
		if err != nil {
			return nil, err
		}
		xT, err := NewTensor(x, []int64{1, latentDim})
		if err != nil {
			return nil, err
		}

		outputs, err := runner.Run(ctx, map[string]*Tensor{
			"c": conditioning,
			"s": sT,
			"t": tT,
			"x": xT,
		})
		if err != nil {
			return nil, fmt.Errorf("unit %s: step %d: %w", UnitFlowLMFlow, i, err)
		}

		dir, ok := outputs["flow_dir"]
		if !ok {
			return nil, fmt.Errorf("unit %s: missing output %q", UnitFlowLMFlow, "flow_dir")
		}
		dirData, err := ExtractFloat32(dir)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", UnitFlowLMFlow, err)
		}
		if len(dirData) < latentDim {
			return nil, fmt.Errorf("unit %s: flow_dir holds %d values, want %d", UnitFlowLMFlow, len(dirData), latentDim)
		}

		for j := range x {
			x[j] += dirData[j] * dt
		}
	}

	return NewTensor(x, []int64{1, 1, latentDim})
}

// randNormal returns a standard normal sample. Package-level var so tests can
// pin the noise.
var randNormal = func() float64 {
	return rand.NormFloat64()
}
