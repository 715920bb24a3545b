package onnx

import (
	"context"
	"testing"
)

// fakeRunner satisfies GraphRunner with an injected closure, letting tests
// drive the engine without an ORT session.
type fakeRunner struct {
	name string
	fn   func(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
}

func (f *fakeRunner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	return f.fn(ctx, inputs)
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Close() {}

// engineWithRunners builds an Engine carrying only a runner map. Enough for
// the units that are driven without recurrent state.
func engineWithRunners(runners map[string]GraphRunner) *Engine {
	return &Engine{runners: runners}
}

// condRunner answers token_ids [1, T] with embeddings of T*1024 values.
func condRunner(t *testing.T) *fakeRunner {
	t.Helper()

	return &fakeRunner{
		name: UnitTextConditioner,
		fn: func(_ context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
			ids, ok := inputs["token_ids"]
			if !ok {
				t.Error("expected 'token_ids' input")
				return nil, context.Canceled
			}
			n := ids.Shape()[1]
			out, err := NewTensor(make([]float32, n*contextDim), []int64{1, n, contextDim})
			if err != nil {
				return nil, err
			}
			return map[string]*Tensor{"embeddings": out}, nil
		},
	}
}

func TestTextConditioner_MissingUnit(t *testing.T) {
	e := engineWithRunners(map[string]GraphRunner{})
	_, err := e.TextConditioner(context.Background(), []int64{1, 2, 3})
	if err == nil {
		t.Fatal("expected error when text_conditioner unit is absent")
	}
}

func TestTextConditioner_EmptyTokens(t *testing.T) {
	fake := &fakeRunner{
		name: UnitTextConditioner,
		fn: func(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
			t.Error("Run should not be called for empty tokens")
			return nil, nil
		},
	}
	e := engineWithRunners(map[string]GraphRunner{UnitTextConditioner: fake})
	_, err := e.TextConditioner(context.Background(), []int64{})
	if err == nil {
		t.Fatal("expected error for empty token slice")
	}
}

func TestTextConditioner_PropagatesRunnerError(t *testing.T) {
	fake := &fakeRunner{
		name: UnitTextConditioner,
		fn: func(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
			return nil, context.DeadlineExceeded
		},
	}
	e := engineWithRunners(map[string]GraphRunner{UnitTextConditioner: fake})
	_, err := e.TextConditioner(context.Background(), []int64{1, 2})
	if err == nil {
		t.Fatal("expected error propagated from runner")
	}
}

func TestTextConditioner_ReturnsEmbeddings(t *testing.T) {
	e := engineWithRunners(map[string]GraphRunner{UnitTextConditioner: condRunner(t)})

	got, err := e.TextConditioner(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("TextConditioner: %v", err)
	}

	shape := got.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] != 3 || shape[2] != contextDim {
		t.Errorf("output shape = %v, want [1 3 %d]", shape, contextDim)
	}
}

func TestTextConditioner_RejectsShortOutput(t *testing.T) {
	fake := &fakeRunner{
		name: UnitTextConditioner,
		fn: func(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
			out, err := NewTensor(make([]float32, contextDim), []int64{1, 1, contextDim})
			if err != nil {
				return nil, err
			}
			return map[string]*Tensor{"embeddings": out}, nil
		},
	}
	e := engineWithRunners(map[string]GraphRunner{UnitTextConditioner: fake})

	// Two tokens but the unit only produced one position's worth of values.
	_, err := e.TextConditioner(context.Background(), []int64{1, 2})
	if err == nil {
		t.Fatal("expected error for undersized embeddings output")
	}
}
