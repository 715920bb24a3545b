package onnx

import (
	"context"
	"maps"
)

// GraphRunner is the runner contract the engine drives. Runner implements it
// on top of ORT sessions; tests substitute in-process fakes.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// NewEngineWithRunners builds an engine on caller-supplied runners instead of
// ORT sessions. Contracts carry the per-unit node declarations the manifest
// would normally provide. Used by tests to exercise the generation loop
// without a runtime library.
func NewEngineWithRunners(runners map[string]GraphRunner, contracts map[string]Session) (*Engine, error) {
	owned := make(map[string]GraphRunner, len(runners))
	maps.Copy(owned, runners)

	lookup := func(name string) (Session, bool) {
		meta, ok := contracts[name]
		return meta, ok
	}

	return newEngine(nil, owned, lookup)
}
