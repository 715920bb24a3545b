package onnx

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Unit names addressed by the engine. The manifest must declare a graph for
// each (mimi_encoder only when voice encoding is enabled).
const (
	UnitMimiEncoder     = "mimi_encoder"
	UnitTextConditioner = "text_conditioner"
	UnitFlowLMMain      = "flow_lm_main"
	UnitFlowLMFlow      = "flow_lm_flow"
	UnitMimiDecoder     = "mimi_decoder"
)

// ManifestFilename is the unit manifest expected inside the model directory.
const ManifestFilename = "manifest.json"

// SampleRate is the decoder's output rate in Hz.
const SampleRate = 24000

// SamplesPerFrame is the decoder's nominal output per latent frame (80 ms at
// 24 kHz).
const SamplesPerFrame = 1920

type EngineConfig struct {
	ModelDir  string
	Precision string // "int8" (default) or "fp32"
	Runtime   RuntimeConfig

	// LoadVoiceEncoder controls whether the mimi encoder session is opened.
	// Engines that only synthesize from saved embeddings can skip it.
	LoadVoiceEncoder bool
}

// Engine drives the five computation units of the generation pipeline. It is
// safe for sequential use only; one generation occupies the calling goroutine
// until it returns.
type Engine struct {
	rt      *Runtime
	runners map[string]GraphRunner
	lm      *StatefulUnit
	decoder *StatefulUnit
}

// NewEngine opens the units declared by the model directory's manifest for
// the configured precision.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	precision := cfg.Precision
	if precision == "" {
		precision = "int8"
	}
	if precision != "int8" && precision != "fp32" {
		return nil, fmt.Errorf("unsupported precision %q (want int8 or fp32)", precision)
	}
	if cfg.ModelDir == "" {
		return nil, errors.New("model directory is required")
	}

	sm, err := NewSessionManager(filepath.Join(cfg.ModelDir, ManifestFilename), precision)
	if err != nil {
		return nil, err
	}

	names := []string{UnitTextConditioner, UnitFlowLMMain, UnitFlowLMFlow, UnitMimiDecoder}
	if cfg.LoadVoiceEncoder {
		names = append([]string{UnitMimiEncoder}, names...)
	}

	metas := make(map[string]Session, len(names))
	for _, name := range names {
		meta, ok := sm.Session(name)
		if !ok {
			return nil, fmt.Errorf("manifest does not declare unit %q", name)
		}
		metas[name] = meta
	}

	rt, err := NewRuntime(cfg.Runtime)
	if err != nil {
		return nil, err
	}

	runners := make(map[string]GraphRunner, len(names))
	closeAll := func() {
		for _, r := range runners {
			r.Close()
		}
		rt.Close()
	}

	for _, name := range names {
		runner, err := NewRunner(rt, metas[name])
		if err != nil {
			closeAll()
			return nil, err
		}

		runners[name] = runner
	}

	engine, err := newEngine(rt, runners, sm.Session)
	if err != nil {
		closeAll()
		return nil, err
	}

	return engine, nil
}

func newEngine(rt *Runtime, runners map[string]GraphRunner, contract func(string) (Session, bool)) (*Engine, error) {
	for _, name := range []string{UnitTextConditioner, UnitFlowLMMain, UnitFlowLMFlow, UnitMimiDecoder} {
		if _, ok := runners[name]; !ok {
			return nil, fmt.Errorf("engine requires unit %q", name)
		}
	}

	lmMeta, ok := contract(UnitFlowLMMain)
	if !ok {
		return nil, fmt.Errorf("no contract for unit %q", UnitFlowLMMain)
	}
	lm, err := NewStatefulUnit(runners[UnitFlowLMMain], lmMeta)
	if err != nil {
		return nil, err
	}

	decMeta, ok := contract(UnitMimiDecoder)
	if !ok {
		return nil, fmt.Errorf("no contract for unit %q", UnitMimiDecoder)
	}
	decoder, err := NewStatefulUnit(runners[UnitMimiDecoder], decMeta)
	if err != nil {
		return nil, err
	}

	return &Engine{
		rt:      rt,
		runners: runners,
		lm:      lm,
		decoder: decoder,
	}, nil
}

// HasVoiceEncoder reports whether the mimi encoder unit was loaded.
func (e *Engine) HasVoiceEncoder() bool {
	_, ok := e.runners[UnitMimiEncoder]
	return ok
}

// Close releases all unit sessions and, when the engine owns one, the shared
// runtime. Safe to call multiple times.
func (e *Engine) Close() {
	for _, r := range e.runners {
		r.Close()
	}

	if e.rt != nil {
		e.rt.Close()
		e.rt = nil
	}
}
