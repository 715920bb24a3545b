package onnx

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
)

const (
	stateInputPrefix  = "state_"
	stateOutputPrefix = "out_state_"
)

// StateSlot describes one recurrent slot of a stateful unit. The slot table
// is parsed once from the unit's declared contract, so the slot-to-port
// mapping is a typed invariant instead of a per-call string convention.
type StateSlot struct {
	Index      int
	InputName  string
	OutputName string
	DType      TensorDType
	Shape      []int64 // declared shape with dynamic dims resolved to zero
}

// State carries the recurrent tensors of one stateful unit between
// invocations, keyed by slot index. It is owned by exactly one generation at
// a time and must never be shared or reused across calls.
type State map[int]*Tensor

// StatefulUnit wraps a graph runner whose contract declares recurrent state
// ports (state_N inputs with out_state_N successor outputs).
type StatefulUnit struct {
	runner   GraphRunner
	contract Session
	slots    []StateSlot // ascending by Index
}

// NewStatefulUnit parses the unit's slot table from its declared inputs.
// Inputs named state_<N> become slots; a slot's successor output is
// out_state_<N>. Units without state ports are valid and simply have an
// empty table.
func NewStatefulUnit(runner GraphRunner, contract Session) (*StatefulUnit, error) {
	var slots []StateSlot
	seen := make(map[int]bool)

	for _, in := range contract.Inputs {
		if !strings.HasPrefix(in.Name, stateInputPrefix) {
			continue
		}

		idx, err := strconv.Atoi(in.Name[len(stateInputPrefix):])
		if err != nil {
			return nil, fmt.Errorf("unit %s: state input %q has no numeric slot index", contract.Name, in.Name)
		}
		if seen[idx] {
			return nil, fmt.Errorf("unit %s: duplicate state slot %d", contract.Name, idx)
		}
		seen[idx] = true

		dtype, err := canonicalDType(in.DType)
		if err != nil {
			// Unknown element kinds fall back to float32.
			dtype = DTypeFloat32
		}

		shape, err := resolveDeclaredShape(in.Shape)
		if err != nil {
			return nil, fmt.Errorf("unit %s: state input %q: %w", contract.Name, in.Name, err)
		}

		slots = append(slots, StateSlot{
			Index:      idx,
			InputName:  in.Name,
			OutputName: stateOutputPrefix + strconv.Itoa(idx),
			DType:      dtype,
			Shape:      shape,
		})
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Index < slots[j].Index })

	return &StatefulUnit{runner: runner, contract: contract, slots: slots}, nil
}

// Name returns the wrapped unit's name.
func (u *StatefulUnit) Name() string {
	return u.runner.Name()
}

// Slots returns the slot table in canonical (ascending index) order.
func (u *StatefulUnit) Slots() []StateSlot {
	return append([]StateSlot(nil), u.slots...)
}

// OutputName returns the declared name of output i, used to address
// positional outputs of the underlying graph by name.
func (u *StatefulUnit) OutputName(i int) (string, error) {
	if i < 0 || i >= len(u.contract.Outputs) {
		return "", fmt.Errorf("unit %s: output index %d out of range (%d declared)", u.Name(), i, len(u.contract.Outputs))
	}
	return u.contract.Outputs[i].Name, nil
}

// InitState allocates one zero-filled tensor per slot, honoring the declared
// element kind. Dynamic dims were resolved to zero at parse time, so empty
// recurrent buffers (for example an empty attention cache) start empty.
func (u *StatefulUnit) InitState() (State, error) {
	st := make(State, len(u.slots))
	for _, slot := range u.slots {
		t, err := NewZeroTensor(slot.DType, slot.Shape)
		if err != nil {
			return nil, fmt.Errorf("unit %s: init state slot %d: %w", u.Name(), slot.Index, err)
		}
		st[slot.Index] = t
	}
	return st, nil
}

// Step runs the unit once with the non-state feeds plus the current state,
// state slots fed in canonical ascending-index order. Every state-successor
// output replaces its slot's tensor wholesale; shape and kind may change from
// one run to the next (recurrent widths shrink and grow). The full output map
// is returned. A failed run is never retried: the state must be treated as
// corrupted and the session discarded.
func (u *StatefulUnit) Step(ctx context.Context, feeds map[string]*Tensor, st State) (map[string]*Tensor, error) {
	inputs := make(map[string]*Tensor, len(feeds)+len(u.slots))
	maps.Copy(inputs, feeds)

	for _, slot := range u.slots {
		t, ok := st[slot.Index]
		if !ok {
			return nil, fmt.Errorf("unit %s: state slot %d missing from state", u.Name(), slot.Index)
		}
		inputs[slot.InputName] = t
	}

	outputs, err := u.runner.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("unit %s: computation failed: %w", u.Name(), err)
	}

	for _, slot := range u.slots {
		successor, ok := outputs[slot.OutputName]
		if !ok {
			return nil, fmt.Errorf("unit %s: missing state successor %q", u.Name(), slot.OutputName)
		}
		st[slot.Index] = successor
	}

	return outputs, nil
}
