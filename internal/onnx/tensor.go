package onnx

import (
	"fmt"
	"math"
	"strings"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
	DTypeBool    TensorDType = "bool"
)

// Tensor is a named-tensor payload: one element kind, a shape, and the single
// backing buffer matching that kind. The buffer length always equals the
// shape's element count.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T ~int64 | ~float32](data []T, shape []int64) (*Tensor, error) {
	dtype, err := dtypeFromSlice(data)
	if err != nil {
		return nil, err
	}
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{
		dtype: dtype,
		shape: append([]int64(nil), shape...),
	}
	switch dtype {
	case DTypeFloat32:
		converted := make([]float32, len(data))
		for i, v := range data {
			converted[i] = float32(v)
		}
		t.data = converted
	case DTypeInt64:
		converted := make([]int64, len(data))
		for i, v := range data {
			converted[i] = int64(v)
		}
		t.data = converted
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", dtype)
	}
	return t, nil
}

// NewBoolTensor builds a boolean tensor. Kept separate from NewTensor because
// bool does not share a type-set with the numeric element kinds.
func NewBoolTensor(data []bool, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	return &Tensor{
		dtype: DTypeBool,
		shape: append([]int64(nil), shape...),
		data:  append([]bool(nil), data...),
	}, nil
}

// NewZeroTensor allocates an all-zero (or all-false) tensor of the given kind.
// Dims must be non-negative; a zero dim yields an empty buffer and a rank-0
// shape holds a single element.
func NewZeroTensor(dtype TensorDType, shape []int64) (*Tensor, error) {
	count, err := elementCount(shape)
	if err != nil {
		return nil, err
	}

	switch dtype {
	case DTypeFloat32:
		return NewTensor(make([]float32, count), shape)
	case DTypeInt64:
		return NewTensor(make([]int64, count), shape)
	case DTypeBool:
		return NewBoolTensor(make([]bool, count), shape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", dtype)
	}
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Len returns the number of elements in the backing buffer.
func (t *Tensor) Len() int {
	switch v := t.data.(type) {
	case []float32:
		return len(v)
	case []int64:
		return len(v)
	case []bool:
		return len(v)
	default:
		return 0
	}
}

func (t *Tensor) Data() any {
	if t == nil {
		return nil
	}
	switch v := t.data.(type) {
	case []float32:
		return append([]float32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	case []bool:
		return append([]bool(nil), v...)
	default:
		return nil
	}
}

func ExtractFloat32(output any) ([]float32, error) {
	v, err := unwrapData(output)
	if err != nil {
		return nil, err
	}
	switch out := v.(type) {
	case []float32:
		return append([]float32(nil), out...), nil
	case Tensor:
		return tensorFloat32(&out)
	case *Tensor:
		if out == nil {
			return nil, fmt.Errorf("expected *Tensor output, got nil")
		}
		return tensorFloat32(out)
	default:
		return nil, fmt.Errorf("expected []float32 output, got %T", v)
	}
}

func ExtractInt64(output any) ([]int64, error) {
	v, err := unwrapData(output)
	if err != nil {
		return nil, err
	}
	switch out := v.(type) {
	case []int64:
		return append([]int64(nil), out...), nil
	case Tensor:
		return tensorInt64(&out)
	case *Tensor:
		if out == nil {
			return nil, fmt.Errorf("expected *Tensor output, got nil")
		}
		return tensorInt64(out)
	default:
		return nil, fmt.Errorf("expected []int64 output, got %T", v)
	}
}

func ExtractBool(output any) ([]bool, error) {
	v, err := unwrapData(output)
	if err != nil {
		return nil, err
	}
	switch out := v.(type) {
	case []bool:
		return append([]bool(nil), out...), nil
	case Tensor:
		return tensorBool(&out)
	case *Tensor:
		if out == nil {
			return nil, fmt.Errorf("expected *Tensor output, got nil")
		}
		return tensorBool(out)
	default:
		return nil, fmt.Errorf("expected []bool output, got %T", v)
	}
}

func tensorFloat32(t *Tensor) ([]float32, error) {
	if t.dtype != DTypeFloat32 {
		return nil, fmt.Errorf("expected float32 tensor, got %s", t.dtype)
	}
	data, ok := t.data.([]float32)
	if !ok {
		return nil, fmt.Errorf("float32 tensor has unexpected backing type %T", t.data)
	}
	return append([]float32(nil), data...), nil
}

func tensorInt64(t *Tensor) ([]int64, error) {
	if t.dtype != DTypeInt64 {
		return nil, fmt.Errorf("expected int64 tensor, got %s", t.dtype)
	}
	data, ok := t.data.([]int64)
	if !ok {
		return nil, fmt.Errorf("int64 tensor has unexpected backing type %T", t.data)
	}
	return append([]int64(nil), data...), nil
}

func tensorBool(t *Tensor) ([]bool, error) {
	if t.dtype != DTypeBool {
		return nil, fmt.Errorf("expected bool tensor, got %s", t.dtype)
	}
	data, ok := t.data.([]bool)
	if !ok {
		return nil, fmt.Errorf("bool tensor has unexpected backing type %T", t.data)
	}
	return append([]bool(nil), data...), nil
}

func unwrapData(output any) (any, error) {
	type dataGetter interface {
		Data() any
	}

	const maxDepth = 16
	v := output
	for depth := 0; depth < maxDepth; depth++ {
		if v == nil {
			return nil, fmt.Errorf("output is nil")
		}
		getter, ok := v.(dataGetter)
		if !ok {
			return v, nil
		}
		v = getter.Data()
	}
	return nil, fmt.Errorf("nested Data() wrappers exceed max depth %d", maxDepth)
}

func dtypeFromSlice[T ~int64 | ~float32](data []T) (TensorDType, error) {
	var zero T
	switch any(zero).(type) {
	case int64:
		return DTypeInt64, nil
	case float32:
		return DTypeFloat32, nil
	default:
		return "", fmt.Errorf("unsupported tensor data type %T", zero)
	}
}

// canonicalDType maps manifest dtype spellings (including ONNX "tensor(...)"
// forms) onto the supported element kinds.
func canonicalDType(raw string) (TensorDType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "tensor(")
	normalized = strings.TrimSuffix(normalized, ")")
	switch normalized {
	case "float", "float32":
		return DTypeFloat32, nil
	case "int64", "long":
		return DTypeInt64, nil
	case "bool", "boolean":
		return DTypeBool, nil
	default:
		return "", fmt.Errorf("unsupported tensor dtype %q", raw)
	}
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("shape[%d]=%d is negative", i, dim)
		}
		if dim > 0 && count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
