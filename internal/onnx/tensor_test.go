package onnx

import (
	"math"
	"reflect"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("float32", func(t *testing.T) {
		tt, err := NewTensor([]float32{1, 2, 3, 4}, []int64{2, 2})
		if err != nil {
			t.Fatalf("NewTensor: %v", err)
		}
		if tt.DType() != DTypeFloat32 {
			t.Errorf("dtype = %s, want float32", tt.DType())
		}
		if tt.Len() != 4 {
			t.Errorf("len = %d, want 4", tt.Len())
		}
	})

	t.Run("int64", func(t *testing.T) {
		tt, err := NewTensor([]int64{1, 2}, []int64{1, 2})
		if err != nil {
			t.Fatalf("NewTensor: %v", err)
		}
		if tt.DType() != DTypeInt64 {
			t.Errorf("dtype = %s, want int64", tt.DType())
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		if _, err := NewTensor([]float32{1, 2, 3}, []int64{2, 2}); err == nil {
			t.Error("expected error for shape/data mismatch")
		}
	})

	t.Run("negative dim", func(t *testing.T) {
		if _, err := NewTensor([]float32{1}, []int64{-1}); err == nil {
			t.Error("expected error for negative dim")
		}
	})

	t.Run("copies input", func(t *testing.T) {
		src := []float32{1, 2}
		tt, err := NewTensor(src, []int64{2})
		if err != nil {
			t.Fatalf("NewTensor: %v", err)
		}
		src[0] = 99

		data, err := ExtractFloat32(tt)
		if err != nil {
			t.Fatalf("ExtractFloat32: %v", err)
		}
		if data[0] != 1 {
			t.Error("tensor aliases caller buffer")
		}
	})
}

func TestNewBoolTensor(t *testing.T) {
	tt, err := NewBoolTensor([]bool{true, false}, []int64{2})
	if err != nil {
		t.Fatalf("NewBoolTensor: %v", err)
	}
	if tt.DType() != DTypeBool {
		t.Errorf("dtype = %s, want bool", tt.DType())
	}

	flags, err := ExtractBool(tt)
	if err != nil {
		t.Fatalf("ExtractBool: %v", err)
	}
	if !reflect.DeepEqual(flags, []bool{true, false}) {
		t.Errorf("values = %v", flags)
	}
}

func TestNewZeroTensor(t *testing.T) {
	t.Run("rank 0 holds one element", func(t *testing.T) {
		tt, err := NewZeroTensor(DTypeFloat32, nil)
		if err != nil {
			t.Fatalf("NewZeroTensor: %v", err)
		}
		if tt.Len() != 1 {
			t.Errorf("len = %d, want 1", tt.Len())
		}
	})

	t.Run("zero dim is empty", func(t *testing.T) {
		tt, err := NewZeroTensor(DTypeFloat32, []int64{2, 0, 4})
		if err != nil {
			t.Fatalf("NewZeroTensor: %v", err)
		}
		if tt.Len() != 0 {
			t.Errorf("len = %d, want 0", tt.Len())
		}
		if !reflect.DeepEqual(tt.Shape(), []int64{2, 0, 4}) {
			t.Errorf("shape = %v", tt.Shape())
		}
	})

	t.Run("bool", func(t *testing.T) {
		tt, err := NewZeroTensor(DTypeBool, []int64{3})
		if err != nil {
			t.Fatalf("NewZeroTensor: %v", err)
		}
		flags, err := ExtractBool(tt)
		if err != nil {
			t.Fatalf("ExtractBool: %v", err)
		}
		for _, f := range flags {
			if f {
				t.Error("zero bool tensor has true values")
			}
		}
	})

	t.Run("unknown dtype", func(t *testing.T) {
		if _, err := NewZeroTensor(TensorDType("float16"), []int64{1}); err == nil {
			t.Error("expected error for unsupported dtype")
		}
	})
}

func TestTensorAccessorsCopy(t *testing.T) {
	tt, err := NewTensor([]float32{1, 2}, []int64{2})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	shape := tt.Shape()
	shape[0] = 99
	if tt.Shape()[0] != 2 {
		t.Error("Shape returns aliased slice")
	}

	data := tt.Data().([]float32)
	data[0] = 99
	fresh, err := ExtractFloat32(tt)
	if err != nil {
		t.Fatalf("ExtractFloat32: %v", err)
	}
	if fresh[0] != 1 {
		t.Error("Data returns aliased buffer")
	}
}

func TestExtract_TypeChecks(t *testing.T) {
	f32, err := NewTensor([]float32{1}, []int64{1})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	if _, err := ExtractInt64(f32); err == nil {
		t.Error("expected dtype error extracting int64 from float32 tensor")
	}
	if _, err := ExtractBool(f32); err == nil {
		t.Error("expected dtype error extracting bool from float32 tensor")
	}
	if _, err := ExtractFloat32(nil); err == nil {
		t.Error("expected error for nil output")
	}
	if _, err := ExtractFloat32("pcm"); err == nil {
		t.Error("expected error for unsupported output type")
	}
}

func TestExtract_RawSlices(t *testing.T) {
	vals, err := ExtractFloat32([]float32{1, 2})
	if err != nil || len(vals) != 2 {
		t.Fatalf("ExtractFloat32 slice: %v %v", vals, err)
	}

	ids, err := ExtractInt64([]int64{7})
	if err != nil || ids[0] != 7 {
		t.Fatalf("ExtractInt64 slice: %v %v", ids, err)
	}
}

type tensorWrapper struct{ inner *Tensor }

func (w tensorWrapper) Data() any { return w.inner }

func TestExtract_UnwrapsDataGetters(t *testing.T) {
	tt, err := NewTensor([]float32{5}, []int64{1})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	vals, err := ExtractFloat32(tensorWrapper{inner: tt})
	if err != nil {
		t.Fatalf("ExtractFloat32: %v", err)
	}
	if vals[0] != 5 {
		t.Errorf("values = %v", vals)
	}
}

func TestCanonicalDType(t *testing.T) {
	cases := []struct {
		raw  string
		want TensorDType
	}{
		{"float32", DTypeFloat32},
		{"float", DTypeFloat32},
		{"tensor(float)", DTypeFloat32},
		{"FLOAT32", DTypeFloat32},
		{"int64", DTypeInt64},
		{"long", DTypeInt64},
		{"tensor(int64)", DTypeInt64},
		{"bool", DTypeBool},
		{"boolean", DTypeBool},
	}

	for _, tc := range cases {
		got, err := canonicalDType(tc.raw)
		if err != nil || got != tc.want {
			t.Errorf("canonicalDType(%q) = %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}

	if _, err := canonicalDType("complex128"); err == nil {
		t.Error("expected error for unsupported dtype")
	}
}

func TestElementCount(t *testing.T) {
	if n, err := elementCount(nil); err != nil || n != 1 {
		t.Errorf("rank-0 count = %d, %v; want 1", n, err)
	}
	if n, err := elementCount([]int64{2, 0, 3}); err != nil || n != 0 {
		t.Errorf("zero-dim count = %d, %v; want 0", n, err)
	}
	if _, err := elementCount([]int64{-1, 2}); err == nil {
		t.Error("expected error for negative dim")
	}
	if _, err := elementCount([]int64{math.MaxInt64, 2}); err == nil {
		t.Error("expected overflow error")
	}
}
