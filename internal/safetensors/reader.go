package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

const (
	dtypeF32  = "F32"
	dtypeF16  = "F16"
	dtypeBF16 = "BF16"
)

// Tensor is a single named tensor. Reads convert F16 and BF16 payloads to
// float32; writes always emit F32.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

type headerEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

// ReadFile reads every tensor from a .safetensors file.
func ReadFile(path string) ([]Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	return Decode(data)
}

// Decode parses a safetensors payload: an 8-byte little-endian header length,
// a JSON header, then raw tensor data. Tensors are returned in file order
// (ascending data offset). The "__metadata__" header entry is skipped.
func Decode(data []byte) ([]Tensor, error) {
	headerEnd, header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(header))
	for name := range header {
		if name == "__metadata__" {
			continue
		}

		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	entries := make(map[string]headerEntry, len(names))
	for _, name := range names {
		var entry headerEntry
		if err := json.Unmarshal(header[name], &entry); err != nil {
			return nil, fmt.Errorf("safetensors: decode header entry %q: %w", name, err)
		}

		if err := validateEntry(name, entry, len(data)-headerEnd); err != nil {
			return nil, err
		}

		entries[name] = entry
	}

	sort.Slice(names, func(i, j int) bool {
		a, b := entries[names[i]], entries[names[j]]
		if a.Offsets[0] != b.Offsets[0] {
			return a.Offsets[0] < b.Offsets[0]
		}

		return names[i] < names[j]
	})

	tensors := make([]Tensor, 0, len(names))
	for _, name := range names {
		entry := entries[name]

		raw := data[headerEnd+entry.Offsets[0] : headerEnd+entry.Offsets[1]]
		values, err := decodeValues(raw, entry.DType, entry.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		tensors = append(tensors, Tensor{
			Name:  name,
			Shape: append([]int64(nil), entry.Shape...),
			Data:  values,
		})
	}

	return tensors, nil
}

// LoadVoiceEmbedding reads the first tensor of a voice .safetensors file and
// returns its float32 data with a rank-3 [1, T, D] shape. Rank-2 [T, D]
// tensors gain the leading batch dimension; other ranks are rejected.
func LoadVoiceEmbedding(path string) ([]float32, []int64, error) {
	tensors, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	return voiceShape(tensors[0])
}

// LoadVoiceEmbeddingFromBytes is LoadVoiceEmbedding over an in-memory payload.
func LoadVoiceEmbeddingFromBytes(data []byte) ([]float32, []int64, error) {
	tensors, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}

	return voiceShape(tensors[0])
}

func voiceShape(t Tensor) ([]float32, []int64, error) {
	switch len(t.Shape) {
	case 2:
		return t.Data, []int64{1, t.Shape[0], t.Shape[1]}, nil
	case 3:
		return t.Data, t.Shape, nil
	default:
		return nil, nil, fmt.Errorf(
			"safetensors: voice embedding %q has rank-%d shape %v, expected 2 or 3",
			t.Name, len(t.Shape), t.Shape,
		)
	}
}

func decodeHeader(data []byte) (int, map[string]json.RawMessage, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("safetensors: file too short (%d bytes)", len(data))
	}

	// Compare in uint64 before converting; a hostile length must not
	// overflow int.
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return 0, nil, fmt.Errorf("safetensors: header length %d exceeds file size %d", headerLen, len(data))
	}

	headerEnd := 8 + int(headerLen)

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:headerEnd], &header); err != nil {
		return 0, nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	return headerEnd, header, nil
}

func validateEntry(name string, entry headerEntry, dataBytes int) error {
	if _, err := dtypeBytes(entry.DType); err != nil {
		return fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	for _, d := range entry.Shape {
		if d < 0 {
			return fmt.Errorf("safetensors: tensor %q has negative dimension in shape %v", name, entry.Shape)
		}
	}

	if entry.Offsets[0] < 0 || entry.Offsets[1] < entry.Offsets[0] {
		return fmt.Errorf("safetensors: tensor %q has invalid data offsets %v", name, entry.Offsets)
	}

	if entry.Offsets[1] > dataBytes {
		return fmt.Errorf(
			"safetensors: tensor %q data [%d:%d] exceeds data section size %d",
			name, entry.Offsets[0], entry.Offsets[1], dataBytes,
		)
	}

	return nil
}

func decodeValues(raw []byte, dtype string, shape []int64) ([]float32, error) {
	elemCount, err := shapeElementCount(shape)
	if err != nil {
		return nil, err
	}

	width, err := dtypeBytes(dtype)
	if err != nil {
		return nil, err
	}

	n := int(elemCount)
	if len(raw) != n*width {
		return nil, fmt.Errorf("shape %v needs %d data bytes, got %d", shape, n*width, len(raw))
	}

	out := make([]float32, n)

	switch strings.ToUpper(dtype) {
	case dtypeF32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case dtypeF16:
		for i := range out {
			out[i] = float16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case dtypeBF16:
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
	}

	return out, nil
}

func dtypeBytes(dtype string) (int, error) {
	switch strings.ToUpper(dtype) {
	case dtypeF32:
		return 4, nil
	case dtypeF16, dtypeBF16:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

func shapeElementCount(shape []int64) (int64, error) {
	total := int64(1)

	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}

		if d == 0 {
			return 0, nil
		}

		if total > math.MaxInt64/d {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}

		total *= d
	}

	return total, nil
}

func float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x03ff)

	var bits uint32

	switch exp {
	case 0:
		if frac == 0 {
			bits = sign << 31
		} else {
			// Subnormal: shift the fraction up to a normalized form.
			e := int32(-14)

			for (frac & 0x0400) == 0 {
				frac <<= 1
				e--
			}

			frac &= 0x03ff
			bits = (sign << 31) | (uint32(e+127) << 23) | (frac << 13)
		}
	case 0x1f:
		// Inf / NaN.
		bits = (sign << 31) | 0x7f800000 | (frac << 13)
	default:
		bits = (sign << 31) | ((exp + 127 - 15) << 23) | (frac << 13)
	}

	return math.Float32frombits(bits)
}
