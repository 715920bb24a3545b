package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// referencePeakCeiling is the level hot reference clips are scaled down to.
// Quiet clips are left untouched.
const referencePeakCeiling = 0.85

// LoadReference reads a voice reference file and returns mono float32
// samples at targetRate. Files with a .wav extension are parsed as
// RIFF/WAVE and resampled as needed; anything else is treated as headerless
// 16-bit little-endian PCM already at the target rate.
func LoadReference(path string, targetRate int) ([]float32, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("load reference: audio path must not be empty")
	}
	if targetRate < 1 {
		return nil, fmt.Errorf("load reference: invalid target rate %d", targetRate)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load reference: read audio file %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("load reference: audio file %q is empty", path)
	}

	if strings.ToLower(filepath.Ext(path)) == ".wav" {
		samples, rate, err := DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("load reference: decode WAV %q: %w", path, err)
		}

		return PrepareReference(samples, rate, targetRate), nil
	}

	samples, err := decodePCM16LE(data)
	if err != nil {
		return nil, fmt.Errorf("load reference: decode raw PCM16 %q: %w", path, err)
	}

	return PrepareReference(samples, targetRate, targetRate), nil
}

// PrepareReference resamples mono samples from sourceRate to targetRate and
// scales the result down when its peak exceeds the reference ceiling.
func PrepareReference(samples []float32, sourceRate, targetRate int) []float32 {
	out := Resample(samples, sourceRate, targetRate)

	var peak float32
	for _, s := range out {
		a := s
		if a < 0 {
			a = -a
		}
		peak = max(peak, a)
	}

	if peak <= referencePeakCeiling {
		return out
	}

	gain := referencePeakCeiling / peak
	scaled := make([]float32, len(out))
	for i, s := range out {
		scaled[i] = s * gain
	}

	return scaled
}

func decodePCM16LE(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty PCM buffer")
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of 2", len(data))
	}

	out := make([]float32, len(data)/2)
	for i := range out {
		lo := int16(data[i*2])
		hi := int16(data[i*2+1]) << 8
		out[i] = float32(hi|lo) / 32768.0
	}

	return out, nil
}
