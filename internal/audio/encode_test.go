package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	data, err := EncodeWAV(make([]float32, 100), 24000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	if len(data) < 44 {
		t.Fatalf("WAV too short: %d bytes", len(data))
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}

	format := binary.LittleEndian.Uint16(data[20:22])
	channels := binary.LittleEndian.Uint16(data[22:24])
	rate := binary.LittleEndian.Uint32(data[24:28])
	bits := binary.LittleEndian.Uint16(data[34:36])

	if format != formatIEEEFloat {
		t.Errorf("format = %d, want %d", format, formatIEEEFloat)
	}
	if channels != 1 {
		t.Errorf("channels = %d, want 1", channels)
	}
	if rate != 24000 {
		t.Errorf("rate = %d, want 24000", rate)
	}
	if bits != 32 {
		t.Errorf("bit depth = %d, want 32", bits)
	}
}

func TestEncodeWAVInvalidRate(t *testing.T) {
	if _, err := EncodeWAV([]float32{0}, 0); err == nil {
		t.Error("expected error for zero rate")
	}
	if err := SaveWAV(filepath.Join(t.TempDir(), "x.wav"), []float32{0}, -1); err == nil {
		t.Error("expected error for negative rate")
	}
}

// Float samples carry through the container without quantization.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := []float32{0, 0.5, -0.5, 1, -1, 0.123456}

	encoded, err := EncodeWAV(original, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	decoded, rate, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 24000 {
		t.Errorf("rate = %d, want 24000", rate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("round trip: got %d samples, want %d", len(decoded), len(original))
	}

	for i, want := range original {
		if math.Abs(float64(decoded[i]-want)) > 1e-6 {
			t.Errorf("sample[%d] = %v, want %v", i, decoded[i], want)
		}
	}
}

func TestSaveWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	original := []float32{0.25, -0.25, 0.75}

	if err := SaveWAV(path, original, 24000); err != nil {
		t.Fatalf("SaveWAV: %v", err)
	}

	loaded, err := LoadReference(path, 24000)
	if err != nil {
		t.Fatalf("LoadReference: %v", err)
	}
	if len(loaded) != len(original) {
		t.Fatalf("got %d samples, want %d", len(loaded), len(original))
	}
	for i, want := range original {
		if math.Abs(float64(loaded[i]-want)) > 1e-6 {
			t.Errorf("sample[%d] = %v, want %v", i, loaded[i], want)
		}
	}
}

func TestSaveWAVCreateError(t *testing.T) {
	missingDir := filepath.Join(t.TempDir(), "no", "such", "dir", "x.wav")

	if err := SaveWAV(missingDir, []float32{0}, 24000); err == nil {
		t.Error("expected error for uncreatable path")
	}
}

func TestSeekBuffer(t *testing.T) {
	sb := &seekBuffer{buf: &bytes.Buffer{}}

	if _, err := sb.Write([]byte("abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := sb.Seek(2, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if _, err := sb.Write([]byte("XY")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got := sb.buf.String(); got != "abXYef" {
		t.Errorf("buffer = %q, want abXYef", got)
	}

	// Overwrite extending past the end.
	if _, err := sb.Seek(-1, 2); err != nil {
		t.Fatalf("SeekEnd: %v", err)
	}
	if _, err := sb.Write([]byte("ZZZ")); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if got := sb.buf.String(); got != "abXYeZZZ" {
		t.Errorf("buffer = %q, want abXYeZZZ", got)
	}

	if _, err := sb.Seek(-100, 0); err == nil {
		t.Error("expected error seeking before start")
	}
}
