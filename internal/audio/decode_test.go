package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeRefFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write reference file: %v", err)
	}

	return path
}

func TestLoadReferenceWAV(t *testing.T) {
	path := writeRefFile(t, "ref.wav", makeWAV16(24000, 1, 0, 16384, -16384))

	samples, err := LoadReference(path, 24000)
	if err != nil {
		t.Fatalf("LoadReference: %v", err)
	}

	want := []float32{0, 0.5, -0.5}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(samples), len(want))
	}
	for i, w := range want {
		if samples[i] != w {
			t.Errorf("sample[%d] = %v, want %v", i, samples[i], w)
		}
	}
}

func TestLoadReferenceRawPCM16(t *testing.T) {
	// 0x4000 little endian is 16384, i.e. 0.5.
	path := writeRefFile(t, "ref.pcm", []byte{0x00, 0x40, 0x00, 0xC0})

	samples, err := LoadReference(path, 24000)
	if err != nil {
		t.Fatalf("LoadReference: %v", err)
	}

	want := []float32{0.5, -0.5}
	for i, w := range want {
		if samples[i] != w {
			t.Errorf("sample[%d] = %v, want %v", i, samples[i], w)
		}
	}
}

func TestLoadReferenceResamples(t *testing.T) {
	values := make([]int16, 96)
	path := writeRefFile(t, "ref48k.wav", makeWAV16(48000, 1, values...))

	samples, err := LoadReference(path, 24000)
	if err != nil {
		t.Fatalf("LoadReference: %v", err)
	}

	if len(samples) != 48 {
		t.Fatalf("got %d samples, want 48", len(samples))
	}
}

func TestLoadReferenceNormalizesHotSignal(t *testing.T) {
	path := writeRefFile(t, "hot.wav", makeWAV16(24000, 1, -32768, 16384))

	samples, err := LoadReference(path, 24000)
	if err != nil {
		t.Fatalf("LoadReference: %v", err)
	}

	if math.Abs(float64(samples[0])+0.85) > 1e-6 {
		t.Errorf("peak sample = %v, want -0.85", samples[0])
	}
	if math.Abs(float64(samples[1])-0.425) > 1e-6 {
		t.Errorf("sample[1] = %v, want 0.425", samples[1])
	}
}

func TestLoadReferenceLeavesQuietSignal(t *testing.T) {
	path := writeRefFile(t, "quiet.wav", makeWAV16(24000, 1, 16384, -8192))

	samples, err := LoadReference(path, 24000)
	if err != nil {
		t.Fatalf("LoadReference: %v", err)
	}

	if samples[0] != 0.5 || samples[1] != -0.25 {
		t.Errorf("samples = %v, want [0.5 -0.25]", samples)
	}
}

func TestLoadReferenceErrors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		if _, err := LoadReference("  ", 24000); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadReference(filepath.Join(t.TempDir(), "nope.wav"), 24000); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeRefFile(t, "empty.wav", nil)
		if _, err := LoadReference(path, 24000); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("odd raw byte count", func(t *testing.T) {
		path := writeRefFile(t, "odd.pcm", []byte{1, 2, 3})
		if _, err := LoadReference(path, 24000); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid target rate", func(t *testing.T) {
		path := writeRefFile(t, "ref.wav", makeWAV16(24000, 1, 0))
		if _, err := LoadReference(path, 0); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("corrupt wav", func(t *testing.T) {
		path := writeRefFile(t, "bad.wav", []byte("RIFFxxxxWAVEgarbage"))
		if _, err := LoadReference(path, 24000); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestPrepareReference(t *testing.T) {
	t.Run("same rate quiet passthrough", func(t *testing.T) {
		in := []float32{0.1, -0.2}
		out := PrepareReference(in, 24000, 24000)
		if out[0] != 0.1 || out[1] != -0.2 {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("scales only above ceiling", func(t *testing.T) {
		out := PrepareReference([]float32{1.0, 0.5}, 24000, 24000)
		if math.Abs(float64(out[0])-0.85) > 1e-6 {
			t.Errorf("out[0] = %v, want 0.85", out[0])
		}
		if math.Abs(float64(out[1])-0.425) > 1e-6 {
			t.Errorf("out[1] = %v, want 0.425", out[1])
		}

		kept := PrepareReference([]float32{0.85, -0.85}, 24000, 24000)
		if kept[0] != 0.85 || kept[1] != -0.85 {
			t.Errorf("ceiling-level signal was scaled: %v", kept)
		}
	})
}
