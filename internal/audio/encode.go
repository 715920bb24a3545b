package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// Output WAV format: mono 32-bit IEEE float.
const (
	encodeChannels = 1
	encodeBitDepth = 32
)

// EncodeWAV encodes float32 PCM samples as a mono 32-bit float WAV byte
// slice at the given sample rate.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	var buf bytes.Buffer

	// wav.NewEncoder requires an io.WriteSeeker; bytes.Buffer is not one.
	sw := &seekBuffer{buf: &buf}
	if err := encodeTo(sw, samples, sampleRate); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// SaveWAV writes samples to path as a mono 32-bit float WAV file.
func SaveWAV(path string, samples []float32, sampleRate int) error {
	if sampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}

	if err := encodeTo(f, samples, sampleRate); err != nil {
		f.Close()
		return fmt.Errorf("write %q: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", path, err)
	}

	return nil
}

func encodeTo(w io.WriteSeeker, samples []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, encodeBitDepth, encodeChannels, formatIEEEFloat)

	pcmBuf := &goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: encodeChannels},
		SourceBitDepth: encodeBitDepth,
	}

	if err := enc.Write(pcmBuf); err != nil {
		return fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}

	return nil
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n

		return n, err
	}

	// Writing in the middle overwrites existing bytes and extends the
	// buffer for any remainder.
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		data = append(data, p[n:]...)
		s.buf.Reset()
		s.buf.Write(data)
		n = len(p)
	}
	s.pos += n

	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case io.SeekStart:
		newPos = int(offset)
	case io.SeekCurrent:
		newPos = s.pos + int(offset)
	case io.SeekEnd:
		newPos = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	if newPos < 0 {
		return 0, fmt.Errorf("seek before start")
	}
	s.pos = newPos

	return int64(newPos), nil
}
