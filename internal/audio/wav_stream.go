package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// streamingSizeMarker fills the RIFF and data size fields while the total
// length is unknown. Writers over seekable destinations patch the real sizes
// on Close.
const streamingSizeMarker = 0xFFFFFFFF

const wavHeaderSize = 44

// StreamWriter emits a mono 32-bit float WAV incrementally: header first,
// sample data as it arrives. Over an io.WriteSeeker the header sizes are
// patched on Close, yielding a fully valid file; over a plain writer (an
// HTTP response) the streaming size markers remain.
type StreamWriter struct {
	w          io.Writer
	sampleRate int
	dataBytes  int
	closed     bool
}

// NewStreamWriter writes the WAV header to w and returns a writer for the
// sample data.
func NewStreamWriter(w io.Writer, sampleRate int) (*StreamWriter, error) {
	if sampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	const (
		channels      = encodeChannels
		bitsPerSample = encodeBitDepth
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], streamingSizeMarker)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], formatIEEEFloat)
	binary.LittleEndian.PutUint16(hdr[22:24], channels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], streamingSizeMarker)

	if _, err := w.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}

	return &StreamWriter{w: w, sampleRate: sampleRate}, nil
}

// WriteSamples appends samples as little-endian float32 and returns the
// number of bytes written.
func (s *StreamWriter) WriteSamples(samples []float32) (int, error) {
	if s.closed {
		return 0, fmt.Errorf("stream writer is closed")
	}

	buf := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	n, err := s.w.Write(buf)
	s.dataBytes += n

	return n, err
}

// Close finalizes the stream. When the destination supports seeking, the
// RIFF and data sizes are rewritten with the actual byte counts.
func (s *StreamWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	ws, ok := s.w.(io.WriteSeeker)
	if !ok {
		return nil
	}

	var size [4]byte

	binary.LittleEndian.PutUint32(size[:], uint32(wavHeaderSize-8+s.dataBytes))
	if _, err := ws.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("seek RIFF size: %w", err)
	}
	if _, err := ws.Write(size[:]); err != nil {
		return fmt.Errorf("patch RIFF size: %w", err)
	}

	binary.LittleEndian.PutUint32(size[:], uint32(s.dataBytes))
	if _, err := ws.Seek(40, io.SeekStart); err != nil {
		return fmt.Errorf("seek data size: %w", err)
	}
	if _, err := ws.Write(size[:]); err != nil {
		return fmt.Errorf("patch data size: %w", err)
	}

	if _, err := ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek end: %w", err)
	}

	return nil
}

// SamplesWritten reports the number of samples emitted so far.
func (s *StreamWriter) SamplesWritten() int {
	return s.dataBytes / 4
}
