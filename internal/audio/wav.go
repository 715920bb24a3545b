package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAVE format codes accepted by the decoder.
const (
	formatPCM       = 1
	formatIEEEFloat = 3
)

// DecodeWAV parses RIFF/WAVE bytes and returns mono float32 samples plus the
// source sample rate. Accepted encodings are 16- and 24-bit integer PCM and
// 32-bit IEEE float, with one or two channels; stereo is downmixed by
// per-sample averaging. Unknown sub-chunks are skipped with word alignment.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 {
		return nil, 0, errors.New("wav: file too short for RIFF header")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("wav: missing RIFF/WAVE magic")
	}
	if binary.LittleEndian.Uint32(data[4:8]) < 4 {
		return nil, 0, errors.New("wav: invalid RIFF chunk size")
	}

	var (
		haveFmt       bool
		audioFormat   uint16
		channels      int
		sampleRate    int
		bitsPerSample int
	)

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8

		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("wav: chunk %q overruns file", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("wav: fmt chunk too short (%d bytes)", size)
			}

			audioFormat = binary.LittleEndian.Uint16(data[off : off+2])
			channels = int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[off+14 : off+16]))

			switch {
			case audioFormat == formatPCM && (bitsPerSample == 16 || bitsPerSample == 24):
			case audioFormat == formatIEEEFloat && bitsPerSample == 32:
			default:
				return nil, 0, fmt.Errorf("wav: unsupported format %d with %d-bit samples", audioFormat, bitsPerSample)
			}

			if channels != 1 && channels != 2 {
				return nil, 0, fmt.Errorf("wav: unsupported channel count %d", channels)
			}
			if sampleRate <= 0 {
				return nil, 0, fmt.Errorf("wav: invalid sample rate %d", sampleRate)
			}

			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, 0, errors.New("wav: data chunk precedes fmt chunk")
			}

			samples, err := decodeSampleData(data[off:off+size], audioFormat, bitsPerSample, channels)
			if err != nil {
				return nil, 0, err
			}

			return samples, sampleRate, nil
		}

		// Chunks are word aligned; odd sizes carry one pad byte.
		off += size + size%2
	}

	return nil, 0, errors.New("wav: no data chunk found")
}

// decodeSampleData converts raw sample bytes to mono float32. Trailing bytes
// short of a full frame are dropped.
func decodeSampleData(raw []byte, format uint16, bits, channels int) ([]float32, error) {
	bytesPerSample := bits / 8
	frames := len(raw) / (bytesPerSample * channels)
	count := frames * channels

	values := make([]float32, count)

	switch {
	case format == formatPCM && bits == 16:
		for i := range count {
			v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			values[i] = float32(v) / 32768
		}

	case format == formatPCM && bits == 24:
		for i := range count {
			b := raw[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v -= 0x1000000
			}
			values[i] = float32(v) / 8388608
		}

	case format == formatIEEEFloat && bits == 32:
		for i := range count {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}

	default:
		return nil, fmt.Errorf("wav: unsupported format %d with %d-bit samples", format, bits)
	}

	if channels == 1 {
		return values, nil
	}

	mono := make([]float32, frames)
	for i := range mono {
		mono[i] = (values[i*2] + values[i*2+1]) / 2
	}

	return mono, nil
}
