package tts

import (
	"context"
	"errors"

	"github.com/example/pockettts/internal/onnx"
)

// StreamOptions tunes incremental delivery. The zero value streams with the
// configured chunk size, no cancellation handle and no progress reporting.
type StreamOptions struct {
	// ChunkFrames overrides the configured latent frames per chunk when
	// positive.
	ChunkFrames int

	// Cancel, when set, lets another goroutine stop generation between
	// steps. Cancellation is not an error; undelivered audio is discarded.
	Cancel *onnx.Cancel

	// OnProgress, when set, is called after every generated frame with the
	// frame count so far and the per-call frame cap.
	OnProgress func(framesDone, maxFrames int)
}

// PCMChunk is one streamed span of decoded audio.
type PCMChunk struct {
	Samples    []float32
	ChunkIndex int
	Final      bool
}

// SynthesizeStream renders input incrementally, invoking onChunk as PCM
// becomes available, and returns the total samples delivered. On a nil
// error the last onChunk call always carries final=true, with an empty
// sample slice when generation left nothing pending (exact chunk multiple,
// or cancellation, which discards pending frames). Long input is split into
// sentence chunks; chunk boundaries are invisible to onChunk.
func (s *Service) SynthesizeStream(ctx context.Context, input string, voice *Voice, onChunk func(samples []float32, final bool), opts StreamOptions) (int, error) {
	if voice == nil || voice.Embedding == nil {
		return 0, ErrNoVoice
	}
	if onChunk == nil {
		return 0, errors.New("streaming requires an onChunk callback")
	}

	chunks, err := s.prepareChunks(input)
	if err != nil {
		return 0, err
	}

	chunkFrames := opts.ChunkFrames
	if chunkFrames <= 0 {
		chunkFrames = s.ttsCfg.ChunkFrames
	}
	if chunkFrames <= 0 {
		chunkFrames = onnx.DefaultChunkFrames
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0

	for _, chunk := range chunks {
		if opts.Cancel.IsRequested() {
			break
		}

		tokens, err := s.encode(chunk)
		if err != nil {
			return total, err
		}

		genOpts := s.generateOptions(voice)
		genOpts.OnProgress = opts.OnProgress

		// Engine finals are suppressed; the overall final marker is
		// appended below once all sentence chunks are done.
		n, err := s.runtime.GenerateStreaming(ctx, tokens, genOpts, onnx.StreamOptions{
			ChunkFrames: chunkFrames,
			Cancel:      opts.Cancel,
			OnChunk: func(samples []float32, _ bool) {
				onChunk(samples, false)
			},
		})
		total += n
		if err != nil {
			return total, err
		}
	}

	onChunk(nil, true)

	return total, nil
}

// SynthesizeStreamChunks adapts SynthesizeStream to a channel. Chunks carry
// a running index; on a nil error the stream always terminates with a
// Final=true chunk (possibly empty). The channel is closed when the call
// returns, error or not, so consumers can simply range over it.
func (s *Service) SynthesizeStreamChunks(ctx context.Context, input string, voice *Voice, ch chan<- PCMChunk, opts StreamOptions) (int, error) {
	defer close(ch)

	index := 0

	return s.SynthesizeStream(ctx, input, voice, func(samples []float32, final bool) {
		ch <- PCMChunk{Samples: samples, ChunkIndex: index, Final: final}
		index++
	}, opts)
}
