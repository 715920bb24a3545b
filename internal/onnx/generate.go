package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Defaults for GenerateOptions and StreamOptions.
const (
	DefaultTemperature    = 0.7
	DefaultEOSThreshold   = -4.0
	DefaultMaxFrames      = 500
	DefaultLSDSteps       = 10
	DefaultFramesAfterEOS = 3
	DefaultChunkFrames    = 5
)

// GenerateOptions holds parameters for the autoregressive generation loop.
type GenerateOptions struct {
	Temperature    float64 // noise scale for flow sampling; 0 is deterministic
	EOSThreshold   float64 // raw logit threshold for end-of-speech detection
	MaxFrames      int     // hard cap on generated frames
	LSDSteps       int     // Euler integration steps per frame
	FramesAfterEOS int     // extra frames generated after the first EOS hit
	VoiceEmbedding *Tensor // voice conditioning [1, T, 1024]; required

	// OnProgress, when set, is called after every generated frame.
	OnProgress func(framesDone, maxFrames int)
}

// DefaultGenerateOptions returns options with the standard tuning. The voice
// embedding must still be filled in by the caller.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Temperature:    DefaultTemperature,
		EOSThreshold:   DefaultEOSThreshold,
		MaxFrames:      DefaultMaxFrames,
		LSDSteps:       DefaultLSDSteps,
		FramesAfterEOS: DefaultFramesAfterEOS,
	}
}

func (o GenerateOptions) validate() error {
	if o.Temperature < 0 {
		return fmt.Errorf("temperature %g is negative", o.Temperature)
	}
	if o.MaxFrames < 0 {
		return fmt.Errorf("max frames %d is negative", o.MaxFrames)
	}
	if o.LSDSteps <= 0 {
		return fmt.Errorf("lsd steps %d is not positive", o.LSDSteps)
	}
	if o.FramesAfterEOS < 0 {
		return fmt.Errorf("frames after EOS %d is negative", o.FramesAfterEOS)
	}
	if o.VoiceEmbedding == nil {
		return errors.New("voice embedding is required")
	}
	shape := o.VoiceEmbedding.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[2] != VoiceEmbeddingDim {
		return fmt.Errorf("voice embedding shape %v invalid, want [1, T, %d]", shape, VoiceEmbeddingDim)
	}
	return nil
}

// StreamOptions configures chunked delivery for GenerateStreaming.
type StreamOptions struct {
	// ChunkFrames is the number of latent frames decoded per OnChunk call.
	ChunkFrames int

	// Cancel, when set, lets another goroutine stop the generation between
	// steps. See Cancel.
	Cancel *Cancel

	// OnChunk receives decoded PCM as it becomes available. The final flag
	// marks the trailing partial chunk; it is never set after cancellation
	// or when the frame count is an exact multiple of ChunkFrames.
	OnChunk func(samples []float32, final bool)
}

// Cancel is a cooperative stop flag shared between the generating goroutine
// and at most one controller. Create it with NewCancel; the zero value also
// works. Request and IsRequested are safe to call concurrently.
type Cancel struct {
	flag atomic.Bool
}

func NewCancel() *Cancel {
	return &Cancel{}
}

// Request asks the generation loop to stop before its next step.
func (c *Cancel) Request() {
	c.flag.Store(true)
}

// IsRequested reports whether Request has been called. Safe on a nil
// receiver so an absent cancel reads as never requested.
func (c *Cancel) IsRequested() bool {
	return c != nil && c.flag.Load()
}

// promptState initializes the flow LM recurrent state and absorbs the voice
// and text conditioning, in that order. Both passes feed an empty latent
// sequence; their outputs are discarded.
func (e *Engine) promptState(ctx context.Context, voiceEmb, textEmb *Tensor) (State, error) {
	st, err := e.lm.InitState()
	if err != nil {
		return nil, err
	}

	empty := NewEmptySequence()
	if _, _, err := e.FlowLMStep(ctx, empty, voiceEmb, st); err != nil {
		return nil, fmt.Errorf("absorb voice conditioning: %w", err)
	}
	if _, _, err := e.FlowLMStep(ctx, empty, textEmb, st); err != nil {
		return nil, fmt.Errorf("absorb text conditioning: %w", err)
	}

	return st, nil
}

// GenerateAudio runs the full generation pipeline:
//
//	text_conditioner → prompt absorption → AR loop → mimi_decoder
//
// Each AR step advances flow_lm_main by one frame, records the first step
// whose EOS logit clears the threshold, and integrates the flow field into a
// latent frame. The loop stops FramesAfterEOS steps after that first hit, or
// at MaxFrames. Latents are decoded in one pass at the end.
//
// Returns 24 kHz float32 PCM samples.
func (e *Engine) GenerateAudio(ctx context.Context, tokens []int64, opts GenerateOptions) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, errors.New("generate: token slice must not be empty")
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	start := time.Now()

	textEmb, err := e.TextConditioner(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	st, err := e.promptState(ctx, opts.VoiceEmbedding, textEmb)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	lower, upper := flowBoundaries(opts.LSDSteps)
	current := NewBOSSequence()
	emptyCtx := NewEmptyContext()

	var frames []*Tensor
	eosStep := -1

	for step := range opts.MaxFrames {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("generate step %d: %w", step, err)
		}

		cond, eosLogit, err := e.FlowLMStep(ctx, current, emptyCtx, st)
		if err != nil {
			return nil, fmt.Errorf("generate step %d: %w", step, err)
		}

		if eosStep < 0 && float64(eosLogit) > opts.EOSThreshold {
			eosStep = step
			slog.Debug("EOS detected", "step", step, "frames_after_eos", opts.FramesAfterEOS)
		}
		if eosStep >= 0 && step >= eosStep+opts.FramesAfterEOS {
			break
		}

		frame, err := e.FlowIntegrate(ctx, cond, opts.Temperature, lower, upper)
		if err != nil {
			return nil, fmt.Errorf("generate step %d flow: %w", step, err)
		}

		frames = append(frames, frame)
		current = frame

		if opts.OnProgress != nil {
			opts.OnProgress(len(frames), opts.MaxFrames)
		}
	}

	decoder, err := e.newDecodeStream()
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	pcm, err := decoder.decode(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("generate: decode latents: %w", err)
	}

	slog.Info("generation complete", "frames", len(frames), "samples", len(pcm), "elapsed", time.Since(start))

	return pcm, nil
}

// GenerateStreaming runs the same loop as GenerateAudio but decodes and
// delivers PCM in chunks of ChunkFrames frames as generation proceeds. The
// decoder keeps its recurrent state across chunks, so concatenated chunks
// equal the batch output for the same latent frames.
//
// On cancellation the loop stops before its next step; frames still pending
// are dropped undelivered. Returns the total sample count handed to OnChunk.
func (e *Engine) GenerateStreaming(ctx context.Context, tokens []int64, opts GenerateOptions, stream StreamOptions) (int, error) {
	if len(tokens) == 0 {
		return 0, errors.New("generate: token slice must not be empty")
	}
	if err := opts.validate(); err != nil {
		return 0, fmt.Errorf("generate: %w", err)
	}
	if stream.OnChunk == nil {
		return 0, errors.New("generate: streaming requires an OnChunk callback")
	}
	if stream.ChunkFrames <= 0 {
		return 0, fmt.Errorf("generate: chunk size %d frames is not positive", stream.ChunkFrames)
	}

	start := time.Now()

	textEmb, err := e.TextConditioner(ctx, tokens)
	if err != nil {
		return 0, fmt.Errorf("generate: %w", err)
	}

	st, err := e.promptState(ctx, opts.VoiceEmbedding, textEmb)
	if err != nil {
		return 0, fmt.Errorf("generate: %w", err)
	}

	decoder, err := e.newDecodeStream()
	if err != nil {
		return 0, fmt.Errorf("generate: %w", err)
	}

	lower, upper := flowBoundaries(opts.LSDSteps)
	current := NewBOSSequence()
	emptyCtx := NewEmptyContext()

	var pending []*Tensor
	total := 0
	framesDone := 0
	eosStep := -1
	canceled := false

	flush := func(final bool) error {
		samples, err := decoder.decode(ctx, pending)
		if err != nil {
			return fmt.Errorf("decode chunk: %w", err)
		}
		pending = pending[:0]
		total += len(samples)
		stream.OnChunk(samples, final)
		return nil
	}

	for step := range opts.MaxFrames {
		if stream.Cancel.IsRequested() {
			canceled = true
			slog.Debug("generation canceled", "step", step)
			break
		}
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("generate step %d: %w", step, err)
		}

		cond, eosLogit, err := e.FlowLMStep(ctx, current, emptyCtx, st)
		if err != nil {
			return total, fmt.Errorf("generate step %d: %w", step, err)
		}

		if eosStep < 0 && float64(eosLogit) > opts.EOSThreshold {
			eosStep = step
			slog.Debug("EOS detected", "step", step, "frames_after_eos", opts.FramesAfterEOS)
		}
		if eosStep >= 0 && step >= eosStep+opts.FramesAfterEOS {
			break
		}

		frame, err := e.FlowIntegrate(ctx, cond, opts.Temperature, lower, upper)
		if err != nil {
			return total, fmt.Errorf("generate step %d flow: %w", step, err)
		}

		pending = append(pending, frame)
		current = frame
		framesDone++

		if opts.OnProgress != nil {
			opts.OnProgress(framesDone, opts.MaxFrames)
		}

		if len(pending) >= stream.ChunkFrames {
			if err := flush(false); err != nil {
				return total, fmt.Errorf("generate step %d: %w", step, err)
			}
		}
	}

	if len(pending) > 0 && !canceled {
		if err := flush(true); err != nil {
			return total, fmt.Errorf("generate: %w", err)
		}
	}

	slog.Info("streaming generation complete",
		"frames", framesDone,
		"samples", total,
		"canceled", canceled,
		"elapsed", time.Since(start))

	return total, nil
}
