// Package tts is the synthesis facade: it turns text plus a voice reference
// into 24 kHz PCM, tying together preprocessing, tokenization, the voice
// cache and the generation engine.
package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/pockettts/internal/audio"
	"github.com/example/pockettts/internal/config"
	"github.com/example/pockettts/internal/model"
	"github.com/example/pockettts/internal/onnx"
	"github.com/example/pockettts/internal/safetensors"
	"github.com/example/pockettts/internal/text"
	"github.com/example/pockettts/internal/tokenizer"
)

// ErrNoVoice is returned when synthesis is attempted without a voice
// reference. Generation always conditions on a voice; there is no default.
var ErrNoVoice = errors.New("voice reference is required")

// VoiceTensorName is the tensor name used for exported voice embeddings,
// matching the upstream Python tooling.
const VoiceTensorName = "audio_prompt"

type Service struct {
	runtime   Runtime
	tokenizer tokenizer.Tokenizer
	voices    *VoiceManager
	ttsCfg    config.TTSConfig

	// mu serializes engine access; one generation or voice encoding runs at
	// a time, callers queue.
	mu sync.Mutex
}

// NewService opens the engine and the tokenizer for the resolved
// configuration and returns a ready synthesis facade.
func NewService(cfg config.Config) (*Service, error) {
	engine, err := onnx.NewEngine(onnx.EngineConfig{
		ModelDir:         cfg.Paths.ModelDir,
		Precision:        cfg.Runtime.Precision,
		Runtime:          onnx.RuntimeConfig{LibraryPath: cfg.Runtime.ORTLibrary},
		LoadVoiceEncoder: cfg.Runtime.LoadVoiceEncoder,
	})
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	tokPath := model.TokenizerPath(cfg.Paths.ModelDir, cfg.Paths.TokenizerPath)

	tok, err := tokenizer.NewSentencePieceTokenizer(tokPath)
	if err != nil {
		engine.Close()
		return nil, err
	}

	return &Service{
		runtime:   engine,
		tokenizer: tok,
		voices:    NewVoiceManager(engine),
		ttsCfg:    cfg.TTS,
	}, nil
}

// Close releases the engine. The service must not be used afterwards.
func (s *Service) Close() {
	if s.runtime != nil {
		s.runtime.Close()
	}
}

// Voices exposes the voice cache, for callers that materialize voices ahead
// of synthesis.
func (s *Service) Voices() *VoiceManager {
	return s.voices
}

// Synthesize renders input in the voice stored at voicePath (.safetensors
// embedding or reference audio) and returns mono 24 kHz float32 samples.
func (s *Service) Synthesize(ctx context.Context, input, voicePath string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	voice, err := s.voices.Load(ctx, voicePath)
	if err != nil {
		return nil, err
	}

	return s.synthesize(ctx, input, voice)
}

// SynthesizeWithVoice renders input with an already materialized voice.
func (s *Service) SynthesizeWithVoice(ctx context.Context, input string, voice *Voice) ([]float32, error) {
	if voice == nil || voice.Embedding == nil {
		return nil, ErrNoVoice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.synthesize(ctx, input, voice)
}

func (s *Service) synthesize(ctx context.Context, input string, voice *Voice) ([]float32, error) {
	chunks, err := s.prepareChunks(input)
	if err != nil {
		return nil, err
	}

	var pcm []float32

	for _, chunk := range chunks {
		tokens, err := s.encode(chunk)
		if err != nil {
			return nil, err
		}

		samples, err := s.runtime.GenerateAudio(ctx, tokens, s.generateOptions(voice))
		if err != nil {
			return nil, err
		}

		pcm = append(pcm, samples...)
	}

	return pcm, nil
}

// EncodeVoice materializes the voice stored at sourcePath, encoding
// reference audio through the mimi encoder unless a saved embedding is
// already on disk. The result is cached for subsequent synthesis.
func (s *Service) EncodeVoice(ctx context.Context, sourcePath string) (*Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.voices.Load(ctx, sourcePath)
}

// EncodeVoiceFromSamples encodes raw samples at an arbitrary rate,
// resampling to the engine rate first. The voice is cached under the
// synthetic in-memory key.
func (s *Service) EncodeVoiceFromSamples(ctx context.Context, samples []float32, sampleRate int) (*Voice, error) {
	if len(samples) == 0 {
		return nil, errors.New("voice samples are empty")
	}

	if !s.runtime.HasVoiceEncoder() {
		return nil, errors.New("voice encoder is disabled; cannot encode raw samples")
	}

	prepared := audio.PrepareReference(samples, sampleRate, onnx.SampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()

	emb, err := s.runtime.EncodeVoiceSamples(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("encode voice samples: %w", err)
	}

	return s.voices.Put(emb)
}

// ExportVoice encodes the reference at sourcePath and writes the embedding
// to outPath as a single-tensor safetensors file compatible with the Python
// tooling.
func (s *Service) ExportVoice(ctx context.Context, sourcePath, outPath string) (*Voice, error) {
	voice, err := s.EncodeVoice(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	data, err := onnx.ExtractFloat32(voice.Embedding)
	if err != nil {
		return nil, fmt.Errorf("export voice: %w", err)
	}

	tensor := safetensors.Tensor{
		Name:  VoiceTensorName,
		Shape: voice.Embedding.Shape(),
		Data:  data,
	}
	if err := safetensors.WriteFile(outPath, []safetensors.Tensor{tensor}); err != nil {
		return nil, fmt.Errorf("export voice: %w", err)
	}

	return voice, nil
}

// prepareChunks normalizes the input, splits it on sentence boundaries when
// it exceeds the configured rune budget and preprocesses each piece.
func (s *Service) prepareChunks(input string) ([]string, error) {
	normalized, err := text.Normalize(input)
	if err != nil {
		return nil, err
	}

	pieces := text.ChunkBySentence(normalized, s.ttsCfg.ChunkRunes)

	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		prepped, err := text.Preprocess(piece)
		if err != nil {
			return nil, err
		}

		out = append(out, prepped)
	}

	return out, nil
}

func (s *Service) encode(chunk string) ([]int64, error) {
	tokens, err := s.tokenizer.Encode(chunk)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens produced from %q", chunk)
	}

	return tokens, nil
}

func (s *Service) generateOptions(voice *Voice) onnx.GenerateOptions {
	return onnx.GenerateOptions{
		Temperature:    s.ttsCfg.Temperature,
		EOSThreshold:   s.ttsCfg.EOSThreshold,
		MaxFrames:      s.ttsCfg.MaxFrames,
		LSDSteps:       s.ttsCfg.LSDSteps,
		FramesAfterEOS: s.ttsCfg.FramesAfterEOS,
		VoiceEmbedding: voice.Embedding,
	}
}
