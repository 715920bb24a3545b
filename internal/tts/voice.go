package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/example/pockettts/internal/audio"
	"github.com/example/pockettts/internal/onnx"
	"github.com/example/pockettts/internal/safetensors"
)

// SyntheticVoiceKey is the cache key for embeddings supplied in memory
// rather than loaded from a file.
const SyntheticVoiceKey = "__embeddings__"

// Voice is an immutable voice conditioning tensor together with the cache
// key it is stored under.
type Voice struct {
	Key       string
	Embedding *onnx.Tensor
}

// VoiceManager memoizes voice embeddings by source path. Entries are
// append-only and never evicted; only the synthetic in-memory slot is
// replaced when a new raw embedding arrives.
type VoiceManager struct {
	mu      sync.Mutex
	cache   map[string]*Voice
	runtime Runtime
}

// NewVoiceManager returns an empty cache. The runtime encodes reference
// audio; it may report no voice encoder, in which case only saved
// embeddings can be loaded.
func NewVoiceManager(runtime Runtime) *VoiceManager {
	return &VoiceManager{
		cache:   make(map[string]*Voice),
		runtime: runtime,
	}
}

// Load returns the voice cached under path, materializing it on first use:
// .safetensors files are read as saved embeddings, anything else is decoded
// as reference audio and run through the voice encoder.
func (m *VoiceManager) Load(ctx context.Context, path string) (*Voice, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrNoVoice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache[path]; ok {
		return v, nil
	}

	emb, err := m.materialize(ctx, path)
	if err != nil {
		return nil, err
	}

	v := &Voice{Key: path, Embedding: emb}
	m.cache[path] = v

	return v, nil
}

// Put stores an in-memory embedding under the synthetic key, replacing any
// previous in-memory voice.
func (m *VoiceManager) Put(emb *onnx.Tensor) (*Voice, error) {
	if emb == nil {
		return nil, errors.New("voice embedding is nil")
	}

	shape := emb.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[2] != onnx.VoiceEmbeddingDim {
		return nil, fmt.Errorf("voice embedding shape %v invalid, want [1, T, %d]", shape, onnx.VoiceEmbeddingDim)
	}

	v := &Voice{Key: SyntheticVoiceKey, Embedding: emb}

	m.mu.Lock()
	m.cache[SyntheticVoiceKey] = v
	m.mu.Unlock()

	return v, nil
}

func (m *VoiceManager) materialize(ctx context.Context, path string) (*onnx.Tensor, error) {
	if strings.EqualFold(filepath.Ext(path), ".safetensors") {
		data, shape, err := safetensors.LoadVoiceEmbedding(path)
		if err != nil {
			return nil, fmt.Errorf("load voice embedding %s: %w", path, err)
		}

		return onnx.NewTensor(data, shape)
	}

	if m.runtime == nil || !m.runtime.HasVoiceEncoder() {
		return nil, fmt.Errorf("voice encoder is disabled; cannot encode reference %s", path)
	}

	samples, err := audio.LoadReference(path, onnx.SampleRate)
	if err != nil {
		return nil, err
	}

	emb, err := m.runtime.EncodeVoiceSamples(ctx, samples)
	if err != nil {
		return nil, fmt.Errorf("encode voice %s: %w", path, err)
	}

	return emb, nil
}

// VoiceInfo describes one exported voice embedding on disk.
type VoiceInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ListVoices scans dir for exported .safetensors embeddings, sorted by name.
// A missing directory lists as empty rather than failing.
func ListVoices(dir string) ([]VoiceInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list voices in %s: %w", dir, err)
	}

	var voices []VoiceInfo

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".safetensors") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		voices = append(voices, VoiceInfo{
			Name: strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
		})
	}

	sort.Slice(voices, func(i, j int) bool { return voices[i].Name < voices[j].Name })

	return voices, nil
}

// ResolveVoicePath expands a bare voice name to its exported embedding in
// voicesDir; anything that looks like a path or an existing file is used
// as-is.
func ResolveVoicePath(voicesDir, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	if strings.ContainsRune(ref, os.PathSeparator) || filepath.Ext(ref) != "" {
		return ref
	}

	if _, err := os.Stat(ref); err == nil {
		return ref
	}

	return filepath.Join(voicesDir, ref+".safetensors")
}
