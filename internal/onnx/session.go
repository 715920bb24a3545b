package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// NodeInfo declares one graph input or output: name, element kind and shape.
// Dynamic dimensions are marked with a symbolic string or a negative number.
type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Session is the declared contract of one computation unit: where its graph
// file lives and which named inputs/outputs it exposes. The ORT binding has
// no introspection API, so the export tooling records the contract in a
// manifest next to the graph files.
type Session struct {
	Name string
	Path string

	Inputs  []NodeInfo
	Outputs []NodeInfo
}

type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
}

type unitManifest struct {
	Graphs []manifestGraph `json:"graphs"`
}

type manifestGraph struct {
	Name         string     `json:"name"`
	Filename     string     `json:"filename"`
	FilenameInt8 string     `json:"filename_int8,omitempty"`
	Inputs       []NodeInfo `json:"inputs"`
	Outputs      []NodeInfo `json:"outputs"`
}

// LoadManifest parses a unit manifest and resolves each graph file path for
// the requested precision, in declaration order. Graphs without an int8
// variant (the mimi encoder and the text conditioner) always resolve to
// their base file. The files themselves are not touched.
func LoadManifest(manifestPath, precision string) ([]Session, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read unit manifest: %w", err)
	}

	var manifest unitManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode unit manifest: %w", err)
	}

	if len(manifest.Graphs) == 0 {
		return nil, errors.New("unit manifest has no graphs")
	}

	baseDir := filepath.Dir(manifestPath)
	seen := make(map[string]bool, len(manifest.Graphs))
	sessions := make([]Session, 0, len(manifest.Graphs))

	for _, g := range manifest.Graphs {
		if g.Name == "" {
			return nil, errors.New("manifest graph has empty name")
		}

		filename := g.Filename
		if precision == "int8" && g.FilenameInt8 != "" {
			filename = g.FilenameInt8
		}
		if filename == "" {
			return nil, fmt.Errorf("manifest graph %q has empty filename", g.Name)
		}

		if seen[g.Name] {
			return nil, fmt.Errorf("duplicate session name %q in manifest", g.Name)
		}
		seen[g.Name] = true

		sessionPath := filename
		if !filepath.IsAbs(sessionPath) {
			sessionPath = filepath.Join(baseDir, filename)
		}

		sessions = append(sessions, Session{
			Name:    g.Name,
			Path:    filepath.Clean(sessionPath),
			Inputs:  append([]NodeInfo(nil), g.Inputs...),
			Outputs: append([]NodeInfo(nil), g.Outputs...),
		})
	}

	return sessions, nil
}

// NewSessionManager loads the unit manifest and checks that every resolved
// graph file exists.
func NewSessionManager(manifestPath, precision string) (*SessionManager, error) {
	sessions, err := LoadManifest(manifestPath, precision)
	if err != nil {
		return nil, err
	}

	sm := &SessionManager{
		sessions: make(map[string]Session, len(sessions)),
		order:    make([]string, 0, len(sessions)),
	}

	for _, session := range sessions {
		if _, err := os.Stat(session.Path); err != nil {
			return nil, fmt.Errorf("session file for %q: %w", session.Name, err)
		}

		sm.sessions[session.Name] = session
		sm.order = append(sm.order, session.Name)

		slog.Debug(
			"loaded unit contract",
			"name", session.Name,
			"path", session.Path,
			"inputs", nodeNames(session.Inputs),
			"outputs", nodeNames(session.Outputs),
		)
	}

	return sm, nil
}

func (m *SessionManager) Session(name string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[name]

	return s, ok
}

func (m *SessionManager) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.order))
	for _, name := range m.order {
		s := m.sessions[name]
		s.Inputs = append([]NodeInfo(nil), s.Inputs...)
		s.Outputs = append([]NodeInfo(nil), s.Outputs...)
		out = append(out, s)
	}

	return out
}

// resolveDeclaredShape maps a manifest shape onto concrete dims, resolving
// dynamic (symbolic or negative) dimensions to zero.
func resolveDeclaredShape(shape []any) ([]int64, error) {
	out := make([]int64, len(shape))
	for i, dim := range shape {
		switch v := dim.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("shape[%d]=%v is not an integer", i, v)
			}
			if v < 0 {
				out[i] = 0
			} else {
				out[i] = int64(v)
			}
		case int:
			if v < 0 {
				out[i] = 0
			} else {
				out[i] = int64(v)
			}
		case int64:
			if v < 0 {
				out[i] = 0
			} else {
				out[i] = v
			}
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("shape[%d] has empty symbolic dimension", i)
			}
			out[i] = 0
		default:
			return nil, fmt.Errorf("shape[%d] has unsupported type %T", i, dim)
		}
	}
	return out, nil
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}
