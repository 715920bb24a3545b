package onnx

import (
	"errors"
	"fmt"
	"os"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// defaultAPIVersion is the ORT C API version requested from the shared
// library.
const defaultAPIVersion = 23

// Runtime owns the ONNX Runtime library handle and environment shared by all
// unit sessions of one engine.
type Runtime struct {
	ort *ort.Runtime
	env *ort.Env
}

// RuntimeConfig selects the ONNX Runtime shared library.
type RuntimeConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// NewRuntime loads the ONNX Runtime shared library and creates the process
// environment. An empty LibraryPath falls back to environment variables and
// well-known install locations.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	path, err := DetectLibrary(cfg.LibraryPath)
	if err != nil {
		return nil, err
	}

	apiVersion := cfg.APIVersion
	if apiVersion == 0 {
		apiVersion = defaultAPIVersion
	}

	runtime, err := ort.NewRuntime(path, apiVersion)
	if err != nil {
		return nil, fmt.Errorf("load onnxruntime library %q: %w", path, err)
	}

	env, err := runtime.NewEnv("pockettts", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("create onnxruntime env: %w", err)
	}

	return &Runtime{ort: runtime, env: env}, nil
}

// Close releases the environment and the library handle. Safe to call more
// than once.
func (r *Runtime) Close() {
	if r.env != nil {
		r.env.Close()
		r.env = nil
	}

	if r.ort != nil {
		_ = r.ort.Close()
		r.ort = nil
	}
}

// DetectLibrary resolves the ONNX Runtime shared library path: the explicit
// path wins, then POCKETTTS_ORT_LIB and ORT_LIBRARY_PATH, then well-known
// install locations.
func DetectLibrary(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = os.Getenv("POCKETTTS_ORT_LIB")
	}

	if path == "" {
		path = os.Getenv("ORT_LIBRARY_PATH")
	}

	if path == "" {
		candidates := []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"C:/onnxruntime/lib/onnxruntime.dll",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return "", errors.New("unable to detect ONNX Runtime library path; set ort_library in config or POCKETTTS_ORT_LIB")
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	return path, nil
}
