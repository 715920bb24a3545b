// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    dir := testutil.RequireModelDir(t)
//	    ...
//	}
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/example/pockettts/internal/audio"
	"github.com/example/pockettts/internal/onnx"
)

// RequirePocketTTS skips the test if the Python pocket-tts executable is not
// found in PATH or at the path given by the POCKETTTS_TTS_CLI_PATH environment
// variable.
func RequirePocketTTS(tb testing.TB) {
	tb.Helper()

	exe := os.Getenv("POCKETTTS_TTS_CLI_PATH")
	if exe == "" {
		exe = "pocket-tts"
	}

	_, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("pocket-tts binary not available (%q not in PATH); set POCKETTTS_TTS_CLI_PATH to override", exe)
	}
}

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the POCKETTTS_RUNTIME_ORT_LIBRARY,
// POCKETTTS_ORT_LIB and ORT_LIBRARY_PATH environment variables, then common
// system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"POCKETTTS_RUNTIME_ORT_LIBRARY", "POCKETTTS_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			_, err := os.Stat(p)
			if err == nil {
				return // found
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
		}
	}
	// Fall back to common system locations.
	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		_, err := os.Stat(p)
		if err == nil {
			return // found
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or POCKETTTS_ORT_LIB")
}

// RequireModelDir skips the test unless a model directory with a unit
// manifest is available, and returns its path. The POCKETTTS_PATHS_MODEL_DIR
// environment variable wins; otherwise "models" relative to the working
// directory is tried.
func RequireModelDir(tb testing.TB) string {
	tb.Helper()

	dir := os.Getenv("POCKETTTS_PATHS_MODEL_DIR")
	if dir == "" {
		dir = "models"
	}

	manifest := filepath.Join(dir, onnx.ManifestFilename)

	_, err := os.Stat(manifest)
	if err != nil {
		tb.Skipf("model directory not available (%q): %v; set POCKETTTS_PATHS_MODEL_DIR", dir, err)
	}

	return dir
}

// WriteSilenceWAV writes 100 ms of silence at the engine sample rate into dir
// and returns the file path. It stands in for a real audio prompt in tests
// that need a voice reference.
func WriteSilenceWAV(tb testing.TB, dir string) string {
	tb.Helper()

	path := filepath.Join(dir, "silence_100ms.wav")
	samples := make([]float32, onnx.SampleRate/10)

	if err := audio.SaveWAV(path, samples, onnx.SampleRate); err != nil {
		tb.Fatalf("write silence fixture: %v", err)
	}

	return path
}
