package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/pockettts/internal/audio"
	"github.com/example/pockettts/internal/config"
	"github.com/example/pockettts/internal/onnx"
	"github.com/example/pockettts/internal/text"
	"github.com/example/pockettts/internal/tts"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Synthesizer produces PCM samples from text and a voice path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voicePath string) ([]float32, error)
}

// StreamingSynthesizer produces PCM chunks over a channel as they are
// generated. Implementations close out when they return, error or not.
type StreamingSynthesizer interface {
	SynthesizeStream(ctx context.Context, text, voicePath string, out chan<- tts.PCMChunk) error
}

var _ Synthesizer = (*tts.Service)(nil)

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
	streamer       StreamingSynthesizer
	defaultVoice   string
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		workers:        2,
		requestTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes for the
// synthesis endpoints.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of concurrent synthesis calls.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStreamer enables POST /v1/tts/stream. Without it the endpoint
// responds 501.
func WithStreamer(s StreamingSynthesizer) Option {
	return func(o *options) { o.streamer = s }
}

// WithDefaultVoice sets the voice used when a request carries none.
func WithDefaultVoice(name string) Option {
	return func(o *options) { o.defaultVoice = name }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	synth     Synthesizer
	voicesDir string
	opts      options
	sem       chan struct{} // semaphore for worker pool
	log       *slog.Logger
}

// NewHandler returns an http.Handler serving GET /healthz, GET /v1/voices,
// POST /v1/tts, and POST /v1/tts/stream. voicesDir is scanned for exported
// embeddings and used to resolve bare voice names.
func NewHandler(synth Synthesizer, voicesDir string, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		synth:     synth,
		voicesDir: voicesDir,
		opts:      opts,
		log:       opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/v1/voices", h.handleVoices)
	mux.HandleFunc("/v1/tts", h.handleTTS)
	mux.HandleFunc("/v1/tts/stream", h.handleTTSStream)
	return mux
}

// BuildVersion reports the module version stamped into the binary, or "dev"
// for unstamped builds.
func BuildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": BuildVersion(),
	})
}

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices, err := tts.ListVoices(h.voicesDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if voices == nil {
		voices = []tts.VoiceInfo{}
	}
	writeJSON(w, http.StatusOK, voices)
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// decodeRequest validates the common POST preamble. On failure the error
// response has been written and ok is false.
func (h *handler) decodeRequest(w http.ResponseWriter, r *http.Request) (ttsRequest, bool) {
	var req ttsRequest

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, false
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return req, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}

	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return req, false
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return req, false
	}

	return req, true
}

// acquireWorker blocks until a worker slot is free, honouring context
// cancellation while waiting. release is non-nil only when ok.
func (h *handler) acquireWorker(w http.ResponseWriter, r *http.Request) (release func(), ok bool) {
	if h.sem == nil {
		return func() {}, true
	}

	select {
	case h.sem <- struct{}{}:
		return func() { <-h.sem }, true
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return nil, false
	}
}

// resolveVoice expands the requested voice name against the voices
// directory, falling back to the configured default.
func (h *handler) resolveVoice(req ttsRequest) string {
	name := req.Voice
	if strings.TrimSpace(name) == "" {
		name = h.opts.defaultVoice
	}
	return tts.ResolveVoicePath(h.voicesDir, name)
}

func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	release, ok := h.acquireWorker(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	samples, err := h.synth.Synthesize(ctx, req.Text, h.resolveVoice(req))
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		status, msg := errorStatus(err)
		h.logSynthesisError(r, req, status, durationMS, err)
		writeError(w, status, msg)
		return
	}

	wav, err := audio.EncodeWAV(samples, onnx.SampleRate)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "synthesis complete",
		slog.String("voice", req.Voice),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (h *handler) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	if h.opts.streamer == nil {
		writeError(w, http.StatusNotImplemented, "streaming is not configured")
		return
	}

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	release, ok := h.acquireWorker(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	out := make(chan tts.PCMChunk, 8)
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.opts.streamer.SynthesizeStream(ctx, req.Text, h.resolveVoice(req), out)
	}()

	// The WAV header is deferred until the first audio chunk so failures
	// before any audio still get a proper error status.
	var (
		sw         *audio.StreamWriter
		writeErr   error
		samplesOut int
		chunks     int
	)
	flusher, _ := w.(http.Flusher)
	start := time.Now()

	for chunk := range out {
		if len(chunk.Samples) == 0 || writeErr != nil {
			continue
		}

		if sw == nil {
			// The first WAV header byte implicitly sends the 200.
			w.Header().Set("Content-Type", "audio/wav")

			var werr error
			sw, werr = audio.NewStreamWriter(w, onnx.SampleRate)
			if werr != nil {
				writeErr = werr
				cancel() // stop generating; keep draining so the producer can exit
				continue
			}
		}

		if _, werr := sw.WriteSamples(chunk.Samples); werr != nil {
			writeErr = werr
			cancel()
			continue
		}

		samplesOut += len(chunk.Samples)
		chunks++
		if flusher != nil {
			flusher.Flush()
		}
	}

	err := <-errCh
	durationMS := time.Since(start).Milliseconds()

	// Nothing has been written yet, so a real error status is still possible.
	if sw == nil {
		switch {
		case err != nil:
			status, msg := errorStatus(err)
			h.logSynthesisError(r, req, status, durationMS, err)
			writeError(w, status, msg)
		case writeErr != nil:
			writeError(w, http.StatusInternalServerError, writeErr.Error())
		default:
			// Zero audio frames is a valid outcome; emit an empty WAV.
			w.Header().Set("Content-Type", "audio/wav")
			if empty, werr := audio.NewStreamWriter(w, onnx.SampleRate); werr == nil {
				_ = empty.Close()
			}
		}
		return
	}

	if closeErr := sw.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}

	switch {
	case err != nil:
		// Headers are already sent; the response can only be cut short.
		h.log.ErrorContext(r.Context(), "stream aborted",
			slog.String("voice", req.Voice),
			slog.Int("samples", samplesOut),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
	case writeErr != nil:
		h.log.WarnContext(r.Context(), "stream write failed",
			slog.String("voice", req.Voice),
			slog.Int("samples", samplesOut),
			slog.String("error", writeErr.Error()),
		)
	default:
		h.log.InfoContext(r.Context(), "stream complete",
			slog.String("voice", req.Voice),
			slog.Int("text_len", len(req.Text)),
			slog.Int64("duration_ms", durationMS),
			slog.Int("samples", samplesOut),
			slog.Int("chunks", chunks),
		)
	}
}

func (h *handler) logSynthesisError(r *http.Request, req ttsRequest, status int, durationMS int64, err error) {
	attrs := []any{
		slog.String("voice", req.Voice),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", durationMS),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}

	if status == http.StatusGatewayTimeout {
		h.log.WarnContext(r.Context(), "synthesis timed out", attrs...)
		return
	}
	h.log.ErrorContext(r.Context(), "synthesis failed", attrs...)
}

// errorStatus maps a synthesis error to an HTTP status and message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, tts.ErrNoVoice), errors.Is(err, text.ErrEmptyText):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "synthesis timed out"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server — wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	tts             *tts.Service
	handler         http.Handler // overrides the built handler when set (tests)
	shutdownTimeout time.Duration
}

// New returns a server for cfg. svc may be nil, in which case Start opens
// and owns its own service.
func New(cfg config.Config, svc *tts.Service) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		tts:             svc,
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	h := s.handler
	if h == nil {
		svc := s.tts
		if svc == nil {
			opened, err := tts.NewService(s.cfg)
			if err != nil {
				return fmt.Errorf("initialize service: %w", err)
			}
			defer opened.Close()
			svc = opened
		}

		h = NewHandler(svc, s.cfg.Paths.VoicesDir,
			WithWorkers(s.cfg.Server.Workers),
			WithMaxTextBytes(int(s.cfg.Server.MaxTextBytes)),
			WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
			WithStreamer(&serviceStreamer{svc: svc}),
			WithDefaultVoice(s.cfg.TTS.Voice),
		)
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks that a server at addr answers its health endpoint.
func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/healthz") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}

// serviceStreamer adapts tts.Service to the channel-based streaming
// interface; the voice is loaded before the first chunk is produced.
type serviceStreamer struct {
	svc *tts.Service
}

func (s *serviceStreamer) SynthesizeStream(ctx context.Context, input, voicePath string, out chan<- tts.PCMChunk) error {
	voice, err := s.svc.EncodeVoice(ctx, voicePath)
	if err != nil {
		close(out)
		return err
	}

	_, err = s.svc.SynthesizeStreamChunks(ctx, input, voice, out, tts.StreamOptions{})
	return err
}
