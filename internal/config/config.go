package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	Paths   PathsConfig   `mapstructure:"paths"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	TTS     TTSConfig     `mapstructure:"tts"`
	Server  ServerConfig  `mapstructure:"server"`
}

type PathsConfig struct {
	ModelDir      string `mapstructure:"model_dir"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
	VoicesDir     string `mapstructure:"voices_dir"`
}

type RuntimeConfig struct {
	ORTLibrary       string `mapstructure:"ort_library"`
	Precision        string `mapstructure:"precision"`
	LoadVoiceEncoder bool   `mapstructure:"load_voice_encoder"`
}

type TTSConfig struct {
	Voice          string  `mapstructure:"voice"`
	Temperature    float64 `mapstructure:"temperature"`
	EOSThreshold   float64 `mapstructure:"eos_threshold"`
	MaxFrames      int     `mapstructure:"max_frames"`
	LSDSteps       int     `mapstructure:"lsd_steps"`
	FramesAfterEOS int     `mapstructure:"frames_after_eos"`
	ChunkFrames    int     `mapstructure:"chunk_frames"`
	ChunkRunes     int     `mapstructure:"chunk_runes"`
	CLIPath        string  `mapstructure:"cli_path"`
	CLIConfigPath  string  `mapstructure:"cli_config_path"`
	Quiet          bool    `mapstructure:"quiet"`
}

type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Workers         int    `mapstructure:"workers"`
	RequestTimeout  int    `mapstructure:"request_timeout"`  // seconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // seconds
	MaxTextBytes    int64  `mapstructure:"max_text_bytes"`
}

// Addr returns the host:port listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Paths: PathsConfig{
			ModelDir:      "models",
			TokenizerPath: "",
			VoicesDir:     "voices",
		},
		Runtime: RuntimeConfig{
			ORTLibrary:       "",
			Precision:        PrecisionInt8,
			LoadVoiceEncoder: true,
		},
		TTS: TTSConfig{
			Voice:          "",
			Temperature:    0.7,
			EOSThreshold:   -4.0,
			MaxFrames:      500,
			LSDSteps:       10,
			FramesAfterEOS: 3,
			ChunkFrames:    5,
			ChunkRunes:     300,
			Quiet:          true,
		},
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			Workers:         2,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
			MaxTextBytes:    4096,
		},
	}
}

// flagKeys maps every flag registered by RegisterFlags to its config key.
// Load binds each pair with BindPFlag so that flags, POCKETTTS_* environment
// variables, config files and defaults all resolve through the same key.
var flagKeys = map[string]string{
	"log-level":          "log_level",
	"json":               "log_json",
	"model-dir":          "paths.model_dir",
	"tokenizer-path":     "paths.tokenizer_path",
	"voices-dir":         "paths.voices_dir",
	"ort-lib":            "runtime.ort_library",
	"precision":          "runtime.precision",
	"load-voice-encoder": "runtime.load_voice_encoder",
	"voice":              "tts.voice",
	"temperature":        "tts.temperature",
	"eos-threshold":      "tts.eos_threshold",
	"max-frames":         "tts.max_frames",
	"lsd-steps":          "tts.lsd_steps",
	"frames-after-eos":   "tts.frames_after_eos",
	"chunk-frames":       "tts.chunk_frames",
	"chunk-runes":        "tts.chunk_runes",
	"cli-path":           "tts.cli_path",
	"cli-config":         "tts.cli_config_path",
	"quiet":              "tts.quiet",
	"host":               "server.host",
	"port":               "server.port",
	"workers":            "server.workers",
	"request-timeout":    "server.request_timeout",
	"shutdown-timeout":   "server.shutdown_timeout",
	"max-text-bytes":     "server.max_text_bytes",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.Bool("json", defaults.LogJSON, "Log as JSON instead of text")

	fs.String("model-dir", defaults.Paths.ModelDir, "Directory containing the ONNX model files")
	fs.String("tokenizer-path", defaults.Paths.TokenizerPath, "SentencePiece model path (default <model-dir>/tokenizer.model)")
	fs.String("voices-dir", defaults.Paths.VoicesDir, "Directory for exported voice embeddings")

	fs.String("ort-lib", defaults.Runtime.ORTLibrary, "Path to the ONNX Runtime shared library")
	fs.String("precision", defaults.Runtime.Precision, "Model precision (int8|fp32)")
	fs.Bool("load-voice-encoder", defaults.Runtime.LoadVoiceEncoder, "Open the voice encoder unit (disable to synthesize from saved embeddings only)")

	fs.String("voice", defaults.TTS.Voice, "Voice reference (.wav) or embedding (.safetensors) path")
	fs.Float64("temperature", defaults.TTS.Temperature, "Sampling temperature (0 is deterministic)")
	fs.Float64("eos-threshold", defaults.TTS.EOSThreshold, "End-of-speech logit threshold")
	fs.Int("max-frames", defaults.TTS.MaxFrames, "Hard cap on generated latent frames")
	fs.Int("lsd-steps", defaults.TTS.LSDSteps, "Flow integration steps per frame")
	fs.Int("frames-after-eos", defaults.TTS.FramesAfterEOS, "Extra frames generated after end-of-speech")
	fs.Int("chunk-frames", defaults.TTS.ChunkFrames, "Latent frames per streamed audio chunk")
	fs.Int("chunk-runes", defaults.TTS.ChunkRunes, "Sentence-chunk long text above this many runes (0 disables)")
	fs.String("cli-path", defaults.TTS.CLIPath, "Path to the Python pocket-tts executable")
	fs.String("cli-config", defaults.TTS.CLIConfigPath, "Config file passed to the Python pocket-tts CLI")
	fs.Bool("quiet", defaults.TTS.Quiet, "Pass --quiet to the Python pocket-tts CLI")

	fs.String("host", defaults.Server.Host, "HTTP listen host")
	fs.Int("port", defaults.Server.Port, "HTTP listen port")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent synthesis requests")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Int64("max-text-bytes", defaults.Server.MaxTextBytes, "Maximum request text size in bytes")
}

// Load resolves the effective configuration. Precedence, highest first:
// changed flags, POCKETTTS_* environment variables, config file, defaults.
// An explicit ConfigFile must exist; otherwise pockettts.yaml is searched in
// the working directory and $HOME/.config/pockettts and may be absent.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("POCKETTTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("runtime.ort_library",
		"POCKETTTS_RUNTIME_ORT_LIBRARY", "POCKETTTS_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("pockettts")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pockettts"))
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	precision, err := NormalizePrecision(cfg.Runtime.Precision)
	if err != nil {
		return Config{}, err
	}
	cfg.Runtime.Precision = precision

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_json", c.LogJSON)
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.tokenizer_path", c.Paths.TokenizerPath)
	v.SetDefault("paths.voices_dir", c.Paths.VoicesDir)
	v.SetDefault("runtime.ort_library", c.Runtime.ORTLibrary)
	v.SetDefault("runtime.precision", c.Runtime.Precision)
	v.SetDefault("runtime.load_voice_encoder", c.Runtime.LoadVoiceEncoder)
	v.SetDefault("tts.voice", c.TTS.Voice)
	v.SetDefault("tts.temperature", c.TTS.Temperature)
	v.SetDefault("tts.eos_threshold", c.TTS.EOSThreshold)
	v.SetDefault("tts.max_frames", c.TTS.MaxFrames)
	v.SetDefault("tts.lsd_steps", c.TTS.LSDSteps)
	v.SetDefault("tts.frames_after_eos", c.TTS.FramesAfterEOS)
	v.SetDefault("tts.chunk_frames", c.TTS.ChunkFrames)
	v.SetDefault("tts.chunk_runes", c.TTS.ChunkRunes)
	v.SetDefault("tts.cli_path", c.TTS.CLIPath)
	v.SetDefault("tts.cli_config_path", c.TTS.CLIConfigPath)
	v.SetDefault("tts.quiet", c.TTS.Quiet)
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
}

// bindFlags binds each registered flag to its config key. Binding per key
// (rather than BindPFlags over flag names) keeps changed flags, env vars and
// config file sections resolving through the same dotted key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flagName, key := range flagKeys {
		f := fs.Lookup(flagName)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", flagName, err)
		}
	}

	return nil
}
