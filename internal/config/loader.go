package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known names per registry kind. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"realtime": {ProviderGeminiLive, ProviderOpenAIRealtime},
	"audio":    {BackendPortAudio, BackendMalgo},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Server
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Audio.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must be positive", cfg.Audio.InputSampleRate))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must be positive", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.CaptureQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_queue %d must not be negative", cfg.Audio.CaptureQueue))
	}
	if cfg.Audio.InputDevice != "" && cfg.Audio.Backend == BackendPortAudio {
		slog.Warn("audio.input_device is ignored by the portaudio backend; the system default is used",
			"input_device", cfg.Audio.InputDevice)
	}

	// Realtime
	validateProviderName("realtime", cfg.Realtime.Provider)
	if cfg.Realtime.SystemInstruction != "" && cfg.Realtime.InstructionFile != "" {
		errs = append(errs, errors.New("realtime.system_instruction and realtime.instruction_file are mutually exclusive"))
	}
	if cfg.Realtime.Provider != "" && ResolveAPIKey(cfg.Realtime) == "" {
		slog.Warn("no API key configured; set realtime.api_key or VOICECOACH_API_KEY",
			"provider", cfg.Realtime.Provider)
	}

	// Transcript
	for i, b := range cfg.Transcript.Kafka.Brokers {
		if b == "" {
			errs = append(errs, fmt.Errorf("transcript.kafka.brokers[%d] is empty", i))
		}
	}
	if len(cfg.Transcript.Kafka.Brokers) == 0 && cfg.Transcript.Kafka.Topic != "" {
		slog.Warn("transcript.kafka.topic is set but no brokers are configured; kafka publishing is disabled")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
