package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":    {"gemini", "openai"},
	"summary": {"openai", "gemini", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// API keys and the archive DSN may reference environment variables as
// ${NAME}; they are expanded after decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${NAME} references in secret-bearing fields.
func expandEnv(cfg *Config) {
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expand(&cfg.Providers.Live)
	expand(&cfg.Providers.Summary)
	for i := range cfg.Providers.SummaryFallbacks {
		expand(&cfg.Providers.SummaryFallbacks[i])
	}
	cfg.Archive.PostgresDSN = os.ExpandEnv(cfg.Archive.PostgresDSN)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.Live.Name == "" {
		errs = append(errs, errors.New("providers.live.name is required"))
	}
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("summary", cfg.Providers.Summary.Name)
	for i, fb := range cfg.Providers.SummaryFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.summary_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("summary", fb.Name)
	}
	if cfg.Providers.Summary.Name == "" {
		if len(cfg.Providers.SummaryFallbacks) > 0 {
			errs = append(errs, errors.New("providers.summary_fallbacks requires providers.summary"))
		} else {
			slog.Warn("providers.summary is not configured; sessions will end without a feedback report")
		}
	}

	// Session
	s := cfg.Session
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"connect_timeout", s.ConnectTimeout},
		{"idle_timeout", s.IdleTimeout},
		{"max_duration", s.MaxDuration},
		{"summary_timeout", s.SummaryTimeout},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("session.%s must not be negative", d.name))
		}
	}

	// Audio
	in := cfg.Audio.Input
	if in.Mode != "" && !in.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input.mode %q is invalid; valid values: none, file, command", in.Mode))
	}
	if in.Mode == InputFile && in.Path == "" {
		errs = append(errs, errors.New("audio.input.path is required when mode is file"))
	}
	if in.Mode == InputCommand && len(in.Command) == 0 {
		errs = append(errs, errors.New("audio.input.command is required when mode is command"))
	}
	if in.SampleRate < 0 || in.Channels < 0 || in.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.input sample_rate %d / channels %d out of range", in.SampleRate, in.Channels))
	}
	out := cfg.Audio.Output
	if out.Mode != "" && !out.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("audio.output.mode %q is invalid; valid values: discard, wav, command", out.Mode))
	}
	if out.Mode == OutputWAV && out.Path == "" {
		errs = append(errs, errors.New("audio.output.path is required when mode is wav"))
	}
	if out.Mode == OutputCommand && len(out.Command) == 0 {
		errs = append(errs, errors.New("audio.output.command is required when mode is command"))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must not be negative", cfg.Audio.BlockSize))
	}

	// Archive
	if cfg.Archive.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("archive.history_limit %d must not be negative", cfg.Archive.HistoryLimit))
	}
	if cfg.Archive.PostgresDSN == "" {
		slog.Debug("archive.postgres_dsn is empty; finished sessions are kept in memory only")
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
