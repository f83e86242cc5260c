// Package config provides the configuration schema, loader, and provider registry
// for the Parley interview practice server.
package config

import "time"

// LogLevel controls log verbosity for the Parley server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// InputMode selects where microphone audio comes from.
type InputMode string

const (
	// InputNone runs every session in text-only mode.
	InputNone InputMode = "none"

	// InputFile streams a WAV or raw PCM file as the microphone.
	InputFile InputMode = "file"

	// InputCommand reads raw PCM from the stdout of an external recorder.
	InputCommand InputMode = "command"
)

// IsValid reports whether m is a recognised input mode.
func (m InputMode) IsValid() bool {
	switch m {
	case InputNone, InputFile, InputCommand:
		return true
	}
	return false
}

// OutputMode selects where model speech is played.
type OutputMode string

const (
	// OutputDiscard drops model audio while keeping playback timing.
	OutputDiscard OutputMode = "discard"

	// OutputWAV records model audio to a WAV file per session.
	OutputWAV OutputMode = "wav"

	// OutputCommand pipes raw PCM into the stdin of an external player.
	OutputCommand OutputMode = "command"
)

// IsValid reports whether m is a recognised output mode.
func (m OutputMode) IsValid() bool {
	switch m {
	case OutputDiscard, OutputWAV, OutputCommand:
		return true
	}
	return false
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds network and logging settings for the Parley server.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics endpoints
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the live conversation backend and the models used
// for the feedback report.
type ProvidersConfig struct {
	// Live is the realtime speech model the candidate talks to.
	Live ProviderEntry `yaml:"live"`

	// Summary generates the feedback report. Optional; without it sessions
	// end in the error state with a notice instead of a report.
	Summary ProviderEntry `yaml:"summary"`

	// SummaryFallbacks are tried in order when Summary fails or its circuit
	// breaker is open.
	SummaryFallbacks []ProviderEntry `yaml:"summary_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${VAR} references are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a string, or "".
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// SessionConfig holds interview defaults and the session lifecycle limits.
type SessionConfig struct {
	// Role and Topic prefill the interview. Both can be overridden per run.
	Role  string `yaml:"role"`
	Topic string `yaml:"topic"`

	// Voice selects the model voice. Empty uses the provider default.
	Voice string `yaml:"voice"`

	// Vocabulary lists domain terms used to correct the candidate's
	// transcript before summarisation.
	Vocabulary []string `yaml:"vocabulary"`

	// ConnectTimeout bounds dial plus setup handshake. Zero means 15s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// IdleTimeout ends an active session when the provider has been silent
	// for this long. Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxDuration caps a session. The provider's own limit applies as well.
	MaxDuration time.Duration `yaml:"max_duration"`

	// SummaryTimeout bounds feedback report generation. Zero means 90s.
	SummaryTimeout time.Duration `yaml:"summary_timeout"`

	// StrictPCM rejects misaligned model audio instead of truncating it.
	StrictPCM bool `yaml:"strict_pcm"`
}

// AudioConfig selects the capture source and playback sink.
type AudioConfig struct {
	Input  AudioInputConfig  `yaml:"input"`
	Output AudioOutputConfig `yaml:"output"`

	// BlockSize is the capture block size in frames. Zero means 4096.
	BlockSize int `yaml:"block_size"`
}

// AudioInputConfig describes the microphone.
type AudioInputConfig struct {
	// Mode is none, file or command. Empty means none.
	Mode InputMode `yaml:"mode"`

	// Path is the audio file for mode file.
	Path string `yaml:"path"`

	// Command is the recorder argv for mode command. It must write raw
	// little-endian 16-bit PCM to stdout.
	Command []string `yaml:"command"`

	// SampleRate and Channels describe raw input. Zero means 16000 Hz mono.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Realtime paces file input at wall-clock speed.
	Realtime bool `yaml:"realtime"`
}

// AudioOutputConfig describes the speaker.
type AudioOutputConfig struct {
	// Mode is discard, wav or command. Empty means discard.
	Mode OutputMode `yaml:"mode"`

	// Path is the directory for mode wav. One file per session is written.
	Path string `yaml:"path"`

	// Command is the player argv for mode command. It receives raw
	// little-endian 16-bit PCM on stdin.
	Command []string `yaml:"command"`
}

// ArchiveConfig configures where finished sessions are kept.
type ArchiveConfig struct {
	// PostgresDSN selects the PostgreSQL archive. When empty, sessions are
	// kept in memory for the lifetime of the process.
	PostgresDSN string `yaml:"postgres_dsn"`

	// HistoryLimit caps the number of sessions listed on /status. Zero means 20.
	HistoryLimit int `yaml:"history_limit"`
}
