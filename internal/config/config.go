// Package config provides the configuration schema, loader, validation and
// hot-reload watcher of the voxorder kiosk client.
package config

import "time"

// LogLevel controls log verbosity.
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

// SessionContext selects the turn mode of a session.
type SessionContext string

const (
	// ContextKiosk is hands-free ordering with server-side turn detection.
	ContextKiosk SessionContext = "kiosk"

	// ContextServer is a staff terminal using push-to-talk.
	ContextServer SessionContext = "server"
)

// IsValid reports whether c is a recognised session context.
func (c SessionContext) IsValid() bool {
	return c == ContextKiosk || c == ContextServer
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Audio     AudioConfig     `yaml:"audio"`
}

// ServerConfig holds the ops HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address serving /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the ops server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// SessionConfig describes the voice session and where its credentials come
// from.
type SessionConfig struct {
	TenantID string         `yaml:"tenant_id"`
	UserID   string         `yaml:"user_id"`
	Context  SessionContext `yaml:"context"`

	// RealtimeURL is the ws:// or wss:// endpoint of the realtime service.
	RealtimeURL string `yaml:"realtime_url"`

	// CredentialURL is the HTTP endpoint issuing ephemeral session tokens.
	CredentialURL string `yaml:"credential_url"`

	// CredentialFallbackURLs are tried in order when CredentialURL is
	// failing.
	CredentialFallbackURLs []string `yaml:"credential_fallback_urls"`

	// CredentialToken is sent as a bearer token to CredentialURL. Optional.
	CredentialToken string `yaml:"credential_token"`

	// RefreshLead is how long before expiry the credential is renewed.
	// Default: 10s.
	RefreshLead time.Duration `yaml:"refresh_lead"`

	Voice              string  `yaml:"voice"`
	TranscriptionModel string  `yaml:"transcription_model"`
	Temperature        float64 `yaml:"temperature"`

	// EnableVAD withholds silent frames in push-to-talk mode.
	EnableVAD bool `yaml:"enable_vad"`

	MuteOutput bool `yaml:"mute_output"`

	// Debug logs this session at debug level regardless of server.log_level.
	Debug bool `yaml:"debug"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig holds the per-state budgets of the session state machine.
// Zero keeps the built-in default; a negative value disables the guard.
type TimeoutsConfig struct {
	Connecting             time.Duration `yaml:"connecting"`
	AwaitingSessionCreated time.Duration `yaml:"awaiting_session_created"`
	AwaitingSessionReady   time.Duration `yaml:"awaiting_session_ready"`
	CommittingAudio        time.Duration `yaml:"committing_audio"`
	AwaitingTranscript     time.Duration `yaml:"awaiting_transcript"`
	AwaitingResponse       time.Duration `yaml:"awaiting_response"`
	Disconnecting          time.Duration `yaml:"disconnecting"`
}

// TransportConfig tunes the websocket connection.
type TransportConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	Backoff           BackoffConfig `yaml:"backoff"`
}

// BackoffConfig controls reconnection.
type BackoffConfig struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	MaxJitter   time.Duration `yaml:"max_jitter"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// AudioConfig selects and tunes the microphone.
type AudioConfig struct {
	// Source names a registered microphone source ("file" or "stdin" by
	// default; see [Registry]).
	Source string `yaml:"source"`

	// Path is the PCM16 file read by the "file" source.
	Path string `yaml:"path"`

	// SampleRate of the source in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the source; multi-channel input is downmixed. Default: 1.
	Channels int `yaml:"channels"`

	// FrameDuration is the wire frame length, 20–40ms.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// VADThreshold is the RMS voice threshold. Hot-reloadable.
	VADThreshold float64 `yaml:"vad_threshold"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":9090"
	DefaultAudioSource   = "stdin"
	DefaultSampleRate    = 16000
	DefaultFrameDuration = 20 * time.Millisecond
)

// ApplyDefaults fills unset fields that have a process-level default. Fields
// whose defaults belong to a component (timeouts, backoff, descriptor
// values) are left zero for that component to resolve.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Session.Context == "" {
		cfg.Session.Context = ContextKiosk
	}
	if cfg.Audio.Source == "" {
		cfg.Audio.Source = DefaultAudioSource
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameDuration == 0 {
		cfg.Audio.FrameDuration = DefaultFrameDuration
	}
}
