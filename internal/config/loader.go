package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Session
	s := cfg.Session
	if s.TenantID == "" {
		errs = append(errs, errors.New("session.tenant_id is required"))
	}
	if s.Context != "" && !s.Context.IsValid() {
		errs = append(errs, fmt.Errorf("session.context %q is invalid; valid values: kiosk, server", s.Context))
	}
	if err := checkURL("session.realtime_url", s.RealtimeURL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("session.credential_url", s.CredentialURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	for i, u := range s.CredentialFallbackURLs {
		if err := checkURL(fmt.Sprintf("session.credential_fallback_urls[%d]", i), u, "http", "https"); err != nil {
			errs = append(errs, err)
		}
	}
	if s.RefreshLead < 0 {
		errs = append(errs, fmt.Errorf("session.refresh_lead %s must not be negative", s.RefreshLead))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0, 2]", s.Temperature))
	}

	// Transport
	t := cfg.Transport
	for name, d := range map[string]time.Duration{
		"transport.heartbeat_interval": t.HeartbeatInterval,
		"transport.pong_timeout":       t.PongTimeout,
		"transport.write_timeout":      t.WriteTimeout,
		"transport.dial_timeout":       t.DialTimeout,
		"transport.backoff.base":       t.Backoff.Base,
		"transport.backoff.max":        t.Backoff.Max,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", name, d))
		}
	}
	if t.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("transport.queue_capacity %d must not be negative", t.QueueCapacity))
	}
	if t.Backoff.Base > 0 && t.Backoff.Max > 0 && t.Backoff.Max < t.Backoff.Base {
		errs = append(errs, fmt.Errorf("transport.backoff.max %s is below backoff.base %s", t.Backoff.Max, t.Backoff.Base))
	}

	// Audio
	a := cfg.Audio
	if a.Source == "file" && a.Path == "" {
		errs = append(errs, errors.New("audio.path is required when audio.source is file"))
	}
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", a.SampleRate))
	}
	if a.Channels < 0 || a.Channels > 8 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 8]", a.Channels))
	}
	if a.FrameDuration != 0 && (a.FrameDuration < 20*time.Millisecond || a.FrameDuration > 40*time.Millisecond) {
		errs = append(errs, fmt.Errorf("audio.frame_duration %s is out of range [20ms, 40ms]", a.FrameDuration))
	}
	if a.VADThreshold < 0 || a.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold %.3f is out of range [0, 1]", a.VADThreshold))
	}

	return errors.Join(errs...)
}

func checkURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s %q must use scheme %v", field, raw, schemes)
}
