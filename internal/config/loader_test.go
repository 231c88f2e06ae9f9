package config_test

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxorder/internal/config"
)

const minimalYAML = `
session:
  tenant_id: cafe-7
  realtime_url: ws://localhost:8080/realtime
  credential_url: http://localhost:8080/session
`

const fullYAML = `
server:
  listen_addr: ":9191"
  log_level: debug

session:
  tenant_id: cafe-7
  user_id: counter-2
  context: server
  realtime_url: wss://voice.example.com/realtime
  credential_url: https://voice.example.com/session
  credential_fallback_urls:
    - https://voice-backup.example.com/session
  credential_token: s3cret
  refresh_lead: 15s
  voice: alloy
  transcription_model: whisper-1
  temperature: 0.8
  enable_vad: true
  debug: true
  timeouts:
    connecting: 5s
    awaiting_response: 45s

transport:
  heartbeat_interval: 10s
  pong_timeout: 3s
  queue_capacity: 50
  dial_timeout: 4s
  backoff:
    base: 250ms
    max: 8s
    max_jitter: 100ms
    max_attempts: 5

audio:
  source: file
  path: /var/lib/voxorder/greeting.pcm
  sample_rate: 24000
  channels: 2
  frame_duration: 40ms
  vad_threshold: 0.02
`

func TestLoadFromReader_Minimal(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.TenantID != "cafe-7" {
		t.Errorf("tenant_id: got %q", cfg.Session.TenantID)
	}
	if cfg.Session.Context != config.ContextKiosk {
		t.Errorf("context default: got %q, want kiosk", cfg.Session.Context)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level default: got %q", cfg.Server.LogLevel)
	}
	if cfg.Audio.Source != "stdin" {
		t.Errorf("audio.source default: got %q", cfg.Audio.Source)
	}
}

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9191" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	s := cfg.Session
	if s.Context != config.ContextServer || s.UserID != "counter-2" || s.CredentialToken != "s3cret" {
		t.Errorf("session: got %+v", s)
	}
	if len(s.CredentialFallbackURLs) != 1 || s.CredentialFallbackURLs[0] != "https://voice-backup.example.com/session" {
		t.Errorf("credential_fallback_urls: got %v", s.CredentialFallbackURLs)
	}
	if s.RefreshLead != 15*time.Second {
		t.Errorf("refresh_lead: got %s", s.RefreshLead)
	}
	if s.Temperature != 0.8 || !s.EnableVAD || !s.Debug {
		t.Errorf("session flags: got %+v", s)
	}
	if s.Timeouts.Connecting != 5*time.Second || s.Timeouts.AwaitingResponse != 45*time.Second {
		t.Errorf("timeouts: got %+v", s.Timeouts)
	}
	if s.Timeouts.AwaitingTranscript != 0 {
		t.Errorf("unset timeout should stay zero, got %s", s.Timeouts.AwaitingTranscript)
	}

	tr := cfg.Transport
	if tr.HeartbeatInterval != 10*time.Second || tr.PongTimeout != 3*time.Second || tr.QueueCapacity != 50 {
		t.Errorf("transport: got %+v", tr)
	}
	if tr.Backoff.Base != 250*time.Millisecond || tr.Backoff.Max != 8*time.Second || tr.Backoff.MaxAttempts != 5 {
		t.Errorf("backoff: got %+v", tr.Backoff)
	}

	a := cfg.Audio
	if a.Source != "file" || a.SampleRate != 24000 || a.Channels != 2 || a.FrameDuration != 40*time.Millisecond || a.VADThreshold != 0.02 {
		t.Errorf("audio: got %+v", a)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + "\nnpcs: []\n"
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "npcs") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestLoadFromReader_EmptyInputFailsValidation(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{"session.tenant_id", "session.realtime_url", "session.credential_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "chatty" },
			wantErr: "server.log_level",
		},
		{
			name:    "missing tenant",
			mutate:  func(c *config.Config) { c.Session.TenantID = "" },
			wantErr: "session.tenant_id is required",
		},
		{
			name:    "invalid context",
			mutate:  func(c *config.Config) { c.Session.Context = "drive-thru" },
			wantErr: "session.context",
		},
		{
			name:    "realtime url with http scheme",
			mutate:  func(c *config.Config) { c.Session.RealtimeURL = "http://localhost/realtime" },
			wantErr: "session.realtime_url",
		},
		{
			name:    "credential url with ws scheme",
			mutate:  func(c *config.Config) { c.Session.CredentialURL = "ws://localhost/session" },
			wantErr: "session.credential_url",
		},
		{
			name:    "fallback url without scheme",
			mutate:  func(c *config.Config) { c.Session.CredentialFallbackURLs = []string{"backup.local/session"} },
			wantErr: "session.credential_fallback_urls[0]",
		},
		{
			name:    "negative refresh lead",
			mutate:  func(c *config.Config) { c.Session.RefreshLead = -time.Second },
			wantErr: "session.refresh_lead",
		},
		{
			name:    "temperature too high",
			mutate:  func(c *config.Config) { c.Session.Temperature = 2.5 },
			wantErr: "session.temperature",
		},
		{
			name:    "negative pong timeout",
			mutate:  func(c *config.Config) { c.Transport.PongTimeout = -time.Second },
			wantErr: "transport.pong_timeout",
		},
		{
			name:    "negative queue capacity",
			mutate:  func(c *config.Config) { c.Transport.QueueCapacity = -1 },
			wantErr: "transport.queue_capacity",
		},
		{
			name: "backoff max below base",
			mutate: func(c *config.Config) {
				c.Transport.Backoff.Base = 2 * time.Second
				c.Transport.Backoff.Max = time.Second
			},
			wantErr: "transport.backoff.max",
		},
		{
			name:    "file source without path",
			mutate:  func(c *config.Config) { c.Audio.Source = "file" },
			wantErr: "audio.path is required",
		},
		{
			name:    "too many channels",
			mutate:  func(c *config.Config) { c.Audio.Channels = 12 },
			wantErr: "audio.channels",
		},
		{
			name:    "frame duration too short",
			mutate:  func(c *config.Config) { c.Audio.FrameDuration = 10 * time.Millisecond },
			wantErr: "audio.frame_duration",
		},
		{
			name:    "vad threshold above one",
			mutate:  func(c *config.Config) { c.Audio.VADThreshold = 1.5 },
			wantErr: "audio.vad_threshold",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
			if err != nil {
				t.Fatalf("base config invalid: %v", err)
			}
			tc.mutate(cfg)
			err = config.Validate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Server.LogLevel = "chatty"
	cfg.Audio.VADThreshold = -1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"server.log_level", "session.tenant_id", "audio.vad_threshold"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error missing %q: %v", want, msg)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxorder.yaml")
	writeFile(t, path, fullYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.TenantID != "cafe-7" {
		t.Errorf("tenant_id: got %q", cfg.Session.TenantID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error should wrap fs.ErrNotExist, got: %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Session.Context != config.ContextKiosk {
		t.Errorf("context = %q, want kiosk", cfg.Session.Context)
	}
	if _, err := config.NewRegistry().CreateDevice(config.AudioConfig{Source: cfg.Audio.Source}); err != nil {
		t.Errorf("example audio source %q is not registered: %v", cfg.Audio.Source, err)
	}
}
