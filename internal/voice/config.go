package voice

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/voxorder/internal/observe"
	"github.com/MrWong99/voxorder/internal/order"
	"github.com/MrWong99/voxorder/internal/session"
	"github.com/MrWong99/voxorder/internal/sessioncfg"
	"github.com/MrWong99/voxorder/internal/transport"
	"github.com/MrWong99/voxorder/pkg/audio"
)

// Default buffer sizes.
const (
	DefaultEventBuffer = 64
	DefaultSendBuffer  = 64
)

// Config is the orchestrator's configuration surface.
type Config struct {
	TenantID string
	UserID   string

	// Context is [sessioncfg.ContextKiosk] (hands-free, server turn
	// detection) or [sessioncfg.ContextServer] (push-to-talk). Default: kiosk.
	Context string

	// Debug raises this session's logging to debug regardless of the
	// process-wide level.
	Debug bool

	// EnableVAD withholds frames the local detector classifies as silence.
	// It applies to push-to-talk sessions only; with server turn detection
	// every frame is sent because the server needs the silence to end turns.
	EnableVAD bool

	// MuteOutput suppresses AudioOutput events.
	MuteOutput bool

	// URL is the realtime websocket endpoint. Overrides Transport.URL.
	URL string

	Voice              string
	TranscriptionModel string
	Temperature        float64

	Audio     audio.PipelineConfig
	Transport transport.Config
	Timeouts  session.Timeouts

	// HistorySize bounds the transition history. Default: 100.
	HistorySize int

	// EventBuffer is the capacity of the [Client.Events] channel. When it is
	// full, events are dropped and logged. Default: 64.
	EventBuffer int

	// SendBuffer is the capacity of the outbound audio hand-off between the
	// capture callback and the socket writer. Default: 64.
	SendBuffer int
}

func (c Config) validate() error {
	var errs []error
	if c.TenantID == "" {
		errs = append(errs, errors.New("tenant id is required"))
	}
	if c.URL == "" && c.Transport.URL == "" {
		errs = append(errs, errors.New("realtime URL is required"))
	}
	switch c.Context {
	case "", sessioncfg.ContextKiosk, sessioncfg.ContextServer:
	default:
		errs = append(errs, errors.New("context must be \"kiosk\" or \"server\""))
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	if c.Context == "" {
		c.Context = sessioncfg.ContextKiosk
	}
	if c.URL != "" {
		c.Transport.URL = c.URL
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	return c
}

// Deps are the injected collaborators of a [Client]. Device and Credentials
// are required.
type Deps struct {
	Device      audio.Device
	Credentials *sessioncfg.Manager

	// Sink receives order intents. Nil discards them.
	Sink order.Sink

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// connectTimeout bounds the wait for a ready session when the caller's
// context has no deadline.
const connectTimeout = time.Minute
