package transport

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"
)

// ErrReconnectExhausted is reported through [Client.OnError] when automatic
// reconnection gives up. Only an explicit [Client.Connect] recovers.
var ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")

// Default transport parameters.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueueCapacity     = 100
	DefaultWriteTimeout      = 5 * time.Second
	DefaultDialTimeout       = 15 * time.Second
	DefaultReadLimit         = 4 << 20

	defaultBackoffBase    = 1 * time.Second
	defaultBackoffMax     = 30 * time.Second
	defaultBackoffJitter  = 1 * time.Second
	defaultBackoffRetries = 5
)

// HeaderFunc returns the HTTP headers for a dial. It is called before every
// dial, including reconnects, so refreshed credentials are picked up.
type HeaderFunc func(ctx context.Context) (http.Header, error)

// Config configures a [Client].
type Config struct {
	// URL is the ws:// or wss:// endpoint of the voice service.
	URL string

	// Header supplies dial headers. May be nil.
	Header HeaderFunc

	// HeartbeatInterval is the period between outbound heartbeat messages.
	// Default: 30s.
	HeartbeatInterval time.Duration

	// PongTimeout, when positive, closes a connection on which nothing has
	// been received for HeartbeatInterval+PongTimeout. Zero disables the check.
	PongTimeout time.Duration

	// QueueCapacity bounds the outbound queue used while not connected.
	// Default: 100.
	QueueCapacity int

	// WriteTimeout bounds a single socket write. Default: 5s.
	WriteTimeout time.Duration

	// DialTimeout bounds the websocket handshake. Default: 15s.
	DialTimeout time.Duration

	// ReadLimit is the largest inbound frame accepted, in bytes. Default: 4 MiB.
	ReadLimit int64

	// Backoff controls automatic reconnection.
	Backoff BackoffConfig
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}

// BackoffConfig describes exponential reconnect backoff with additive jitter.
type BackoffConfig struct {
	// Base is the delay before the first reconnect attempt. Default: 1s.
	Base time.Duration

	// Max caps the exponential part of the delay. Default: 30s.
	Max time.Duration

	// MaxJitter bounds the random delay added to every attempt. Default: 1s.
	// A negative value disables jitter.
	MaxJitter time.Duration

	// MaxAttempts is the number of reconnect attempts before giving up.
	// Default: 5.
	MaxAttempts int
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	if b.Base <= 0 {
		b.Base = defaultBackoffBase
	}
	if b.Max <= 0 {
		b.Max = defaultBackoffMax
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.MaxJitter == 0 {
		b.MaxJitter = defaultBackoffJitter
	}
	if b.MaxJitter < 0 {
		b.MaxJitter = 0
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = defaultBackoffRetries
	}
	return b
}

// Delay returns the wait before reconnect attempt number attempt (0-based):
// min(Base*2^attempt, Max) plus jitter clamped to [0, MaxJitter]. It is
// non-decreasing in attempt for a fixed jitter and never exceeds
// Max+MaxJitter.
func (b BackoffConfig) Delay(attempt int, jitter time.Duration) time.Duration {
	b = b.withDefaults()
	d := b.Base
	for range max(attempt, 0) {
		d *= 2
		if d >= b.Max {
			break
		}
	}
	d = min(d, b.Max)
	return d + min(max(jitter, 0), b.MaxJitter)
}

// Jitter returns a uniformly random duration in [0, MaxJitter).
func (b BackoffConfig) Jitter() time.Duration {
	b = b.withDefaults()
	if b.MaxJitter <= 0 {
		return 0
	}
	return rand.N(b.MaxJitter)
}
