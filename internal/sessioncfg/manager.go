package sessioncfg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/voxorder/internal/observe"
)

// RefreshLead is how long before expiry the manager refreshes a credential.
const RefreshLead = 10 * time.Second

// DefaultFetchTimeout bounds one shared fetch.
const DefaultFetchTimeout = 15 * time.Second

// ManagerOption is a functional option for [NewManager].
type ManagerOption func(*Manager)

// WithRefreshLead overrides [RefreshLead].
func WithRefreshLead(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.lead = d
		}
	}
}

// WithFetchTimeout overrides [DefaultFetchTimeout].
func WithFetchTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

// Manager caches the current grant and keeps its credential fresh.
//
// Concurrent [Manager.Token] calls share one in-flight fetch. A shared fetch
// runs detached from any single caller's cancellation (bounded by the fetch
// timeout) so one impatient caller cannot fail the others.
//
// All methods are safe for concurrent use.
type Manager struct {
	fetcher      Fetcher
	req          Request
	logger       *slog.Logger
	metrics      *observe.Metrics
	lead         time.Duration
	fetchTimeout time.Duration

	group singleflight.Group

	mu      sync.Mutex
	grant   Grant
	have    bool
	gen     uint64
	timer   *time.Timer
	stopped bool
}

// NewManager returns a manager fetching grants for req. A nil logger uses
// [slog.Default]; nil metrics use [observe.DefaultMetrics].
func NewManager(fetcher Fetcher, req Request, logger *slog.Logger, metrics *observe.Metrics, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		fetcher:      fetcher,
		req:          req,
		logger:       logger.With("component", "credentials", "tenant", req.TenantID),
		metrics:      observe.OrDefault(metrics),
		lead:         RefreshLead,
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Request returns the request the manager fetches with.
func (m *Manager) Request() Request { return m.req }

// Token returns a valid token, fetching a new grant when none is cached or
// the cached one has expired.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.have && m.grant.Valid(time.Now()) {
		tok := m.grant.Token
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	g, err := m.fetch(ctx)
	if err != nil {
		return "", err
	}
	return g.Token, nil
}

// Grant returns the cached grant, if any.
func (m *Manager) Grant() (Grant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grant, m.have
}

// Valid reports whether the cached credential is currently usable.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.have && m.grant.Valid(time.Now())
}

// Refresh fetches a new grant regardless of the cached one. It is used to
// recover from a session-expired error.
func (m *Manager) Refresh(ctx context.Context) (Grant, error) {
	return m.fetch(ctx)
}

// Invalidate drops the cached grant and cancels the pending refresh.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.stopTimerLocked()
	m.grant = Grant{}
	m.have = false
}

// Stop cancels the pending refresh and disables scheduling of new ones. The
// cached grant stays usable and [Manager.Token] keeps working.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.gen++
	m.stopTimerLocked()
}

func (m *Manager) fetch(ctx context.Context) (Grant, error) {
	ch := m.group.DoChan("grant", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
		defer cancel()

		m.mu.Lock()
		gen := m.gen
		m.mu.Unlock()

		start := time.Now()
		g, err := m.fetcher.Fetch(fctx, m.req)
		if err != nil {
			m.metrics.RecordCredentialFetch(fctx, "error", time.Since(start))
			m.logger.Warn("credential fetch failed", "err", err, "duration", time.Since(start))
			return nil, err
		}
		m.metrics.RecordCredentialFetch(fctx, "ok", time.Since(start))
		m.store(g, gen)
		return g, nil
	})

	select {
	case <-ctx.Done():
		return Grant{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Grant{}, fmt.Errorf("sessioncfg: fetch credential: %w", res.Err)
		}
		return res.Val.(Grant), nil
	}
}

// store caches g unless the manager was invalidated or stopped while the
// fetch that produced it was in flight.
func (m *Manager) store(g Grant, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		m.logger.Debug("discarding credential fetched before invalidation")
		return
	}
	m.grant = g
	m.have = true
	m.gen++
	m.stopTimerLocked()

	if m.stopped || g.ExpiresAt.IsZero() {
		m.logger.Debug("credential stored", "expires_at", g.ExpiresAt)
		return
	}
	wait := time.Until(g.ExpiresAt) - m.lead
	if wait <= 0 {
		m.logger.Debug("credential lifetime shorter than refresh lead, not scheduling refresh",
			"expires_at", g.ExpiresAt, "lead", m.lead)
		return
	}
	timerGen := m.gen
	m.timer = time.AfterFunc(wait, func() { m.refreshFromTimer(timerGen) })
	m.logger.Debug("credential stored", "expires_at", g.ExpiresAt, "refresh_in", wait)
}

func (m *Manager) refreshFromTimer(gen uint64) {
	m.mu.Lock()
	stale := gen != m.gen || m.stopped
	m.mu.Unlock()
	if stale {
		return
	}
	if _, err := m.fetch(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("scheduled credential refresh failed", "err", err)
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
