package sessioncfg

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voxorder/internal/resilience"
)

var _ Fetcher = (*FailoverFetcher)(nil)

// FailoverFetcher tries a primary credential endpoint and then each
// fallback in order. Request errors (4xx, missing menu context) are returned
// from the first endpoint that produced them; only endpoint failures move on
// to the next one.
type FailoverFetcher struct {
	group *resilience.FallbackGroup[Fetcher]
}

// NewFailoverFetcher returns a fetcher with primary as its first endpoint.
func NewFailoverFetcher(primaryName string, primary Fetcher, logger *slog.Logger) *FailoverFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverFetcher{
		group: resilience.NewFallbackGroup(primary, primaryName, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  3,
				ResetTimeout: 15 * time.Second,
				IsFailure:    isEndpointFailure,
			},
			Logger: logger.With("component", "credential"),
		}),
	}
}

// AddFallback registers another endpoint. Call before the first Fetch.
func (f *FailoverFetcher) AddFallback(name string, fetcher Fetcher) {
	f.group.AddFallback(name, fetcher)
}

// State reports [resilience.StateOpen] only when every endpoint's breaker is
// open.
func (f *FailoverFetcher) State() resilience.State { return f.group.State() }

// Fetch implements [Fetcher].
func (f *FailoverFetcher) Fetch(ctx context.Context, req Request) (Grant, error) {
	return resilience.ExecuteWithResult(ctx, f.group, func(ctx context.Context, fetcher Fetcher) (Grant, error) {
		return fetcher.Fetch(ctx, req)
	})
}
