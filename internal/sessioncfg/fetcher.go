package sessioncfg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxorder/internal/observe"
	"github.com/MrWong99/voxorder/internal/resilience"
)

// Fetcher obtains a credential grant.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Grant, error)
}

// FetcherFunc adapts a function to [Fetcher].
type FetcherFunc func(ctx context.Context, req Request) (Grant, error)

// Fetch implements [Fetcher].
func (f FetcherFunc) Fetch(ctx context.Context, req Request) (Grant, error) { return f(ctx, req) }

// AuthFunc decorates an outgoing credential request with the surrounding
// application's session, typically an Authorization header or cookie.
type AuthFunc func(ctx context.Context, r *http.Request) error

// BearerAuth returns an [AuthFunc] that sets a static bearer token.
func BearerAuth(token string) AuthFunc {
	return func(_ context.Context, r *http.Request) error {
		r.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sessioncfg: credential endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("sessioncfg: credential endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// Compile-time check.
var _ Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher fetches grants from the ephemeral-token endpoint with a JSON
// POST. Calls are guarded by a circuit breaker so a failing endpoint is not
// hammered by reconnect loops; client errors (4xx) and missing menu context
// do not trip it.
type HTTPFetcher struct {
	url     string
	client  *http.Client
	auth    AuthFunc
	breaker *resilience.CircuitBreaker
}

// FetcherOption is a functional option for [NewHTTPFetcher].
type FetcherOption func(*fetcherConfig)

type fetcherConfig struct {
	client  *http.Client
	auth    AuthFunc
	breaker resilience.CircuitBreakerConfig
}

// WithHTTPClient sets the HTTP client. Default: a client with a 10s timeout.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(cfg *fetcherConfig) { cfg.client = c }
}

// WithAuth sets the request decorator.
func WithAuth(fn AuthFunc) FetcherOption {
	return func(cfg *fetcherConfig) { cfg.auth = fn }
}

// WithBreaker overrides the circuit breaker tuning. Name and IsFailure are
// always set by the fetcher.
func WithBreaker(bc resilience.CircuitBreakerConfig) FetcherOption {
	return func(cfg *fetcherConfig) { cfg.breaker = bc }
}

// NewHTTPFetcher returns a fetcher that POSTs to url.
func NewHTTPFetcher(url string, opts ...FetcherOption) (*HTTPFetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("sessioncfg: credential endpoint URL must not be empty")
	}
	cfg := fetcherConfig{
		breaker: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.client == nil {
		cfg.client = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.breaker.Name = "credential-endpoint"
	cfg.breaker.IsFailure = isEndpointFailure

	return &HTTPFetcher{
		url:     url,
		client:  cfg.client,
		auth:    cfg.auth,
		breaker: resilience.NewCircuitBreaker(cfg.breaker),
	}, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (f *HTTPFetcher) Breaker() *resilience.CircuitBreaker { return f.breaker }

// isEndpointFailure reports whether err says something about the endpoint's
// health rather than about the request.
func isEndpointFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNoMenuContext) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}

// grantResponse is the endpoint's JSON body. Besides the flat shape, the
// OpenAI-style {"client_secret": {"value", "expires_at"}} is accepted.
type grantResponse struct {
	Token        string   `json:"token"`
	ExpiresAt    int64    `json:"expires_at"`
	MenuContext  string   `json:"menu_context"`
	MenuItems    []string `json:"menu_items"`
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Fetch implements [Fetcher].
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (Grant, error) {
	ctx, span := observe.StartSpan(ctx, "sessioncfg.fetch")
	defer span.End()

	var g Grant
	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		g, err = f.fetch(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return Grant{}, err
	}
	return g, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, req Request) (Grant, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Grant{}, fmt.Errorf("sessioncfg: marshal request: %w", err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return Grant{}, fmt.Errorf("sessioncfg: build request: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	if f.auth != nil {
		if err := f.auth(ctx, hr); err != nil {
			return Grant{}, fmt.Errorf("sessioncfg: authorise request: %w", err)
		}
	}

	resp, err := f.client.Do(hr)
	if err != nil {
		return Grant{}, fmt.Errorf("sessioncfg: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Grant{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var gr grantResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Grant{}, fmt.Errorf("sessioncfg: decode response: %w", err)
	}
	return gr.grant()
}

func (gr grantResponse) grant() (Grant, error) {
	token, exp := gr.Token, gr.ExpiresAt
	if token == "" && gr.ClientSecret != nil {
		token, exp = gr.ClientSecret.Value, gr.ClientSecret.ExpiresAt
	}
	if token == "" {
		return Grant{}, ErrNoToken
	}
	if strings.TrimSpace(gr.MenuContext) == "" {
		return Grant{}, ErrNoMenuContext
	}
	g := Grant{
		Credential:  Credential{Token: token},
		MenuContext: gr.MenuContext,
		MenuItems:   gr.MenuItems,
	}
	if exp > 0 {
		g.ExpiresAt = time.Unix(exp, 0)
	}
	return g, nil
}
