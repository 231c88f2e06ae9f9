// Package sessioncfg prepares everything a voice session needs before the
// realtime channel opens: a short-lived credential from the ephemeral-token
// endpoint, the menu context that scopes the conversation, and the session
// descriptor derived from both.
//
// The [Manager] owns the credential lifecycle. It fetches lazily, shares one
// in-flight fetch between concurrent callers and refreshes the credential
// shortly before it expires. Refreshing never touches an open socket; the
// transport picks up the new token on its next dial.
package sessioncfg

import (
	"errors"
	"time"
)

// ErrNoMenuContext is returned when the credential endpoint answers without a
// usable menu context. Order taking cannot work without it, so callers treat
// it as fatal and do not retry.
var ErrNoMenuContext = errors.New("sessioncfg: credential response has no menu context")

// ErrNoToken is returned when the credential endpoint answers without a token.
var ErrNoToken = errors.New("sessioncfg: credential response has no token")

// Context tags distinguish the fully automatic kiosk flow from the manually
// triggered staff flow.
const (
	ContextKiosk  = "kiosk"
	ContextServer = "server"
)

// Credential is a short-lived bearer token for the realtime service.
type Credential struct {
	Token string

	// ExpiresAt is the expiry reported by the endpoint. Zero means the
	// endpoint did not report one.
	ExpiresAt time.Time
}

// Valid reports whether c carries a token that has not expired at now.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether c expires within d of now. A credential
// without a reported expiry never does.
func (c Credential) ExpiresWithin(d time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(c.ExpiresAt)
}

// Request scopes a credential fetch.
type Request struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`
	Context  string `json:"context,omitempty"`
}

// Grant is the endpoint's answer: the credential plus the menu context the
// session is built from.
type Grant struct {
	Credential

	MenuContext string

	// MenuItems optionally lists canonical item names. When empty, callers
	// may derive them from MenuContext.
	MenuItems []string
}
