package health

import (
	"context"
	"errors"
	"fmt"
)

// ReadyFunc reports whether a dependency is ready and, if not, what state it
// is in.
type ReadyFunc func() (ready bool, state string)

// SessionReady fails while the voice session is not established.
func SessionReady(fn ReadyFunc) Checker {
	return Checker{Name: "session", Check: func(context.Context) error {
		if ready, state := fn(); !ready {
			return fmt.Errorf("session not ready (state %s)", state)
		}
		return nil
	}}
}

// ErrCredentialInvalid is reported by [CredentialValid].
var ErrCredentialInvalid = errors.New("no valid session credential")

// CredentialValid fails while no unexpired session credential is cached.
func CredentialValid(valid func() bool) Checker {
	return Checker{Name: "credential", Check: func(context.Context) error {
		if !valid() {
			return ErrCredentialInvalid
		}
		return nil
	}}
}

// BreakerClosed fails while the named circuit breaker is open.
func BreakerClosed(name string, state func() string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if s := state(); s == "open" {
			return fmt.Errorf("circuit breaker %s", s)
		}
		return nil
	}}
}
