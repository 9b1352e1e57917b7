package access

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by IdentityStore implementations for absent
	// records. The facade wraps it into the actor/profile specific kinds.
	ErrNotFound = errors.New("access: not found")

	ErrActorNotFound    = errors.New("access: actor not found")
	ErrActorInactive    = errors.New("access: actor inactive")
	ErrProfileNotActive = errors.New("access: profile not active")
	ErrDenied           = errors.New("access: denied")
	ErrIdentityBound    = errors.New("access: external identity already bound")
	ErrUnavailable      = errors.New("access: identity store unavailable")
)

// ErrProfileNotActive details. Both deny; the distinction lets the UI
// redirect pending users to the activation flow.
var (
	ErrProfilePending   = fmt.Errorf("%w: pending activation", ErrProfileNotActive)
	ErrProfileSuspended = fmt.Errorf("%w: suspended", ErrProfileNotActive)
)
