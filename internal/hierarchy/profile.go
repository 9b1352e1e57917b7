package hierarchy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvariant         = errors.New("hierarchy: invariant violation")
	ErrInvalidTransition = errors.New("hierarchy: invalid status transition")
)

// ValidateProfile checks the structural invariants of a profile before any
// write. parent is the resolved parent profile, nil when ParentID is empty.
func ValidateProfile(p Profile, parent *Profile) error {
	if !p.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvariant, p.Level)
	}
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("%w: profile code is required", ErrInvariant)
	}
	switch p.Level {
	case LevelSubclient:
		if p.ParentID == "" {
			return fmt.Errorf("%w: subclient requires a parent profile", ErrInvariant)
		}
		if p.ParentID == p.ID {
			return fmt.Errorf("%w: profile cannot be its own parent", ErrInvariant)
		}
		if parent == nil {
			return fmt.Errorf("%w: parent profile %s not resolved", ErrInvariant, p.ParentID)
		}
		if parent.Level != LevelClient {
			return fmt.Errorf("%w: subclient parent must be a client, got %s", ErrInvariant, parent.Level)
		}
		// Bounded ancestor walk: the tree is capped at client -> subclient,
		// so a parent with its own parent would form an illegal chain.
		if parent.ParentID != "" {
			return fmt.Errorf("%w: parent %s is not a root client", ErrInvariant, parent.ID)
		}
	case LevelClient:
		if p.ParentID != "" {
			return fmt.Errorf("%w: client profiles cannot have a parent", ErrInvariant)
		}
	case LevelAgent:
		if p.OrganizationID == "" {
			return fmt.Errorf("%w: agent requires an organization", ErrInvariant)
		}
		if p.ParentID != "" {
			return fmt.Errorf("%w: agent profiles cannot have a parent", ErrInvariant)
		}
	case LevelAdmin:
		if p.ParentID != "" {
			return fmt.Errorf("%w: admin profiles cannot have a parent", ErrInvariant)
		}
	}
	return validateInvitationState(p)
}

// validateInvitationState enforces the status/token coupling: pending
// profiles carry a token hash and a future expiry, settled profiles carry
// neither.
func validateInvitationState(p Profile) error {
	switch p.Status {
	case StatusPending:
		if p.TokenHash == "" {
			return fmt.Errorf("%w: pending profile without invitation token", ErrInvariant)
		}
		if p.InviteExpiresAt == nil {
			return fmt.Errorf("%w: pending profile without invitation expiry", ErrInvariant)
		}
	case StatusActive, StatusSuspended:
		if p.TokenHash != "" || p.InviteExpiresAt != nil {
			return fmt.Errorf("%w: %s profile still carries invitation state", ErrInvariant, p.Status)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, p.Status)
	}
	return nil
}

// CanTransition reports whether the status machine allows from -> to.
// Pending may only activate; a never-activated profile cannot be suspended.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive
	case StatusActive:
		return to == StatusSuspended
	case StatusSuspended:
		return to == StatusActive
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when from -> to is not legal.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// InviteExpired reports whether an invitation expiry has passed at now.
// The boundary is inclusive: a token whose expiry equals now is expired.
func InviteExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return !now.Before(*expiresAt)
}
