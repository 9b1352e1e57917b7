package access

import (
	"context"
	"time"

	"arbor.reports/internal/hierarchy"
)

// ProfileUpdate carries the fields a conditional profile update may change.
// Nil pointers leave the column untouched.
type ProfileUpdate struct {
	Status          *hierarchy.Status
	ActivatedAt     *time.Time
	ClearInvitation bool
}

// IdentityStore describes the persistence operations the access core
// requires. Implementations must provide read-after-write consistency for
// UpdateProfileConditional; it is the concurrency control for activation.
type IdentityStore interface {
	GetActorByExternalID(ctx context.Context, externalID string) (*hierarchy.Actor, error)
	GetActor(ctx context.Context, id string) (*hierarchy.Actor, error)
	GetProfile(ctx context.Context, id string) (*hierarchy.Profile, error)
	GetProfileByActor(ctx context.Context, actorID string) (*hierarchy.Profile, error)
	GetProfileByTokenHash(ctx context.Context, tokenHash string) (*hierarchy.Profile, error)

	// CreateProfile persists a new actor together with its profile.
	CreateProfile(ctx context.Context, actor *hierarchy.Actor, profile *hierarchy.Profile) error

	// UpdateProfileConditional applies upd iff the stored row still has
	// expectedStatus and, when expectedTokenHash is non-empty, the same
	// token hash. Returns false without error when the condition did not
	// match any row.
	UpdateProfileConditional(ctx context.Context, id string, expectedStatus hierarchy.Status, expectedTokenHash string, upd ProfileUpdate) (bool, error)

	// BindExternalIdentity links an external identity to an actor. Returns
	// ErrIdentityBound when the identity is already linked to a different
	// actor.
	BindExternalIdentity(ctx context.Context, actorID, externalID string) error

	GetOrganization(ctx context.Context, id string) (*hierarchy.Organization, error)
	GetAccount(ctx context.Context, id string) (*hierarchy.Account, error)
	ListAccounts(ctx context.Context, f Filter) ([]hierarchy.Account, error)
}
