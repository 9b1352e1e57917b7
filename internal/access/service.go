package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbor.reports/internal/audit"
	"arbor.reports/internal/hierarchy"
	"arbor.reports/internal/obs"
)

// Service is the authorization facade. It is the single entry point the
// HTTP layer calls: it resolves the external identity to an actor and
// profile, applies the cheap activity and status checks, and only then
// consults the pure resolver.
type Service struct {
	store IdentityStore
	sink  audit.Sink
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithAuditSink overrides the audit sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// NewService constructs the facade.
func NewService(store IdentityStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	s := &Service{
		store: store,
		sink:  audit.NewLogSink(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store exposes the underlying identity store to collaborating services.
func (s *Service) Store() IdentityStore { return s.store }

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Subject Subject
	Profile *hierarchy.Profile
}

// Resolve maps an external identity to an eligible subject. It fails with
// ErrActorNotFound, ErrActorInactive, ErrProfilePending or
// ErrProfileSuspended before any hierarchy walk is paid for.
func (s *Service) Resolve(ctx context.Context, externalID string) (Subject, *hierarchy.Profile, error) {
	actor, err := s.store.GetActorByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Subject{}, nil, fmt.Errorf("%w: external identity %s", ErrActorNotFound, externalID)
		}
		return Subject{}, nil, wrapStoreErr(err)
	}
	if !actor.Active {
		return Subject{}, nil, fmt.Errorf("%w: actor %s", ErrActorInactive, actor.ID)
	}
	profile, err := s.store.GetProfileByActor(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Subject{}, nil, fmt.Errorf("%w: actor %s has no profile", ErrActorNotFound, actor.ID)
		}
		return Subject{}, nil, wrapStoreErr(err)
	}
	switch profile.Status {
	case hierarchy.StatusActive:
	case hierarchy.StatusPending:
		return Subject{}, nil, fmt.Errorf("%w (profile %s)", ErrProfilePending, profile.ID)
	case hierarchy.StatusSuspended:
		return Subject{}, nil, fmt.Errorf("%w (profile %s)", ErrProfileSuspended, profile.ID)
	default:
		return Subject{}, nil, fmt.Errorf("%w (profile %s)", ErrProfileNotActive, profile.ID)
	}
	sub := Subject{
		ActorID:        actor.ID,
		ProfileID:      profile.ID,
		Level:          profile.Level,
		OrganizationID: profile.OrganizationID,
	}
	return sub, profile, nil
}

// Authorize decides whether the external identity may perform action on the
// resource. A denial is reported as ErrDenied, never conflated with
// infrastructure failure (ErrUnavailable).
func (s *Service) Authorize(ctx context.Context, externalID string, action Action, res Resource) (Decision, error) {
	sub, profile, err := s.Resolve(ctx, externalID)
	if err != nil {
		obs.ObserveAuthzDecision("", string(action), outcomeFor(err))
		return Decision{}, err
	}
	allowed := CanPerform(sub, action, res)
	dec := Decision{Allowed: allowed, Subject: sub, Profile: profile}
	if !allowed {
		obs.ObserveAuthzDecision(string(sub.Level), string(action), "deny")
		if action.Mutating() {
			s.record(ctx, audit.Event{
				Actor:      sub.ActorID,
				Action:     "access.deny." + string(action),
				EntityType: res.Type,
				EntityID:   res.ProfileID,
			})
		}
		return dec, fmt.Errorf("%w: %s %s by %s", ErrDenied, action, res.Type, sub.Level)
	}
	obs.ObserveAuthzDecision(string(sub.Level), string(action), "allow")
	return dec, nil
}

// AuthorizeCreate decides an admission: whether the external identity may
// create a profile shaped like spec.
func (s *Service) AuthorizeCreate(ctx context.Context, externalID string, spec NewProfileSpec) (Decision, error) {
	sub, profile, err := s.Resolve(ctx, externalID)
	if err != nil {
		obs.ObserveAuthzDecision("", "create", outcomeFor(err))
		return Decision{}, err
	}
	allowed := CanCreate(sub, spec)
	dec := Decision{Allowed: allowed, Subject: sub, Profile: profile}
	if !allowed {
		obs.ObserveAuthzDecision(string(sub.Level), "create", "deny")
		s.record(ctx, audit.Event{
			Actor:      sub.ActorID,
			Action:     "access.deny.create",
			EntityType: "profile",
			NewStatus:  string(spec.Level),
		})
		return dec, fmt.Errorf("%w: create %s by %s", ErrDenied, spec.Level, sub.Level)
	}
	obs.ObserveAuthzDecision(string(sub.Level), "create", "allow")
	return dec, nil
}

// Visible computes the listing predicate for the external identity.
func (s *Service) Visible(ctx context.Context, externalID string) (Filter, error) {
	sub, _, err := s.Resolve(ctx, externalID)
	if err != nil {
		return Filter{Scope: ScopeNone}, err
	}
	return VisibleResourceFilter(sub), nil
}

// VisibleAccounts lists the accounts the external identity may see, pushing
// the predicate down to the store.
func (s *Service) VisibleAccounts(ctx context.Context, externalID string) ([]hierarchy.Account, error) {
	f, err := s.Visible(ctx, externalID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, f)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return accounts, nil
}

// ResourceForAccount builds the denormalized decision target for an
// account, resolving the owning profile's parent within this one check.
func (s *Service) ResourceForAccount(ctx context.Context, acc *hierarchy.Account) (Resource, error) {
	res := Resource{
		Type:           "account",
		ProfileID:      acc.ProfileID,
		OrganizationID: acc.OrganizationID,
		Master:         acc.Kind == hierarchy.AccountMaster,
	}
	if acc.ProfileID != "" {
		owner, err := s.store.GetProfile(ctx, acc.ProfileID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Owner deleted: the account stays unscoped, admin-only.
				res.ProfileID = ""
				res.OrganizationID = ""
				return res, nil
			}
			return Resource{}, wrapStoreErr(err)
		}
		res.ParentID = owner.ParentID
	}
	return res, nil
}

// ResourceForProfile builds the decision target for a profile.
func ResourceForProfile(p *hierarchy.Profile) Resource {
	return Resource{
		Type:           "profile",
		ProfileID:      p.ID,
		ParentID:       p.ParentID,
		OrganizationID: p.OrganizationID,
	}
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now().UTC()
	}
	if err := s.sink.Record(ctx, ev); err != nil {
		obs.Errorf("audit record failed: %v", err)
	}
}

// wrapStoreErr maps collaborator timeouts and outages to ErrUnavailable so
// callers never mistake infrastructure failure for a security decision.
func wrapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrIdentityBound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrActorNotFound):
		return "actor_not_found"
	case errors.Is(err, ErrActorInactive):
		return "actor_inactive"
	case errors.Is(err, ErrProfileNotActive):
		return "profile_not_active"
	default:
		return "error"
	}
}
