package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arbor.reports/internal/access"
	"arbor.reports/internal/audit"
	"arbor.reports/internal/hierarchy"
	"arbor.reports/internal/ids"
	"arbor.reports/internal/notify"
	"arbor.reports/internal/obs"
)

// DefaultTTL is the invitation lifetime when the issuer does not override it.
const DefaultTTL = 7 * 24 * time.Hour

var (
	ErrInvalidInput     = errors.New("invite: invalid input")
	ErrTokenNotFound    = errors.New("invite: token not found")
	ErrTokenExpired     = errors.New("invite: token expired")
	ErrTokenAlreadyUsed = errors.New("invite: token already used")
	ErrTokenMalformed   = errors.New("invite: token malformed")
)

// Engine drives the invitation lifecycle: issue, validate, activate,
// suspend, reactivate. Activation concurrency is resolved by a single
// conditional write against the identity store, never by an in-process
// lock.
type Engine struct {
	authz    *access.Service
	store    access.IdentityStore
	notifier notify.Notifier
	sink     audit.Sink
	now      func() time.Time
	ttl      time.Duration
	syncSend bool
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithTTL overrides the default invitation lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithNotifier overrides the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithAuditSink overrides the audit sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithSynchronousNotify delivers notifications on the calling goroutine.
// Tests use it to observe deliveries deterministically.
func WithSynchronousNotify() Option {
	return func(e *Engine) { e.syncSend = true }
}

// NewEngine constructs the engine around the authorization facade.
func NewEngine(authz *access.Service, opts ...Option) (*Engine, error) {
	if authz == nil {
		return nil, errors.New("authorization facade is required")
	}
	e := &Engine{
		authz:    authz,
		store:    authz.Store(),
		notifier: notify.NewLogNotifier(),
		sink:     audit.NewLogSink(),
		now:      time.Now,
		ttl:      DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// IssueSpec describes the profile an invitation admits.
type IssueSpec struct {
	Level          hierarchy.Level
	OrganizationID string
	ParentID       string
	Code           string
	TTL            time.Duration
}

// Invitation is the result of Issue. Token is the only place the cleartext
// token ever appears; the store holds its hash.
type Invitation struct {
	Token     string
	ExpiresAt time.Time
	Profile   *hierarchy.Profile
}

// Issue authorizes the issuer, creates the pending profile and mints its
// single-use token. Invariant violations are rejected before any write.
func (e *Engine) Issue(ctx context.Context, issuerExternalID string, spec IssueSpec) (*Invitation, error) {
	dec, err := e.authz.AuthorizeCreate(ctx, issuerExternalID, access.NewProfileSpec{
		Level:          spec.Level,
		OrganizationID: spec.OrganizationID,
		ParentID:       spec.ParentID,
	})
	if err != nil {
		return nil, err
	}

	ttl := spec.TTL
	if ttl == 0 {
		ttl = e.ttl
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	expiresAt := now.Add(ttl)

	profile := &hierarchy.Profile{
		ID:              ids.New(),
		ActorID:         ids.New(),
		Level:           spec.Level,
		OrganizationID:  spec.OrganizationID,
		ParentID:        spec.ParentID,
		Code:            strings.TrimSpace(spec.Code),
		Status:          hierarchy.StatusPending,
		TokenHash:       HashToken(token),
		InviteExpiresAt: &expiresAt,
		InvitedBy:       dec.Subject.ProfileID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var parent *hierarchy.Profile
	if profile.ParentID != "" {
		parent, err = e.store.GetProfile(ctx, profile.ParentID)
		if err != nil && !errors.Is(err, access.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", access.ErrUnavailable, err)
		}
	}
	if err := hierarchy.ValidateProfile(*profile, parent); err != nil {
		obs.Errorf("invitation rejected: %v", err)
		return nil, err
	}

	actor := &hierarchy.Actor{
		ID:        profile.ActorID,
		Level:     spec.Level,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateProfile(ctx, actor, profile); err != nil {
		return nil, fmt.Errorf("%w: %v", access.ErrUnavailable, err)
	}

	obs.ObserveInvitation("issued")
	e.record(ctx, audit.Event{
		Actor:      dec.Subject.ActorID,
		Action:     "invitation.issued",
		EntityType: "profile",
		EntityID:   profile.ID,
		NewStatus:  string(hierarchy.StatusPending),
	})
	e.send(ctx, func(ctx context.Context) error {
		return e.notifier.SendInvitation(ctx, *profile, token, expiresAt)
	})

	return &Invitation{Token: token, ExpiresAt: expiresAt, Profile: profile}, nil
}

// Validate resolves a token to its pending profile without mutating
// anything. Malformed tokens fail before the lookup; callers must render
// every token error with one generic message.
func (e *Engine) Validate(ctx context.Context, token string) (*hierarchy.Profile, error) {
	if !wellFormed(token) {
		return nil, ErrTokenMalformed
	}
	profile, err := e.store.GetProfileByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", access.ErrUnavailable, err)
	}
	if profile.Status != hierarchy.StatusPending {
		return nil, ErrTokenAlreadyUsed
	}
	if hierarchy.InviteExpired(profile.InviteExpiresAt, e.now().UTC()) {
		obs.ObserveInvitation("expired")
		return nil, ErrTokenExpired
	}
	return profile, nil
}

// Activate consumes a token: exactly one of any number of concurrent calls
// succeeds, decided by the conditional update on status and token hash.
// Losers observe ErrTokenAlreadyUsed. The supplied external identity is
// bound to the profile's actor; an identity bound elsewhere is rejected.
func (e *Engine) Activate(ctx context.Context, token, externalID string) (*hierarchy.Profile, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: external identity is required", ErrInvalidInput)
	}
	profile, err := e.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	if existing, err := e.store.GetActorByExternalID(ctx, externalID); err == nil {
		if existing.ID != profile.ActorID {
			return nil, fmt.Errorf("%w: identity %s", access.ErrIdentityBound, externalID)
		}
	} else if !errors.Is(err, access.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", access.ErrUnavailable, err)
	}

	now := e.now().UTC()
	active := hierarchy.StatusActive
	matched, err := e.store.UpdateProfileConditional(ctx, profile.ID,
		hierarchy.StatusPending, profile.TokenHash,
		access.ProfileUpdate{Status: &active, ActivatedAt: &now, ClearInvitation: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", access.ErrUnavailable, err)
	}
	if !matched {
		// Lost the race: another request consumed the token first.
		return nil, ErrTokenAlreadyUsed
	}

	if err := e.store.BindExternalIdentity(ctx, profile.ActorID, externalID); err != nil {
		if errors.Is(err, access.ErrIdentityBound) {
			obs.Errorf("activation %s: identity %s bound concurrently", profile.ID, externalID)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", access.ErrUnavailable, err)
	}

	profile.Status = hierarchy.StatusActive
	profile.TokenHash = ""
	profile.InviteExpiresAt = nil
	profile.ActivatedAt = &now
	profile.UpdatedAt = now

	obs.ObserveInvitation("activated")
	e.record(ctx, audit.Event{
		Actor:      profile.ActorID,
		Action:     "invitation.activated",
		EntityType: "profile",
		EntityID:   profile.ID,
		OldStatus:  string(hierarchy.StatusPending),
		NewStatus:  string(hierarchy.StatusActive),
	})
	snapshot := *profile
	e.send(ctx, func(ctx context.Context) error {
		return e.notifier.SendWelcome(ctx, snapshot)
	})

	return profile, nil
}

// Suspend moves a profile to Suspended. Suspending an already suspended
// profile is a no-op success. A never-activated profile cannot be
// suspended.
func (e *Engine) Suspend(ctx context.Context, operatorExternalID, profileID string) (*hierarchy.Profile, error) {
	return e.setStatus(ctx, operatorExternalID, profileID, access.ActionSuspend, hierarchy.StatusSuspended)
}

// Reactivate moves a suspended profile back to Active. Reactivating an
// active profile is a no-op success; a pending profile can only be
// activated through its token.
func (e *Engine) Reactivate(ctx context.Context, operatorExternalID, profileID string) (*hierarchy.Profile, error) {
	return e.setStatus(ctx, operatorExternalID, profileID, access.ActionReactivate, hierarchy.StatusActive)
}

func (e *Engine) setStatus(ctx context.Context, operatorExternalID, profileID string, action access.Action, target hierarchy.Status) (*hierarchy.Profile, error) {
	profile, err := e.store.GetProfile(ctx, profileID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", access.ErrUnavailable, err)
	}

	dec, err := e.authz.Authorize(ctx, operatorExternalID, action, access.ResourceForProfile(profile))
	if err != nil {
		return nil, err
	}
	// Scoped operators only: admins, or agents of the profile's organization.
	if dec.Subject.Level != hierarchy.LevelAdmin && dec.Subject.Level != hierarchy.LevelAgent {
		return nil, fmt.Errorf("%w: %s may not %s profiles", access.ErrDenied, dec.Subject.Level, action)
	}

	if profile.Status == target {
		return profile, nil
	}
	// A pending profile leaves that state only through token activation.
	if profile.Status == hierarchy.StatusPending {
		return nil, fmt.Errorf("%w: profile %s awaits activation", hierarchy.ErrInvalidTransition, profile.ID)
	}
	if err := hierarchy.CheckTransition(profile.Status, target); err != nil {
		obs.Infof("rejected transition for profile %s: %v", profile.ID, err)
		return nil, err
	}

	old := profile.Status
	matched, err := e.store.UpdateProfileConditional(ctx, profile.ID, old, "",
		access.ProfileUpdate{Status: &target})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", access.ErrUnavailable, err)
	}
	if !matched {
		return nil, fmt.Errorf("%w: profile %s changed concurrently", hierarchy.ErrInvalidTransition, profile.ID)
	}

	profile.Status = target
	profile.UpdatedAt = e.now().UTC()

	event := "suspended"
	if target == hierarchy.StatusActive {
		event = "reactivated"
	}
	obs.ObserveInvitation(event)
	e.record(ctx, audit.Event{
		Actor:      dec.Subject.ActorID,
		Action:     "profile." + event,
		EntityType: "profile",
		EntityID:   profile.ID,
		OldStatus:  string(old),
		NewStatus:  string(target),
	})
	return profile, nil
}

func (e *Engine) record(ctx context.Context, ev audit.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now().UTC()
	}
	if err := e.sink.Record(ctx, ev); err != nil {
		obs.Errorf("audit record failed: %v", err)
	}
}

// send dispatches a notification fire-and-forget. Failure is logged and
// never unwinds the committed operation.
func (e *Engine) send(ctx context.Context, fn func(context.Context) error) {
	deliver := func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			obs.Errorf("notification failed: %v", err)
		}
	}
	if e.syncSend {
		deliver(ctx)
		return
	}
	go deliver(context.WithoutCancel(ctx))
}
