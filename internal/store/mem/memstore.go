// Package mem holds an in-memory IdentityStore for tests and local
// development. It mirrors the Postgres store's semantics, including the
// conditional update that arbitrates concurrent activation.
package mem

import (
	"context"
	"sync"
	"time"

	"arbor.reports/internal/access"
	"arbor.reports/internal/hierarchy"
)

// Store is a mutex-guarded in-memory identity store.
type Store struct {
	mu       sync.Mutex
	actors   map[string]*hierarchy.Actor
	profiles map[string]*hierarchy.Profile
	orgs     map[string]*hierarchy.Organization
	accounts map[string]*hierarchy.Account
	order    []string
}

var _ access.IdentityStore = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		actors:   make(map[string]*hierarchy.Actor),
		profiles: make(map[string]*hierarchy.Profile),
		orgs:     make(map[string]*hierarchy.Organization),
		accounts: make(map[string]*hierarchy.Account),
	}
}

// PutActor inserts or replaces an actor.
func (s *Store) PutActor(a hierarchy.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[a.ID] = &a
}

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(p hierarchy.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = &p
}

// PutOrganization inserts or replaces an organization.
func (s *Store) PutOrganization(o hierarchy.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[o.ID] = &o
}

// PutAccount inserts or replaces an account. Listing order follows insertion.
func (s *Store) PutAccount(a hierarchy.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	s.accounts[a.ID] = &a
}

func (s *Store) GetActorByExternalID(_ context.Context, externalID string) (*hierarchy.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.ExternalID != "" && a.ExternalID == externalID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *Store) GetActor(_ context.Context, id string) (*hierarchy.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetProfile(_ context.Context, id string) (*hierarchy.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetProfileByActor(_ context.Context, actorID string) (*hierarchy.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.ActorID == actorID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *Store) GetProfileByTokenHash(_ context.Context, tokenHash string) (*hierarchy.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tokenHash == "" {
		return nil, access.ErrNotFound
	}
	for _, p := range s.profiles {
		if p.TokenHash == tokenHash {
			cp := *p
			return &cp, nil
		}
	}
	return nil, access.ErrNotFound
}

func (s *Store) CreateProfile(_ context.Context, actor *hierarchy.Actor, profile *hierarchy.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *actor
	p := *profile
	s.actors[a.ID] = &a
	s.profiles[p.ID] = &p
	return nil
}

func (s *Store) UpdateProfileConditional(_ context.Context, id string, expectedStatus hierarchy.Status, expectedTokenHash string, upd access.ProfileUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return false, nil
	}
	if p.Status != expectedStatus {
		return false, nil
	}
	if expectedTokenHash != "" && p.TokenHash != expectedTokenHash {
		return false, nil
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.ActivatedAt != nil {
		p.ActivatedAt = upd.ActivatedAt
	}
	if upd.ClearInvitation {
		p.TokenHash = ""
		p.InviteExpiresAt = nil
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) BindExternalIdentity(_ context.Context, actorID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.ExternalID == externalID && a.ID != actorID {
			return access.ErrIdentityBound
		}
	}
	a, ok := s.actors[actorID]
	if !ok {
		return access.ErrNotFound
	}
	a.ExternalID = externalID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) GetOrganization(_ context.Context, id string) (*hierarchy.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*hierarchy.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAccounts(_ context.Context, f access.Filter) ([]hierarchy.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Scope == access.ScopeNone {
		return nil, nil
	}
	var out []hierarchy.Account
	for _, id := range s.order {
		acc := s.accounts[id]
		res := access.Resource{
			Type:           "account",
			ProfileID:      acc.ProfileID,
			OrganizationID: acc.OrganizationID,
			Master:         acc.Kind == hierarchy.AccountMaster,
		}
		if owner, ok := s.profileByID(acc.ProfileID); ok {
			res.ParentID = owner.ParentID
		}
		if f.Matches(res) {
			out = append(out, *acc)
		}
	}
	return out, nil
}

func (s *Store) profileByID(id string) (*hierarchy.Profile, bool) {
	if id == "" {
		return nil, false
	}
	p, ok := s.profiles[id]
	return p, ok
}
