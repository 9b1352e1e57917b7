package access

import "arbor.reports/internal/hierarchy"

// Action identifies an operation on a resource.
type Action string

const (
	ActionView       Action = "view"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionSuspend    Action = "suspend"
	ActionReactivate Action = "reactivate"
)

// mutating actions trigger an audit event on denial.
func (a Action) Mutating() bool {
	switch a {
	case ActionUpdate, ActionDelete, ActionSuspend, ActionReactivate:
		return true
	}
	return false
}

// Subject is the denormalized view of an eligible actor used for decisions.
// The facade builds it only after activity and status checks have passed.
type Subject struct {
	ActorID        string
	ProfileID      string
	Level          hierarchy.Level
	OrganizationID string
}

// Resource is the denormalized view of a decision target. ProfileID is the
// owning profile (empty for master accounts), ParentID that profile's
// parent, OrganizationID the effective tenant. A resource whose scoping
// record was deleted arrives here with the reference empty and stays
// visible to admins only.
type Resource struct {
	Type           string
	ProfileID      string
	ParentID       string
	OrganizationID string
	Master         bool
}

// NewProfileSpec describes the profile an admission would create.
type NewProfileSpec struct {
	Level          hierarchy.Level
	OrganizationID string
	ParentID       string
}

// CanPerform decides a resource-scoped action. Pure and side-effect free;
// unknown level/action combinations deny.
func CanPerform(sub Subject, action Action, res Resource) bool {
	if sub.ProfileID == "" {
		return false
	}
	switch action {
	case ActionView, ActionUpdate, ActionDelete, ActionSuspend, ActionReactivate:
	default:
		return false
	}
	switch sub.Level {
	case hierarchy.LevelAdmin:
		return true
	case hierarchy.LevelAgent:
		return sub.OrganizationID != "" && res.OrganizationID == sub.OrganizationID
	case hierarchy.LevelClient:
		// One level of descent only: a client sees itself and its direct
		// subclients.
		return res.ProfileID == sub.ProfileID ||
			(res.ParentID != "" && res.ParentID == sub.ProfileID)
	case hierarchy.LevelSubclient:
		return res.ProfileID != "" && res.ProfileID == sub.ProfileID
	}
	return false
}

// CanCreate decides whether sub may admit a new profile shaped like spec.
func CanCreate(sub Subject, spec NewProfileSpec) bool {
	if sub.ProfileID == "" || !spec.Level.Valid() {
		return false
	}
	switch sub.Level {
	case hierarchy.LevelAdmin:
		return true
	case hierarchy.LevelAgent:
		if sub.OrganizationID == "" || spec.OrganizationID != sub.OrganizationID {
			return false
		}
		return spec.Level == hierarchy.LevelClient || spec.Level == hierarchy.LevelSubclient
	case hierarchy.LevelClient:
		return spec.Level == hierarchy.LevelSubclient && spec.ParentID == sub.ProfileID
	case hierarchy.LevelSubclient:
		return false
	}
	return false
}

// Scope names the shape of a visibility predicate.
type Scope string

const (
	ScopeAll             Scope = "all"
	ScopeOrganization    Scope = "organization"
	ScopeSelfAndChildren Scope = "self_and_children"
	ScopeSelf            Scope = "self"
	ScopeNone            Scope = "none"
)

// Filter is a declarative visibility predicate the storage layer translates
// into a WHERE clause instead of materializing result sets.
type Filter struct {
	Scope          Scope
	OrganizationID string
	ProfileID      string
}

// VisibleResourceFilter computes the listing predicate for a subject.
func VisibleResourceFilter(sub Subject) Filter {
	if sub.ProfileID == "" {
		return Filter{Scope: ScopeNone}
	}
	switch sub.Level {
	case hierarchy.LevelAdmin:
		return Filter{Scope: ScopeAll}
	case hierarchy.LevelAgent:
		if sub.OrganizationID == "" {
			return Filter{Scope: ScopeNone}
		}
		return Filter{Scope: ScopeOrganization, OrganizationID: sub.OrganizationID}
	case hierarchy.LevelClient:
		return Filter{Scope: ScopeSelfAndChildren, ProfileID: sub.ProfileID}
	case hierarchy.LevelSubclient:
		return Filter{Scope: ScopeSelf, ProfileID: sub.ProfileID}
	}
	return Filter{Scope: ScopeNone}
}

// Matches evaluates the predicate against a denormalized resource. The
// Postgres store compiles the same semantics into SQL; this form backs the
// in-memory stores and tests.
func (f Filter) Matches(res Resource) bool {
	switch f.Scope {
	case ScopeAll:
		return true
	case ScopeOrganization:
		if res.Master {
			return true
		}
		return res.OrganizationID != "" && res.OrganizationID == f.OrganizationID
	case ScopeSelfAndChildren:
		return res.ProfileID == f.ProfileID ||
			(res.ParentID != "" && res.ParentID == f.ProfileID)
	case ScopeSelf:
		return res.ProfileID != "" && res.ProfileID == f.ProfileID
	}
	return false
}
