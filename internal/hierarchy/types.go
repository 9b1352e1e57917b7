package hierarchy

import "time"

// Level is the trust level of an actor and its profile. The set is closed:
// decision tables switch over it exhaustively, so a new level fails to
// compile until every table names it.
type Level string

const (
	LevelSubclient Level = "subclient"
	LevelClient    Level = "client"
	LevelAgent     Level = "agent"
	LevelAdmin     Level = "admin"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelSubclient, LevelClient, LevelAgent, LevelAdmin:
		return true
	}
	return false
}

// Status is the lifecycle state of a profile.
type Status string

const (
	StatusPending   Status = "pending_activation"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Actor is an authenticated identity.
type Actor struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id,omitempty"`
	Level      Level     `json:"level"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Organization is a tenant boundary grouping agents and the clients they
// manage. Pure container, no behavior.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is the business record bound 1:1 to an actor. Hierarchy links
// (organization, parent) and the invitation state live here.
type Profile struct {
	ID             string `json:"id"`
	ActorID        string `json:"actor_id"`
	Level          Level  `json:"level"`
	OrganizationID string `json:"organization_id,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`
	Code           string `json:"code"`
	Status         Status `json:"status"`

	// Invitation state. TokenHash holds the sha256 hex digest of the
	// bearer token; the cleartext token is never stored.
	TokenHash       string     `json:"-"`
	InviteExpiresAt *time.Time `json:"invite_expires_at,omitempty"`
	InvitedBy       string     `json:"invited_by,omitempty"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountKind distinguishes firm-level master accounts from client accounts.
type AccountKind string

const (
	AccountMaster AccountKind = "master"
	AccountClient AccountKind = "client"
)

// Account is a visibility-governed resource. Client accounts reference the
// owning profile; master accounts belong to an organization directly.
type Account struct {
	ID             string      `json:"id"`
	Kind           AccountKind `json:"kind"`
	ProfileID      string      `json:"profile_id,omitempty"`
	OrganizationID string      `json:"organization_id,omitempty"`
	Active         bool        `json:"active"`
	CreatedAt      time.Time   `json:"created_at"`
}
