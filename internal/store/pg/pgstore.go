package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"arbor.reports/internal/access"
	"arbor.reports/internal/hierarchy"
)

const uniqueViolation = "23505"

// Store implements access.IdentityStore on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ access.IdentityStore = (*Store)(nil)

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection (used by tests).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Actors ------------------------------------------------------------------

const actorColumns = `id, external_id, level, active, created_at, updated_at`

func scanActor(row *sql.Row) (*hierarchy.Actor, error) {
	var (
		a          hierarchy.Actor
		externalID sql.NullString
	)
	if err := row.Scan(&a.ID, &externalID, &a.Level, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrNotFound
		}
		return nil, err
	}
	a.ExternalID = externalID.String
	return &a, nil
}

func (s *Store) GetActor(ctx context.Context, id string) (*hierarchy.Actor, error) {
	return scanActor(s.db.QueryRowContext(ctx,
		`select `+actorColumns+` from actors where id=$1`, id))
}

func (s *Store) GetActorByExternalID(ctx context.Context, externalID string) (*hierarchy.Actor, error) {
	return scanActor(s.db.QueryRowContext(ctx,
		`select `+actorColumns+` from actors where external_id=$1`, externalID))
}

// BindExternalIdentity links an external identity to an actor. The partial
// unique index on actors.external_id backs the one-actor-per-identity rule
// under concurrency.
func (s *Store) BindExternalIdentity(ctx context.Context, actorID, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`update actors set external_id=$2, updated_at=now()
		 where id=$1 and (external_id is null or external_id=$2)`,
		actorID, externalID)
	if err != nil {
		if isUniqueViolation(err) {
			return access.ErrIdentityBound
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetActor(ctx, actorID); err != nil {
			return err
		}
		// Actor exists but already carries a different identity.
		return access.ErrIdentityBound
	}
	return nil
}

// Profiles -----------------------------------------------------------------

const profileColumns = `id, actor_id, level, organization_id, parent_id, code,
	status, token_hash, invite_expires_at, invited_by, activated_at, created_at, updated_at`

func scanProfile(row *sql.Row) (*hierarchy.Profile, error) {
	var (
		p         hierarchy.Profile
		orgID     sql.NullString
		parentID  sql.NullString
		tokenHash sql.NullString
		expiresAt sql.NullTime
		invitedBy sql.NullString
		activated sql.NullTime
	)
	err := row.Scan(&p.ID, &p.ActorID, &p.Level, &orgID, &parentID, &p.Code,
		&p.Status, &tokenHash, &expiresAt, &invitedBy, &activated, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrNotFound
		}
		return nil, err
	}
	p.OrganizationID = orgID.String
	p.ParentID = parentID.String
	p.TokenHash = tokenHash.String
	p.InvitedBy = invitedBy.String
	if expiresAt.Valid {
		t := expiresAt.Time
		p.InviteExpiresAt = &t
	}
	if activated.Valid {
		t := activated.Time
		p.ActivatedAt = &t
	}
	return &p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (*hierarchy.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`select `+profileColumns+` from profiles where id=$1`, id))
}

func (s *Store) GetProfileByActor(ctx context.Context, actorID string) (*hierarchy.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`select `+profileColumns+` from profiles where actor_id=$1`, actorID))
}

func (s *Store) GetProfileByTokenHash(ctx context.Context, tokenHash string) (*hierarchy.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`select `+profileColumns+` from profiles where token_hash=$1`, tokenHash))
}

// CreateProfile persists the actor and its profile in one transaction.
func (s *Store) CreateProfile(ctx context.Context, actor *hierarchy.Actor, profile *hierarchy.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`insert into actors(id, external_id, level, active)
		 values($1, nullif($2,''), $3, $4)`,
		actor.ID, actor.ExternalID, actor.Level, actor.Active); err != nil {
		if isUniqueViolation(err) {
			return access.ErrIdentityBound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into profiles(id, actor_id, level, organization_id, parent_id, code,
			status, token_hash, invite_expires_at, invited_by, activated_at)
		 values($1, $2, $3, nullif($4,''), nullif($5,''), $6, $7, nullif($8,''), $9, nullif($10,''), $11)`,
		profile.ID, profile.ActorID, profile.Level, profile.OrganizationID, profile.ParentID,
		profile.Code, profile.Status, profile.TokenHash, profile.InviteExpiresAt,
		profile.InvitedBy, profile.ActivatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateProfileConditional is the compare-and-swap behind activation and
// status changes: the update matches only while the row still carries the
// expected status (and token hash, when given). Exactly one of any number
// of racing activations can match.
func (s *Store) UpdateProfileConditional(ctx context.Context, id string, expectedStatus hierarchy.Status, expectedTokenHash string, upd access.ProfileUpdate) (bool, error) {
	var newStatus *string
	if upd.Status != nil {
		v := string(*upd.Status)
		newStatus = &v
	}
	res, err := s.db.ExecContext(ctx,
		`update profiles set
			status = coalesce($4, status),
			activated_at = coalesce($5, activated_at),
			token_hash = case when $6 then null else token_hash end,
			invite_expires_at = case when $6 then null else invite_expires_at end,
			updated_at = now()
		 where id=$1 and status=$2 and ($3 = '' or token_hash=$3)`,
		id, expectedStatus, expectedTokenHash, newStatus, upd.ActivatedAt, upd.ClearInvitation)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Organizations ------------------------------------------------------------

func (s *Store) GetOrganization(ctx context.Context, id string) (*hierarchy.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, active, created_at, updated_at from organizations where id=$1`, id)
	var org hierarchy.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Active, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// Accounts -----------------------------------------------------------------

const accountColumns = `a.id, a.kind, a.profile_id, a.organization_id, a.active, a.created_at`

func (s *Store) GetAccount(ctx context.Context, id string) (*hierarchy.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts a where a.id=$1`, id)
	var (
		acc       hierarchy.Account
		profileID sql.NullString
		orgID     sql.NullString
	)
	if err := row.Scan(&acc.ID, &acc.Kind, &profileID, &orgID, &acc.Active, &acc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, access.ErrNotFound
		}
		return nil, err
	}
	acc.ProfileID = profileID.String
	acc.OrganizationID = orgID.String
	return &acc, nil
}

// ListAccounts compiles the visibility filter into a WHERE clause so result
// sets are bounded at the database, not in memory.
func (s *Store) ListAccounts(ctx context.Context, f access.Filter) ([]hierarchy.Account, error) {
	var (
		query string
		args  []any
	)
	base := `select ` + accountColumns + ` from accounts a`
	switch f.Scope {
	case access.ScopeAll:
		query = base + ` order by a.created_at`
	case access.ScopeOrganization:
		query = base + ` where a.kind='master' or a.organization_id=$1 order by a.created_at`
		args = append(args, f.OrganizationID)
	case access.ScopeSelfAndChildren:
		query = base + ` left join profiles p on p.id=a.profile_id
			where a.profile_id=$1 or p.parent_id=$1 order by a.created_at`
		args = append(args, f.ProfileID)
	case access.ScopeSelf:
		query = base + ` where a.profile_id=$1 order by a.created_at`
		args = append(args, f.ProfileID)
	default:
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []hierarchy.Account
	for rows.Next() {
		var (
			acc       hierarchy.Account
			profileID sql.NullString
			orgID     sql.NullString
		)
		if err := rows.Scan(&acc.ID, &acc.Kind, &profileID, &orgID, &acc.Active, &acc.CreatedAt); err != nil {
			return nil, err
		}
		acc.ProfileID = profileID.String
		acc.OrganizationID = orgID.String
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
