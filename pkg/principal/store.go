package principal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/identity-core/pkg/clients/postgres"
	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// pgUniqueViolation is the postgres error code for a unique constraint
// violation (class 23, integrity constraint violation).
const pgUniqueViolation = "23505"

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store persists principal rows keyed by external uid. Implementations
// translate storage failures into classified platform errors so callers
// branch on codes, never on driver types.
type Store interface {
	// FindByExternalUID returns the principal for uid, or an error
	// carrying [iderr.CodeNotFoundPrincipal] when no row exists.
	FindByExternalUID(ctx context.Context, uid string) (*Principal, error)

	// Insert persists a new principal. A unique violation on
	// external_uid is translated to [iderr.CodeConflictDuplicate].
	Insert(ctx context.Context, p *Principal) error

	// Backfill fills external_provider and email on the row with the
	// given internal id, touching only columns that are currently NULL.
	// A nil argument leaves its column alone either way.
	Backfill(ctx context.Context, id uuid.UUID, provider, email *string) error
}

// ---------------------------------------------------------------------------
// PostgresStore
// ---------------------------------------------------------------------------

const (
	sqlSelectPrincipalByUID = `
SELECT internal_id, external_uid, external_provider, email,
       onboarding_preferences, onboarding_completed_at, created_at, updated_at
FROM principals
WHERE external_uid = $1`

	sqlInsertPrincipal = `
INSERT INTO principals (internal_id, external_uid, external_provider, email,
                        onboarding_preferences, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	// COALESCE keeps already-populated columns untouched, so a backfill
	// can never overwrite data written by an earlier request.
	sqlBackfillPrincipal = `
UPDATE principals
SET external_provider = COALESCE(external_provider, $2),
    email             = COALESCE(email, $3),
    updated_at        = now()
WHERE internal_id = $1`
)

// PostgresStore implements [Store] on the platform postgres client.
//
// Expected schema (created by the integration tests; owned by the
// surrounding application's migrations in production):
//
//	CREATE TABLE principals (
//	    internal_id             UUID PRIMARY KEY,
//	    external_uid            VARCHAR(255) NOT NULL UNIQUE,
//	    external_provider       VARCHAR(64),
//	    email                   VARCHAR(320),
//	    onboarding_preferences  JSONB NOT NULL DEFAULT '{}',
//	    onboarding_completed_at TIMESTAMPTZ,
//	    created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// The UNIQUE constraint on external_uid is the arbiter for concurrent
// provisioning; nothing else in the schema is load-bearing for this
// package.
type PostgresStore struct {
	db *postgres.Client
}

// NewPostgresStore creates a store backed by the given postgres client.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// FindByExternalUID looks up a principal by the provider's subject id.
func (s *PostgresStore) FindByExternalUID(ctx context.Context, uid string) (*Principal, error) {
	var p Principal
	err := s.db.QueryRow(ctx, sqlSelectPrincipalByUID, uid).Scan(
		&p.InternalID,
		&p.ExternalUID,
		&p.ExternalProvider,
		&p.Email,
		&p.OnboardingPreferences,
		&p.OnboardingCompletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, iderr.Newf(iderr.CodeNotFoundPrincipal,
				"principal: no principal for external uid %q", uid)
		}
		return nil, translateError(err, "principal: lookup by external uid failed")
	}
	return &p, nil
}

// Insert writes a new principal row inside a transaction, so a lost
// provisioning race leaves no partial state behind.
func (s *PostgresStore) Insert(ctx context.Context, p *Principal) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, sqlInsertPrincipal,
		p.InternalID,
		p.ExternalUID,
		p.ExternalProvider,
		p.Email,
		p.OnboardingPreferences,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return iderr.Wrapf(err, iderr.CodeConflictDuplicate,
				"principal: external uid %q already provisioned", p.ExternalUID)
		}
		return translateError(err, "principal: insert failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return translateError(err, "principal: insert commit failed")
	}
	return nil
}

// Backfill fills NULL columns on an existing row. The SQL does the
// null-only arbitration, so concurrent backfills for one row are safe.
func (s *PostgresStore) Backfill(ctx context.Context, id uuid.UUID, provider, email *string) error {
	tag, err := s.db.Exec(ctx, sqlBackfillPrincipal, id, provider, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return iderr.Newf(iderr.CodeNotFoundPrincipal,
			"principal: no principal with internal id %s", id)
	}
	return nil
}

// translateError classifies raw driver errors that did not pass through
// the postgres client's own wrapping, such as row Scan and transaction
// statement failures. Errors that are already classified pass through
// untouched.
func translateError(err error, message string) error {
	if _, ok := iderr.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return iderr.Wrap(err, iderr.CodeTimeoutDatabase, message)
	}
	return iderr.Wrap(err, iderr.CodeInternalDatabase, message)
}
