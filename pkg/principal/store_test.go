package principal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/StricklySoft/identity-core/pkg/clients/postgres"
	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// newMockStore creates a PostgresStore backed by a pgxmock pool. The pool is
// closed automatically when the test completes.
func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)

	store := NewPostgresStore(postgres.NewFromPool(mock, &postgres.Config{Database: "identity"}))
	return store, mock
}

// principalColumns lists the columns returned by the principal SELECT, in
// scan order.
var principalColumns = []string{
	"internal_id", "external_uid", "external_provider", "email",
	"onboarding_preferences", "onboarding_completed_at", "created_at", "updated_at",
}

// ===========================================================================
// FindByExternalUID Tests
// ===========================================================================

// TestPostgresStore_Find_Found verifies that FindByExternalUID scans a full
// row, including nullable and JSONB columns, into a Principal.
func TestPostgresStore_Find_Found(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	provider := "google"
	email := "alice@example.com"
	created := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	updated := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(principalColumns).AddRow(
		id, "auth0|alice", &provider, &email,
		map[string]any{"theme": "dark"}, (*time.Time)(nil), created, updated,
	)
	mock.ExpectQuery("SELECT internal_id, external_uid, external_provider, email").
		WithArgs("auth0|alice").
		WillReturnRows(rows)

	p, err := store.FindByExternalUID(context.Background(), "auth0|alice")
	if err != nil {
		t.Fatalf("FindByExternalUID() error: %v", err)
	}

	if p.InternalID != id {
		t.Errorf("InternalID = %s, want %s", p.InternalID, id)
	}
	if p.ExternalUID != "auth0|alice" {
		t.Errorf("ExternalUID = %q, want %q", p.ExternalUID, "auth0|alice")
	}
	if p.ExternalProvider == nil || *p.ExternalProvider != "google" {
		t.Errorf("ExternalProvider = %v, want %q", p.ExternalProvider, "google")
	}
	if p.Email == nil || *p.Email != "alice@example.com" {
		t.Errorf("Email = %v, want %q", p.Email, "alice@example.com")
	}
	if p.OnboardingPreferences["theme"] != "dark" {
		t.Errorf("OnboardingPreferences = %v, want theme=dark", p.OnboardingPreferences)
	}
	if p.OnboardingCompletedAt != nil {
		t.Errorf("OnboardingCompletedAt = %v, want nil", p.OnboardingCompletedAt)
	}
	if !p.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, created)
	}
	if !p.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", p.UpdatedAt, updated)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestPostgresStore_Find_NullableColumns verifies that NULL provider, email,
// and completion-time columns scan into nil pointers.
func TestPostgresStore_Find_NullableColumns(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	created := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	rows := pgxmock.NewRows(principalColumns).AddRow(
		id, "user-minimal", (*string)(nil), (*string)(nil),
		map[string]any{}, (*time.Time)(nil), created, created,
	)
	mock.ExpectQuery("SELECT internal_id, external_uid, external_provider, email").
		WithArgs("user-minimal").
		WillReturnRows(rows)

	p, err := store.FindByExternalUID(context.Background(), "user-minimal")
	if err != nil {
		t.Fatalf("FindByExternalUID() error: %v", err)
	}

	if p.ExternalProvider != nil {
		t.Errorf("ExternalProvider = %v, want nil", p.ExternalProvider)
	}
	if p.Email != nil {
		t.Errorf("Email = %v, want nil", p.Email)
	}
	if p.OnboardingCompletedAt != nil {
		t.Errorf("OnboardingCompletedAt = %v, want nil", p.OnboardingCompletedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestPostgresStore_Find_NotFound verifies that pgx.ErrNoRows is translated
// to a *iderr.Error with CodeNotFoundPrincipal.
func TestPostgresStore_Find_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT internal_id, external_uid, external_provider, email").
		WithArgs("user-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindByExternalUID(context.Background(), "user-missing")
	if err == nil {
		t.Fatal("FindByExternalUID() expected error, got nil")
	}
	if !iderr.HasCode(err, iderr.CodeNotFoundPrincipal) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(err), iderr.CodeNotFoundPrincipal)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestPostgresStore_Find_DatabaseError verifies that a generic driver error
// during the lookup is classified as CodeInternalDatabase.
func TestPostgresStore_Find_DatabaseError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT internal_id, external_uid, external_provider, email").
		WithArgs("user-broken").
		WillReturnError(errors.New("connection reset by peer"))

	_, err := store.FindByExternalUID(context.Background(), "user-broken")
	if err == nil {
		t.Fatal("FindByExternalUID() expected error, got nil")
	}
	if !iderr.HasCode(err, iderr.CodeInternalDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(err), iderr.CodeInternalDatabase)
	}
}

// TestPostgresStore_Find_Timeout verifies that a context deadline error
// during the lookup is classified as CodeTimeoutDatabase.
func TestPostgresStore_Find_Timeout(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT internal_id, external_uid, external_provider, email").
		WithArgs("user-slow").
		WillReturnError(context.DeadlineExceeded)

	_, err := store.FindByExternalUID(context.Background(), "user-slow")
	if err == nil {
		t.Fatal("FindByExternalUID() expected error, got nil")
	}
	if !iderr.HasCode(err, iderr.CodeTimeoutDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(err), iderr.CodeTimeoutDatabase)
	}
}

// ===========================================================================
// Insert Tests
// ===========================================================================

// TestPostgresStore_Insert_Success verifies the happy path: the insert runs
// inside a transaction that is committed.
func TestPostgresStore_Insert_Success(t *testing.T) {
	store, mock := newMockStore(t)

	p, err := NewPrincipal("auth0|alice", "google", "alice@example.com")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO principals").
		WithArgs(p.InternalID, p.ExternalUID, p.ExternalProvider, p.Email,
			p.OnboardingPreferences, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if insertErr := store.Insert(context.Background(), p); insertErr != nil {
		t.Fatalf("Insert() error: %v", insertErr)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestPostgresStore_Insert_UniqueViolation verifies that a 23505 from the
// INSERT is translated to CodeConflictDuplicate, the transaction is rolled
// back, and the original pgconn.PgError stays in the chain.
func TestPostgresStore_Insert_UniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	p, err := NewPrincipal("auth0|dup", "google", "")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO principals").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{
			Code:           pgUniqueViolation,
			Message:        "duplicate key value violates unique constraint",
			ConstraintName: "principals_external_uid_key",
		})
	mock.ExpectRollback()

	insertErr := store.Insert(context.Background(), p)
	if insertErr == nil {
		t.Fatal("Insert() expected error, got nil")
	}
	if !iderr.HasCode(insertErr, iderr.CodeConflictDuplicate) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(insertErr), iderr.CodeConflictDuplicate)
	}

	var pgErr *pgconn.PgError
	if !errors.As(insertErr, &pgErr) {
		t.Error("Insert() error does not unwrap to *pgconn.PgError")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestPostgresStore_Insert_OtherConstraintViolation verifies that a
// non-unique constraint error is classified as internal, not as a conflict.
func TestPostgresStore_Insert_OtherConstraintViolation(t *testing.T) {
	store, mock := newMockStore(t)

	p, err := NewPrincipal("auth0|bad", "", "")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO principals").
		WillReturnError(&pgconn.PgError{
			Code:    "23502",
			Message: "null value in column violates not-null constraint",
		})
	mock.ExpectRollback()

	insertErr := store.Insert(context.Background(), p)
	if insertErr == nil {
		t.Fatal("Insert() expected error, got nil")
	}
	if iderr.HasCode(insertErr, iderr.CodeConflictDuplicate) {
		t.Error("non-unique constraint error must not classify as a duplicate conflict")
	}
	if !iderr.HasCode(insertErr, iderr.CodeInternalDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(insertErr), iderr.CodeInternalDatabase)
	}
}

// TestPostgresStore_Insert_BeginError verifies that a failure to open the
// transaction surfaces with the client's database classification.
func TestPostgresStore_Insert_BeginError(t *testing.T) {
	store, mock := newMockStore(t)

	p, err := NewPrincipal("auth0|nobegin", "", "")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	insertErr := store.Insert(context.Background(), p)
	if insertErr == nil {
		t.Fatal("Insert() expected error, got nil")
	}
	if !iderr.HasCode(insertErr, iderr.CodeInternalDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(insertErr), iderr.CodeInternalDatabase)
	}
}

// TestPostgresStore_Insert_CommitError verifies that a commit failure is
// classified as CodeInternalDatabase.
func TestPostgresStore_Insert_CommitError(t *testing.T) {
	store, mock := newMockStore(t)

	p, err := NewPrincipal("auth0|nocommit", "", "")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO principals").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit().WillReturnError(errors.New("server closed the connection unexpectedly"))

	insertErr := store.Insert(context.Background(), p)
	if insertErr == nil {
		t.Fatal("Insert() expected error, got nil")
	}
	if !iderr.HasCode(insertErr, iderr.CodeInternalDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(insertErr), iderr.CodeInternalDatabase)
	}
}

// TestPostgresStore_Insert_Timeout verifies that a deadline hit inside the
// transaction is classified as CodeTimeoutDatabase.
func TestPostgresStore_Insert_Timeout(t *testing.T) {
	store, mock := newMockStore(t)

	p, err := NewPrincipal("auth0|slow", "", "")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO principals").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	insertErr := store.Insert(context.Background(), p)
	if insertErr == nil {
		t.Fatal("Insert() expected error, got nil")
	}
	if !iderr.HasCode(insertErr, iderr.CodeTimeoutDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(insertErr), iderr.CodeTimeoutDatabase)
	}
}

// ===========================================================================
// Backfill Tests
// ===========================================================================

// TestPostgresStore_Backfill_Success verifies the null-only UPDATE is issued
// with the provided values.
func TestPostgresStore_Backfill_Success(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	provider := "google"
	email := "alice@example.com"

	mock.ExpectExec("UPDATE principals").
		WithArgs(id, &provider, &email).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.Backfill(context.Background(), id, &provider, &email); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestPostgresStore_Backfill_NilArguments verifies that nil arguments are
// passed through as SQL NULLs, leaving their columns untouched via COALESCE.
func TestPostgresStore_Backfill_NilArguments(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	email := "late@example.com"

	mock.ExpectExec("UPDATE principals").
		WithArgs(id, (*string)(nil), &email).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.Backfill(context.Background(), id, nil, &email); err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// TestPostgresStore_Backfill_RowMissing verifies that updating a nonexistent
// row reports CodeNotFoundPrincipal.
func TestPostgresStore_Backfill_RowMissing(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	provider := "apple"

	mock.ExpectExec("UPDATE principals").
		WithArgs(id, &provider, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Backfill(context.Background(), id, &provider, nil)
	if err == nil {
		t.Fatal("Backfill() expected error, got nil")
	}
	if !iderr.HasCode(err, iderr.CodeNotFoundPrincipal) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(err), iderr.CodeNotFoundPrincipal)
	}
}

// TestPostgresStore_Backfill_DatabaseError verifies that exec failures keep
// the client's database classification.
func TestPostgresStore_Backfill_DatabaseError(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	provider := "google"

	mock.ExpectExec("UPDATE principals").
		WithArgs(id, &provider, (*string)(nil)).
		WillReturnError(errors.New("disk full"))

	err := store.Backfill(context.Background(), id, &provider, nil)
	if err == nil {
		t.Fatal("Backfill() expected error, got nil")
	}
	if !iderr.HasCode(err, iderr.CodeInternalDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(err), iderr.CodeInternalDatabase)
	}
}

// ===========================================================================
// translateError Tests
// ===========================================================================

// TestTranslateError_PassesThroughClassified verifies that errors already
// carrying a platform code are returned untouched, not rewrapped.
func TestTranslateError_PassesThroughClassified(t *testing.T) {
	in := iderr.New(iderr.CodeUnavailableDatabase, "pool exhausted")
	out := translateError(in, "should not rewrap")
	if !errors.Is(out, in) {
		t.Errorf("translateError() = %v, want the input error unchanged", out)
	}
	if iderr.GetCode(out) != iderr.CodeUnavailableDatabase {
		t.Errorf("error code = %q, want %q preserved", iderr.GetCode(out), iderr.CodeUnavailableDatabase)
	}
}

// TestTranslateError_DeadlineExceeded verifies the timeout classification.
func TestTranslateError_DeadlineExceeded(t *testing.T) {
	out := translateError(context.DeadlineExceeded, "statement timed out")
	if !iderr.HasCode(out, iderr.CodeTimeoutDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(out), iderr.CodeTimeoutDatabase)
	}
	if !errors.Is(out, context.DeadlineExceeded) {
		t.Error("translateError() result does not unwrap to context.DeadlineExceeded")
	}
}

// TestTranslateError_Canceled verifies that cancellation classifies as a
// timeout alongside deadline expiry.
func TestTranslateError_Canceled(t *testing.T) {
	out := translateError(context.Canceled, "statement canceled")
	if !iderr.HasCode(out, iderr.CodeTimeoutDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(out), iderr.CodeTimeoutDatabase)
	}
}

// TestTranslateError_Generic verifies the internal-database fallback.
func TestTranslateError_Generic(t *testing.T) {
	cause := errors.New("unexpected EOF")
	out := translateError(cause, "scan failed")
	if !iderr.HasCode(out, iderr.CodeInternalDatabase) {
		t.Errorf("error code = %q, want %q", iderr.GetCode(out), iderr.CodeInternalDatabase)
	}
	if !errors.Is(out, cause) {
		t.Error("translateError() result does not unwrap to the original cause")
	}
}
