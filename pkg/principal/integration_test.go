//go:build integration

// Package principal_test contains integration tests for principal
// provisioning against a real PostgreSQL instance. They are gated behind the
// "integration" build tag and run in CI with Docker via testcontainers.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./pkg/principal/...
package principal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/StricklySoft/identity-core/internal/testutil"
	"github.com/StricklySoft/identity-core/internal/testutil/containers"
	"github.com/StricklySoft/identity-core/pkg/auth"
	"github.com/StricklySoft/identity-core/pkg/clients/postgres"
	iderr "github.com/StricklySoft/identity-core/pkg/errors"
	"github.com/StricklySoft/identity-core/pkg/principal"
)

// createPrincipalsTable is the schema under test, matching the DDL documented
// on PostgresStore.
const createPrincipalsTable = `
CREATE TABLE IF NOT EXISTS principals (
    internal_id             UUID PRIMARY KEY,
    external_uid            VARCHAR(255) NOT NULL UNIQUE,
    external_provider       VARCHAR(64),
    email                   VARCHAR(320),
    onboarding_preferences  JSONB NOT NULL DEFAULT '{}',
    onboarding_completed_at TIMESTAMPTZ,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// setupStore starts a PostgreSQL 16 container, creates the principals table,
// and returns a store over it plus the underlying client for direct SQL.
// Everything is cleaned up automatically when the test completes.
func setupStore(t *testing.T) (*principal.PostgresStore, *postgres.Client) {
	t.Helper()

	ctx := context.Background()

	pg, err := containers.StartPostgres(ctx)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := pg.Terminate(ctx); termErr != nil {
			t.Logf("failed to terminate postgres container: %v", termErr)
		}
	})

	cfg := postgres.Config{
		URI:      pg.ConnString,
		MaxConns: 5,
		MinConns: 1,
	}
	if valErr := cfg.Validate(); valErr != nil {
		t.Fatalf("failed to validate config: %v", valErr)
	}

	client, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)

	if _, execErr := client.Exec(ctx, createPrincipalsTable); execErr != nil {
		t.Fatalf("failed to create principals table: %v", execErr)
	}

	return principal.NewPostgresStore(client), client
}

// ===========================================================================
// Provisioning Tests
// ===========================================================================

// TestIntegration_GetOrCreate_Idempotent verifies that repeated logins for
// one external uid resolve to a single principal row with a stable internal
// id.
func TestIntegration_GetOrCreate_Idempotent(t *testing.T) {
	store, client := setupStore(t)
	ctx := context.Background()

	prov := principal.NewProvisioner(store, nil)
	identity := auth.Identity{
		Provider:    "google",
		ExternalUID: "google-oauth2|118273645",
		Email:       "alice@example.com",
	}

	first, err := prov.GetOrCreate(ctx, identity)
	if err != nil {
		t.Fatalf("GetOrCreate() first call error: %v", err)
	}
	second, err := prov.GetOrCreate(ctx, identity)
	if err != nil {
		t.Fatalf("GetOrCreate() second call error: %v", err)
	}

	if first.InternalID != second.InternalID {
		t.Errorf("internal ids differ across calls: %s vs %s", first.InternalID, second.InternalID)
	}
	if second.ExternalProvider == nil || *second.ExternalProvider != "google" {
		t.Errorf("ExternalProvider = %v, want %q", second.ExternalProvider, "google")
	}
	if second.Email == nil || *second.Email != "alice@example.com" {
		t.Errorf("Email = %v, want %q", second.Email, "alice@example.com")
	}

	var count int
	if scanErr := client.QueryRow(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); scanErr != nil {
		t.Fatalf("COUNT query error: %v", scanErr)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

// TestIntegration_GetOrCreate_ConcurrentConvergence verifies that concurrent
// first logins for one uid converge on one internal id, with the UNIQUE
// constraint arbitrating and losers recovering via re-query.
func TestIntegration_GetOrCreate_ConcurrentConvergence(t *testing.T) {
	store, client := setupStore(t)
	ctx := context.Background()

	prov := principal.NewProvisioner(store, nil)
	identity := auth.Identity{
		Provider:    "apple",
		ExternalUID: "apple|000842.fb6e",
		Email:       "carol@example.com",
	}

	const callers = 8
	ids := make(chan uuid.UUID, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := prov.GetOrCreate(ctx, identity)
			if err != nil {
				t.Errorf("GetOrCreate() error: %v", err)
				return
			}
			ids <- p.InternalID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Errorf("concurrent callers observed %d distinct internal ids, want 1: %v", len(seen), seen)
	}

	var count int
	if scanErr := client.QueryRow(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); scanErr != nil {
		t.Fatalf("COUNT query error: %v", scanErr)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

// TestIntegration_GetOrCreate_BackfillNullOnly verifies that a later login
// fills columns that were NULL at provisioning time and that populated
// columns are never rewritten.
func TestIntegration_GetOrCreate_BackfillNullOnly(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	prov := principal.NewProvisioner(store, nil)

	// First login: token carried no email.
	first, err := prov.GetOrCreate(ctx, auth.Identity{
		Provider:    "google",
		ExternalUID: "user-backfill",
	})
	if err != nil {
		t.Fatalf("GetOrCreate() first login error: %v", err)
	}
	if first.Email != nil {
		t.Fatalf("Email = %v after first login, want nil", first.Email)
	}

	// Second login: email is now known and should be backfilled.
	second, err := prov.GetOrCreate(ctx, auth.Identity{
		Provider:    "google",
		ExternalUID: "user-backfill",
		Email:       "late@example.com",
	})
	if err != nil {
		t.Fatalf("GetOrCreate() second login error: %v", err)
	}
	if second.Email == nil || *second.Email != "late@example.com" {
		t.Errorf("Email = %v after backfill, want %q", second.Email, "late@example.com")
	}

	// Third login: a different email must not overwrite the stored one.
	third, err := prov.GetOrCreate(ctx, auth.Identity{
		Provider:    "google",
		ExternalUID: "user-backfill",
		Email:       "changed@example.com",
	})
	if err != nil {
		t.Fatalf("GetOrCreate() third login error: %v", err)
	}
	if third.Email == nil || *third.Email != "late@example.com" {
		t.Errorf("Email = %v after third login, want the original %q", third.Email, "late@example.com")
	}
	if third.InternalID != first.InternalID {
		t.Errorf("internal id changed across logins: %s vs %s", third.InternalID, first.InternalID)
	}
}

// ===========================================================================
// Store Tests
// ===========================================================================

// TestIntegration_Store_UniqueViolation verifies that the real database's
// 23505 is translated to CodeConflictDuplicate.
func TestIntegration_Store_UniqueViolation(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	first, err := principal.NewPrincipal("dup-uid", "google", "first@example.com")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}
	if insertErr := store.Insert(ctx, first); insertErr != nil {
		t.Fatalf("Insert() first row error: %v", insertErr)
	}

	second, err := principal.NewPrincipal("dup-uid", "apple", "second@example.com")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}
	insertErr := store.Insert(ctx, second)
	testutil.RequireErrorCode(t, insertErr, iderr.CodeConflictDuplicate,
		"second insert for one external uid must conflict")
}

// TestIntegration_Store_FindMiss verifies the not-found translation against
// a real empty table.
func TestIntegration_Store_FindMiss(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.FindByExternalUID(context.Background(), "never-seen")
	testutil.RequireErrorCode(t, err, iderr.CodeNotFoundPrincipal)
}

// TestIntegration_Store_OnboardingColumnsRoundTrip verifies that JSONB
// preferences and the completion timestamp written by the surrounding system
// scan back correctly through FindByExternalUID.
func TestIntegration_Store_OnboardingColumnsRoundTrip(t *testing.T) {
	store, client := setupStore(t)
	ctx := context.Background()

	prov := principal.NewProvisioner(store, nil)
	_, err := prov.GetOrCreate(ctx, auth.Identity{
		Provider:    "email",
		ExternalUID: "user-onboarding",
		Email:       "dana@example.com",
	})
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}

	// Simulate the onboarding flow completing for this user.
	_, err = client.Exec(ctx, `
		UPDATE principals
		SET onboarding_preferences = '{"theme":"dark","locale":"en-GB"}',
		    onboarding_completed_at = now()
		WHERE external_uid = $1`, "user-onboarding")
	if err != nil {
		t.Fatalf("Exec(UPDATE onboarding) error: %v", err)
	}

	p, err := store.FindByExternalUID(ctx, "user-onboarding")
	if err != nil {
		t.Fatalf("FindByExternalUID() error: %v", err)
	}
	if p.OnboardingPreferences["theme"] != "dark" {
		t.Errorf("preferences theme = %v, want %q", p.OnboardingPreferences["theme"], "dark")
	}
	if p.OnboardingPreferences["locale"] != "en-GB" {
		t.Errorf("preferences locale = %v, want %q", p.OnboardingPreferences["locale"], "en-GB")
	}
	if !p.OnboardingComplete() {
		t.Error("OnboardingComplete() = false after completion, want true")
	}
}

// TestIntegration_Store_BackfillLeavesPopulatedColumns verifies at the SQL
// level that the COALESCE backfill never rewrites populated columns.
func TestIntegration_Store_BackfillLeavesPopulatedColumns(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	p, err := principal.NewPrincipal("user-full", "google", "set@example.com")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}
	if insertErr := store.Insert(ctx, p); insertErr != nil {
		t.Fatalf("Insert() error: %v", insertErr)
	}

	otherProvider := "apple"
	otherEmail := "other@example.com"
	if backfillErr := store.Backfill(ctx, p.InternalID, &otherProvider, &otherEmail); backfillErr != nil {
		t.Fatalf("Backfill() error: %v", backfillErr)
	}

	got, err := store.FindByExternalUID(ctx, "user-full")
	if err != nil {
		t.Fatalf("FindByExternalUID() error: %v", err)
	}
	if got.ExternalProvider == nil || *got.ExternalProvider != "google" {
		t.Errorf("ExternalProvider = %v, want original %q", got.ExternalProvider, "google")
	}
	if got.Email == nil || *got.Email != "set@example.com" {
		t.Errorf("Email = %v, want original %q", got.Email, "set@example.com")
	}
}

// TestIntegration_Store_BackfillMissingRow verifies that backfilling an id
// that does not exist reports CodeNotFoundPrincipal.
func TestIntegration_Store_BackfillMissingRow(t *testing.T) {
	store, _ := setupStore(t)

	provider := "google"
	err := store.Backfill(context.Background(), uuid.New(), &provider, nil)
	testutil.RequireErrorCode(t, err, iderr.CodeNotFoundPrincipal)
}
