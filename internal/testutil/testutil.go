// Package testutil carries the assertion and fixture helpers shared by
// tests across the identity core packages.
//
// Helpers take [testing.TB] so tests and benchmarks use them alike, and
// call t.Helper() so failures report the caller's line. Require* helpers
// halt the failing test; Assert* helpers record and continue, which
// suits table-driven tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// AssertErrorCode records a failure unless err is a classified
// *iderr.Error carrying the given code. The failure output includes the
// code and message actually observed.
func AssertErrorCode(t testing.TB, err error, code iderr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	idErr, ok := iderr.AsError(err)
	if !assert.True(t, ok, "expected a classified *iderr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, idErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		idErr.Code, code, idErr.Message)
}

// RequireErrorCode is [AssertErrorCode] with halt-on-failure semantics,
// for paths where later assertions depend on the classification.
//
//	_, err := store.FindByExternalUID(ctx, "never-seen")
//	testutil.RequireErrorCode(t, err, iderr.CodeNotFoundPrincipal)
func RequireErrorCode(t testing.TB, err error, code iderr.Code, msgAndArgs ...any) {
	t.Helper()
	if !AssertErrorCode(t, err, code, msgAndArgs...) {
		t.FailNow()
	}
}

// AssertNoPlatformError records a failure if err is non-nil. When the
// error is classified, the failure output carries its code and message
// rather than the flattened string.
func AssertNoPlatformError(t testing.TB, err error) bool {
	t.Helper()
	if err == nil {
		return true
	}
	if idErr, ok := iderr.AsError(err); ok {
		return assert.Fail(t, "unexpected platform error",
			"code=%s message=%s", idErr.Code, idErr.Message)
	}
	return assert.NoError(t, err)
}

// TempFile writes content to a file with the given name under a fresh
// t.TempDir() and returns its path. Directory and file are removed when
// the test finishes.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600),
		"writing fixture file %s", path)
	return path
}

// TempConfigFile is [TempFile] for loader fixtures, naming the file
// "config" plus the given extension (".yaml", ".json", ...).
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	return TempFile(t, "config"+ext, content)
}

// asJSON marshals v for the JSON content assertions.
func asJSON(t testing.TB, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal(%T)", v)
	return string(data)
}

// AssertJSONContains asserts that v's JSON form contains the expected
// substring.
func AssertJSONContains(t testing.TB, v any, expected string) {
	t.Helper()
	got := asJSON(t, v)
	assert.Contains(t, got, expected,
		"expected JSON to contain %q, got: %s", expected, got)
}

// AssertJSONNotContains asserts that v's JSON form does not contain the
// given substring. Tests use it to prove NULL-backed fields are omitted
// and secrets stay redacted.
func AssertJSONNotContains(t testing.TB, v any, unexpected string) {
	t.Helper()
	got := asJSON(t, v)
	assert.NotContains(t, got, unexpected,
		"expected JSON to NOT contain %q, got: %s", unexpected, got)
}
