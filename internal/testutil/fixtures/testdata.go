// Package fixtures provides shared test data constants for the identity
// core test suite.
//
// Using common constants for test identities prevents magic strings in
// tests and keeps the token, claim, and principal values consistent
// across packages.
package fixtures

// Standard claim values used in verification and boundary tests. They
// describe one canonical test user: a Google login whose token was minted
// by the test project's auth endpoint.
const (
	// TestSubject is the default subject claim, and therefore the
	// external uid, for test identities.
	TestSubject = "user-42"

	// TestEmail is the default email claim for test identities.
	TestEmail = "test@example.com"

	// TestProvider is the default provider attribution carried in
	// app_metadata for test identities.
	TestProvider = "google"

	// TestIssuer is the issuer minted into test tokens, matching the
	// /auth/v1 endpoint of the test project URL.
	TestIssuer = "https://identity.test.example.com/auth/v1"

	// TestAudience is the audience minted into test end-user tokens.
	TestAudience = "authenticated"
)
