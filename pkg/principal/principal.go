// Package principal provisions durable principal records for verified
// identities. The external identity provider owns authentication; this
// package owns the platform-internal representation of the user behind
// the token. Every internal table references a principal's generated
// UUID, never the provider's subject string, so provider migrations
// never ripple through the schema.
//
// Provisioning is idempotent under concurrency: any number of
// simultaneous first logins for one external uid converge on a single
// principal row, with the database uniqueness constraint on
// external_uid as the only arbiter.
package principal

import (
	"time"

	"github.com/google/uuid"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// Principal is one row of the principals table: the durable record for
// an externally authenticated user. Created on the first verified
// request of a never-seen external uid, mutated only to backfill
// columns that were NULL at creation, and never deleted by this
// package.
type Principal struct {
	// InternalID is the generated primary key. Immutable; internal
	// foreign keys point at it, never at the external uid.
	InternalID uuid.UUID `json:"internal_id" db:"internal_id"`

	// ExternalUID is the identity provider's stable subject for the
	// user. Unique across all principals.
	ExternalUID string `json:"external_uid" db:"external_uid"`

	// ExternalProvider names the login method that produced the user
	// ("google", "apple", "email", ...). NULL when the first token
	// carried no attribution.
	ExternalProvider *string `json:"external_provider,omitempty" db:"external_provider"`

	// Email is the user's address as reported by the provider. NULL
	// when the provider never supplied one.
	Email *string `json:"email,omitempty" db:"email"`

	// OnboardingPreferences holds the user's onboarding choices as
	// free-form JSON. The onboarding flows own its contents; this
	// package only carries them.
	OnboardingPreferences map[string]any `json:"onboarding_preferences" db:"onboarding_preferences"`

	// OnboardingCompletedAt is set by the onboarding flows when the
	// user finishes onboarding. NULL until then.
	OnboardingCompletedAt *time.Time `json:"onboarding_completed_at,omitempty" db:"onboarding_completed_at"`

	// CreatedAt is when the principal was provisioned.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is when the row was last written.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewPrincipal builds a principal ready for insertion, with a fresh
// internal id and both timestamps set to now. provider and email are
// optional; empty strings become NULL columns.
func NewPrincipal(externalUID, provider, email string) (*Principal, error) {
	if externalUID == "" {
		return nil, iderr.New(iderr.CodeValidationRequired, "principal: external uid is required")
	}

	now := time.Now().UTC()
	p := &Principal{
		InternalID:            uuid.New(),
		ExternalUID:           externalUID,
		OnboardingPreferences: map[string]any{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if provider != "" {
		p.ExternalProvider = &provider
	}
	if email != "" {
		p.Email = &email
	}
	return p, nil
}

// OnboardingComplete reports whether the user has finished onboarding.
func (p *Principal) OnboardingComplete() bool {
	return p.OnboardingCompletedAt != nil
}
