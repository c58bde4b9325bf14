package principal

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/identity-core/pkg/auth"
	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for
// provisioning spans.
const tracerName = "github.com/StricklySoft/identity-core/pkg/principal"

// Provisioner maps verified identities onto principal rows, creating a
// row the first time an external uid is seen. Safe for concurrent use;
// any number of simultaneous calls for one uid converge on the same
// internal id.
type Provisioner struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer
}

// NewProvisioner creates a provisioner on top of the given store. A nil
// logger falls back to [slog.Default].
func NewProvisioner(store Store, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

var _ auth.PrincipalProvisioner = (*Provisioner)(nil)

// GetOrCreate returns the principal for the identity, provisioning it if
// this is the first time the external uid has been seen. Lost races
// against concurrent provisioning are recovered internally by adopting
// the winner's row; the caller never observes them. Storage failures
// propagate with their classification intact.
func (p *Provisioner) GetOrCreate(ctx context.Context, identity auth.Identity) (*Principal, error) {
	ctx, span := p.tracer.Start(ctx, "principal.Provisioner.GetOrCreate",
		trace.WithAttributes(attribute.String("identity.provider", identity.Provider)))
	defer span.End()

	record, err := p.getOrCreate(ctx, identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("principal.internal_id", record.InternalID.String()))
	return record, nil
}

func (p *Provisioner) getOrCreate(ctx context.Context, identity auth.Identity) (*Principal, error) {
	existing, err := p.store.FindByExternalUID(ctx, identity.ExternalUID)
	if err == nil {
		return p.backfill(ctx, existing, identity)
	}
	if !iderr.HasCode(err, iderr.CodeNotFoundPrincipal) {
		return nil, err
	}

	provider := identity.Provider
	if provider == "" {
		provider = auth.DefaultProvider
	}
	created, err := NewPrincipal(identity.ExternalUID, provider, identity.Email)
	if err != nil {
		return nil, err
	}

	insertErr := p.store.Insert(ctx, created)
	if insertErr == nil {
		p.logger.InfoContext(ctx, "principal: provisioned new principal",
			slog.String("internal_id", created.InternalID.String()),
			slog.String("provider", provider),
		)
		return created, nil
	}
	if !iderr.HasCode(insertErr, iderr.CodeConflictDuplicate) {
		return nil, insertErr
	}

	// Lost the first-login race: the uniqueness constraint arbitrated
	// and some concurrent call inserted the row. Adopt the winner.
	winner, findErr := p.store.FindByExternalUID(ctx, identity.ExternalUID)
	if findErr != nil {
		if iderr.HasCode(findErr, iderr.CodeNotFoundPrincipal) {
			// The winner's row vanished between the conflict and the
			// re-read. Surface the conflict rather than inventing a
			// not-found for a uid that demonstrably has a row history.
			return nil, insertErr
		}
		return nil, findErr
	}

	p.logger.DebugContext(ctx, "principal: lost provisioning race, adopted winner",
		slog.String("internal_id", winner.InternalID.String()),
	)
	return winner, nil
}

// backfill fills email and external_provider on an existing row when a
// column is NULL and the identity now supplies a value. Populated
// columns are never overwritten; the SQL re-checks the NULL condition so
// concurrent backfills stay safe.
func (p *Provisioner) backfill(ctx context.Context, existing *Principal, identity auth.Identity) (*Principal, error) {
	var provider, email *string
	if existing.ExternalProvider == nil && identity.Provider != "" {
		provider = &identity.Provider
	}
	if existing.Email == nil && identity.Email != "" {
		email = &identity.Email
	}
	if provider == nil && email == nil {
		return existing, nil
	}

	if err := p.store.Backfill(ctx, existing.InternalID, provider, email); err != nil {
		return nil, err
	}
	if provider != nil {
		existing.ExternalProvider = provider
	}
	if email != nil {
		existing.Email = email
	}

	p.logger.DebugContext(ctx, "principal: backfilled principal attributes",
		slog.String("internal_id", existing.InternalID.String()),
		slog.Bool("provider_filled", provider != nil),
		slog.Bool("email_filled", email != nil),
	)
	return existing, nil
}

// AttachPrincipal implements [auth.PrincipalProvisioner]: it provisions
// the identity's principal and returns a context carrying it, readable
// through [FromContext]. On failure the input context is returned
// unchanged.
func (p *Provisioner) AttachPrincipal(ctx context.Context, identity auth.Identity) (context.Context, error) {
	record, err := p.GetOrCreate(ctx, identity)
	if err != nil {
		return ctx, err
	}
	return NewContext(ctx, record), nil
}
