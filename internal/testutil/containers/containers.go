//go:build integration

// Package containers starts throwaway Docker containers for integration
// tests. It is gated behind the integration build tag so Docker and the
// testcontainers dependency stay out of unit test builds; import it only
// from files carrying the same tag.
package containers

import (
	"context"
	"fmt"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// Container settings for the test database. The credentials are
// intentionally trivial; the container only ever listens on localhost
// and is discarded after the test run.
const (
	postgresImage    = "docker.io/postgres:16-alpine"
	postgresDatabase = "identity_test"
	postgresUser     = "identity_test"
	postgresPassword = "identity_test"
)

// Postgres is a running PostgreSQL test container. Callers own it and
// must call [Postgres.Terminate] when the test finishes.
type Postgres struct {
	// ConnString connects to the containerized database. It carries
	// sslmode=disable because the container has no TLS listener.
	ConnString string

	container *tcpostgres.PostgresContainer
}

// StartPostgres launches a PostgreSQL 16 container and blocks until it
// accepts connections:
//
//	pg, err := containers.StartPostgres(ctx)
//	if err != nil { ... }
//	defer pg.Terminate(ctx)
//
//	cfg := postgres.Config{URI: pg.ConnString, MaxConns: 5}
//
// On failure after the container came up, it is terminated before the
// error is returned.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	ctr, err := tcpostgres.Run(ctx,
		postgresImage,
		tcpostgres.WithDatabase(postgresDatabase),
		tcpostgres.WithUsername(postgresUser),
		tcpostgres.WithPassword(postgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: starting postgres: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("containers: resolving postgres connection string: %w", err)
	}

	return &Postgres{ConnString: connStr, container: ctr}, nil
}

// Terminate stops and removes the container.
func (p *Postgres) Terminate(ctx context.Context) error {
	return p.container.Terminate(ctx)
}
