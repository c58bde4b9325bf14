// Package postgres is the pooled PostgreSQL client behind the principal
// store. It wraps pgxpool with the repo's error classification and
// OpenTelemetry spans so callers never see raw driver errors or write
// their own tracing.
//
// Connection retry is pgxpool's job: broken connections are replaced and
// the health check period keeps the pool fresh, so callers do not wrap
// operations in connection-level retries.
//
//	cfg := postgres.DefaultConfig()
//	cfg.Password = postgres.Secret(os.Getenv("POSTGRES_PASSWORD"))
//	client, err := postgres.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// In cluster deployments the database is a Kubernetes Service with
// credentials injected from the secret store; against managed databases
// (RDS, Cloud SQL, Azure) set [SSLMode] and [Config.SSLRootCert] and the
// client works unchanged.
package postgres

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	iderr "github.com/StricklySoft/identity-core/pkg/errors"
)

// OpenTelemetry instrumentation scope, named after the package path.
const tracerName = "github.com/StricklySoft/identity-core/pkg/clients/postgres"

// Pool is the slice of the pgxpool API the client needs. *pgxpool.Pool
// satisfies it as-is; pgxmock satisfies it for unit tests injected via
// [NewFromPool].
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow defers errors until the returned pgx.Row is scanned.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	Begin(ctx context.Context) (pgx.Tx, error)

	Ping(ctx context.Context) error

	// Close releases all pool resources; the pool is unusable afterwards.
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Client layers error classification and tracing over a [Pool]. It is
// safe for concurrent use; create one per database and share it.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient validates cfg, builds the connection pool (with custom TLS
// when a CA certificate is configured), and pings the database before
// handing the client back. Call [Client.Close] when done with it.
//
// Failures are classified: [iderr.CodeValidation] for bad configuration,
// [iderr.CodeInternalConfiguration] for TLS setup problems, and
// [iderr.CodeUnavailableDatabase] when the database cannot be reached.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, iderr.Wrap(err, iderr.CodeUnavailableDatabase,
			"postgres: failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, iderr.Wrap(err, iderr.CodeUnavailableDatabase,
			"postgres: failed to connect to database")
	}

	return &Client{
		pool:         pool,
		config:       &cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: databaseNameFrom(cfg),
	}, nil
}

// buildPoolConfig turns a validated Config into a pgxpool configuration
// with the pool limits and optional TLS applied.
func buildPoolConfig(cfg Config) (*pgxpool.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, iderr.Wrap(err, iderr.CodeValidation,
			"postgres: invalid configuration")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, iderr.Wrap(err, iderr.CodeValidation,
			"postgres: failed to parse connection string")
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, iderr.Wrap(err, iderr.CodeInternalConfiguration,
			"postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}
	return poolCfg, nil
}

// databaseNameFrom resolves the database name for span attributes,
// preferring the path of a URI-style configuration.
func databaseNameFrom(cfg Config) string {
	if cfg.URI != "" {
		if u, err := url.Parse(cfg.URI); err == nil {
			return strings.TrimPrefix(u.Path, "/")
		}
	}
	return cfg.Database
}

// NewFromPool wraps a pre-built [Pool], usually a pgxmock pool in unit
// tests. cfg is stored unvalidated; nil means a zero-value config.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		pool:         pool,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.Database,
	}
}

// Query runs a row-returning statement. The caller owns the returned
// [pgx.Rows] and must close them. Errors come back classified, with
// [iderr.CodeTimeoutDatabase] for deadline and cancellation failures and
// [iderr.CodeInternalDatabase] for the rest.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, finish := c.startSpan(ctx, "Query", sql)

	rows, err := c.pool.Query(ctx, sql, args...)
	finish(err)
	if err != nil {
		return nil, classify(err, "postgres: query failed")
	}
	// Row-level errors surface during iteration, past this span.
	return rows, nil
}

// QueryRow runs a statement expected to return at most one row. pgx
// defers errors to Scan, so the row comes back untranslated; callers
// check for pgx.ErrNoRows themselves:
//
//	err := client.QueryRow(ctx, findByUIDSQL, uid).Scan(&id)
//	if errors.Is(err, pgx.ErrNoRows) {
//	    // no principal provisioned for this subject yet
//	}
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, finish := c.startSpan(ctx, "QueryRow", sql)
	defer finish(nil)

	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a statement that returns no rows (INSERT, UPDATE, DELETE,
// DDL) and returns its command tag. Errors come back classified the same
// way as [Client.Query]; the driver error stays in the chain, so stores
// that need the SQLSTATE can still reach it with errors.As.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, finish := c.startSpan(ctx, "Exec", sql)

	tag, err := c.pool.Exec(ctx, sql, args...)
	finish(err)
	if err != nil {
		return tag, classify(err, "postgres: exec failed")
	}
	return tag, nil
}

// Begin opens a transaction. Pair it with a deferred Rollback; rolling
// back an already committed pgx transaction is a no-op.
func (c *Client) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, finish := c.startSpan(ctx, "Begin", "BEGIN")

	tx, err := c.pool.Begin(ctx)
	finish(err)
	if err != nil {
		return nil, classify(err, "postgres: begin transaction failed")
	}
	return tx, nil
}

// Health pings the database, applying [DefaultHealthTimeout] when the
// caller's context has no deadline of its own. A failed ping comes back
// as [iderr.CodeUnavailableDatabase], which readiness probes treat as
// not-ready.
func (c *Client) Health(ctx context.Context) error {
	ctx, finish := c.startSpan(ctx, "Health", "SELECT 1")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.pool.Ping(ctx)
	finish(err)
	if err != nil {
		return iderr.Wrap(err, iderr.CodeUnavailableDatabase,
			"postgres: health check failed")
	}
	return nil
}

// Close releases the pool. Safe to call more than once; in-flight
// queries should be done or canceled first, since the pool waits for
// acquired connections to come back.
func (c *Client) Close() {
	c.pool.Close()
}

// Pool exposes the underlying pool for operations the Client does not
// wrap (CopyFrom, SendBatch, raw connections). Close through
// [Client.Close], not on the returned value.
func (c *Client) Pool() Pool {
	return c.pool
}

// startSpan opens a client span with the standard database attributes
// and returns a finish func that records the outcome and ends it.
func (c *Client) startSpan(ctx context.Context, op, sql string) (context.Context, func(error)) {
	ctx, span := c.tracer.Start(ctx, "postgres."+op,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// classify wraps a driver error with the code callers branch on:
// deadline and cancellation failures become [iderr.CodeTimeoutDatabase]
// so [iderr.IsRetryable] holds, everything else is
// [iderr.CodeInternalDatabase].
func classify(err error, message string) *iderr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return iderr.Wrap(err, iderr.CodeTimeoutDatabase, message)
	}
	return iderr.Wrap(err, iderr.CodeInternalDatabase, message)
}
