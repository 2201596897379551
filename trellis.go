// Package trellis materializes a declarative model of entities, attributes
// and relations into PostgreSQL and provides safe concurrent query and
// mutation on top of it.
//
// # Model
//
// An Application (see pkg/model) declares entities with typed attributes and
// relations between them. It is loaded once, typically from YAML, and shared
// read-only by all callers:
//
//	app, _ := model.LoadApplicationFile("app.yaml")
//	engine := trellis.New(db, app)
//
// # Queries
//
// Listing applies declared search filters compiled from flat query-parameter
// maps (pkg/filter), AND-combined with a caller-supplied authorization
// predicate in the same expression algebra (pkg/xpr), and lowered to
// correlated EXISTS subqueries (pkg/sqlgen):
//
//	records, err := engine.FindAll(ctx, "invoice",
//	    map[string][]string{"customerName": {"ACME"}},
//	    authzPredicate, trellis.ListOptions{Limit: 50})
//
// The engine never interprets the authorization predicate's meaning; it only
// guarantees that both predicates are evaluated together by storage.
//
// # Mutations
//
// Every mutating call is atomic: validation failures raise typed errors
// before a transaction is opened, and any error during the transactional
// write phase rolls back completely. Relation mutations enforce the
// blind-overwrite protocol: a link that is only visible from the other
// entity's side is never silently replaced (BlindOverwriteError).
//
// # Versioning
//
// Content attributes carry a derived Version (a hash over content id and
// mimetype). Content mutations are gated by a VersionConstraint with HTTP
// conditional-request semantics.
package trellis

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trellisdb/trellis/pkg/model"
)

// Querier executes queries against PostgreSQL.
// Implemented by *sql.DB, *sql.Tx, and *sql.Conn.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer extends Querier with ExecContext for writes.
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Defaults for the bounded count strategy.
const (
	DefaultCountTimeout = 2 * time.Second
	DefaultCountCap     = 10000
)

// Engine is the query-engine facade: transactional CRUD, relation mutations
// with blind-overwrite protection, filterable listing and content
// versioning, all validated against the immutable application model.
//
// An Engine is safe for concurrent use. Each mutating call owns one
// transaction for its whole duration; no state is shared across calls
// beyond the read-only model.
type Engine struct {
	db  *sql.DB
	app *model.Application
	log *zap.Logger

	countTimeout time.Duration
	countCap     int64

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithCountTimeout bounds how long a Count may run before falling back to a
// capped approximate count.
func WithCountTimeout(d time.Duration) Option {
	return func(e *Engine) { e.countTimeout = d }
}

// WithCountCap sets the cap used for the approximate fallback count.
func WithCountCap(n int64) Option {
	return func(e *Engine) { e.countCap = n }
}

// New creates an Engine over the given database handle and application
// model. The model must already be validated (LoadApplication does this).
func New(db *sql.DB, app *model.Application, opts ...Option) *Engine {
	e := &Engine{
		db:           db,
		app:          app,
		log:          zap.NewNop(),
		countTimeout: DefaultCountTimeout,
		countCap:     DefaultCountCap,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Actor identifies who performs a mutation. Audit attributes (creator,
// modifier) are populated from the actor attached to the context.
type Actor struct {
	ID        string
	Namespace string
	Name      string
}

type actorKey struct{}

// WithActor attaches the acting user to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom extracts the acting user from the context.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// withTx runs fn inside a transaction. Commit only happens when fn returns
// nil; every other path rolls back, so a failed mutating call leaves
// previously committed state completely unchanged.
func (e *Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// sqlState extracts the PostgreSQL SQLSTATE from a driver error, if any.
// Works for pgx/pgconn and lib/pq without importing either driver here.
func sqlState(err error) string {
	type sqlStateErr interface{ SQLState() string }
	if e, ok := err.(sqlStateErr); ok {
		return e.SQLState()
	}
	type codeErr interface{ Code() string }
	if e, ok := err.(codeErr); ok {
		return e.Code()
	}
	if s := err.Error(); strings.Contains(s, "SQLSTATE") {
		if i := strings.Index(s, "SQLSTATE "); i >= 0 && len(s) >= i+14 {
			return s[i+9 : i+14]
		}
	}
	return ""
}

// PostgreSQL error codes used for classifying storage errors.
const (
	pgUniqueViolation = "23505" // unique_violation
)
