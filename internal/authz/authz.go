// Package authz holds the social-graph authorization predicates.
//
// Every predicate is fail-closed: a store failure makes the predicate false
// and is logged, never returned. Callers cannot tell "denied" from "store
// unavailable", and neither can a client.
package authz

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/potluck/internal/shape"
	"github.com/roach88/potluck/internal/store"
)

// Reader is the store surface the predicates need. *store.Store and
// *store.Queries (inside a transaction) both satisfy it.
type Reader interface {
	HasEdge(ctx context.Context, rel store.Relation, main, peer int64) (bool, error)
	ReadRecipe(ctx context.Context, r *shape.Read, id int64) (store.Row, error)
}

// Engine evaluates authorization predicates against a Reader.
type Engine struct {
	db     Reader
	logger *zap.Logger
	denied func(predicate string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used to report store failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithFailureHook registers fn to be called with the predicate name each time
// a store failure forces a predicate closed.
func WithFailureHook(fn func(predicate string)) Option {
	return func(e *Engine) {
		e.denied = fn
	}
}

// New creates an Engine.
func New(db Reader, opts ...Option) *Engine {
	e := &Engine{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "authz"))
	return e
}

// With returns a copy of e that reads through db, typically the Queries of
// an open transaction.
func (e *Engine) With(db Reader) *Engine {
	cp := *e
	cp.db = db
	return &cp
}

// IsOwner reports whether candidate owns recipe.
func (e *Engine) IsOwner(ctx context.Context, candidate, recipe int64) bool {
	row, err := e.db.ReadRecipe(ctx, shape.NewRead(shape.Recipes).Fields(shape.ColMainUserID), recipe)
	if err != nil {
		e.fail("is_owner", err, candidate, recipe)
		return false
	}
	if row == nil {
		return false
	}
	return row.Int(shape.ColMainUserID) == candidate
}

// IsFriends reports whether a friend edge a→b exists.
func (e *Engine) IsFriends(ctx context.Context, a, b int64) bool {
	return e.edge(ctx, "is_friends", store.Friend, a, b)
}

// IsBlockedBy reports whether a block edge a→b exists, that is, a is
// blocking b.
func (e *Engine) IsBlockedBy(ctx context.Context, a, b int64) bool {
	return e.edge(ctx, "is_blocked_by", store.Block, a, b)
}

// HasPendingRequest reports whether a request edge from→to exists.
func (e *Engine) HasPendingRequest(ctx context.Context, from, to int64) bool {
	return e.edge(ctx, "has_pending_request", store.Request, from, to)
}

// NotFriends reports whether a→b is provably not a friend edge. Like every
// predicate it is false when the store cannot answer.
func (e *Engine) NotFriends(ctx context.Context, a, b int64) bool {
	return e.absent(ctx, "not_friends", store.Friend, a, b)
}

// NotBlockedBy reports whether a→b is provably not a block edge.
func (e *Engine) NotBlockedBy(ctx context.Context, a, b int64) bool {
	return e.absent(ctx, "not_blocked_by", store.Block, a, b)
}

// IsAuthorized reports whether a may address b. An identity is always
// authorized for itself; a block in either direction denies; otherwise a
// must be friends with b.
func (e *Engine) IsAuthorized(ctx context.Context, a, b int64) bool {
	if a == b {
		return true
	}
	if !e.NotBlockedBy(ctx, a, b) || !e.NotBlockedBy(ctx, b, a) {
		return false
	}
	return e.IsFriends(ctx, a, b)
}

func (e *Engine) edge(ctx context.Context, name string, rel store.Relation, main, peer int64) bool {
	ok, err := e.db.HasEdge(ctx, rel, main, peer)
	if err != nil {
		e.fail(name, err, main, peer)
		return false
	}
	return ok
}

func (e *Engine) absent(ctx context.Context, name string, rel store.Relation, main, peer int64) bool {
	ok, err := e.db.HasEdge(ctx, rel, main, peer)
	if err != nil {
		e.fail(name, err, main, peer)
		return false
	}
	return !ok
}

func (e *Engine) fail(name string, err error, a, b int64) {
	e.logger.Warn("predicate failed closed",
		zap.String("predicate", name),
		zap.Int64("a", a),
		zap.Int64("b", b),
		zap.Error(err))
	if e.denied != nil {
		e.denied(name)
	}
}
