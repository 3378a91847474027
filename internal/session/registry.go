// Package session maps identity tokens to live connections.
//
// A Registry is created once at startup and injected wherever presence or
// push delivery is needed. Absence of a token means the identity is offline;
// it is never an error.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Conn is a live connection that frames can be pushed to.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close() error
}

// Policy decides what Bind does when the token is already bound to another
// connection.
type Policy int

const (
	// PolicyReplace binds the new connection and closes the old one.
	PolicyReplace Policy = iota
	// PolicyKeepFirst keeps the existing connection and rejects the new one.
	PolicyKeepFirst
)

func (p Policy) String() string {
	switch p {
	case PolicyReplace:
		return "replace"
	case PolicyKeepFirst:
		return "keep_first"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "replace":
		return PolicyReplace, nil
	case "keep_first":
		return PolicyKeepFirst, nil
	default:
		return 0, fmt.Errorf("unknown session policy %q", s)
	}
}

// ErrTokenInUse is returned by Bind under PolicyKeepFirst.
var ErrTokenInUse = errors.New("token already bound to another connection")

// ErrReplaced is returned when a connection tries to rebind a token that
// PolicyReplace moved to another connection. Frames already read from the
// losing connection must not take the session back.
var ErrReplaced = errors.New("session moved to another connection")

// Registry is a mutex-protected token→connection map. One connection may
// carry sessions for several tokens; each token has at most one connection.
type Registry struct {
	policy Policy
	logger *zap.Logger

	mu      sync.Mutex
	byToken map[string]Conn
	byConn  map[string]map[string]struct{} // tokens held, by conn id
	lost    map[string]map[string]struct{} // tokens replaced away, by conn id

	onChange func(live int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicy sets the collision policy. The default is PolicyReplace.
func WithPolicy(p Policy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithGauge registers fn to receive the live session count after every change.
func WithGauge(fn func(live int)) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		policy:  PolicyReplace,
		logger:  zap.NewNop(),
		byToken: make(map[string]Conn),
		byConn:  make(map[string]map[string]struct{}),
		lost:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "session"))
	return r
}

// Policy returns the collision policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// Bind associates token with conn.
//
// Binding the same pair again is a no-op, and a connection may hold several
// tokens. When token is held by another connection the policy decides: under
// PolicyKeepFirst Bind fails with ErrTokenInUse; under PolicyReplace the
// token moves to conn, and the old connection is closed once it holds no
// other token. The old connection can never bind that token again
// (ErrReplaced) until it is released.
func (r *Registry) Bind(token string, conn Conn) error {
	r.mu.Lock()

	if _, ok := r.lost[conn.ID()][token]; ok {
		r.mu.Unlock()
		return fmt.Errorf("bind %s: %w", token, ErrReplaced)
	}

	var evicted Conn
	closeEvicted := false
	if old, ok := r.byToken[token]; ok {
		if old.ID() == conn.ID() {
			r.mu.Unlock()
			return nil
		}
		if r.policy == PolicyKeepFirst {
			r.mu.Unlock()
			return fmt.Errorf("bind %s: %w", token, ErrTokenInUse)
		}
		r.drop(token, old.ID())
		addToken(r.lost, old.ID(), token)
		evicted = old
		closeEvicted = len(r.byConn[old.ID()]) == 0
	}

	r.byToken[token] = conn
	addToken(r.byConn, conn.ID(), token)
	live := len(r.byToken)
	r.mu.Unlock()

	r.changed(live)
	if evicted == nil {
		r.logger.Debug("session bound", zap.String("token", token), zap.String("conn", conn.ID()))
		return nil
	}
	r.logger.Info("session replaced",
		zap.String("token", token),
		zap.String("old_conn", evicted.ID()),
		zap.String("new_conn", conn.ID()),
		zap.Bool("old_closed", closeEvicted))
	if closeEvicted {
		evicted.Close()
	}
	return nil
}

// Unbind removes token only if it is still bound to conn. It reports whether
// an entry was removed.
func (r *Registry) Unbind(token string, conn Conn) bool {
	r.mu.Lock()
	cur, ok := r.byToken[token]
	if !ok || cur.ID() != conn.ID() {
		r.mu.Unlock()
		return false
	}
	r.drop(token, conn.ID())
	live := len(r.byToken)
	r.mu.Unlock()

	r.changed(live)
	r.logger.Debug("session unbound", zap.String("token", token), zap.String("conn", conn.ID()))
	return true
}

// Release unbinds every token conn holds and forgets its history. It is
// called once the connection's frames have all finished.
func (r *Registry) Release(conn Conn) {
	r.mu.Lock()
	held := r.byConn[conn.ID()]
	for token := range held {
		r.drop(token, conn.ID())
	}
	delete(r.lost, conn.ID())
	live := len(r.byToken)
	r.mu.Unlock()

	if len(held) > 0 {
		r.changed(live)
		r.logger.Debug("connection released", zap.String("conn", conn.ID()), zap.Int("tokens", len(held)))
	}
}

// drop removes the token→conn entry. r.mu must be held.
func (r *Registry) drop(token, connID string) {
	delete(r.byToken, token)
	if held := r.byConn[connID]; held != nil {
		delete(held, token)
		if len(held) == 0 {
			delete(r.byConn, connID)
		}
	}
}

func addToken(m map[string]map[string]struct{}, connID, token string) {
	set := m[connID]
	if set == nil {
		set = make(map[string]struct{})
		m[connID] = set
	}
	set[token] = struct{}{}
}

// Lookup returns the live connection for token.
func (r *Registry) Lookup(token string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byToken[token]
	return c, ok
}

// Tokens returns the tokens conn holds, sorted.
func (r *Registry) Tokens(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokens := make([]string, 0, len(r.byConn[conn.ID()]))
	for t := range r.byConn[conn.ID()] {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

// CloseAll closes and forgets every live connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.byToken))
	for _, c := range r.byToken {
		conns = append(conns, c)
	}
	r.byToken = make(map[string]Conn)
	r.byConn = make(map[string]map[string]struct{})
	r.lost = make(map[string]map[string]struct{})
	r.mu.Unlock()

	r.changed(0)
	for _, c := range conns {
		c.Close()
	}
}

func (r *Registry) changed(live int) {
	if r.onChange != nil {
		r.onChange(live)
	}
}
