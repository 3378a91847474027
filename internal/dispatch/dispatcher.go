// Package dispatch turns inbound real-time frames into store mutations,
// authorization checks, and push notifications.
//
// Each frame moves through Received → Authorizing → Executing → Responding.
// A literal ping skips straight to a literal pong. Every other frame gets
// exactly one response: the command's result or one opaque error string.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/potluck/internal/authz"
	"github.com/roach88/potluck/internal/metrics"
	"github.com/roach88/potluck/internal/session"
	"github.com/roach88/potluck/internal/store"
)

// State is a step of frame processing.
type State int

const (
	Received State = iota
	Authorizing
	Executing
	Responding
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Authorizing:
		return "authorizing"
	case Executing:
		return "executing"
	case Responding:
		return "responding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store is the store surface the dispatcher needs. *store.Store satisfies it.
type Store interface {
	authz.Reader
	CreateEdge(ctx context.Context, rel store.Relation, main, peer int64) (int64, error)
	ReadEdgesByMain(ctx context.Context, rel store.Relation, main int64) ([]store.Row, error)
	DeleteEdgeByPair(ctx context.Context, rel store.Relation, main, peer int64) (int64, error)
	CreateMessage(ctx context.Context, sender, recipient int64, text string) (int64, error)
	InTx(ctx context.Context, fn func(q *store.Queries) error) error
}

var (
	// errDenied marks a failed precondition. It is logged at debug level;
	// every other failure is a store problem and logged as a warning.
	errDenied  = errors.New("precondition failed")
	errBadPeer = errors.New("missing or invalid peer_user_id")
)

// Dispatcher routes frames to command handlers.
type Dispatcher struct {
	db       Store
	authz    *authz.Engine
	sessions *session.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	observe  func(command string, s State)
	commands map[string]command
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMetrics sets the metrics sink. A nil *metrics.Metrics records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithStateHook registers fn to observe every state a tagged frame enters.
func WithStateHook(fn func(command string, s State)) Option {
	return func(d *Dispatcher) {
		d.observe = fn
	}
}

// New creates a Dispatcher.
func New(db Store, engine *authz.Engine, sessions *session.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		db:       db,
		authz:    engine,
		sessions: sessions,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "dispatch"))
	d.commands = d.table()
	return d
}

// Commands returns the names of every supported command.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.commands))
	for _, name := range commandOrder {
		if _, ok := d.commands[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Attach binds conn to token before any frame arrives, as when the token is
// given at upgrade time. It returns the protocol error string on failure.
func (d *Dispatcher) Attach(conn session.Conn, token Token) (string, error) {
	canon, _, err := token.Canonical()
	if err != nil {
		return ErrInvalidToken, err
	}
	return d.bind(conn, canon)
}

// Disconnect releases every token conn holds.
func (d *Dispatcher) Disconnect(conn session.Conn) {
	d.sessions.Release(conn)
}

// Handle processes one inbound frame from conn and sends the reply on conn.
// The returned error is the send error, if any.
func (d *Dispatcher) Handle(ctx context.Context, conn session.Conn, raw []byte) error {
	if string(bytes.TrimSpace(raw)) == Ping {
		d.metrics.Frame(metrics.FramePing)
		return conn.Send([]byte(Pong))
	}

	f, err := decodeFrame(raw)
	if err != nil {
		d.metrics.Frame(metrics.FrameInvalid)
		d.logger.Debug("invalid frame", zap.String("conn", conn.ID()), zap.Error(err))
		return conn.Send(encode(Response{Error: ErrInvalidFrame}))
	}
	d.metrics.Frame(metrics.FrameTagged)
	d.enter(f.Command, Received)

	token, self, err := f.Token.Canonical()
	if err != nil {
		d.logger.Debug("invalid token", zap.String("conn", conn.ID()), zap.String("token", string(f.Token)))
		return conn.Send(encode(Response{Error: ErrInvalidToken}))
	}
	if code, err := d.bind(conn, token); err != nil {
		return conn.Send(encode(Response{Error: code}))
	}

	cmd, ok := d.commands[f.Command]
	if !ok {
		d.logger.Debug("unknown command", zap.String("command", f.Command), zap.Int64("self", self))
		return conn.Send(encode(Response{Error: ErrUnknownCommand}))
	}

	c := &call{
		self:    self,
		token:   token,
		payload: f.Payload,
		conn:    conn,
		command: f.Command,
	}

	start := time.Now()
	payload, err := cmd.run(ctx, d, c)
	d.enter(f.Command, Responding)

	if err != nil {
		d.metrics.Command(f.Command, metrics.OutcomeError, time.Since(start))
		d.reportFailure(c, err)
		return conn.Send(encode(Response{Error: cmd.failure}))
	}
	d.metrics.Command(f.Command, metrics.OutcomeOK, time.Since(start))
	d.logger.Debug("command ok", zap.String("command", f.Command), zap.Int64("self", self))

	sendErr := conn.Send(encode(Response{Command: f.Command, Payload: payload}))
	if c.after != nil {
		c.after()
	}
	return sendErr
}

// bind attaches conn to a canonical token in the registry.
func (d *Dispatcher) bind(conn session.Conn, token Token) (string, error) {
	err := d.sessions.Bind(string(token), conn)
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, session.ErrTokenInUse):
		d.logger.Info("token already live", zap.String("token", string(token)), zap.String("conn", conn.ID()))
		return ErrTokenInUse, err
	case errors.Is(err, session.ErrReplaced):
		d.logger.Debug("frame from replaced session", zap.String("token", string(token)), zap.String("conn", conn.ID()))
		return ErrReplaced, err
	default:
		return ErrInvalidToken, err
	}
}

// push sends a notification to peer if it has a live session. It reports
// whether the frame was handed to the connection.
func (d *Dispatcher) push(command string, peer int64, payload any) bool {
	conn, ok := d.sessions.Lookup(string(TokenFor(peer)))
	if !ok {
		return false
	}
	if err := conn.Send(encode(Response{Command: command, Payload: payload})); err != nil {
		d.logger.Debug("push failed",
			zap.String("command", command),
			zap.Int64("peer", peer),
			zap.String("conn", conn.ID()),
			zap.Error(err))
		d.metrics.Push(command, false)
		return false
	}
	d.metrics.Push(command, true)
	return true
}

func (d *Dispatcher) enter(command string, s State) {
	if d.observe != nil {
		d.observe(command, s)
	}
}

func (d *Dispatcher) reportFailure(c *call, err error) {
	fields := []zap.Field{
		zap.String("command", c.command),
		zap.Int64("self", c.self),
		zap.Error(err),
	}
	if c.payload.PeerUserID != nil {
		fields = append(fields, zap.Int64("peer", *c.payload.PeerUserID))
	}
	if errors.Is(err, errDenied) || errors.Is(err, errBadPeer) {
		d.logger.Debug("command denied", fields...)
		return
	}
	fields = append(fields, zap.String("kind", store.KindOf(err).String()))
	d.logger.Warn("command failed", fields...)
}
