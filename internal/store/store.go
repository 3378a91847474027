package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roach88/potluck/internal/querysql"
)

// sqliteParams are appended to every SQLite DSN so each pooled connection
// gets the same pragmas:
//   - foreign key enforcement (off by default in SQLite)
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode, which is safe under WAL
//   - 5-second busy timeout for lock contention
const sqliteParams = "_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// Config describes the backing database.
type Config struct {
	Dialect         querysql.Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store owns the process connection pool.
//
// The embedded Queries runs data-access functions directly on the pool.
type Store struct {
	*Queries

	cfg     Config
	builder *querysql.Builder
	logger  *zap.Logger

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	logger *zap.Logger
	clock  func() time.Time
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *storeOptions) {
		o.logger = l
	}
}

// WithClock sets the clock used for shape.Now timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		o.clock = now
	}
}

// Open prepares a Store for the given dialect and DSN.
//
// No connection is made here. The pool is opened lazily by the first query,
// Migrate, or an explicit Connect, so a Store can be built before the
// database is reachable. Open only fails on an empty DSN.
//
// Open is cheap and has no side effects; callers own the returned Store and
// must call Shutdown.
func Open(cfg Config, opts ...Option) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("open store: empty DSN")
	}

	o := storeOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	var bopts []querysql.Option
	if o.clock != nil {
		bopts = append(bopts, querysql.WithClock(o.clock))
	}

	s := &Store{
		cfg:     cfg,
		builder: querysql.NewBuilder(cfg.Dialect, bopts...),
		logger:  o.logger.With(zap.String("component", "store"), zap.Stringer("dialect", cfg.Dialect)),
	}
	s.Queries = &Queries{s: s}
	return s, nil
}

// Connect opens the pool now and verifies it is reachable.
func (s *Store) Connect(ctx context.Context) error {
	_, err := s.pool(ctx)
	return err
}

// Builder returns the statement builder bound to the store's dialect.
func (s *Store) Builder() *querysql.Builder {
	return s.builder
}

// Dialect returns the configured dialect.
func (s *Store) Dialect() querysql.Dialect {
	return s.cfg.Dialect
}

// Shutdown closes the pool. Every later call fails with KindClosed; the pool
// is never reopened.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil
	s.logger.Info("store shut down")
	if err != nil {
		return classify("shutdown", err)
	}
	return nil
}

// InTx runs fn inside one transaction.
//
// The transaction commits only if fn returns nil. Any error, including a
// panic unwinding through fn, rolls it back, so fn never has to clean up
// partial writes itself. The error fn returns is passed through unchanged;
// begin and commit failures are classified like any other store error.
//
// On SQLite the pool holds a single connection, so fn must not call back
// into the Store's pooled methods: use q for every statement or the call
// will wait on itself.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	db, err := s.pool(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(&Queries{s: s, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// pool returns the open pool, creating it on first use.
//
// Opening is guarded by s.mu so concurrent first callers share one pool.
// A failed ping leaves s.db nil and the next call tries again. Once
// Shutdown has run, every call returns a KindClosed error.
func (s *Store) pool(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &Error{Kind: KindClosed, Op: "connect", Err: ErrClosed}
	}
	if s.db != nil {
		return s.db, nil
	}

	dsn := s.cfg.DSN
	if s.cfg.Dialect == querysql.SQLite {
		dsn = withSQLiteParams(dsn)
	}

	db, err := sql.Open(s.cfg.Dialect.DriverName(), dsn)
	if err != nil {
		return nil, classify("connect", err)
	}
	s.configurePool(db)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("connect", err)
	}

	s.db = db
	s.logger.Info("store connected")
	return db, nil
}

// configurePool sizes the pool. Postgres takes the configured limits;
// zero keeps database/sql defaults.
func (s *Store) configurePool(db *sql.DB) {
	if s.cfg.Dialect == querysql.SQLite {
		// SQLite only supports one writer at a time, so limit connections
		// to avoid SQLITE_BUSY. One idle connection keeps it ready.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return
	}
	if s.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	if s.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	}
	if s.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}
}

func withSQLiteParams(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqliteParams
	}
	return dsn + "?" + sqliteParams
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(ctx context.Context, name, expected string) error {
	db, err := s.pool(ctx)
	if err != nil {
		return err
	}
	var value string
	if err := db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if !strings.EqualFold(value, expected) {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// errNoID is wrapped when an insert returns no row.
var errNoID = errors.New("insert returned no id")
