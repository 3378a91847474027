package cli

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/roach88/potluck/internal/authz"
	"github.com/roach88/potluck/internal/config"
	"github.com/roach88/potluck/internal/dispatch"
	"github.com/roach88/potluck/internal/logging"
	"github.com/roach88/potluck/internal/metrics"
	"github.com/roach88/potluck/internal/querysql"
	"github.com/roach88/potluck/internal/session"
	"github.com/roach88/potluck/internal/store"
	"github.com/roach88/potluck/internal/wsserver"
)

// app is a fully wired server process.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *store.Store
	sessions *session.Registry
	server   *wsserver.Server
}

// loadConfig reads --config and the environment. --verbose raises the log
// level to debug whatever the config says.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config, nil)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, w)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "build logger", err)
	}
	return logger, nil
}

func openStore(cfg config.Store, logger *zap.Logger) (*store.Store, error) {
	dialect, err := querysql.ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "store dialect", err)
	}
	st, err := store.Open(store.Config{
		Dialect:         dialect,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return st, nil
}

// buildApp connects the store, applies the schema when configured to, and
// wires the server. The caller owns a.store and must shut it down.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Connect(ctx); err != nil {
		st.Shutdown()
		return nil, WrapExitError(ExitCommandError, "connect store", err)
	}
	if cfg.Store.Migrate {
		if err := st.Migrate(ctx); err != nil {
			st.Shutdown()
			return nil, WrapExitError(ExitCommandError, "migrate store", err)
		}
	}

	var (
		reg      *prometheus.Registry
		serverOp []wsserver.Option
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		serverOp = append(serverOp, wsserver.WithGatherer(reg))
	}
	// A nil registry yields nil metrics, which record nothing.
	var m *metrics.Metrics
	if reg != nil {
		if m, err = metrics.New(reg); err != nil {
			st.Shutdown()
			return nil, WrapExitError(ExitCommandError, "register metrics", err)
		}
	}

	policy, err := session.ParsePolicy(cfg.Session.Policy)
	if err != nil {
		st.Shutdown()
		return nil, WrapExitError(ExitCommandError, "session policy", err)
	}
	sessions := session.NewRegistry(
		session.WithPolicy(policy),
		session.WithLogger(logger),
		session.WithGauge(m.Sessions),
	)

	engine := authz.New(st, authz.WithLogger(logger), authz.WithFailureHook(m.AuthzFailure))
	d := dispatch.New(st, engine, sessions, dispatch.WithLogger(logger), dispatch.WithMetrics(m))

	serverOp = append(serverOp,
		wsserver.WithLogger(logger),
		wsserver.WithHealthCheck(st.Connect),
	)
	srv := wsserver.New(wsserver.Config{
		Addr:             cfg.Server.Addr,
		MaxMessageSize:   cfg.Server.MaxMessageSize,
		SendBuffer:       cfg.Server.SendBuffer,
		FrameConcurrency: cfg.Server.FrameConcurrency,
		WriteWait:        cfg.Server.WriteWait,
		PongWait:         cfg.Server.PongWait,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	}, d, sessions, serverOp...)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		sessions: sessions,
		server:   srv,
	}, nil
}
