package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr   string // overrides server.addr
	Policy string // overrides session.policy
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		Long: `Run the WebSocket server until interrupted.

Configuration is read from --config, then POTLUCK_* environment variables,
then the flags below. Clients connect to /ws; /healthz reports store
reachability and /metrics exposes Prometheus metrics when enabled.

Exit codes:
  0 - Server stopped cleanly
  2 - Command error (bad config, unreachable database, port in use)

Examples:
  potluck serve
  potluck serve --config potluck.yaml --addr :9000
  POTLUCK_STORE_DIALECT=postgres POTLUCK_STORE_DSN=postgres://... potluck serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Policy, "session-policy", "", "replace | keep_first (overrides config)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Policy != "" {
		cfg.Session.Policy = opts.Policy
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "flags", err)
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Shutdown(); err != nil {
			logger.Warn("store shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("dialect", cfg.Store.Dialect),
		zap.String("session_policy", cfg.Session.Policy),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	if err := a.server.ListenAndServe(ctx); err != nil {
		return WrapExitError(ExitCommandError, "serve", err)
	}
	logger.Info("stopped")
	return nil
}
