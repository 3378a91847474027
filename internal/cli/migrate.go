package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MigrateResult is the migrate command's output.
type MigrateResult struct {
	Dialect string `json:"dialect"`
	DSN     string `json:"dsn"`
}

func (r MigrateResult) String() string {
	return fmt.Sprintf("Schema applied (%s)", r.Dialect)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Long: `Create any missing tables and indexes. Running it again is a no-op.

Exit codes:
  0 - Schema applied
  2 - Command error (bad config, unreachable database)

Examples:
  potluck migrate
  potluck migrate --dsn ./potluck.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if dsn != "" {
				cfg.Store.DSN = dsn
			}

			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := openStore(cfg.Store, logger)
			if err != nil {
				return err
			}
			defer st.Shutdown()

			out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			out.VerboseLog("migrating %s store", cfg.Store.Dialect)
			if err := st.Migrate(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "migrate", err)
			}
			return out.Success(MigrateResult{Dialect: cfg.Store.Dialect, DSN: cfg.Store.DSN})
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "database DSN (overrides config)")

	return cmd
}
