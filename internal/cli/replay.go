package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/potluck/internal/harness"
	"github.com/roach88/potluck/internal/logging"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	GoldenDir string // compare each trace with <dir>/<name>.golden
}

// ScenarioResult holds the result of a single scenario.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
	Trace  string   `json:"trace"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>...",
		Short: "Replay scripted client sessions",
		Long: `Replay scenario files against a throwaway SQLite store.

Each scenario seeds identities and relations, feeds frames through the
dispatcher on named connections, and checks replies and final state.
The frame trace is printed, or compared with a golden file when
--golden is set.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (unreadable or invalid scenario)

Examples:
  potluck replay scenarios/request_then_accept.yaml
  potluck replay scenarios/*.yaml --golden scenarios/golden
  potluck replay scenarios/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "directory of golden traces to compare against")

	return cmd
}

func runReplay(opts *ReplayOptions, paths []string, cmd *cobra.Command) error {
	logger := zap.NewNop()
	if opts.Verbose {
		var err error
		if logger, err = logging.New("debug", "console", cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	result := ReplayResult{
		Scenarios: make([]ScenarioResult, 0, len(paths)),
		Total:     len(paths),
	}
	for _, path := range paths {
		sr, err := replayOne(opts, path, logger)
		if err != nil {
			return err
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		writeReplayText(cmd, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

func replayOne(opts *ReplayOptions, path string, logger *zap.Logger) (ScenarioResult, error) {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return ScenarioResult{}, WrapExitError(ExitCommandError, "load scenario", err)
	}

	run, err := harness.Run(scenario, harness.WithLogger(logger))
	if err != nil {
		return ScenarioResult{}, WrapExitError(ExitCommandError, fmt.Sprintf("run %s", scenario.Name), err)
	}

	sr := ScenarioResult{
		Name:   scenario.Name,
		File:   path,
		Pass:   run.Pass,
		Errors: run.Errors,
		Trace:  run.Render(scenario.Name),
	}

	if opts.GoldenDir != "" {
		golden := filepath.Join(opts.GoldenDir, scenario.Name+".golden")
		want, err := os.ReadFile(golden)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("golden file %s not found", golden))
		case err != nil:
			return ScenarioResult{}, WrapExitError(ExitCommandError, "read golden", err)
		case string(want) != sr.Trace:
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("trace differs from %s", golden))
		}
	}
	return sr, nil
}

func writeReplayText(cmd *cobra.Command, result ReplayResult) {
	w := cmd.OutOrStdout()
	for _, sr := range result.Scenarios {
		status := "PASS"
		if !sr.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s %s (%s)\n", status, sr.Name, sr.File)
		fmt.Fprint(w, sr.Trace)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
