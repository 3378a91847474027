package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/potluck/internal/config"
	"github.com/roach88/potluck/internal/store"
)

func TestMigrate(t *testing.T) {
	path := writeConfig(t, "")

	out, err := execute(t, context.Background(), "migrate", "--config", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   MigrateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sqlite", resp.Data.Dialect)

	cfg, err := config.Load(path, func(string) string { return "" })
	require.NoError(t, err)
	st, err := openStore(cfg.Store, zap.NewNop())
	require.NoError(t, err)
	defer st.Shutdown()

	rows, err := st.ReadMessagesByRecipient(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Idempotent.
	out, err = execute(t, context.Background(), "migrate", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "Schema applied (sqlite)\n", out)
}

func TestMigrate_DSNFlag(t *testing.T) {
	path := writeConfig(t, "")
	dsn := filepath.Join(t.TempDir(), "other.db")

	_, err := execute(t, context.Background(), "migrate", "--config", path, "--dsn", dsn)
	require.NoError(t, err)

	_, err = os.Stat(dsn)
	assert.NoError(t, err)
}

func TestMigrate_BadConfig(t *testing.T) {
	path := writeConfig(t, "session:\n  policy: random\n")

	_, err := execute(t, context.Background(), "migrate", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadConfig_VerboseMeansDebug(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := loadConfig(&RootOptions{Config: path})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)

	cfg, err = loadConfig(&RootOptions{Config: path, Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMigrate_VerboseLogsAtDebug(t *testing.T) {
	path := writeConfig(t, "")
	errOut := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"migrate", "--config", path, "--verbose"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, errOut.String(), "migrating sqlite store")
	assert.Contains(t, errOut.String(), `"level":"info"`, "store logs reach the debug-level logger")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "potluck.db")
	cfg.Log.Level = "error"
	return cfg
}

func TestBuildApp_ServesHealthAndMetrics(t *testing.T) {
	ctx := context.Background()
	a, err := buildApp(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.store.Shutdown()

	srv := httptest.NewServer(a.server.Handler(ctx))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestBuildApp_MigratesSchema(t *testing.T) {
	a, err := buildApp(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.store.Shutdown()

	_, err = a.store.ReadEdgesByMain(context.Background(), store.Friend, 1)
	assert.NoError(t, err)
}

func TestBuildApp_Policy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Policy = "keep_first"

	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.store.Shutdown()

	assert.Equal(t, "keep_first", a.sessions.Policy().String())
}

func TestBuildApp_UnreachableStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.DSN = filepath.Join(t.TempDir(), "missing", "dir", "potluck.db")

	_, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServe_StopsOnCancel(t *testing.T) {
	path := writeConfig(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := execute(t, ctx, "serve", "--config", path, "--addr", "127.0.0.1:0")
	assert.NoError(t, err)
}

func TestServe_InvalidPolicyFlag(t *testing.T) {
	path := writeConfig(t, "")

	_, err := execute(t, context.Background(), "serve", "--config", path, "--session-policy", "random")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

const scenarioDir = "../harness/testdata/scenarios"
const goldenDir = "../harness/testdata/golden"

func TestReplay_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	args := append([]string{"replay", "--golden", goldenDir}, paths...)
	out, err := execute(t, context.Background(), args...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "PASS request_then_accept")
	assert.Contains(t, out, "0 failed")
}

func TestReplay_JSON(t *testing.T) {
	path := filepath.Join(scenarioDir, "offline_mailbox.yaml")

	out, err := execute(t, context.Background(), "replay", "--format", "json", path)
	require.NoError(t, err)

	var result ReplayResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Passed)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "offline_mailbox", result.Scenarios[0].Name)
	assert.Contains(t, result.Scenarios[0].Trace, "scenario: offline_mailbox\n")
}

func TestReplay_FailingScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: bad
description: "expects the wrong reply"
steps:
  - conn: a
    raw: ping
    expect: ping
`), 0o644))

	out, err := execute(t, context.Background(), "replay", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL bad")
}

func TestReplay_GoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "offline_mailbox.golden"), []byte("scenario: other\n"), 0o644))

	out, err := execute(t, context.Background(), "replay", "--golden", dir, filepath.Join(scenarioDir, "offline_mailbox.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace differs")
}

func TestReplay_InvalidScenario(t *testing.T) {
	_, err := execute(t, context.Background(), "replay", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplay_RequiresArgs(t *testing.T) {
	_, err := execute(t, context.Background(), "replay")
	assert.Error(t, err)
}
