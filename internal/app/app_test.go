package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"OpenMCP-Triage/internal/config"
	xerrors "OpenMCP-Triage/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "llm": {"api_key": "sk-test"},
  "router": {"mode": "`+mode+`"},
  "history": {"driver": "file"}
}`), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuildRulesRuntime(t *testing.T) {
	cfg := testConfig(t, "rules")
	rt, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, rt.Driver)
	assert.False(t, rt.Team.ToolAttached)
	assert.NoError(t, rt.Close())
	assert.FileExists(t, filepath.Join(cfg.Runtime.DataDir, "runs.log"))
}

func TestBuildRejectsUnknownMode(t *testing.T) {
	_, err := Build(context.Background(), testConfig(t, "coinflip"), nil)
	assert.Error(t, err)
}

func TestBuildRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t, "llm")
	cfg.LLM.APIKey = ""
	cfg.LLM.APIKeyEnv = "TRIAGE_APP_TEST_KEY"
	t.Setenv("TRIAGE_APP_TEST_KEY", "")

	_, err := Build(context.Background(), cfg, nil)
	assert.True(t, xerrors.IsCode(err, xerrors.CodeInitializationFailure))
}

func TestExecuteServesInboxUntilCancelled(t *testing.T) {
	cfg := testConfig(t, "rules")
	cfg.Inbox.Driver = "memory"
	cfg.API.Address = "127.0.0.1:0"
	rt, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rt.Execute(ctx, cfg, nil), context.Canceled)
}

func TestExecuteRejectsMemoryInboxWithoutAPI(t *testing.T) {
	cfg := testConfig(t, "rules")
	cfg.Inbox.Driver = "memory"
	rt, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = rt.Execute(ctx, cfg, []string{"Hola"})
	assert.True(t, xerrors.IsCode(err, xerrors.CodeInvalidArgument), "got %v", err)
	assert.NoError(t, ctx.Err(), "Execute must fail fast instead of blocking")
}

func TestQueriesPrefersConfig(t *testing.T) {
	cfg := &config.Config{}
	assert.Equal(t, []string{"a"}, Queries(cfg, []string{"a"}))
	cfg.Router.Queries = []string{"b", "c"}
	assert.Equal(t, []string{"b", "c"}, Queries(cfg, []string{"a"}))
}
