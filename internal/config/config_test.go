package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.json")
	if err := os.WriteFile(path, []byte(`{"router":{"mode":"rules","roles_file":"roles.yaml"},"ledger":{"limit":500}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Router.Mode != "rules" {
		t.Fatalf("unexpected router mode: %s", cfg.Router.Mode)
	}
	if cfg.Router.RolesFile != filepath.Join(dir, "roles.yaml") {
		t.Fatalf("roles file not resolved against config dir: %s", cfg.Router.RolesFile)
	}
	if cfg.Ledger.Limit != 100 {
		t.Fatalf("limit must be capped at 100, got %d", cfg.Ledger.Limit)
	}
	if cfg.Ledger.Window().Hours() != 48 {
		t.Fatalf("unexpected window: %v", cfg.Ledger.Window())
	}
	if cfg.ToolServer.URL != "http://localhost:8000/sse" {
		t.Fatalf("unexpected tool server url: %s", cfg.ToolServer.URL)
	}
	if !cfg.Bootstrap.IsEnabled() || cfg.Bootstrap.Launcher != "go" || cfg.Bootstrap.ReadyDelay().Seconds() != 3 {
		t.Fatalf("unexpected bootstrap defaults: %+v", cfg.Bootstrap)
	}
	if cfg.History.Driver != "none" {
		t.Fatalf("history must be disabled by default, got %s", cfg.History.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for an explicit missing path")
	}
}

func TestLoadEnvAndResolveAPIKey(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("TRIAGE_TEST_KEY=sk-from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("TRIAGE_TEST_KEY") })

	cfg := &Config{EnvFile: envFile, LLM: LLMConfig{APIKeyEnv: "TRIAGE_TEST_KEY"}}
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := cfg.LLM.ResolveAPIKey(); got != "sk-from-dotenv" {
		t.Fatalf("unexpected api key: %q", got)
	}

	cfg.EnvFile = filepath.Join(t.TempDir(), "absent.env")
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}
}

func TestAPIResolveToken(t *testing.T) {
	t.Setenv("TRIAGE_TEST_API_TOKEN", " from-env ")

	cfg := APIConfig{TokenEnv: "TRIAGE_TEST_API_TOKEN"}
	if got := cfg.ResolveToken(); got != "from-env" {
		t.Fatalf("unexpected token: %q", got)
	}
	cfg.Token = "explicit"
	if got := cfg.ResolveToken(); got != "explicit" {
		t.Fatalf("explicit token must win, got %q", got)
	}
	if got := (APIConfig{}).ResolveToken(); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}
