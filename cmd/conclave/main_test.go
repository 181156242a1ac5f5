package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/conclave/pkg/config"
	"mercator-hq/conclave/pkg/usage"
)

const testConfig = `
server:
  listen_address: "127.0.0.1:0"
store:
  backend: memory
usage:
  backend: sqlite
  sqlite_path: %USAGE%
  prune_schedule: ""
auth:
  api_keys:
    - key: ck-test-key
      user_id: user-1
      tier: pro
model_policy:
  file: %POLICY%
  watch: false
telemetry:
  metrics:
    enabled: true
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	policy := filepath.Join(dir, "models.yaml")
	if err := os.WriteFile(policy, []byte("default: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	body := strings.NewReplacer(
		"%USAGE%", filepath.Join(dir, "usage.db"),
		"%POLICY%", policy,
	).Replace(testConfig)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append(args, "--env-file", ""))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestBuildApp(t *testing.T) {
	cfg, err := config.LoadConfigWithEnvOverrides(writeConfig(t))
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}

	a, err := buildApp(cfg)
	if err != nil {
		t.Fatalf("buildApp failed: %v", err)
	}
	defer a.Close()

	if a.orchestrator == nil || a.limits == nil || a.authn == nil {
		t.Fatal("Expected core components to be built")
	}
	if a.policy == nil {
		t.Error("Expected model policy to be loaded")
	}
	if a.metrics == nil {
		t.Error("Expected metrics collector")
	}

	checks := a.health.ListChecks()
	if len(checks) != 3 {
		t.Errorf("Expected 3 readiness checks, got %v", checks)
	}
	if status := a.health.CheckReadiness(context.Background()); !status.Ready() {
		t.Errorf("Expected ready, got %+v", status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.startBackground(ctx); err != nil {
		t.Errorf("startBackground failed: %v", err)
	}
}

func TestBuildApp_MissingPolicyFile(t *testing.T) {
	cfg, err := config.LoadConfigWithEnvOverrides(writeConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	cfg.ModelPolicy.File = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := buildApp(cfg); err == nil {
		t.Fatal("Expected error for missing policy file")
	}
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("Expected success message, got %q", out)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: etcd\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "validate", "--config", path, "--format", "json")
	if err == nil {
		t.Fatal("Expected validate to fail")
	}
	if !strings.Contains(out, `"valid": false`) {
		t.Errorf("Expected JSON report, got %q", out)
	}
	if !strings.Contains(out, "store.backend") {
		t.Errorf("Expected store.backend error, got %q", out)
	}
}

func TestUsagePruneCommand(t *testing.T) {
	path := writeConfig(t)
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatal(err)
	}

	store, err := usage.NewSQLiteStore(&usage.SQLiteConfig{Path: cfg.Usage.SQLitePath})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := store.Record(ctx, &usage.Event{ID: "ev-" + id, RequestID: id, UserID: "user-1", Status: usage.StatusSuccess}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	store.Close()

	out, err := execute(t, "usage", "prune", "--config", path, "--max-records", "1", "--format", "json")
	if err != nil {
		t.Fatalf("usage prune failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"deleted": 2`) || !strings.Contains(out, `"remaining": 1`) {
		t.Errorf("Unexpected prune result: %s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	orig := Version
	Version = "9.9.9-test"
	defer func() { Version = orig }()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "Conclave 9.9.9-test") {
		t.Errorf("Expected version line, got %q", out)
	}
}

func TestRunCommand_DryRun(t *testing.T) {
	out, err := execute(t, "run", "--config", writeConfig(t), "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("Expected dry-run confirmation, got %q", out)
	}
}
