package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/keyrunner/internal/automation"
	"github.com/nerrad567/keyrunner/internal/infrastructure/config"
	"github.com/nerrad567/keyrunner/internal/infrastructure/database"
	"github.com/nerrad567/keyrunner/internal/infrastructure/logging"
	"github.com/nerrad567/keyrunner/internal/input"
)

// fakeInjector records dispatched actions instead of touching the desktop.
type fakeInjector struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInjector) record(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	return nil
}

func (f *fakeInjector) PressKey(k string) error           { return f.record("key:" + k) }
func (f *fakeInjector) PressCombination(k []string) error { return f.record(fmt.Sprint("combo:", k)) }
func (f *fakeInjector) TypeText(s string) error           { return f.record("text:" + s) }

func (f *fakeInjector) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// failingWatcher behaves like a hook that never came up.
type failingWatcher struct{}

func (failingWatcher) Start(func(string)) error { return input.ErrHookUnavailable }
func (failingWatcher) Stop()                    {}

// useFakeInput swaps the desktop backends for the duration of a test.
func useFakeInput(t *testing.T) *fakeInjector {
	t.Helper()
	inj := &fakeInjector{}
	origInjector, origWatcher := newInjector, newWatcher
	newInjector = func() automation.Injector { return inj }
	newWatcher = func() automation.HotkeyWatcher { return failingWatcher{} }
	t.Cleanup(func() { newInjector, newWatcher = origInjector, origWatcher })
	return inj
}

// writeConfig writes a config with the database in dir. apiPort 0 disables the API.
func writeConfig(t *testing.T, dir string, apiPort int) string {
	t.Helper()
	apiEnabled := apiPort != 0
	if !apiEnabled {
		apiPort = 8470
	}
	content := fmt.Sprintf(`
engine:
  abort_key: "Escape"
  hotkey_enabled: false
  stop_timeout_ms: 1000
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
plans:
  dir: %q
api:
  enabled: %t
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
  output: stderr
`, filepath.Join(dir, "keyrunner.db"), filepath.Join(dir, "plans"), apiEnabled, apiPort)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func writePlan(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write plan: %v", err)
	}
	return path
}

func listRuns(t *testing.T, dir string) []automation.Run {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(dir, "keyrunner.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopening db: %v", err)
	}
	defer db.Close()
	runs, err := automation.NewSQLiteRepository(db.DB).ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	return runs
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{name: "none", args: nil, want: options{}},
		{name: "config and plan", args: []string{"-config", "c.yaml", "-plan", "p.json"}, want: options{configPath: "c.yaml", planPath: "p.json"}},
		{name: "version", args: []string{"-version"}, want: options{showVersion: true}},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: true},
		{name: "stray argument", args: []string{"extra"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	_, err := parseFlags([]string{"-h"}, io.Discard)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("parseFlags(-h) error = %v, want flag.ErrHelp", err)
	}
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KEYRUNNER_CONFIG", "")

	cfg, path, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty for defaults", path)
	}
	if cfg.Engine.AbortKey != "esc" {
		t.Errorf("AbortKey = %q, want esc", cfg.Engine.AbortKey)
	}
}

func TestLoadConfig_ExplicitMissing(t *testing.T) {
	if _, _, err := loadConfig("/nonexistent/path/config.yaml"); err == nil {
		t.Error("loadConfig() expected error for missing explicit file")
	}

	t.Setenv("KEYRUNNER_CONFIG", "/nonexistent/env/config.yaml")
	if _, _, err := loadConfig(""); err == nil {
		t.Error("loadConfig() expected error for missing KEYRUNNER_CONFIG file")
	}
}

func TestLoadConfig_EnvPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, 0)
	t.Setenv("KEYRUNNER_CONFIG", path)

	cfg, got, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got != path {
		t.Errorf("path = %q, want %q", got, path)
	}
	if cfg.API.Enabled {
		t.Error("API.Enabled = true, want false from file")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"-config", "/nonexistent/path/config.yaml"}); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_Version(t *testing.T) {
	if err := run(context.Background(), []string{"-version"}); err != nil {
		t.Errorf("run(-version) error = %v", err)
	}
}

func TestRun_InvalidPlan(t *testing.T) {
	useFakeInput(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, 0)

	tests := map[string]string{
		"missing file": filepath.Join(dir, "missing.json"),
		"bad action":   writePlan(t, dir, `{"sequences":[{"keys":[{"type":"text"}]}]}`),
	}
	for name, planPath := range tests {
		t.Run(name, func(t *testing.T) {
			if err := run(context.Background(), []string{"-config", cfgPath, "-plan", planPath}); err == nil {
				t.Error("run() expected error for invalid plan")
			}
		})
	}
}

func TestRun_PlanMode(t *testing.T) {
	inj := useFakeInput(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, 0)
	planPath := writePlan(t, dir, `{
		"name": "cli",
		"sequences": [{
			"name": "greet",
			"keys": [{"key": "a"}, {"type": "text", "text": "hi"}],
			"count": 2,
			"interval": 0
		}]
	}`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, []string{"-config", cfgPath, "-plan", planPath}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	want := []string{"key:a", "text:hi", "key:a", "text:hi"}
	if got := inj.snapshot(); !slices.Equal(got, want) {
		t.Errorf("dispatched = %v, want %v", got, want)
	}

	runs := listRuns(t, dir)
	if len(runs) != 1 {
		t.Fatalf("runs recorded = %d, want 1", len(runs))
	}
	if runs[0].Status != automation.RunCompleted || runs[0].TriggerSource != triggerSourceCLI {
		t.Errorf("run = (%s, %s), want (completed, cli)", runs[0].Status, runs[0].TriggerSource)
	}
	if runs[0].PlanID != "" {
		t.Errorf("PlanID = %q, want empty for a plan file", runs[0].PlanID)
	}
}

func TestRun_PlanModeInterrupted(t *testing.T) {
	useFakeInput(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, 0)
	planPath := writePlan(t, dir, `{"sequences":[{"keys":[{"key":"a"}],"count":100000,"interval":0.01}]}`)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-config", cfgPath, "-plan", planPath}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	runs := listRuns(t, dir)
	if len(runs) != 1 || runs[0].Status != automation.RunStopped {
		t.Errorf("runs = %+v, want one stopped run", runs)
	}
}

func TestRun_ServeAndShutdown(t *testing.T) {
	useFakeInput(t)
	dir := t.TempDir()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	cfgPath := writeConfig(t, dir, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-config", cfgPath}) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	var healthy bool
	for range 100 {
		resp, getErr := http.Get(url) //nolint:noctx // test
		if getErr == nil {
			resp.Body.Close()
			healthy = resp.StatusCode == http.StatusOK
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !healthy {
		t.Error("API never became healthy")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not shut down")
	}

	if _, err := os.Stat(filepath.Join(dir, "plans", "default.json")); err != nil {
		t.Errorf("default plan file not written: %v", err)
	}
}

func TestNewEngine_FallsBackWithoutWatcher(t *testing.T) {
	useFakeInput(t)

	cfg := config.Default()
	cfg.Engine.HotkeyEnabled = true
	engine, err := newEngine(cfg, nil, nil, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("newEngine() error = %v", err)
	}
	defer engine.Close()

	if engine.State() != automation.StateIdle {
		t.Errorf("State() = %v, want idle", engine.State())
	}
}

func TestHealthCheck_NilOptionalClients(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "h.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := healthCheck(ctx, db, nil, nil); err != nil {
		t.Errorf("healthCheck() = %v, want nil", err)
	}
}

func openRegistry(t *testing.T) *automation.Registry {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "seed.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return automation.NewRegistry(automation.NewSQLiteRepository(db.DB))
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func TestSeedPlans_WritesDefault(t *testing.T) {
	registry := openRegistry(t)
	dir := filepath.Join(t.TempDir(), "plans")

	if err := seedPlans(context.Background(), registry, dir, testLogger()); err != nil {
		t.Fatalf("seedPlans() error = %v", err)
	}

	if _, err := os.Stat(automation.PlanFilePath(dir, defaultPlanFile)); err != nil {
		t.Errorf("default plan file missing: %v", err)
	}
	plans, err := registry.ListPlans(context.Background())
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(plans) != 1 || plans[0].Name != "Default" {
		t.Errorf("plans = %+v, want the default plan", plans)
	}
}

func TestSeedPlans_ImportsFilesSkippingBroken(t *testing.T) {
	registry := openRegistry(t)
	dir := t.TempDir()

	if err := automation.SavePlanFile(automation.PlanFilePath(dir, "typing"), &automation.Plan{
		Name:        "typing",
		Sequences:   []automation.Sequence{{Actions: []automation.Action{automation.Text("hello")}, Count: 1}},
		RepeatCount: 1,
	}); err != nil {
		t.Fatalf("SavePlanFile: %v", err)
	}
	if err := os.WriteFile(automation.PlanFilePath(dir, "broken"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := seedPlans(context.Background(), registry, dir, testLogger()); err != nil {
		t.Fatalf("seedPlans() error = %v", err)
	}

	if got := registry.GetPlanCount(); got != 1 {
		t.Errorf("GetPlanCount() = %d, want 1", got)
	}
	if _, err := os.Stat(automation.PlanFilePath(dir, defaultPlanFile)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("default plan written alongside existing files: %v", err)
	}
}

func TestSeedPlans_SkipsWhenStoreHasPlans(t *testing.T) {
	registry := openRegistry(t)
	ctx := context.Background()
	if err := registry.CreatePlan(ctx, automation.DefaultPlan()); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "plans")

	if err := seedPlans(ctx, registry, dir, testLogger()); err != nil {
		t.Fatalf("seedPlans() error = %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("plans dir touched for a populated store: %v", err)
	}
}
