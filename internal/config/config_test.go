package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/contractforge/internal/checks"
)

const validConfig = `
forge:
  max_iterations: 5
  acceptance: all
  output_dir: out
  target:
    target: service
    features:
      monitoring: true
  corrector:
    provider: openai
    model: gpt-4o
    timeout: "90s"
    requests_per_minute: 20
    regenerate: true
  checks:
    gotest:
      command: "go test -json ./..."
      parser: gotest
      dir: service
      timeout: "5m"
    vet:
      command: "go vet ./..."
      parser: govet
      dir: service
    smoke:
      command: "go run ./cmd/smoke"
  stages:
    tests: [gotest, vet]
    runtime: [smoke]
  store:
    dir: /var/lib/forge
  database:
    url: postgres://forge@localhost/forge
  events:
    nats_url: nats://localhost:4222
  metrics:
    addr: ":9090"
  log:
    level: debug
    format: json
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	f := cfg.Forge

	if f.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", f.MaxIterations)
	}
	if f.Acceptance != "all" {
		t.Errorf("Acceptance = %q, want all", f.Acceptance)
	}
	if f.Target.Target != "service" || !f.Target.Features.Monitoring {
		t.Errorf("Target = %+v, want service with monitoring", f.Target)
	}
	if f.Corrector.Provider != "openai" || f.Corrector.Model != "gpt-4o" || !f.Corrector.Regenerate {
		t.Errorf("Corrector = %+v", f.Corrector)
	}
	if f.Corrector.APIKeyEnv != DefaultAPIKeyEnv {
		t.Errorf("APIKeyEnv = %q, want default %q", f.Corrector.APIKeyEnv, DefaultAPIKeyEnv)
	}
	if len(f.Checks) != 3 {
		t.Errorf("len(Checks) = %d, want 3", len(f.Checks))
	}
	if f.Events.SubjectPrefix != DefaultSubjectPrefix {
		t.Errorf("SubjectPrefix = %q, want default", f.Events.SubjectPrefix)
	}
	if f.Store.Dir != "/var/lib/forge" {
		t.Errorf("Store.Dir = %q", f.Store.Dir)
	}

	d, err := f.CorrectorTimeout()
	if err != nil || d != 90*time.Second {
		t.Errorf("CorrectorTimeout() = %v, %v; want 90s", d, err)
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	f := cfg.Forge
	if f.MaxIterations != DefaultMaxIterations {
		t.Errorf("MaxIterations = %d, want %d", f.MaxIterations, DefaultMaxIterations)
	}
	if f.Acceptance != "critical" || f.Corrector.Provider != "none" {
		t.Errorf("Acceptance = %q, Provider = %q", f.Acceptance, f.Corrector.Provider)
	}
	if f.Store.Dir != DefaultStoreDir || f.OutputDir != DefaultOutputDir {
		t.Errorf("Store.Dir = %q, OutputDir = %q", f.Store.Dir, f.OutputDir)
	}
	if f.Log.Level != "info" || f.Log.Format != "console" {
		t.Errorf("Log = %+v", f.Log)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate(Default()) = %v", errs)
	}
	if d, err := f.CorrectorTimeout(); err != nil || d != 0 {
		t.Errorf("CorrectorTimeout() = %v, %v; want 0", d, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Fatalf("Load() error = %v, want reading error", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "forge: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parsing config YAML") {
		t.Fatalf("Load() error = %v, want parse error", err)
	}
}

func TestLoadDefaultSearchesWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Forge.MaxIterations != DefaultMaxIterations {
		t.Errorf("without a file, MaxIterations = %d", cfg.Forge.MaxIterations)
	}

	if err := os.WriteFile(filepath.Join(dir, "forge.yaml"), []byte("forge:\n  max_iterations: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Forge.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7 from ./forge.yaml", cfg.Forge.MaxIterations)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Parse([]byte(`
forge:
  max_iterations: -1
  acceptance: most
  corrector:
    provider: anthropic
    timeout: soon
    requests_per_minute: -2
  checks:
    lint:
      parser: pylint
      timeout: forever
  stages:
    tests: [lint, missing]
    runtime: [ghost]
  log:
    level: loud
    format: xml
`))
	if err != nil {
		t.Fatal(err)
	}

	errs := Validate(cfg)
	fields := make(map[string]int)
	for _, e := range errs {
		fields[e.Field]++
	}
	want := map[string]int{
		"forge.max_iterations":                1,
		"forge.acceptance":                    1,
		"forge.corrector.provider":            1,
		"forge.corrector.timeout":             1,
		"forge.corrector.requests_per_minute": 1,
		"forge.checks.lint.command":           1,
		"forge.checks.lint.parser":            1,
		"forge.checks.lint.timeout":           1,
		"forge.stages.tests":                  1,
		"forge.stages.runtime":                1,
		"forge.log.level":                     1,
		"forge.log.format":                    1,
	}
	for f, n := range want {
		if fields[f] != n {
			t.Errorf("errors for %s = %d, want %d (all: %v)", f, fields[f], n, errs)
		}
	}
	if len(errs) != len(want) {
		t.Errorf("len(errs) = %d, want %d: %v", len(errs), len(want), errs)
	}
}

func TestStageOptions(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}
	runner := checks.NewRunner(&checks.ExecRunner{})
	opts, err := cfg.Forge.StageOptions(runner)
	if err != nil {
		t.Fatalf("StageOptions() error: %v", err)
	}
	if opts.Runner != runner {
		t.Error("runner not passed through")
	}
	if len(opts.TestChecks) != 2 || opts.TestChecks[0].Name != "gotest" || opts.TestChecks[1].Name != "vet" {
		t.Fatalf("TestChecks = %+v", opts.TestChecks)
	}
	gt := opts.TestChecks[0]
	if gt.Command != "go test -json ./..." || gt.Parser != "gotest" || gt.Dir != "service" || gt.Timeout != 5*time.Minute {
		t.Errorf("gotest = %+v", gt)
	}
	if opts.TestChecks[1].Timeout != 0 {
		t.Errorf("vet timeout = %v, want 0 (runner default)", opts.TestChecks[1].Timeout)
	}
	if len(opts.RuntimeChecks) != 1 || opts.RuntimeChecks[0].Command != "go run ./cmd/smoke" {
		t.Errorf("RuntimeChecks = %+v", opts.RuntimeChecks)
	}

	cfg.Forge.Stages.Runtime = []string{"ghost"}
	if _, err := cfg.Forge.StageOptions(runner); err == nil {
		t.Error("StageOptions() with undefined check: want error")
	}
}
