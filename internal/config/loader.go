package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/contractforge/internal/checks"
)

// Defaults.
const (
	DefaultMaxIterations = 3
	DefaultStoreDir      = ".forge/runs"
	DefaultOutputDir     = "generated"
	DefaultSubjectPrefix = "forge"
	DefaultAPIKeyEnv     = "OPENAI_API_KEY"
)

// Load reads and parses a forge configuration from the given YAML file path
// and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./forge.yaml, ~/.forge/config.yaml. With
// no file present the built-in defaults are returned.
func LoadDefault() (*Config, error) {
	candidates := []string{"forge.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".forge", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	f := &cfg.Forge
	if f.MaxIterations == 0 {
		f.MaxIterations = DefaultMaxIterations
	}
	if f.Acceptance == "" {
		f.Acceptance = "critical"
	}
	if f.OutputDir == "" {
		f.OutputDir = DefaultOutputDir
	}
	if f.Corrector.Provider == "" {
		f.Corrector.Provider = "none"
	}
	if f.Corrector.APIKeyEnv == "" {
		f.Corrector.APIKeyEnv = DefaultAPIKeyEnv
	}
	if f.Store.Dir == "" {
		f.Store.Dir = DefaultStoreDir
	}
	if f.Events.SubjectPrefix == "" {
		f.Events.SubjectPrefix = DefaultSubjectPrefix
	}
	if f.Log.Level == "" {
		f.Log.Level = "info"
	}
	if f.Log.Format == "" {
		f.Log.Format = "console"
	}
}

// CorrectorTimeout parses corrector.timeout. Zero means the corrector's own
// default.
func (f Forge) CorrectorTimeout() (time.Duration, error) {
	if f.Corrector.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(f.Corrector.Timeout)
}

// StageOptions resolves the check names attached to the tests and runtime
// stages into runnable check configs.
func (f Forge) StageOptions(runner *checks.Runner) (checks.Options, error) {
	opts := checks.Options{Runner: runner}
	var err error
	if opts.TestChecks, err = f.resolveChecks(f.Stages.Tests); err != nil {
		return checks.Options{}, err
	}
	if opts.RuntimeChecks, err = f.resolveChecks(f.Stages.Runtime); err != nil {
		return checks.Options{}, err
	}
	return opts, nil
}

func (f Forge) resolveChecks(names []string) ([]checks.CheckConfig, error) {
	out := make([]checks.CheckConfig, 0, len(names))
	for _, name := range names {
		c, ok := f.Checks[name]
		if !ok {
			return nil, fmt.Errorf("undefined check %q", name)
		}
		cc := checks.CheckConfig{Name: name, Command: c.Command, Parser: c.Parser, Dir: c.Dir}
		if c.Timeout != "" {
			d, err := time.ParseDuration(c.Timeout)
			if err != nil {
				return nil, fmt.Errorf("check %q: invalid timeout %q: %w", name, c.Timeout, err)
			}
			cc.Timeout = d
		}
		out = append(out, cc)
	}
	return out, nil
}
