package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/iterate"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	providers  = map[string]bool{"none": true, "openai": true}
	logFormats = map[string]bool{"console": true, "json": true}
)

// Validate checks a Config for structural and semantic errors. It returns
// every problem found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	f := cfg.Forge
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if f.MaxIterations < 0 {
		add("forge.max_iterations", "must not be negative, got %d", f.MaxIterations)
	}
	if _, err := iterate.ParsePolicy(f.Acceptance); err != nil {
		add("forge.acceptance", "%v", err)
	}

	if !providers[f.Corrector.Provider] {
		add("forge.corrector.provider", "unknown provider %q", f.Corrector.Provider)
	}
	if f.Corrector.Timeout != "" {
		if d, err := time.ParseDuration(f.Corrector.Timeout); err != nil || d <= 0 {
			add("forge.corrector.timeout", "invalid duration %q", f.Corrector.Timeout)
		}
	}
	if f.Corrector.RequestsPerMinute < 0 {
		add("forge.corrector.requests_per_minute", "must not be negative")
	}

	parsers := checks.NewRunner(nil)
	for name, c := range f.Checks {
		prefix := "forge.checks." + name
		if c.Command == "" {
			add(prefix+".command", "is required")
		}
		if c.Parser != "" && !parsers.HasParser(c.Parser) {
			add(prefix+".parser", "unrecognized parser %q", c.Parser)
		}
		if c.Timeout != "" {
			if _, err := time.ParseDuration(c.Timeout); err != nil {
				add(prefix+".timeout", "invalid duration %q", c.Timeout)
			}
		}
	}
	for _, list := range []struct {
		name  string
		names []string
	}{
		{"tests", f.Stages.Tests},
		{"runtime", f.Stages.Runtime},
	} {
		for _, n := range list.names {
			if _, ok := f.Checks[n]; !ok {
				add("forge.stages."+list.name, "references undefined check %q", n)
			}
		}
	}

	if _, err := zerolog.ParseLevel(f.Log.Level); err != nil {
		add("forge.log.level", "unknown level %q", f.Log.Level)
	}
	if !logFormats[f.Log.Format] {
		add("forge.log.format", "unknown format %q (want console or json)", f.Log.Format)
	}
	return errs
}
