package config

import "github.com/lucasnoah/contractforge/internal/contract"

// Config is the top-level structure parsed from forge.yaml.
type Config struct {
	Forge Forge `yaml:"forge"`
}

// Forge holds every setting of a forge run.
type Forge struct {
	MaxIterations int              `yaml:"max_iterations"`
	Acceptance    string           `yaml:"acceptance"`
	OutputDir     string           `yaml:"output_dir"`
	Target        contract.Target  `yaml:"target"`
	Corrector     Corrector        `yaml:"corrector"`
	Checks        map[string]Check `yaml:"checks"`
	Stages        Stages           `yaml:"stages"`
	Store         Store            `yaml:"store"`
	Database      Database         `yaml:"database"`
	Events        Events           `yaml:"events"`
	Metrics       Metrics          `yaml:"metrics"`
	Log           Log              `yaml:"log"`
}

// Corrector configures the generative collaborator.
type Corrector struct {
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	BaseURL           string `yaml:"base_url"`
	APIKeyEnv         string `yaml:"api_key_env"`
	Timeout           string `yaml:"timeout"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	TemplatesDir      string `yaml:"templates_dir"`
	Regenerate        bool   `yaml:"regenerate"`
}

// Check is an external command run by the tests or runtime stage.
type Check struct {
	Command string `yaml:"command"`
	Parser  string `yaml:"parser"`
	Dir     string `yaml:"dir"`
	Timeout string `yaml:"timeout"`
}

// Stages lists the checks attached to the command-backed stages.
type Stages struct {
	Tests   []string `yaml:"tests"`
	Runtime []string `yaml:"runtime"`
}

// Store is the file-backed run history.
type Store struct {
	Dir string `yaml:"dir"`
}

// Database is the optional Postgres run history.
type Database struct {
	URL string `yaml:"url"`
}

// Events configures NATS publishing. Empty NATSURL disables it.
type Events struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Metrics configures the Prometheus endpoint. Empty Addr disables serving.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Log configures zerolog output.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
