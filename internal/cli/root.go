package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/contractforge/internal/config"
	"github.com/lucasnoah/contractforge/internal/logging"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "contractforge: generate code from a contract and correct it until it validates",
	Long: `contractforge generates service, UI and schema code from a declarative contract,
runs it through an ordered validation pipeline and feeds the findings back to a
corrector until the code is accepted or the iteration budget is spent.

Run history is kept under .forge/runs (JSON) and optionally in Postgres.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// loadValidConfig loads the config and refuses one with validation errors.
func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s (and %d more; run 'forge config validate')", errs[0], len(errs)-1)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (zerolog.Logger, error) {
	level := cfg.Forge.Log.Level
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = "debug"
	}
	return logging.New(cmd.ErrOrStderr(), level, cfg.Forge.Log.Format)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to forge.yaml")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(serveCmd)
}
