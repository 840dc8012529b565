package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/codegen"
	"github.com/lucasnoah/contractforge/internal/contract"
)

var generateCmd = &cobra.Command{
	Use:   "generate [contract.yaml]",
	Short: "Generate code for a contract without validating it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		c, err := contract.Load(args[0])
		if err != nil {
			return err
		}
		gen, err := codegen.New()
		if err != nil {
			return err
		}
		code, err := gen.Generate(c, cfg.Forge.Target)
		if err != nil {
			return err
		}

		dir, _ := cmd.Flags().GetString("output")
		if dir == "" {
			dir = filepath.Join(cfg.Forge.OutputDir, c.Name)
		}
		if err := artifact.WriteDir(dir, code); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d file(s) (%d lines) to %s\n", len(code.Files), code.Lines(), dir)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringP("output", "o", "", "directory to write to (default <output_dir>/<contract>)")
}
