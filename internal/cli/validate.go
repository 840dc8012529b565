package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/codegen"
	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/feedback"
)

var validateCmd = &cobra.Command{
	Use:   "validate [contract.yaml]",
	Short: "Run the validation pipeline once against generated or existing code",
	Long: `Run every validation stage once and print the result. With --dir the code is
read from a directory (for example a previous forge run); otherwise it is
generated from the contract first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		c, err := contract.Load(args[0])
		if err != nil {
			return err
		}
		if err := contract.Validate(c); err != nil {
			return err
		}

		var code artifact.Code
		if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
			code, err = artifact.LoadDir(dir)
		} else {
			var gen *codegen.Generator
			if gen, err = codegen.New(); err == nil {
				code, err = gen.Generate(c, cfg.Forge.Target)
			}
		}
		if err != nil {
			return err
		}

		stages, err := cfg.Forge.StageOptions(checks.NewRunner(&checks.ExecRunner{}))
		if err != nil {
			return err
		}
		p, err := checks.NewPipeline(checks.DefaultStages(stages), checks.WithLogger(log))
		if err != nil {
			return err
		}
		res := p.Run(cmd.Context(), c, code)

		w := cmd.OutOrStdout()
		if format, _ := cmd.Flags().GetString("format"); format == "json" {
			out, err := res.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, out)
		} else {
			for _, s := range res.Stages {
				status := "PASS"
				if !s.Passed {
					status = "FAIL"
				}
				crit := ""
				if s.Critical {
					crit = " (critical)"
				}
				fmt.Fprintf(w, "[%s] %s%s: %d error(s), %d warning(s) (%dms)\n",
					status, s.Stage, crit, len(s.Errors), len(s.Warnings), s.Duration.Milliseconds())
			}
			if fb := feedback.Generate(res); len(fb) > 0 {
				fmt.Fprintln(w)
				fmt.Fprint(w, fb.Render())
			}
		}

		if !res.Passed {
			return fmt.Errorf("validation failed: %d of %d stage(s) passed",
				res.Summary.PassedStages, res.Summary.TotalStages)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("dir", "", "validate the code in this directory instead of generating it")
	validateCmd.Flags().String("format", "text", "output format: text or json")
}
