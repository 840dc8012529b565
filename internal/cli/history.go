package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/contractforge/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		runs, err := store.New(cfg.Forge.Store.Dir).List(status)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCONTRACT\tSTATUS\tATTEMPTS\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
				r.ID, r.Contract, r.Status, len(r.Attempts), r.MaxIterations+1,
				r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show a run's attempts, or one attempt's feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s := store.New(cfg.Forge.Store.Dir)
		attempt, _ := cmd.Flags().GetInt("attempt")
		format, _ := cmd.Flags().GetString("format")

		if attempt > 0 {
			return showAttempt(cmd, s, args[0], attempt, format)
		}

		rs, err := s.Get(args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(cmd, rs)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s\n", rs.ID)
		fmt.Fprintf(out, "  contract: %s\n", rs.Contract)
		fmt.Fprintf(out, "  status:   %s\n", rs.Status)
		fmt.Fprintf(out, "  policy:   %s\n", rs.Policy)
		fmt.Fprintf(out, "  budget:   %d correction(s)\n", rs.MaxIterations)
		if rs.FinalDigest != "" {
			fmt.Fprintf(out, "  digest:   %s\n", rs.FinalDigest)
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ATTEMPT\tACTION\tPASSED\tSTAGES\tERRORS\tWARNINGS\tISSUES\tDURATION")
		for _, a := range rs.Attempts {
			fmt.Fprintf(w, "%d\t%s\t%t\t%d/%d\t%d\t%d\t%d\t%s\n",
				a.Attempt, a.Action, a.Passed, a.Summary.PassedStages, a.Summary.TotalStages,
				a.Summary.TotalErrors, a.Summary.TotalWarnings, a.Issues, a.Duration)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if n := len(rs.Attempts); n > 0 && rs.Attempts[n-1].Diagnostic != "" {
			fmt.Fprintf(out, "\n%s\n", rs.Attempts[n-1].Diagnostic)
		}
		return nil
	},
}

func showAttempt(cmd *cobra.Command, s *store.Store, id string, attempt int, format string) error {
	fb, err := s.Feedback(id, attempt)
	if err != nil {
		return err
	}
	if format == "json" {
		res, err := s.Result(id, attempt)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"result": res, "feedback": fb})
	}
	if len(fb) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Attempt %d of run %s has no feedback.\n", attempt, id)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), fb.Render())
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	historyListCmd.Flags().String("status", "", "only runs with this status")
	historyShowCmd.Flags().Int("attempt", 0, "show the feedback of this attempt")
	historyShowCmd.Flags().String("format", "text", "output format: text or json")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}
