package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/contractforge/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query run analytics from the database",
}

var statsStageDurationCmd = &cobra.Command{
	Use:   "stage-duration",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceFlag(cmd)
		if err != nil {
			return err
		}
		d, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()
		results, err := analytics.QueryStageDurations(cmd.Context(), d.Pool(), since)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tCOUNT\tAVG(ms)\tP50(ms)\tP95(ms)")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n", r.Stage, r.Count, r.Avg, r.P50, r.P95)
		}
		return w.Flush()
	},
}

var statsFailureRateCmd = &cobra.Command{
	Use:   "failure-rate",
	Short: "Failure rates per stage, overall and on first attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceFlag(cmd)
		if err != nil {
			return err
		}
		d, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()
		results, err := analytics.QueryStageFailureRates(cmd.Context(), d.Pool(), since)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tCRITICAL\tRUNS\tFAILED%\tFIRST-ATTEMPT FAILED%")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%t\t%d\t%.1f\t%.1f\n", r.Stage, r.Critical, r.Total, r.Failed, r.FirstAttempt)
		}
		return w.Flush()
	},
}

var statsAttemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Distribution of attempts per finished run",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceFlag(cmd)
		if err != nil {
			return err
		}
		d, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()
		results, err := analytics.QueryAttempts(cmd.Context(), d.Pool(), since)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tRUNS\t1%\t2%\t3+%\tAVG")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\t%.1f\n", r.Status, r.Total, r.One, r.Two, r.ThreePlus, r.Avg)
		}
		return w.Flush()
	},
}

var statsThroughputCmd = &cobra.Command{
	Use:   "throughput",
	Short: "Runs per ISO week by outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceFlag(cmd)
		if err != nil {
			return err
		}
		d, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()
		results, err := analytics.QueryThroughput(cmd.Context(), d.Pool(), since)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WEEK\tSTARTED\tACCEPTED\tEXHAUSTED\tSTUCK\tESCALATED")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", r.Period, r.Started, r.Accepted, r.Exhausted, r.Stuck, r.Escalated)
		}
		return w.Flush()
	},
}

func sinceFlag(cmd *cobra.Command) (time.Time, error) {
	s, _ := cmd.Flags().GetString("since")
	d, err := parseSince(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-d), nil
}

// parseSince accepts Go durations plus a day suffix ("30d").
func parseSince(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid --since %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --since %q: %w", s, err)
	}
	return d, nil
}

func init() {
	for _, c := range []*cobra.Command{statsStageDurationCmd, statsFailureRateCmd, statsAttemptsCmd, statsThroughputCmd} {
		c.Flags().String("since", "30d", "look back this far (e.g. 7d, 12h)")
		statsCmd.AddCommand(c)
	}
}
