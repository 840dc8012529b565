package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/contractforge/internal/artifact"
	"github.com/lucasnoah/contractforge/internal/checks"
	"github.com/lucasnoah/contractforge/internal/config"
	"github.com/lucasnoah/contractforge/internal/contract"
	"github.com/lucasnoah/contractforge/internal/correct"
	"github.com/lucasnoah/contractforge/internal/db"
	"github.com/lucasnoah/contractforge/internal/events"
	"github.com/lucasnoah/contractforge/internal/iterate"
	"github.com/lucasnoah/contractforge/internal/metrics"
	"github.com/lucasnoah/contractforge/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run [contract.yaml...]",
	Short: "Generate, validate and correct code for one or more contracts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		f := &cfg.Forge
		if cmd.Flags().Changed("max-iterations") {
			f.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")
		}
		if out, _ := cmd.Flags().GetString("output"); out != "" {
			f.OutputDir = out
		}
		parallel, _ := cmd.Flags().GetInt("parallel")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		opts, cleanup, err := runOptions(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		contracts := make([]*contract.Contract, len(args))
		for i, path := range args {
			c, err := contract.Load(path)
			if err != nil {
				return err
			}
			contracts[i] = c
		}

		var mu sync.Mutex
		outcomes := make([]*iterate.Outcome, len(contracts))
		g, gctx := errgroup.WithContext(ctx)
		if parallel > 0 {
			g.SetLimit(parallel)
		}
		for i, c := range contracts {
			g.Go(func() error {
				out, err := iterate.ValidateAndCorrect(gctx, c, f.Target, f.MaxIterations, opts...)
				if err != nil {
					return fmt.Errorf("contract %s: %w", c.Name, err)
				}
				dir := filepath.Join(f.OutputDir, c.Name)
				if err := artifact.WriteDir(dir, out.FinalCode); err != nil {
					return fmt.Errorf("contract %s: %w", c.Name, err)
				}
				mu.Lock()
				outcomes[i] = out
				printOutcome(cmd, out, dir)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		failed := 0
		for _, out := range outcomes {
			if !out.Accepted() {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d run(s) did not converge", failed, len(outcomes))
		}
		return nil
	},
}

func printOutcome(cmd *cobra.Command, out *iterate.Outcome, dir string) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %s after %d attempt(s) (run %s) -> %s\n",
		out.Contract, out.Status, len(out.History), out.RunID, dir)
	last, ok := out.Last()
	if !ok || out.Accepted() {
		return
	}
	if last.Diagnostic != "" {
		fmt.Fprintf(w, "  %s\n", last.Diagnostic)
	}
	for _, issue := range last.Feedback {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
}

// runOptions translates the config into iterate options and opens the
// observers it enables. cleanup releases them.
func runOptions(ctx context.Context, cfg *config.Config, log zerolog.Logger) ([]iterate.Option, func(), error) {
	f := cfg.Forge
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	policy, err := iterate.ParsePolicy(f.Acceptance)
	if err != nil {
		return nil, cleanup, err
	}
	stages, err := f.StageOptions(checks.NewRunner(&checks.ExecRunner{}))
	if err != nil {
		return nil, cleanup, err
	}
	timeout, err := f.CorrectorTimeout()
	if err != nil {
		return nil, cleanup, err
	}

	opts := []iterate.Option{
		iterate.WithPolicy(policy),
		iterate.WithLogger(log),
		iterate.WithStageOptions(stages),
		iterate.WithCorrection(correct.Options{Timeout: timeout, Regenerate: f.Corrector.Regenerate}),
		iterate.WithObservers(store.New(f.Store.Dir).Observer()),
	}

	if f.Corrector.Provider == "openai" {
		gen, err := correct.NewOpenAI(correct.OpenAIConfig{
			APIKey:            os.Getenv(f.Corrector.APIKeyEnv),
			BaseURL:           f.Corrector.BaseURL,
			Model:             f.Corrector.Model,
			RequestsPerMinute: f.Corrector.RequestsPerMinute,
			TemplatesDir:      f.Corrector.TemplatesDir,
			Logger:            log,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("%w (set %s)", err, f.Corrector.APIKeyEnv)
		}
		opts = append(opts, iterate.WithGenerative(gen))
	}

	if f.Database.URL != "" {
		d, err := db.Open(ctx, f.Database.URL)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, d.Close)
		if err := d.Migrate(ctx); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		opts = append(opts, iterate.WithObservers(d.Observer()))
	}

	if f.Events.NATSURL != "" {
		pub := events.Connect(f.Events.NATSURL, f.Events.SubjectPrefix, log)
		closers = append(closers, pub.Close)
		opts = append(opts, iterate.WithObservers(pub))
	}

	if f.Metrics.Addr != "" {
		rec := metrics.New()
		mctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := rec.Serve(mctx, f.Metrics.Addr, log); err != nil {
				log.Warn().Err(err).Str("addr", f.Metrics.Addr).Msg("metrics server stopped")
			}
		}()
		closers = append(closers, func() { cancel(); <-done })
		opts = append(opts, iterate.WithObservers(rec))
	}

	return opts, cleanup, nil
}

func init() {
	runCmd.Flags().IntP("max-iterations", "n", 0, "override forge.max_iterations")
	runCmd.Flags().StringP("output", "o", "", "override forge.output_dir")
	runCmd.Flags().Int("parallel", 0, "maximum contracts processed at once (0 = all)")
}
