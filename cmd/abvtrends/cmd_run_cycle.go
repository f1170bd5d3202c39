package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/pipeline"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/scoring"
)

var runCycleCmd = &cobra.Command{
	Use:   "run-cycle",
	Short: "Run one ingest, score and forecast cycle and exit",
	Long: `Run a single cycle over the given sources, or every enabled source when none
are given, and print the cycle result.

Examples:
  abvtrends run-cycle
  abvtrends run-cycle --source demo-distributor --format json
  abvtrends run-cycle --in-process-locks`,
	RunE: runRunCycle,
}

var (
	runCycleSources        []string
	runCycleFormat         string
	runCycleInProcessLocks bool
)

func init() {
	rootCmd.AddCommand(runCycleCmd)

	runCycleCmd.Flags().StringSliceVar(&runCycleSources, "source", nil, "Source id to ingest (repeatable)")
	runCycleCmd.Flags().StringVar(&runCycleFormat, "format", "table", "Output format (table|json)")
	runCycleCmd.Flags().BoolVar(&runCycleInProcessLocks, "in-process-locks", false, "Lock in memory instead of Redis")
}

func runRunCycle(cmd *cobra.Command, args []string) error {
	if runCycleFormat != "table" && runCycleFormat != "json" {
		return fmt.Errorf("unknown format %q", runCycleFormat)
	}

	cfg, logger, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	a.inProcessLocks = runCycleInProcessLocks
	st := a.startup()
	if err := st.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := st.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("Shutdown finished with errors")
		}
	}()

	result, err := a.orchestrator.RunCycle(ctx, runCycleSources)
	if err != nil {
		return err
	}

	if runCycleFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	printCycle(result)
	return nil
}

const topScoresShown = 10

func printCycle(result *pipeline.CycleResult) {
	fmt.Printf("Cycle %s\n\n", result.CycleID)
	fmt.Printf("%-24s %-10s %8s %8s %8s %8s  %s\n", "SOURCE", "STATUS", "FOUND", "NEW", "UPDATED", "ERRORS", "REASON")
	for _, run := range result.Runs {
		reason := ""
		if run.FailureReason != nil {
			reason = string(*run.FailureReason)
		}
		fmt.Printf("%-24s %-10s %8d %8d %8d %8d  %s\n",
			run.SourceID, run.Status, run.ProductsFound, run.ProductsNew, run.ProductsUpdated, run.ErrorCount, reason)
	}
	for _, id := range result.Skipped {
		fmt.Printf("%-24s %-10s\n", id, "skipped")
	}

	fmt.Println()
	if result.Scoring != nil {
		fmt.Printf("Scored %d products, deferred %d, %d without signals, %d failed\n",
			len(result.Scoring.Scored), len(result.Scoring.Deferred), len(result.Scoring.Insufficient), len(result.Scoring.Failed))
		scored := append([]scoring.Result(nil), result.Scoring.Scored...)
		sort.Slice(scored, func(i, j int) bool { return scored[i].Score.Score > scored[j].Score.Score })
		for i, r := range scored {
			if i == topScoresShown {
				fmt.Printf("  ... %d more\n", len(scored)-topScoresShown)
				break
			}
			fmt.Printf("  %s  %s\n", r.Score.ProductID, scoring.Describe(r.Score))
		}
	} else {
		fmt.Println("Scoring did not run")
	}
	fmt.Printf("Forecasted %d products, expired %d review items\n", result.Forecasted, result.ReviewsExpired)

	failed := 0
	for _, run := range result.Runs {
		if run.Status != models.RunStatusCompleted {
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("%d of %d sources did not complete\n", failed, len(result.Runs))
	}
}
