package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trendops/evreport/internal/config"
	"github.com/trendops/evreport/internal/event"
	"github.com/trendops/evreport/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run <request.yaml>",
	Short: "Execute one report run",
	Long: `Execute a report run from a YAML request file.

The run plans a stage graph from the request, executes it, applies the
quality gate, and writes report.html plus evidence.jsonl into a per-run
directory under the output directory.

A run that loses stages still ships a degraded report with its faults
listed in the appendix. Use --strict to turn a degraded run into a
non-zero exit instead.

Examples:
  # Run a request with default settings
  evreport run request.yaml

  # Write artifacts somewhere specific and show stage progress
  evreport run request.yaml -o ./reports --progress

  # Fail the process if anything degraded
  evreport run request.yaml --strict`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runOutputDir string
	runStrict    bool
	runProgress  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "", "Output directory (default: ./out)")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Exit non-zero when the run degrades")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "Print stage progress while running")
}

func runRun(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runOutputDir != "" {
		cfg.Output.Dir = runOutputDir
	}

	bus := event.NewBus()
	if runProgress {
		bus.SubscribeAll(printProgress)
	}

	baseDir, err := os.Getwd()
	if err != nil {
		return err
	}

	res, err := supervisor.New(cfg, nil, bus).Run(cmd.Context(), raw, baseDir)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s finished\n", res.RunID)
	fmt.Printf("  Report:   %s\n", res.ReportPath)
	fmt.Printf("  Evidence: %s\n", res.EvidencePath)
	fmt.Printf("  Coverage: %.1f%%  consistency: %v  document: %v\n",
		res.Metrics.CitationCoverage*100, res.Metrics.NumberConsistency, res.Metrics.DocumentOK)
	for _, w := range res.Warnings {
		fmt.Printf("  Warning: %s\n", w)
	}
	if len(res.Faults) > 0 {
		fmt.Printf("  Faults (%d):\n", len(res.Faults))
		for _, f := range res.Faults {
			fmt.Printf("    %s (%s, %d attempts): %s\n", f.Stage, f.Class, f.Attempts, f.Message)
		}
	}

	if res.Degraded && runStrict {
		return fmt.Errorf("run %s degraded with %d faults", res.RunID, len(res.Faults))
	}
	return nil
}

func printProgress(e event.Event) {
	switch ev := e.(type) {
	case event.StageStartedEvent:
		fmt.Printf("  -> %s\n", ev.Node)
	case event.StageCompletedEvent:
		fmt.Printf("  ok %s (%d attempts)\n", ev.Node, ev.Attempts)
	case event.StageDegradedEvent:
		fmt.Printf("  !! %s degraded: %s\n", ev.Node, ev.Reason)
	case event.StageRequeuedEvent:
		fmt.Printf("  <- %s requeued: %s\n", ev.Node, ev.Reason)
	case event.RunFinishedEvent:
		fmt.Printf("  == run %s done (degraded=%v)\n", ev.RunID, ev.Degraded)
	}
}
