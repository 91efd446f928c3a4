package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trendops/evreport/internal/config"
	"github.com/trendops/evreport/internal/errors"
	"github.com/trendops/evreport/internal/finance"
	"github.com/trendops/evreport/internal/plan"
	"github.com/trendops/evreport/internal/research"
	"github.com/trendops/evreport/internal/stage"
	"github.com/trendops/evreport/internal/state"
)

const marketOnlyRequest = `
window:
  start: 2026-01-05
  end: 2026-03-31
regions: [eu]
issues: [subsidy, battery]
depth: quick
`

const benchmarkRequest = marketOnlyRequest + `benchmarks: [TSLA, BYDDF]
`

func testRunConfig() *config.Config {
	cfg := config.Default()
	cfg.Stage.MaxAttempts = 2
	cfg.Stage.BackoffBaseMs = 10
	cfg.Stage.TimeoutSeconds = 5
	cfg.Logging.Enabled = false
	return cfg
}

// wrapping lets a test intercept specific stage kinds while delegating the
// rest to the built-in collaborators.
func wrapping(intercept func(ctx context.Context, node *plan.StageNode, in *stage.Inputs, next stage.Invoker) ([]state.Write, error)) InvokerFactory {
	return func(runDir string, agg *errors.Aggregator) stage.Invoker {
		def := &Collaborators{ChartDir: runDir, Agg: agg}
		return stage.InvokerFunc(func(ctx context.Context, node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
			return intercept(ctx, node, in, def)
		})
	}
}

func TestRunMarketOnlyProducesCleanReport(t *testing.T) {
	sup := New(testRunConfig(), nil, nil)

	res, err := sup.Run(context.Background(), []byte(marketOnlyRequest), t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Degraded {
		t.Errorf("Degraded = true for a clean run, faults: %v", res.Faults)
	}
	if len(res.Faults) != 0 {
		t.Errorf("Faults = %v, want none", res.Faults)
	}
	if res.Metrics.CitationCoverage != 1 {
		t.Errorf("CitationCoverage = %v, want 1", res.Metrics.CitationCoverage)
	}
	if !res.Metrics.DocumentOK {
		t.Error("DocumentOK = false for a clean run")
	}

	html, err := os.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if !strings.Contains(string(html), "<h2>Market Overview</h2>") {
		t.Error("report lacks the market section")
	}
	if strings.Contains(string(html), "Company Dossiers") {
		t.Error("report includes a company section without benchmarks")
	}

	ev, err := os.ReadFile(res.EvidencePath)
	if err != nil {
		t.Fatalf("reading evidence map: %v", err)
	}
	if len(strings.TrimSpace(string(ev))) == 0 {
		t.Error("evidence map is empty")
	}

	// Quick depth allows three charts; all three market charts render.
	if got := len(res.State.Entries(plan.KeyCharts)); got != 3 {
		t.Errorf("chart assets = %d, want 3", got)
	}
}

func TestRunDegradedBenchmarkStillShips(t *testing.T) {
	factory := wrapping(func(ctx context.Context, node *plan.StageNode, in *stage.Inputs, next stage.Invoker) ([]state.Write, error) {
		if node.Kind == plan.KindStockFetch && node.Instance == "BYDDF" {
			return nil, errors.Transient(errors.ErrRateLimited)
		}
		return next.Invoke(ctx, node, in)
	})
	sup := New(testRunConfig(), nil, nil).WithInvokerFactory(factory)

	res, err := sup.Run(context.Background(), []byte(benchmarkRequest), t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v, want degraded success", err)
	}
	if !res.Degraded {
		t.Error("Degraded = false despite a lost fan-out branch")
	}

	foundFetch := false
	for _, f := range res.Faults {
		if f.Stage == "stock.fetch:BYDDF" {
			foundFetch = true
			if f.Attempts != 2 {
				t.Errorf("fetch fault attempts = %d, want the full retry budget 2", f.Attempts)
			}
		}
		if f.Instance != "" && f.Instance != "BYDDF" {
			t.Errorf("fault on instance %q, only BYDDF should degrade", f.Instance)
		}
	}
	if !foundFetch {
		t.Errorf("Faults = %v, want stock.fetch:BYDDF recorded", res.Faults)
	}

	v, ok := res.State.Instance(plan.KeyStockSnapshots, "TSLA")
	if !ok {
		t.Fatal("no TSLA snapshot in state")
	}
	if _, ok := v.(finance.Snapshot); !ok {
		t.Errorf("TSLA snapshot = %T, want a real snapshot", v)
	}
	b, ok := res.State.Instance(plan.KeyStockSnapshots, "BYDDF")
	if !ok {
		t.Fatal("no BYDDF entry in state")
	}
	if _, ok := b.(stage.Placeholder); !ok {
		t.Errorf("BYDDF snapshot = %T, want a tagged placeholder", b)
	}

	html, err := os.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if !strings.Contains(string(html), "Degraded run") {
		t.Error("report lacks the degraded banner")
	}
	if !strings.Contains(string(html), "TSLA") {
		t.Error("report lacks the surviving TSLA content")
	}
}

func TestRunFinancialOptionsReachSnapshots(t *testing.T) {
	req := marketOnlyRequest + `benchmarks: [TSLA]
financials:
  include_volatility: true
  include_multiples: true
  include_events: true
`
	sup := New(testRunConfig(), nil, nil)

	res, err := sup.Run(context.Background(), []byte(req), t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	v, ok := res.State.Instance(plan.KeyStockSnapshots, "TSLA")
	if !ok {
		t.Fatal("no TSLA snapshot in state")
	}
	snap, ok := v.(finance.Snapshot)
	if !ok {
		t.Fatalf("TSLA snapshot = %T, want finance.Snapshot", v)
	}
	if snap.PERatio <= 0 {
		t.Errorf("PERatio = %v, want positive with include_multiples", snap.PERatio)
	}
	if snap.VolatilityPct <= 0 {
		t.Errorf("VolatilityPct = %v, want positive with include_volatility", snap.VolatilityPct)
	}
	if len(snap.Events) == 0 {
		t.Error("no notable-move events despite include_events")
	}
}

func TestRunDeadlinePreservesCollectedState(t *testing.T) {
	factory := wrapping(func(ctx context.Context, node *plan.StageNode, in *stage.Inputs, next stage.Invoker) ([]state.Write, error) {
		if node.Kind == plan.KindMarketIndex {
			<-ctx.Done()
			return nil, errors.Transient(ctx.Err())
		}
		return next.Invoke(ctx, node, in)
	})
	cfg := testRunConfig()
	cfg.Scheduler.RunTimeoutMinutes = 0
	sup := New(cfg, nil, nil).WithInvokerFactory(factory)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	res, err := sup.Run(ctx, []byte(marketOnlyRequest), t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v, want a degraded result", err)
	}
	if !res.Degraded {
		t.Error("Degraded = false after the deadline elapsed")
	}
	if res.Metrics.DocumentOK {
		t.Error("DocumentOK = true for a report with no evidence")
	}

	// Work merged before the deadline survives.
	if got := len(res.State.Entries(plan.KeyMarketDocs)); got != 2 {
		t.Errorf("market doc entries = %d, want both collects preserved", got)
	}

	deadlineFault := false
	for _, f := range res.Faults {
		if strings.Contains(f.Message, "deadline") {
			deadlineFault = true
		}
	}
	if !deadlineFault {
		t.Errorf("Faults = %v, want skipped stages recorded against the deadline", res.Faults)
	}

	if _, err := os.Stat(res.ReportPath); err != nil {
		t.Errorf("no report exported after deadline: %v", err)
	}
}

func TestRunInvalidRequestFails(t *testing.T) {
	sup := New(testRunConfig(), nil, nil)
	_, err := sup.Run(context.Background(), []byte("regions: [atlantis]\n"), t.TempDir())
	if err == nil {
		t.Fatal("Run() accepted an invalid request")
	}
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
}

func TestRunFailsWhenNoBriefProduced(t *testing.T) {
	factory := wrapping(func(ctx context.Context, node *plan.StageNode, in *stage.Inputs, next stage.Invoker) ([]state.Write, error) {
		if node.Kind == plan.KindMarketBrief {
			return nil, errors.Fatal(fmt.Errorf("summarizer rejected input"))
		}
		return next.Invoke(ctx, node, in)
	})
	sup := New(testRunConfig(), nil, nil).WithInvokerFactory(factory)

	_, err := sup.Run(context.Background(), []byte(marketOnlyRequest), t.TempDir())
	if err == nil {
		t.Fatal("Run() succeeded with every market brief degraded")
	}
	if !errors.Is(err, errors.ErrCriticalStageAbsent) {
		t.Errorf("error = %v, want ErrCriticalStageAbsent", err)
	}
	var re *errors.RunError
	if !errors.As(err, &re) {
		t.Fatalf("error type = %T, want *RunError", err)
	}
	if len(re.Faults) == 0 {
		t.Error("RunError carries no faults")
	}
}

func TestRunRemediationRecoversCoverage(t *testing.T) {
	var briefCalls atomic.Int32
	factory := wrapping(func(ctx context.Context, node *plan.StageNode, in *stage.Inputs, next stage.Invoker) ([]state.Write, error) {
		if node.Kind == plan.KindMarketBrief && briefCalls.Add(1) <= 2 {
			// First pass: claims without citations, so coverage fails.
			region, issue, _ := strings.Cut(node.Instance, "/")
			brief := research.Brief{
				Region:  region,
				Issue:   issue,
				Summary: "preliminary",
				Claims:  []research.Claim{{Text: "unattributed claim"}},
			}
			return []state.Write{{Key: plan.KeyMarketBrief, Value: brief}}, nil
		}
		return next.Invoke(ctx, node, in)
	})
	sup := New(testRunConfig(), nil, nil).WithInvokerFactory(factory)

	res, err := sup.Run(context.Background(), []byte(marketOnlyRequest), t.TempDir())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Metrics.CitationCoverage != 1 {
		t.Errorf("CitationCoverage = %v after remediation, want 1", res.Metrics.CitationCoverage)
	}
	if res.Degraded {
		t.Error("Degraded = true after a successful remediation pass")
	}

	// The exported document reflects the remediated content, not the first
	// draft.
	html, err := os.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if strings.Contains(string(html), "unattributed claim") {
		t.Error("report still contains the pre-remediation draft")
	}
}
