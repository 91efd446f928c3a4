// Package supervisor owns the whole lifecycle of a single report run:
// parse, plan, execute, quality-gate, remediate once if needed, and hand
// the finished artifact back to the caller. A run that loses stages
// degrades; it fails outright only when the request is invalid, the graph
// is unsatisfiable, or no market brief at all could be produced.
package supervisor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/trendops/evreport/internal/compile"
	"github.com/trendops/evreport/internal/config"
	"github.com/trendops/evreport/internal/errors"
	"github.com/trendops/evreport/internal/event"
	"github.com/trendops/evreport/internal/logging"
	"github.com/trendops/evreport/internal/plan"
	"github.com/trendops/evreport/internal/qa"
	"github.com/trendops/evreport/internal/request"
	"github.com/trendops/evreport/internal/scheduler"
	"github.com/trendops/evreport/internal/stage"
	"github.com/trendops/evreport/internal/state"
)

// InvokerFactory builds the stage invoker for one run, scoped to the run's
// output directory and fault aggregator.
type InvokerFactory func(runDir string, agg *errors.Aggregator) stage.Invoker

// RunResult is the outcome of a completed (possibly degraded) run.
type RunResult struct {
	RunID        string          `json:"run_id"`
	ReportPath   string          `json:"report_path"`
	EvidencePath string          `json:"evidence_path"`
	Metrics      qa.Metrics      `json:"metrics"`
	Faults       []errors.Fault  `json:"faults,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`
	Degraded     bool            `json:"degraded"`
	State        *state.Snapshot `json:"-"`
}

// Supervisor drives report runs end to end.
type Supervisor struct {
	cfg        *config.Config
	log        *logging.Logger
	bus        *event.Bus
	invokerFor InvokerFactory
}

// New creates a supervisor using the built-in collaborators. log may be
// nil; each run then opens its own log file under the run directory when
// logging is enabled.
func New(cfg *config.Config, log *logging.Logger, bus *event.Bus) *Supervisor {
	return &Supervisor{
		cfg: cfg,
		log: log,
		bus: bus,
		invokerFor: func(runDir string, agg *errors.Aggregator) stage.Invoker {
			return &Collaborators{ChartDir: runDir, Agg: agg}
		},
	}
}

// WithInvokerFactory replaces the collaborator set, for callers that wrap
// or substitute individual collaborators.
func (s *Supervisor) WithInvokerFactory(f InvokerFactory) *Supervisor {
	s.invokerFor = f
	return s
}

// Run executes one report request from raw bytes to exported artifact.
// Artifacts land under baseDir (resolved through the output config) in a
// per-run directory named after the run ID.
func (s *Supervisor) Run(ctx context.Context, raw []byte, baseDir string) (*RunResult, error) {
	runCfg, err := request.Parse(raw)
	if err != nil {
		return nil, err
	}
	g, err := plan.Plan(runCfg)
	if err != nil {
		return nil, err
	}

	runDir := filepath.Join(s.cfg.Output.ResolveOutputDir(baseDir), runCfg.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errors.NewRunError("create run directory", err).WithRunID(runCfg.RunID)
	}

	log := s.log
	if log == nil && s.cfg.Logging.Enabled {
		if l, lerr := logging.NewLogger(runDir, s.cfg.Logging.Level); lerr == nil {
			log = l
			defer l.Close()
		}
	}
	if log == nil {
		log = logging.NopLogger()
	}
	log = log.WithRun(runCfg.RunID)
	log.Info("run planned", "stages", len(g.Nodes), "depth", string(runCfg.Depth))

	agg := errors.NewAggregator()
	store := state.NewStore(plan.Registry(), map[string]any{plan.KeyConfig: runCfg})
	runner := stage.NewRunner(s.invokerFor(runDir, agg), log,
		s.cfg.Stage.MaxAttempts, s.cfg.Stage.BackoffBase(), s.cfg.Stage.StageTimeout())
	sched := scheduler.New(store, runner, agg, log, s.bus,
		s.cfg.Scheduler.Parallelism, s.cfg.Scheduler.StaleRequeueLimit)

	runCtx := ctx
	if d := s.cfg.Scheduler.RunTimeout(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	execErr := sched.Execute(runCtx, g)
	hitDeadline := errors.Is(execErr, errors.ErrDeadlineExceeded)
	if execErr != nil && !hitDeadline {
		return nil, errors.NewRunError("run aborted", execErr).
			WithRunID(runCfg.RunID).WithFaults(agg.Faults())
	}

	snap := store.Snapshot()
	if qa.MissingCriticalContent(snap) && !hitDeadline {
		// Nothing to ground the report on. A deadline run ships whatever
		// it has instead; the degraded flag and faults tell the story.
		return nil, errors.NewRunError("no market brief was produced", errors.ErrCriticalStageAbsent).
			WithRunID(runCfg.RunID).WithFaults(agg.Faults())
	}

	gate := qa.NewGate(s.cfg.QA)
	verdict := gate.Evaluate(snap)
	remediated := false
	if !hitDeadline {
		for pass := 0; pass < s.cfg.QA.MaxRemediationPasses && !verdict.Pass && len(verdict.RetryStages) > 0; pass++ {
			log.Info("remediation pass", "pass", pass+1, "stages", len(verdict.RetryStages))
			sched.Rerun(runCtx, g, verdict.RetryStages)
			remediated = true
			verdict = gate.Evaluate(store.Snapshot())
		}
	}

	snap = store.Snapshot()
	report, ok := draftReport(snap)
	if !ok || remediated {
		// Compose was skipped by the deadline, or remediation refreshed
		// content after the draft was assembled. Rebuild the document from
		// current state; the compose stage itself never re-runs.
		report, err = composeFromState(runCfg, snap, agg)
		if err != nil {
			return nil, errors.NewRunError("compose report", err).
				WithRunID(runCfg.RunID).WithFaults(agg.Faults())
		}
	}

	reportPath, err := compile.Export(runDir, report)
	if err != nil {
		return nil, errors.NewRunError("export report", err).WithRunID(runCfg.RunID)
	}
	evidencePath, err := compile.WriteEvidence(runDir, report.Evidence)
	if err != nil {
		return nil, errors.NewRunError("write evidence map", err).WithRunID(runCfg.RunID)
	}

	docOK := compile.PostQC(reportPath, runCfg.Constraints.MinRefCount, report.Evidence)
	metrics := qa.MetricsFor(verdict, docOK)

	finalWrites := []state.Write{
		{Key: plan.KeyReportPath, Value: reportPath},
		{Key: plan.KeyQAMetrics, Value: metrics},
	}
	if err := store.Merge(finalWrites, "run.supervisor", "", nil, store.Version()); err != nil {
		log.Error("failed to record run outcome in state", "error", err)
	}

	degradedRun := hitDeadline || !verdict.Pass || agg.Len() > 0
	if s.bus != nil {
		s.bus.Publish(event.NewRunFinishedEvent(runCfg.RunID, reportPath, degradedRun))
	}
	log.Info("run finished",
		"report", reportPath,
		"degraded", degradedRun,
		"coverage", metrics.CitationCoverage,
		"faults", agg.Len())

	return &RunResult{
		RunID:        runCfg.RunID,
		ReportPath:   reportPath,
		EvidencePath: evidencePath,
		Metrics:      metrics,
		Faults:       agg.Faults(),
		Warnings:     runCfg.Warnings,
		Degraded:     degradedRun,
		State:        store.Snapshot(),
	}, nil
}

func draftReport(snap *state.Snapshot) (compile.Report, bool) {
	v, ok := snap.Get(plan.KeyDraftReport)
	if !ok {
		return compile.Report{}, false
	}
	r, ok := v.(compile.Report)
	return r, ok
}

// composeFromState assembles the report document directly from run state,
// used when the draft from the compose stage is missing or outdated.
func composeFromState(cfg *request.RunConfig, snap *state.Snapshot, agg *errors.Aggregator) (compile.Report, error) {
	briefs, dossiers, snaps, assets := collectContent(snap)
	sections, _ := outlineValue(snap.Get(plan.KeyOutline))
	if len(sections) == 0 {
		sections = compile.Outline(cfg, len(dossiers) > 0, len(snaps) > 0)
	}
	return compile.Compose(cfg, sections, briefs, dossiers, snaps, assets,
		evidenceSources(snap.Appended(plan.KeyEvidenceMap)),
		agg.Faults(), agg.DegradedStages())
}
