// Package qa implements the post-hoc quality gate. It inspects an
// immutable state snapshot, computes citation coverage and numeric
// consistency, and decides whether the run may proceed to compilation
// directly, needs one remediation pass, or ships degraded.
package qa

import (
	"fmt"
	"math"
	"slices"

	"github.com/trendops/evreport/internal/config"
	"github.com/trendops/evreport/internal/finance"
	"github.com/trendops/evreport/internal/plan"
	"github.com/trendops/evreport/internal/research"
	"github.com/trendops/evreport/internal/stage"
	"github.com/trendops/evreport/internal/state"
)

// Metrics is the qa_metrics object surfaced alongside the final artifact.
type Metrics struct {
	CitationCoverage  float64 `json:"citation_coverage"`
	NumberConsistency bool    `json:"number_consistency"`
	DocumentOK        bool    `json:"document_ok"`
}

// Verdict is the gate's decision for one evaluation pass.
type Verdict struct {
	CitationCoverage  float64
	NumberConsistency bool
	// Pass is true when every threshold was met.
	Pass bool
	// RetryStages names the content stages a remediation pass should
	// re-run. Compilation stages are never retried.
	RetryStages []string
	// Issues lists human-readable findings; mismatches are flagged here,
	// never silently corrected.
	Issues []string
}

// Gate evaluates run state against configured quality thresholds.
type Gate struct {
	cfg config.QAConfig
}

// NewGate creates a quality gate with the given thresholds.
func NewGate(cfg config.QAConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate computes the verdict for a state snapshot. Coverage counts a
// claim as cited when it carries at least one evidence reference; the
// verdict passes at exactly the threshold. Consistency recomputes each
// stock snapshot's period return from its price series and flags any
// disagreement beyond the configured tolerance.
func (g *Gate) Evaluate(snap *state.Snapshot) Verdict {
	v := Verdict{NumberConsistency: true}
	retry := make(map[string]bool)

	total, cited := 0, 0
	countClaims := func(claims []research.Claim) (int, int) {
		c := 0
		for _, cl := range claims {
			if len(cl.Refs) > 0 {
				c++
			}
		}
		return len(claims), c
	}

	for _, e := range snap.Entries(plan.KeyMarketBrief) {
		stageName := plan.KindMarketBrief + ":" + e.Instance
		brief, ok := e.Value.(research.Brief)
		if !ok {
			// Placeholder from a degraded stage; a remediation candidate.
			retry[stageName] = true
			v.Issues = append(v.Issues, fmt.Sprintf("market brief %s is placeholder content", e.Instance))
			continue
		}
		t, c := countClaims(brief.Claims)
		total += t
		cited += c
		if c < t {
			retry[stageName] = true
		}
	}

	for _, e := range snap.Entries(plan.KeyCompanyDossier) {
		stageName := plan.KindCompanyDossier + ":" + e.Instance
		dossier, ok := e.Value.(research.Dossier)
		if !ok {
			retry[stageName] = true
			v.Issues = append(v.Issues, fmt.Sprintf("company dossier %s is placeholder content", e.Instance))
			continue
		}
		t, c := countClaims(dossier.Claims)
		total += t
		cited += c
		if c < t {
			retry[stageName] = true
		}
	}

	if total == 0 {
		v.CitationCoverage = 1
	} else {
		v.CitationCoverage = float64(cited) / float64(total)
	}

	// Numeric consistency: every reported period return must agree with a
	// recomputation from the series it was derived from.
	for _, e := range snap.Entries(plan.KeyStockSnapshots) {
		stockSnap, ok := e.Value.(finance.Snapshot)
		if !ok {
			continue // placeholder, already recorded as a fault
		}
		series, ok := snap.Instance(plan.KeyPriceSeries, e.Instance)
		if !ok {
			continue
		}
		s, ok := series.(finance.Series)
		if !ok {
			continue
		}
		recomputed := finance.PeriodReturn(s)
		if diff := math.Abs(stockSnap.PeriodReturnPct - recomputed); diff > g.cfg.ConsistencyTolerancePP {
			v.NumberConsistency = false
			retry[plan.KindStockSnapshot+":"+e.Instance] = true
			v.Issues = append(v.Issues, fmt.Sprintf(
				"%s period return %.2f%% disagrees with recomputed %.2f%% by %.2f pp",
				e.Instance, stockSnap.PeriodReturnPct, recomputed, diff))
		}
	}

	v.Pass = v.CitationCoverage >= g.cfg.CoverageThreshold && v.NumberConsistency
	if !v.Pass {
		for name := range retry {
			v.RetryStages = append(v.RetryStages, name)
		}
		slices.Sort(v.RetryStages)
	}
	return v
}

// MetricsFor folds a verdict and the post-export document check into the
// final qa_metrics object.
func MetricsFor(v Verdict, documentOK bool) Metrics {
	return Metrics{
		CitationCoverage:  round4(v.CitationCoverage),
		NumberConsistency: v.NumberConsistency,
		DocumentOK:        documentOK && v.Pass,
	}
}

// MissingCriticalContent reports whether the snapshot lacks any real
// market brief. Market brief production is critical: its absence blocks
// compilation even though single degraded instances do not.
func MissingCriticalContent(snap *state.Snapshot) bool {
	for _, e := range snap.Entries(plan.KeyMarketBrief) {
		if _, isPlaceholder := e.Value.(stage.Placeholder); !isPlaceholder {
			return false
		}
	}
	return true
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
