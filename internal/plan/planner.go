// Package plan turns a validated RunConfig into a static execution graph.
// The graph is an explicit node list with declared read/write key sets, so
// the shape of a run is auditable without invoking any collaborator.
package plan

import (
	"github.com/trendops/evreport/internal/errors"
	"github.com/trendops/evreport/internal/request"
	"github.com/trendops/evreport/internal/state"
)

// Stage kind names.
const (
	KindMarketCollect  = "market.collect"
	KindMarketIndex    = "market.index"
	KindMarketBrief    = "market.brief"
	KindCompanyCollect = "company.collect"
	KindCompanyIndex   = "company.index"
	KindCompanyDossier = "company.dossier"
	KindStockFetch     = "stock.fetch"
	KindStockSnapshot  = "stock.snapshot"
	KindChartRender    = "chart.render"
	KindReportOutline  = "report.outline"
	KindReportCompose  = "report.compose"
)

// State key names.
const (
	KeyConfig         = "config.run"
	KeyMarketDocs     = "market_docs"
	KeyMarketIndex    = "market_index"
	KeyMarketBrief    = "market_brief"
	KeyCompanyDocs    = "company_docs"
	KeyCompanyIndex   = "company_index"
	KeyCompanyDossier = "company_dossiers"
	KeyPriceSeries    = "price_series"
	KeyStockSnapshots = "stock_snapshots"
	KeyCharts         = "charts"
	KeyEvidenceMap    = "evidence_map"
	KeyErrors         = "errors"
	KeyOutline        = "outline"
	KeyDraftReport    = "draft_report"
	KeyReportPath     = "report_path"
	KeyQAMetrics      = "qa_metrics"
)

// Registry returns the state-key registry for a run. Every key a planned
// stage can read or write must appear here.
func Registry() map[string]state.Category {
	return map[string]state.Category{
		KeyConfig:         state.CategoryConfig,
		KeyMarketDocs:     state.CategoryFanOut,
		KeyMarketIndex:    state.CategoryFanOut,
		KeyMarketBrief:    state.CategoryFanOut,
		KeyCompanyDocs:    state.CategoryFanOut,
		KeyCompanyIndex:   state.CategoryFanOut,
		KeyCompanyDossier: state.CategoryFanOut,
		KeyPriceSeries:    state.CategoryFanOut,
		KeyStockSnapshots: state.CategoryFanOut,
		KeyCharts:         state.CategoryFanOut,
		KeyEvidenceMap:    state.CategoryAppend,
		KeyErrors:         state.CategoryAppend,
		KeyOutline:        state.CategorySingle,
		KeyDraftReport:    state.CategorySingle,
		KeyReportPath:     state.CategorySingle,
		KeyQAMetrics:      state.CategorySingle,
	}
}

// chartSpec describes one chart the planner may instantiate. when, if set,
// gates the chart on a config option so charts over figures this run does
// not compute are never planned.
type chartSpec struct {
	id      string
	dataKey string
	when    func(*request.RunConfig) bool
}

// chartCatalog lists candidate charts in priority order. Charts beyond the
// configured max, or whose data key has no producer, are omitted.
var chartCatalog = []chartSpec{
	{id: "market_overview", dataKey: KeyMarketBrief},
	{id: "price_performance", dataKey: KeyStockSnapshots},
	{id: "policy_timeline", dataKey: KeyMarketBrief},
	{id: "volatility_profile", dataKey: KeyStockSnapshots,
		when: func(cfg *request.RunConfig) bool { return cfg.Financials.IncludeVolatility }},
	{id: "segment_share", dataKey: KeyMarketBrief},
	{id: "valuation_multiples", dataKey: KeyStockSnapshots,
		when: func(cfg *request.RunConfig) bool { return cfg.Financials.IncludeMultiples }},
}

// Combo is one region x issue market research combination.
type Combo struct {
	Region string
	Issue  string
}

// Instance returns the fan-out instance identifier for this combo.
func (c Combo) Instance() string { return c.Region + "/" + c.Issue }

// Combos derives the market research combinations for a config, capped by
// the depth level. Regions iterate in request order with issues cycling
// inside each region.
func Combos(cfg *request.RunConfig) []Combo {
	limit := cfg.Depth.ComboCap()
	var out []Combo
	for _, region := range cfg.Regions {
		for _, issue := range cfg.Issues {
			if len(out) >= limit {
				return out
			}
			out = append(out, Combo{Region: region, Issue: issue})
		}
	}
	return out
}

// Plan deterministically builds the execution graph for a config.
// It fails with ErrUnsatisfiableGraph when a stage's required input key has
// no producer; chart instances with no data producer are omitted instead.
func Plan(cfg *request.RunConfig) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*StageNode)}

	add := func(kind, instance string, reads, writes []string, critical bool) *StageNode {
		name := kind
		if instance != "" {
			name = kind + ":" + instance
		}
		n := &StageNode{
			Name:     name,
			Kind:     kind,
			Instance: instance,
			Reads:    reads,
			Writes:   writes,
			Critical: critical,
		}
		g.Nodes[name] = n
		return n
	}

	// Market research always runs, one chain per region x issue combo.
	for _, combo := range Combos(cfg) {
		inst := combo.Instance()
		add(KindMarketCollect, inst, []string{KeyConfig}, []string{KeyMarketDocs}, false)
		add(KindMarketIndex, inst, []string{KeyMarketDocs}, []string{KeyMarketIndex}, false)
		add(KindMarketBrief, inst, []string{KeyMarketIndex}, []string{KeyMarketBrief, KeyEvidenceMap}, true)
	}

	// Company and stock chains run only when benchmarks were supplied.
	for _, ticker := range cfg.Benchmarks {
		add(KindCompanyCollect, ticker, []string{KeyConfig}, []string{KeyCompanyDocs}, false)
		add(KindCompanyIndex, ticker, []string{KeyCompanyDocs}, []string{KeyCompanyIndex}, false)
		add(KindCompanyDossier, ticker, []string{KeyCompanyIndex}, []string{KeyCompanyDossier, KeyEvidenceMap}, false)
		add(KindStockFetch, ticker, []string{KeyConfig}, []string{KeyPriceSeries}, false)
		add(KindStockSnapshot, ticker, []string{KeyConfig, KeyPriceSeries}, []string{KeyStockSnapshots}, false)
	}

	producers := producerIndex(g)

	// Chart stages run only when the output wants visual assets. A chart
	// whose data key has no producer under this config is omitted, not an
	// error.
	if cfg.WantsCharts() {
		count := 0
		for _, spec := range chartCatalog {
			if count >= cfg.Constraints.MaxCharts {
				break
			}
			if len(producers[spec.dataKey]) == 0 {
				continue
			}
			if spec.when != nil && !spec.when(cfg) {
				continue
			}
			add(KindChartRender, spec.id, []string{spec.dataKey}, []string{KeyCharts}, false)
			count++
		}
		producers = producerIndex(g)
	}

	// Compilation stages always run last. Optional inputs are attached only
	// when this config actually produces them.
	outlineReads := []string{KeyConfig, KeyMarketBrief}
	composeReads := []string{KeyConfig, KeyOutline, KeyMarketBrief, KeyEvidenceMap}
	for _, key := range []string{KeyCompanyDossier, KeyStockSnapshots, KeyCharts} {
		if len(producers[key]) > 0 {
			composeReads = append(composeReads, key)
		}
	}
	if len(producers[KeyCompanyDossier]) > 0 {
		outlineReads = append(outlineReads, KeyCompanyDossier)
	}
	add(KindReportOutline, "", outlineReads, []string{KeyOutline}, true)
	add(KindReportCompose, "", composeReads, []string{KeyDraftReport}, true)
	producers = producerIndex(g)

	if err := deriveEdges(g, producers); err != nil {
		return nil, err
	}
	if err := g.buildOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

// producerIndex maps each state key to the nodes that write it.
func producerIndex(g *Graph) map[string][]*StageNode {
	idx := make(map[string][]*StageNode)
	for _, n := range g.Nodes {
		for _, key := range n.Writes {
			idx[key] = append(idx[key], n)
		}
	}
	return idx
}

// deriveEdges connects every reader to the producers of its input keys.
// When a reader and some producers share a fan-out instance, it depends
// only on those; otherwise it depends on every producer of the key.
// Config keys need no producer. Any other unproduced input key makes the
// graph unsatisfiable.
func deriveEdges(g *Graph, producers map[string][]*StageNode) error {
	for _, n := range g.Nodes {
		deps := make(map[string]bool)
		for _, key := range n.Reads {
			if key == KeyConfig {
				continue
			}
			prods := producers[key]
			if len(prods) == 0 {
				return errors.NewPlanError(
					"input key has no producer under this config",
					errors.ErrUnsatisfiableGraph).WithNode(n.Name).WithKey(key)
			}

			matched := false
			for _, p := range prods {
				if n.Instance != "" && p.Instance == n.Instance {
					deps[p.Name] = true
					matched = true
				}
			}
			if !matched {
				for _, p := range prods {
					if p.Name != n.Name {
						deps[p.Name] = true
					}
				}
			}
		}
		n.DependsOn = sortedKeys(deps)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Deterministic edge order keeps plans reproducible across runs.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
