package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/trendops/evreport/internal/charts"
	"github.com/trendops/evreport/internal/compile"
	"github.com/trendops/evreport/internal/errors"
	"github.com/trendops/evreport/internal/finance"
	"github.com/trendops/evreport/internal/plan"
	"github.com/trendops/evreport/internal/request"
	"github.com/trendops/evreport/internal/research"
	"github.com/trendops/evreport/internal/stage"
	"github.com/trendops/evreport/internal/state"
)

// Collaborators routes stage invocations to the built-in research, finance,
// and chart collaborators. Each case receives only the stage's declared
// inputs and returns the writes for its declared output keys.
type Collaborators struct {
	// ChartDir is where chart.render stages place their rendered assets.
	ChartDir string
	// Agg, when set, lets report.compose surface the faults recorded so
	// far in the document's appendix.
	Agg *errors.Aggregator
}

// Invoke dispatches one stage node to its collaborator.
func (c *Collaborators) Invoke(ctx context.Context, node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	switch node.Kind {
	case plan.KindMarketCollect:
		return c.collectMarket(node, in)
	case plan.KindMarketIndex:
		return c.indexDocs(node, in, plan.KeyMarketDocs, plan.KeyMarketIndex)
	case plan.KindMarketBrief:
		return c.briefMarket(node, in)
	case plan.KindCompanyCollect:
		return c.collectCompany(node, in)
	case plan.KindCompanyIndex:
		return c.indexDocs(node, in, plan.KeyCompanyDocs, plan.KeyCompanyIndex)
	case plan.KindCompanyDossier:
		return c.dossier(node, in)
	case plan.KindStockFetch:
		return c.fetchStock(node, in)
	case plan.KindStockSnapshot:
		return c.snapshotStock(node, in)
	case plan.KindChartRender:
		return c.renderChart(node, in)
	case plan.KindReportOutline:
		return c.outline(node, in)
	case plan.KindReportCompose:
		return c.compose(node, in)
	default:
		return nil, errors.Fatal(fmt.Errorf("no collaborator for stage kind %q", node.Kind))
	}
}

func runConfigInput(in *stage.Inputs) (*request.RunConfig, error) {
	v, ok := in.Get(plan.KeyConfig)
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("run config not in state"))
	}
	cfg, ok := v.(*request.RunConfig)
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("run config has unexpected type %T", v))
	}
	return cfg, nil
}

func (c *Collaborators) collectMarket(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	cfg, err := runConfigInput(in)
	if err != nil {
		return nil, err
	}
	region, issue, ok := strings.Cut(node.Instance, "/")
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("malformed market instance %q", node.Instance))
	}
	docs := research.Collect(issue, region, cfg.Window.Start, cfg.Window.End, cfg.DataPrefs)
	return []state.Write{{Key: plan.KeyMarketDocs, Value: docs}}, nil
}

func (c *Collaborators) collectCompany(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	cfg, err := runConfigInput(in)
	if err != nil {
		return nil, err
	}
	docs := research.Collect(node.Instance, "global", cfg.Window.Start, cfg.Window.End, cfg.DataPrefs)
	return []state.Write{{Key: plan.KeyCompanyDocs, Value: docs}}, nil
}

func (c *Collaborators) indexDocs(node *plan.StageNode, in *stage.Inputs, docKey, indexKey string) ([]state.Write, error) {
	v, ok := in.Instance(docKey)
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("no %s entry for %s", docKey, node.Instance))
	}
	docs, ok := v.([]research.Doc)
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("%s for %s is unusable", docKey, node.Instance))
	}
	return []state.Write{{Key: indexKey, Value: research.BuildIndex(docs)}}, nil
}

func (c *Collaborators) briefMarket(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	idx, err := indexInput(in, plan.KeyMarketIndex, node.Instance)
	if err != nil {
		return nil, err
	}
	region, issue, _ := strings.Cut(node.Instance, "/")
	brief := research.Summarize(region, issue, idx.Query(issue+" "+region, 6))
	return []state.Write{
		{Key: plan.KeyMarketBrief, Value: brief},
		{Key: plan.KeyEvidenceMap, Value: research.SourceBatch{Instance: node.Instance, Refs: brief.Refs}},
	}, nil
}

func (c *Collaborators) dossier(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	idx, err := indexInput(in, plan.KeyCompanyIndex, node.Instance)
	if err != nil {
		return nil, err
	}
	d := research.SummarizeCompany(node.Instance, idx.Query(node.Instance+" strategy deliveries", 5))
	return []state.Write{
		{Key: plan.KeyCompanyDossier, Value: d},
		{Key: plan.KeyEvidenceMap, Value: research.SourceBatch{Instance: node.Instance, Refs: d.Refs}},
	}, nil
}

func indexInput(in *stage.Inputs, key, instance string) (*research.Index, error) {
	v, ok := in.Instance(key)
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("no %s entry for %s", key, instance))
	}
	idx, ok := v.(*research.Index)
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("%s for %s is unusable", key, instance))
	}
	return idx, nil
}

func (c *Collaborators) fetchStock(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	cfg, err := runConfigInput(in)
	if err != nil {
		return nil, err
	}
	series, err := finance.FetchSeries(node.Instance, cfg.Window.Start, cfg.Window.End)
	if err != nil {
		return nil, errors.Fatal(fmt.Errorf("fetch series for %s: %w", node.Instance, err))
	}
	return []state.Write{{Key: plan.KeyPriceSeries, Value: series}}, nil
}

func (c *Collaborators) snapshotStock(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	v, ok := in.Instance(plan.KeyPriceSeries)
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("no price series for %s", node.Instance))
	}
	series, ok := v.(finance.Series)
	if !ok {
		return nil, errors.Fatal(fmt.Errorf("price series for %s is unusable", node.Instance))
	}
	opts := financialsFor(in)
	snap := finance.Compute(series, opts.IncludeVolatility, opts.IncludeMultiples, opts.IncludeEvents)
	return []state.Write{{Key: plan.KeyStockSnapshots, Value: snap}}, nil
}

// financialsFor reads the financial options when the config is among the
// stage's inputs, defaulting to the basic figures otherwise.
func financialsFor(in *stage.Inputs) request.FinancialsOptions {
	if v, ok := in.Get(plan.KeyConfig); ok {
		if cfg, ok := v.(*request.RunConfig); ok {
			return cfg.Financials
		}
	}
	return request.FinancialsOptions{}
}

var chartTitles = map[string]string{
	"market_overview":     "Market Overview",
	"price_performance":   "Price Performance",
	"policy_timeline":     "Policy Timeline",
	"volatility_profile":  "Volatility Profile",
	"segment_share":       "Segment Share",
	"valuation_multiples": "Valuation Multiples",
}

func (c *Collaborators) renderChart(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	if len(node.Reads) == 0 {
		return nil, errors.Fatal(fmt.Errorf("chart %s declares no data key", node.Instance))
	}
	points := chartPoints(node.Instance, node.Reads[0], in.Entries(node.Reads[0]))
	title := chartTitles[node.Instance]
	if title == "" {
		title = node.Instance
	}
	asset, err := charts.Render(c.ChartDir, node.Instance, title, points)
	if err != nil {
		return nil, errors.Fatal(fmt.Errorf("render %s: %w", node.Instance, err))
	}
	return []state.Write{{Key: plan.KeyCharts, Value: asset}}, nil
}

// chartPoints derives the data series for one chart from the entries of its
// data key. Placeholder entries from degraded producers are skipped.
func chartPoints(chartID, dataKey string, entries []state.Entry) []charts.Point {
	var points []charts.Point
	for _, e := range entries {
		switch dataKey {
		case plan.KeyStockSnapshots:
			snap, ok := e.Value.(finance.Snapshot)
			if !ok {
				continue
			}
			value := snap.PeriodReturnPct
			switch chartID {
			case "volatility_profile":
				value = snap.VolatilityPct
			case "valuation_multiples":
				value = snap.PERatio
			}
			points = append(points, charts.Point{Label: snap.Ticker, Value: value})
		case plan.KeyMarketBrief:
			brief, ok := e.Value.(research.Brief)
			if !ok {
				continue
			}
			points = append(points, charts.Point{Label: e.Instance, Value: float64(len(brief.Claims))})
		}
	}
	sort.Slice(points, func(a, b int) bool { return points[a].Label < points[b].Label })
	return points
}

func (c *Collaborators) outline(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	cfg, err := runConfigInput(in)
	if err != nil {
		return nil, err
	}
	hasCompanies := false
	for _, e := range in.Entries(plan.KeyCompanyDossier) {
		if _, ok := e.Value.(research.Dossier); ok {
			hasCompanies = true
			break
		}
	}
	sections := compile.Outline(cfg, hasCompanies, cfg.WantsCompanyStages())
	return []state.Write{{Key: plan.KeyOutline, Value: sections}}, nil
}

func (c *Collaborators) compose(node *plan.StageNode, in *stage.Inputs) ([]state.Write, error) {
	cfg, err := runConfigInput(in)
	if err != nil {
		return nil, err
	}
	briefs, dossiers, snaps, assets := collectContent(in)

	sections, _ := outlineValue(in.Get(plan.KeyOutline))
	if len(sections) == 0 {
		sections = compile.Outline(cfg, len(dossiers) > 0, len(snaps) > 0)
	}

	var faults []errors.Fault
	var degraded []string
	if c.Agg != nil {
		faults = c.Agg.Faults()
		degraded = c.Agg.DegradedStages()
	}

	var batches []any
	if v, ok := in.Get(plan.KeyEvidenceMap); ok {
		batches, _ = v.([]any)
	}

	report, err := compile.Compose(cfg, sections, briefs, dossiers, snaps, assets,
		evidenceSources(batches), faults, degraded)
	if err != nil {
		return nil, errors.Fatal(err)
	}
	return []state.Write{{Key: plan.KeyDraftReport, Value: report}}, nil
}

func outlineValue(v any, ok bool) ([]compile.Section, bool) {
	if !ok {
		return nil, false
	}
	sections, ok := v.([]compile.Section)
	return sections, ok
}

// evidenceSources folds the evidence map's appended batches into one
// reference list per producing instance. A later batch replaces an earlier
// one for the same instance, so remediated stages supersede their first
// contribution.
func evidenceSources(batches []any) map[string][]research.EvidenceRef {
	out := make(map[string][]research.EvidenceRef, len(batches))
	for _, v := range batches {
		if b, ok := v.(research.SourceBatch); ok {
			out[b.Instance] = b.Refs
		}
	}
	return out
}

// entrySource is the common read surface of stage inputs and state
// snapshots, so content collection works in both contexts.
type entrySource interface {
	Entries(key string) []state.Entry
}

// collectContent gathers all real content values from fan-out keys,
// skipping placeholders, sorted by instance for stable reference numbering.
func collectContent(src entrySource) ([]research.Brief, []research.Dossier, []finance.Snapshot, []charts.Asset) {
	var briefs []research.Brief
	for _, e := range sortedEntries(src, plan.KeyMarketBrief) {
		if b, ok := e.Value.(research.Brief); ok {
			briefs = append(briefs, b)
		}
	}
	var dossiers []research.Dossier
	for _, e := range sortedEntries(src, plan.KeyCompanyDossier) {
		if d, ok := e.Value.(research.Dossier); ok {
			dossiers = append(dossiers, d)
		}
	}
	var snaps []finance.Snapshot
	for _, e := range sortedEntries(src, plan.KeyStockSnapshots) {
		if s, ok := e.Value.(finance.Snapshot); ok {
			snaps = append(snaps, s)
		}
	}
	var assets []charts.Asset
	for _, e := range sortedEntries(src, plan.KeyCharts) {
		if a, ok := e.Value.(charts.Asset); ok {
			assets = append(assets, a)
		}
	}
	return briefs, dossiers, snaps, assets
}

func sortedEntries(src entrySource, key string) []state.Entry {
	entries := append([]state.Entry(nil), src.Entries(key)...)
	sort.Slice(entries, func(a, b int) bool { return entries[a].Instance < entries[b].Instance })
	return entries
}
