package compile

import (
	"os"
	"strings"
	"testing"

	"github.com/trendops/evreport/internal/finance"
	"github.com/trendops/evreport/internal/request"
	"github.com/trendops/evreport/internal/research"
)

func testConfig() *request.RunConfig {
	return &request.RunConfig{
		RunID:  "run-compile1",
		Window: request.TimeWindow{Start: "2026-01-01", End: "2026-06-30"},
		Output: request.OutputSpec{
			Format:   "html",
			Language: "en",
			Sections: []string{"market", "companies", "stocks", "outlook"},
		},
		Constraints: request.Constraints{MaxPages: 12, MaxCharts: 6, MinRefCount: 2},
	}
}

func sampleBrief(region string, n int) research.Brief {
	b := research.Brief{Region: region, Issue: "subsidy", Summary: "Summary for " + region}
	for i := 1; i <= n; i++ {
		b.Refs = append(b.Refs, research.EvidenceRef{
			Section: "market", N: i,
			Title: region + " source", URL: "https://example.com/" + region, Date: "2026-02-01",
		})
		b.Claims = append(b.Claims, research.Claim{Text: "Claim in " + region, Refs: []int{i}})
	}
	return b
}

func TestOutlineDropsUnproducedSections(t *testing.T) {
	cfg := testConfig()

	full := Outline(cfg, true, true)
	if len(full) != 4 {
		t.Errorf("got %d sections with all content, want 4", len(full))
	}

	marketOnly := Outline(cfg, false, false)
	if len(marketOnly) != 2 {
		t.Fatalf("got %d sections for a market-only run, want market and outlook", len(marketOnly))
	}
	for _, s := range marketOnly {
		if s.ID == "companies" || s.ID == "stocks" {
			t.Errorf("section %s present without content producers", s.ID)
		}
	}
}

func TestComposeRenumbersEvidenceGlobally(t *testing.T) {
	cfg := testConfig()
	briefs := []research.Brief{sampleBrief("eu", 2), sampleBrief("china", 2)}
	dossier := research.Dossier{
		Ticker:   "TSLA",
		Overview: "TSLA overview",
		Claims:   []research.Claim{{Text: "TSLA claim", Refs: []int{1}}},
		Refs: []research.EvidenceRef{{
			Section: "companies", N: 1, Title: "TSLA source",
			URL: "https://example.com/tsla", Date: "2026-03-01", Ticker: "TSLA",
		}},
	}

	report, err := Compose(cfg, Outline(cfg, true, false), briefs,
		[]research.Dossier{dossier}, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	// 2 + 2 + 1 refs, numbered 1..5 in section order.
	if len(report.Evidence) != 5 {
		t.Fatalf("got %d evidence entries, want 5", len(report.Evidence))
	}
	for i, ref := range report.Evidence {
		if ref.N != i+1 {
			t.Errorf("evidence %d numbered %d, want sequential global numbering", i, ref.N)
		}
	}
	// The dossier's local ref 1 became global ref 5.
	if !strings.Contains(report.HTML, "TSLA claim<sup>[5]</sup>") {
		t.Error("dossier claim does not cite its renumbered global reference")
	}

	if report.ClaimCount != 5 || report.CitedCount != 5 {
		t.Errorf("ClaimCount/CitedCount = %d/%d, want 5/5", report.ClaimCount, report.CitedCount)
	}
}

func TestComposeResolvesRefsFromEvidenceMap(t *testing.T) {
	cfg := testConfig()
	b := sampleBrief("eu", 1)
	sources := map[string][]research.EvidenceRef{
		"eu/subsidy": {{
			Section: "market", N: 1, Title: "eu source (revised)",
			URL: "https://example.com/eu-revised", Date: "2026-02-15",
		}},
	}

	report, err := Compose(cfg, Outline(cfg, false, false),
		[]research.Brief{b}, nil, nil, nil, sources, nil, nil)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	if len(report.Evidence) != 1 {
		t.Fatalf("got %d evidence entries, want 1", len(report.Evidence))
	}
	if report.Evidence[0].URL != "https://example.com/eu-revised" {
		t.Errorf("evidence URL = %q, want the evidence map entry, not the embedded ref", report.Evidence[0].URL)
	}
	if !strings.Contains(report.HTML, "eu source (revised)") {
		t.Error("evidence list does not show the mapped source")
	}

	// An instance the map does not cover falls back to its embedded refs.
	other, err := Compose(cfg, Outline(cfg, false, false),
		[]research.Brief{sampleBrief("china", 1)}, nil, nil, nil, sources, nil, nil)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if len(other.Evidence) != 1 || other.Evidence[0].URL != "https://example.com/china" {
		t.Errorf("uncovered instance evidence = %+v, want the embedded china ref", other.Evidence)
	}
}

func TestComposeCountsUncitedClaims(t *testing.T) {
	cfg := testConfig()
	b := sampleBrief("eu", 1)
	b.Claims = append(b.Claims, research.Claim{Text: "Unsupported claim"})

	report, err := Compose(cfg, Outline(cfg, false, false), []research.Brief{b}, nil, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if report.ClaimCount != 2 || report.CitedCount != 1 {
		t.Errorf("ClaimCount/CitedCount = %d/%d, want 2/1", report.ClaimCount, report.CitedCount)
	}
}

func TestComposeMarksDegradedRuns(t *testing.T) {
	cfg := testConfig()
	report, err := Compose(cfg, Outline(cfg, false, false),
		[]research.Brief{sampleBrief("eu", 1)}, nil, nil, nil, nil, nil,
		[]string{"company.dossier:BYDDF"})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !strings.Contains(report.HTML, "Degraded run") {
		t.Error("degraded banner missing from composed report")
	}
}

func TestComposeStockTable(t *testing.T) {
	cfg := testConfig()
	snaps := []finance.Snapshot{{Ticker: "TSLA", PeriodReturnPct: 12.34, VolatilityPct: 3.21, LastClose: 250.5}}

	report, err := Compose(cfg, Outline(cfg, false, true),
		[]research.Brief{sampleBrief("eu", 1)}, nil, snaps, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	for _, want := range []string{"TSLA", "12.34%", "3.21%"} {
		if !strings.Contains(report.HTML, want) {
			t.Errorf("stock table missing %q", want)
		}
	}
}

func TestExportAndPostQC(t *testing.T) {
	cfg := testConfig()
	report, err := Compose(cfg, Outline(cfg, false, false),
		[]research.Brief{sampleBrief("eu", 3)}, nil, nil, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	dir := t.TempDir()
	path, err := Export(dir, report)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("exported report missing: %v", err)
	}

	if !PostQC(path, 2, report.Evidence) {
		t.Error("PostQC() = false for a complete document, want true")
	}
	if PostQC(path, 10, report.Evidence) {
		t.Error("PostQC() = true despite too few evidence refs")
	}
	if PostQC(dir+"/missing.html", 0, report.Evidence) {
		t.Error("PostQC() = true for a missing file")
	}
}

func TestWriteEvidenceJSONL(t *testing.T) {
	dir := t.TempDir()
	refs := sampleBrief("eu", 3).Refs

	path, err := WriteEvidence(dir, refs)
	if err != nil {
		t.Fatalf("WriteEvidence() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading evidence file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Errorf("got %d evidence lines, want 3", len(lines))
	}
	if !strings.Contains(lines[0], `"section":"market"`) {
		t.Errorf("line 0 = %s, want JSON with section field", lines[0])
	}
}
