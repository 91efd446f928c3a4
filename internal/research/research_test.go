package research

import (
	"testing"
)

func TestCollectDeterministic(t *testing.T) {
	a := Collect("subsidy", "eu", "2026-01-01", "2026-06-30", nil)
	b := Collect("subsidy", "eu", "2026-01-01", "2026-06-30", nil)

	if len(a) == 0 {
		t.Fatal("Collect() returned no documents")
	}
	if len(a) != len(b) {
		t.Fatalf("repeated Collect() returned %d then %d docs", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("doc %d differs across identical calls", i)
		}
	}

	other := Collect("subsidy", "china", "2026-01-01", "2026-06-30", nil)
	if len(other) > 0 && other[0].ID == a[0].ID {
		t.Error("different regions produced identical document IDs")
	}
}

func TestCollectRespectsDataPrefs(t *testing.T) {
	docs := Collect("charging", "us", "2026-01-01", "2026-06-30", []string{"policy-monitor"})
	for _, d := range docs {
		if d.Source != "policy-monitor" {
			t.Errorf("doc %s from source %q, want preferred policy-monitor", d.ID, d.Source)
		}
	}
}

func TestIndexQueryRanksByRelevance(t *testing.T) {
	docs := []Doc{
		{ID: "d1", Title: "battery supply outlook", Text: "battery battery supply constraints"},
		{ID: "d2", Title: "charging networks", Text: "charging points expansion"},
		{ID: "d3", Title: "battery pricing", Text: "pack prices and battery demand"},
	}
	idx := BuildIndex(docs)

	if idx.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", idx.Len())
	}

	got := idx.Query("battery", 2)
	if len(got) != 2 {
		t.Fatalf("Query() returned %d passages, want 2", len(got))
	}
	if got[0].Doc.ID != "d1" {
		t.Errorf("top passage = %s, want d1 (highest term frequency)", got[0].Doc.ID)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v then %v", got[0].Score, got[1].Score)
	}

	if miss := idx.Query("hydrogen", 5); len(miss) != 0 {
		t.Errorf("Query() for absent term returned %d passages, want 0", len(miss))
	}
}

func TestSummarizeClaimsAllCited(t *testing.T) {
	docs := Collect("subsidy", "eu", "2026-01-01", "2026-06-30", nil)
	idx := BuildIndex(docs)
	passages := idx.Query("subsidy", 4)

	brief := Summarize("eu", "subsidy", passages)

	if len(brief.Claims) == 0 {
		t.Fatal("Summarize() produced no claims")
	}
	if len(brief.Claims) != len(brief.Refs) {
		t.Errorf("got %d claims and %d refs, want matching counts", len(brief.Claims), len(brief.Refs))
	}
	for i, c := range brief.Claims {
		if len(c.Refs) == 0 {
			t.Errorf("claim %d has no evidence refs", i)
		}
	}
	for i, r := range brief.Refs {
		if r.N != i+1 {
			t.Errorf("ref %d numbered %d, want local numbering from 1", i, r.N)
		}
		if r.Section != "market" {
			t.Errorf("ref %d section = %q, want market", i, r.Section)
		}
	}
}

func TestSummarizeEmptyPassages(t *testing.T) {
	brief := Summarize("eu", "subsidy", nil)
	if len(brief.Claims) != 0 || brief.Summary == "" {
		t.Errorf("empty-input brief = %+v, want no claims with explanatory summary", brief)
	}
}

func TestSummarizeCompanyTagsTicker(t *testing.T) {
	docs := Collect("TSLA deliveries", "global", "2026-01-01", "2026-06-30", nil)
	idx := BuildIndex(docs)
	d := SummarizeCompany("TSLA", idx.Query("deliveries", 3))

	if d.Ticker != "TSLA" {
		t.Errorf("Ticker = %q, want TSLA", d.Ticker)
	}
	for i, r := range d.Refs {
		if r.Ticker != "TSLA" {
			t.Errorf("ref %d ticker = %q, want TSLA", i, r.Ticker)
		}
		if r.Section != "companies" {
			t.Errorf("ref %d section = %q, want companies", i, r.Section)
		}
	}
}
