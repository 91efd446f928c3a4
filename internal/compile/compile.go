// Package compile assembles merged run content into the final report
// artifact. Composition renumbers evidence references globally across all
// contributing sections, writes the document, and runs a post-export check
// that feeds qa_metrics.document_ok.
package compile

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	"github.com/trendops/evreport/internal/charts"
	"github.com/trendops/evreport/internal/errors"
	"github.com/trendops/evreport/internal/finance"
	"github.com/trendops/evreport/internal/request"
	"github.com/trendops/evreport/internal/research"
)

// Section is one planned report section.
type Section struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Report is the composed document before export.
type Report struct {
	Title      string                 `json:"title"`
	HTML       string                 `json:"html"`
	Evidence   []research.EvidenceRef `json:"evidence"`
	ClaimCount int                    `json:"claim_count"`
	CitedCount int                    `json:"cited_count"`
}

// Outline derives the section list for a run. Sections whose content this
// run does not produce are dropped from the request's section list.
func Outline(cfg *request.RunConfig, hasCompanies, hasStocks bool) []Section {
	titles := map[string]string{
		"market":    "Market Overview",
		"companies": "Company Dossiers",
		"stocks":    "Stock Snapshots",
		"outlook":   "Outlook",
	}
	var out []Section
	for _, id := range cfg.Output.Sections {
		if (id == "companies" && !hasCompanies) || (id == "stocks" && !hasStocks) {
			continue
		}
		title, ok := titles[id]
		if !ok {
			title = strings.ToUpper(id[:1]) + id[1:]
		}
		out = append(out, Section{ID: id, Title: title})
	}
	return out
}

// claimView is one claim with globally renumbered reference markers.
type claimView struct {
	Text string
	Refs []int
}

type briefView struct {
	Heading string
	Summary string
	Claims  []claimView
}

type composeData struct {
	Title     string
	Language  string
	Sections  []Section
	Briefs    []briefView
	Dossiers  []briefView
	Snapshots []finance.Snapshot
	Charts    []charts.Asset
	Evidence  []research.EvidenceRef
	Faults    []errors.Fault
	Degraded  []string
}

// Compose assembles the report document. Claims keep their citation
// markers; references are renumbered globally in the order their sections
// appear so the evidence list reads top to bottom. sources is the run's
// merged evidence map keyed by producing instance; it is the authoritative
// reference list for each section, with the refs embedded in the section
// content as fallback for instances the map does not cover.
func Compose(cfg *request.RunConfig, outline []Section, briefs []research.Brief,
	dossiers []research.Dossier, snaps []finance.Snapshot, assets []charts.Asset,
	sources map[string][]research.EvidenceRef,
	faults []errors.Fault, degraded []string) (Report, error) {

	data := composeData{
		Title:     fmt.Sprintf("EV Market Trend Report (%s to %s)", cfg.Window.Start, cfg.Window.End),
		Language:  cfg.Output.Language,
		Sections:  outline,
		Snapshots: snaps,
		Charts:    assets,
		Faults:    faults,
		Degraded:  degraded,
	}

	report := Report{Title: data.Title}
	next := 1

	renumber := func(claims []research.Claim, refs []research.EvidenceRef) []claimView {
		remap := make(map[int]int, len(refs))
		for _, r := range refs {
			remap[r.N] = next
			r.N = next
			next++
			report.Evidence = append(report.Evidence, r)
		}
		views := make([]claimView, 0, len(claims))
		for _, c := range claims {
			cv := claimView{Text: c.Text}
			for _, local := range c.Refs {
				if global, ok := remap[local]; ok {
					cv.Refs = append(cv.Refs, global)
				}
			}
			report.ClaimCount++
			if len(cv.Refs) > 0 {
				report.CitedCount++
			}
			views = append(views, cv)
		}
		return views
	}

	refsFor := func(instance string, embedded []research.EvidenceRef) []research.EvidenceRef {
		if refs, ok := sources[instance]; ok {
			return refs
		}
		return embedded
	}

	for _, b := range briefs {
		data.Briefs = append(data.Briefs, briefView{
			Heading: fmt.Sprintf("%s / %s", strings.ToUpper(b.Region), b.Issue),
			Summary: b.Summary,
			Claims:  renumber(b.Claims, refsFor(b.Region+"/"+b.Issue, b.Refs)),
		})
	}
	for _, d := range dossiers {
		data.Dossiers = append(data.Dossiers, briefView{
			Heading: d.Ticker,
			Summary: d.Overview,
			Claims:  renumber(d.Claims, refsFor(d.Ticker, d.Refs)),
		})
	}
	data.Evidence = report.Evidence

	var sb strings.Builder
	if err := reportTmpl.Execute(&sb, data); err != nil {
		return Report{}, fmt.Errorf("compose report: %w", err)
	}
	report.HTML = sb.String()
	return report, nil
}

// Export writes the composed document under dir and returns its path.
func Export(dir string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, "report.html")
	if err := os.WriteFile(path, []byte(r.HTML), 0o644); err != nil {
		return "", fmt.Errorf("export report: %w", err)
	}
	return path, nil
}

// WriteEvidence writes the evidence map as JSON lines next to the report.
func WriteEvidence(dir string, refs []research.EvidenceRef) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, "evidence.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create evidence file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ref := range refs {
		if err := enc.Encode(ref); err != nil {
			return "", fmt.Errorf("write evidence entry: %w", err)
		}
	}
	return path, nil
}

// PostQC verifies the exported document: it must exist, be non-trivial,
// and carry at least the requested minimum of evidence references.
func PostQC(path string, minRefs int, evidence []research.EvidenceRef) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() < 512 {
		return false
	}
	return len(evidence) >= minRefs
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="{{.Language}}">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 56rem; margin: 2rem auto; line-height: 1.5; }
h2 { border-bottom: 1px solid #ccc; padding-bottom: .3rem; }
sup { color: #2a7ae2; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .3rem .6rem; }
.degraded { background: #fff3cd; padding: .6rem; border: 1px solid #e0c060; }
.evidence li { font-size: .9rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{- if .Degraded}}
<div class="degraded">Degraded run: {{len .Degraded}} stage(s) produced placeholder content. See appendix.</div>
{{- end}}

{{- range .Sections}}{{if eq .ID "market"}}
<h2>Market Overview</h2>
{{- range $.Briefs}}
<h3>{{.Heading}}</h3>
<p>{{.Summary}}</p>
<ul>
{{- range .Claims}}
<li>{{.Text}}{{range .Refs}}<sup>[{{.}}]</sup>{{end}}</li>
{{- end}}
</ul>
{{- end}}
{{- end}}{{end}}

{{- range .Sections}}{{if eq .ID "companies"}}
<h2>Company Dossiers</h2>
{{- range $.Dossiers}}
<h3>{{.Heading}}</h3>
<p>{{.Summary}}</p>
<ul>
{{- range .Claims}}
<li>{{.Text}}{{range .Refs}}<sup>[{{.}}]</sup>{{end}}</li>
{{- end}}
</ul>
{{- end}}
{{- end}}{{end}}

{{- range .Sections}}{{if eq .ID "stocks"}}
<h2>Stock Snapshots</h2>
<table>
<tr><th>Ticker</th><th>Period return</th><th>Volatility</th><th>Last close</th></tr>
{{- range $.Snapshots}}
<tr><td>{{.Ticker}}</td><td>{{printf "%.2f" .PeriodReturnPct}}%</td><td>{{printf "%.2f" .VolatilityPct}}%</td><td>{{printf "%.2f" .LastClose}}</td></tr>
{{- end}}
</table>
{{- end}}{{end}}

{{- if .Charts}}
<h2>Charts</h2>
{{- range .Charts}}
<figure><img src="{{.Path}}" alt="{{.Title}}"><figcaption>{{.Caption}}</figcaption></figure>
{{- end}}
{{- end}}

{{- if .Evidence}}
<h2>Evidence</h2>
<ol class="evidence">
{{- range .Evidence}}
<li>{{.Title}} ({{.Date}}) &mdash; <a href="{{.URL}}">{{.URL}}</a></li>
{{- end}}
</ol>
{{- end}}

{{- if .Faults}}
<h2>Appendix: Recorded Faults</h2>
<ul>
{{- range .Faults}}
<li>{{.Stage}} ({{.Class}}, {{.Attempts}} attempts): {{.Message}}</li>
{{- end}}
</ul>
{{- end}}
</body>
</html>
`))
