package research

import (
	"fmt"
	"strings"
)

// Summarize produces a market brief for one region x issue combination from
// ranked passages. Every claim cites the passage it was drawn from, so
// citation coverage over clean input is complete; references are numbered
// locally and renumbered globally at compose time.
func Summarize(region, issue string, passages []Passage) Brief {
	brief := Brief{
		Region: region,
		Issue:  issue,
	}
	if len(passages) == 0 {
		brief.Summary = fmt.Sprintf("No source coverage found for %s in %s.", issue, region)
		return brief
	}

	brief.Summary = fmt.Sprintf("Coverage of %s in %s across %d sources.",
		issue, region, len(passages))

	for i, p := range passages {
		n := i + 1
		brief.Refs = append(brief.Refs, EvidenceRef{
			Section: "market",
			N:       n,
			Title:   p.Doc.Title,
			URL:     p.Doc.URL,
			Date:    p.Doc.Date,
		})
		brief.Claims = append(brief.Claims, Claim{
			Text: firstSentence(p.Doc.Text),
			Refs: []int{n},
		})
	}
	return brief
}

// SummarizeCompany produces a company dossier for one ticker from ranked
// passages.
func SummarizeCompany(ticker string, passages []Passage) Dossier {
	d := Dossier{Ticker: ticker}
	if len(passages) == 0 {
		d.Overview = fmt.Sprintf("No source coverage found for %s.", ticker)
		return d
	}

	d.Overview = fmt.Sprintf("%s profile drawn from %d sources.", ticker, len(passages))
	for i, p := range passages {
		n := i + 1
		d.Refs = append(d.Refs, EvidenceRef{
			Section: "companies",
			N:       n,
			Title:   p.Doc.Title,
			URL:     p.Doc.URL,
			Date:    p.Doc.Date,
			Ticker:  ticker,
		})
		d.Claims = append(d.Claims, Claim{
			Text: firstSentence(p.Doc.Text),
			Refs: []int{n},
		})
	}
	return d
}

func firstSentence(text string) string {
	if i := strings.Index(text, ". "); i >= 0 {
		return text[:i+1]
	}
	return strings.TrimSpace(text)
}
