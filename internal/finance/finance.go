// Package finance implements the financial snapshot collaborator: price
// series retrieval and the derived return, volatility, and valuation
// figures the report cites. Series generation is deterministic per ticker
// and period so that the quality gate can recompute any reported figure
// and get the same answer.
package finance

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// Series is a daily closing-price series for one ticker.
type Series struct {
	Ticker string    `json:"ticker"`
	Dates  []string  `json:"dates"`
	Closes []float64 `json:"closes"`
}

// Event is one notable price move within the period.
type Event struct {
	Date      string  `json:"date"`
	ChangePct float64 `json:"change_pct"`
}

// Snapshot is the computed stock summary for one ticker.
type Snapshot struct {
	Ticker          string  `json:"ticker"`
	PeriodStart     string  `json:"period_start"`
	PeriodEnd       string  `json:"period_end"`
	PeriodReturnPct float64 `json:"period_return_pct"`
	VolatilityPct   float64 `json:"volatility_pct"`
	LastClose       float64 `json:"last_close"`
	PERatio         float64 `json:"pe_ratio,omitempty"`
	Events          []Event `json:"events,omitempty"`
}

const dateLayout = "2006-01-02"

// FetchSeries produces the daily price series for a ticker over a period.
// The walk is seeded by ticker and period, so repeated calls agree.
func FetchSeries(ticker, start, end string) (Series, error) {
	from, err := time.Parse(dateLayout, start)
	if err != nil {
		return Series{}, fmt.Errorf("parse period start: %w", err)
	}
	to, err := time.Parse(dateLayout, end)
	if err != nil {
		return Series{}, fmt.Errorf("parse period end: %w", err)
	}
	if !to.After(from) {
		return Series{}, fmt.Errorf("period end %s not after start %s", end, start)
	}

	h := fnv.New64a()
	h.Write([]byte(ticker + "|" + start + "|" + end))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	s := Series{Ticker: ticker}
	price := 20 + rng.Float64()*300
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		// Daily drift with fat-ish tails.
		price *= 1 + (rng.Float64()-0.49)*0.04
		if price < 1 {
			price = 1
		}
		s.Dates = append(s.Dates, d.Format(dateLayout))
		s.Closes = append(s.Closes, math.Round(price*100)/100)
	}
	return s, nil
}

// PeriodReturn computes the percentage return from the first to the last
// close of the series.
func PeriodReturn(s Series) float64 {
	if len(s.Closes) < 2 || s.Closes[0] == 0 {
		return 0
	}
	return (s.Closes[len(s.Closes)-1]/s.Closes[0] - 1) * 100
}

// Volatility computes the standard deviation of daily log returns,
// expressed in percent.
func Volatility(s Series) float64 {
	if len(s.Closes) < 3 {
		return 0
	}
	logs := make([]float64, 0, len(s.Closes)-1)
	for i := 1; i < len(s.Closes); i++ {
		if s.Closes[i-1] <= 0 || s.Closes[i] <= 0 {
			continue
		}
		logs = append(logs, math.Log(s.Closes[i]/s.Closes[i-1]))
	}
	if len(logs) < 2 {
		return 0
	}
	var mean float64
	for _, r := range logs {
		mean += r
	}
	mean /= float64(len(logs))
	var varsum float64
	for _, r := range logs {
		varsum += (r - mean) * (r - mean)
	}
	return math.Sqrt(varsum/float64(len(logs)-1)) * 100
}

// Compute derives a snapshot from a price series. The include flags follow
// the request's financials options; figures not asked for stay zero.
func Compute(s Series, includeVolatility, includeMultiples, includeEvents bool) Snapshot {
	snap := Snapshot{
		Ticker:          s.Ticker,
		PeriodReturnPct: round2(PeriodReturn(s)),
	}
	if includeVolatility {
		snap.VolatilityPct = round2(Volatility(s))
	}
	if len(s.Dates) > 0 {
		snap.PeriodStart = s.Dates[0]
		snap.PeriodEnd = s.Dates[len(s.Dates)-1]
		snap.LastClose = s.Closes[len(s.Closes)-1]
	}
	if includeMultiples && snap.LastClose > 0 {
		// Synthetic earnings anchored to the same seed material keeps the
		// ratio stable across runs.
		h := fnv.New64a()
		h.Write([]byte(s.Ticker))
		eps := 1 + float64(h.Sum64()%900)/100
		snap.PERatio = round2(snap.LastClose / eps)
	}
	if includeEvents {
		snap.Events = notableMoves(s, 3)
	}
	return snap
}

// notableMoves returns the days with the largest absolute daily change.
func notableMoves(s Series, limit int) []Event {
	type move struct {
		idx int
		pct float64
	}
	var moves []move
	for i := 1; i < len(s.Closes); i++ {
		if s.Closes[i-1] == 0 {
			continue
		}
		pct := (s.Closes[i]/s.Closes[i-1] - 1) * 100
		moves = append(moves, move{idx: i, pct: pct})
	}
	for i := 1; i < len(moves); i++ {
		for j := i; j > 0 && math.Abs(moves[j].pct) > math.Abs(moves[j-1].pct); j-- {
			moves[j], moves[j-1] = moves[j-1], moves[j]
		}
	}
	if len(moves) > limit {
		moves = moves[:limit]
	}
	out := make([]Event, 0, len(moves))
	for _, m := range moves {
		out = append(out, Event{Date: s.Dates[m.idx], ChangePct: round2(m.pct)})
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
