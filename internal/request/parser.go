// Package request validates and normalizes raw run requests into typed
// RunConfig values. Parsing fails fast on missing or malformed required
// fields; cosmetic problems are recorded as warnings on the config instead.
package request

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/trendops/evreport/internal/errors"
)

// rawRequest mirrors the YAML request document before normalization.
type rawRequest struct {
	Window       TimeWindow        `yaml:"window"`
	Regions      []string          `yaml:"regions"`
	Issues       []string          `yaml:"issues"`
	Segments     []string          `yaml:"segments"`
	Depth        string            `yaml:"depth"`
	SnapshotDate string            `yaml:"snapshot_date"`
	Output       OutputSpec        `yaml:"output"`
	Constraints  *Constraints      `yaml:"constraints"`
	Benchmarks   []string          `yaml:"benchmarks"`
	PolicyFocus  []string          `yaml:"policy_focus"`
	Financials   FinancialsOptions `yaml:"financials"`
	DataPrefs    []string          `yaml:"data_prefs"`
	RiskWeight   float64           `yaml:"risk_weight"`
	Cadence      string            `yaml:"cadence"`
	Persona      string            `yaml:"persona"`
}

const dateLayout = "2006-01-02"

// tickerRegex validates benchmark ticker symbols
var tickerRegex = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// ValidRegions returns the region allow-list.
func ValidRegions() []string {
	return []string{"us", "eu", "china", "japan", "korea", "india", "global"}
}

// ValidOutputFormats returns the supported artifact formats.
func ValidOutputFormats() []string {
	return []string{"html", "pdf"}
}

// defaultSections is used when the request does not name sections explicitly.
var defaultSections = []string{"market", "companies", "stocks", "outlook"}

// Parse validates raw YAML input and produces an immutable RunConfig.
// It allocates the run identifier used for all subsequent state and log
// tagging. All hard failures wrap errors.ErrInvalidRequest.
func Parse(raw []byte) (*RunConfig, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errors.NewRequestError("request", "empty request body")
	}

	var req rawRequest
	if err := yaml.Unmarshal(raw, &req); err != nil {
		return nil, errors.NewRequestError("request", fmt.Sprintf("not valid YAML: %v", err))
	}

	cfg := &RunConfig{
		RunID:       newRunID(),
		Window:      req.Window,
		Segments:    normalizeList(req.Segments),
		PolicyFocus: normalizeList(req.PolicyFocus),
		Financials:  req.Financials,
		DataPrefs:   normalizeList(req.DataPrefs),
		RiskWeight:  req.RiskWeight,
		Cadence:     strings.TrimSpace(req.Cadence),
		Persona:     strings.TrimSpace(req.Persona),
	}

	// Time window
	start, err := parseDate(req.Window.Start)
	if err != nil {
		return nil, errors.NewRequestError("window.start", err.Error())
	}
	end, err := parseDate(req.Window.End)
	if err != nil {
		return nil, errors.NewRequestError("window.end", err.Error())
	}
	if !end.After(start) {
		return nil, errors.NewRequestError("window", "end must be after start")
	}

	// Snapshot date defaults to the window end
	if strings.TrimSpace(req.SnapshotDate) == "" {
		cfg.SnapshotDate = req.Window.End
	} else {
		if _, err := parseDate(req.SnapshotDate); err != nil {
			return nil, errors.NewRequestError("snapshot_date", err.Error())
		}
		cfg.SnapshotDate = strings.TrimSpace(req.SnapshotDate)
	}

	// Regions: required, all must be in the allow-list
	cfg.Regions = normalizeList(req.Regions)
	if len(cfg.Regions) == 0 {
		return nil, errors.NewRequestError("regions", "at least one region is required")
	}
	for _, r := range cfg.Regions {
		if !slices.Contains(ValidRegions(), r) {
			return nil, errors.NewRequestError("regions",
				fmt.Sprintf("unknown region %q, must be one of: %s", r, strings.Join(ValidRegions(), ", ")))
		}
	}

	// Issues: required, free-form keywords
	cfg.Issues = normalizeList(req.Issues)
	if len(cfg.Issues) == 0 {
		return nil, errors.NewRequestError("issues", "at least one focus issue is required")
	}

	// Depth: unset defaults to standard, anything else must be a known token
	switch strings.ToLower(strings.TrimSpace(req.Depth)) {
	case "":
		cfg.Depth = DepthStandard
	case string(DepthQuick):
		cfg.Depth = DepthQuick
	case string(DepthStandard):
		cfg.Depth = DepthStandard
	case string(DepthDeep):
		cfg.Depth = DepthDeep
	default:
		return nil, errors.NewRequestError("depth",
			fmt.Sprintf("unknown depth %q, must be one of: quick, standard, deep", req.Depth))
	}

	// Output spec defaults
	cfg.Output = req.Output
	if cfg.Output.Format == "" {
		cfg.Output.Format = "html"
	}
	if !slices.Contains(ValidOutputFormats(), cfg.Output.Format) {
		return nil, errors.NewRequestError("output.format",
			fmt.Sprintf("unknown format %q, must be one of: %s", cfg.Output.Format, strings.Join(ValidOutputFormats(), ", ")))
	}
	if cfg.Output.Language == "" {
		cfg.Output.Language = "en"
	}
	if len(cfg.Output.Sections) == 0 {
		cfg.Output.Sections = slices.Clone(defaultSections)
	}

	// Constraints: unset fields take depth-indexed defaults
	cfg.Constraints = constraintsForDepth(cfg.Depth)
	if req.Constraints != nil {
		if req.Constraints.MaxPages < 0 || req.Constraints.MaxCharts < 0 || req.Constraints.MinRefCount < 0 {
			return nil, errors.NewRequestError("constraints", "values must be non-negative")
		}
		if req.Constraints.MaxPages > 0 {
			cfg.Constraints.MaxPages = req.Constraints.MaxPages
		}
		if req.Constraints.MaxCharts > 0 {
			cfg.Constraints.MaxCharts = req.Constraints.MaxCharts
		}
		if req.Constraints.MinRefCount > 0 {
			cfg.Constraints.MinRefCount = req.Constraints.MinRefCount
		}
	}

	// A dense reference requirement on a short report is suspicious but not
	// fatal; record it so the caller can see why coverage may fall short.
	if cfg.Constraints.MinRefCount > cfg.Constraints.MaxPages*10 {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"min_ref_count %d is unlikely to fit in %d pages",
			cfg.Constraints.MinRefCount, cfg.Constraints.MaxPages))
	}

	// Benchmarks: optional, but every entry must look like a ticker
	for _, b := range req.Benchmarks {
		t := strings.ToUpper(strings.TrimSpace(b))
		if t == "" {
			continue
		}
		if !tickerRegex.MatchString(t) {
			return nil, errors.NewRequestError("benchmarks",
				fmt.Sprintf("%q is not a valid ticker symbol", b))
		}
		if !slices.Contains(cfg.Benchmarks, t) {
			cfg.Benchmarks = append(cfg.Benchmarks, t)
		}
	}

	if cfg.RiskWeight < 0 || cfg.RiskWeight > 1 {
		return nil, errors.NewRequestError("risk_weight", "must be between 0 and 1")
	}

	return cfg, nil
}

// constraintsForDepth returns the default size constraints for a depth level.
func constraintsForDepth(d Depth) Constraints {
	switch d {
	case DepthQuick:
		return Constraints{MaxPages: 8, MaxCharts: 3, MinRefCount: 5}
	case DepthDeep:
		return Constraints{MaxPages: 20, MaxCharts: 12, MinRefCount: 20}
	default:
		return Constraints{MaxPages: 12, MaxCharts: 6, MinRefCount: 10}
	}
}

// parseDate parses a required YYYY-MM-DD date string.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a valid YYYY-MM-DD date", s)
	}
	return t, nil
}

// normalizeList trims, lowercases, deduplicates, and drops empty entries.
func normalizeList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// newRunID allocates a short unique run identifier.
func newRunID() string {
	return "run-" + uuid.NewString()[:8]
}
