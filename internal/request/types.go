package request

// Depth controls how much research work a run performs.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ValidDepths returns the list of valid depth tokens.
func ValidDepths() []Depth {
	return []Depth{DepthQuick, DepthStandard, DepthDeep}
}

// ComboCap returns the maximum number of region x issue market stage
// combinations allowed at this depth.
func (d Depth) ComboCap() int {
	switch d {
	case DepthQuick:
		return 2
	case DepthDeep:
		return 8
	default:
		return 4
	}
}

// TimeWindow is the analysis period for a run.
type TimeWindow struct {
	Start string `yaml:"start" json:"start"` // YYYY-MM-DD
	End   string `yaml:"end" json:"end"`     // YYYY-MM-DD
}

// OutputSpec describes the requested report artifact.
type OutputSpec struct {
	Format   string   `yaml:"format" json:"format"`     // "html" or "pdf"
	Language string   `yaml:"language" json:"language"` // BCP 47-ish tag, e.g. "en", "ko"
	Sections []string `yaml:"sections" json:"sections"`
}

// Constraints bounds the size and evidence requirements of the report.
type Constraints struct {
	MaxPages    int `yaml:"max_pages" json:"max_pages"`
	MaxCharts   int `yaml:"max_charts" json:"max_charts"`
	MinRefCount int `yaml:"min_ref_count" json:"min_ref_count"`
}

// FinancialsOptions selects which financial figures the stock stages compute.
type FinancialsOptions struct {
	IncludeVolatility bool `yaml:"include_volatility" json:"include_volatility"`
	IncludeMultiples  bool `yaml:"include_multiples" json:"include_multiples"`
	IncludeEvents     bool `yaml:"include_events" json:"include_events"`
}

// RunConfig is the normalized, immutable description of one run.
// It is created once by Parse and never modified afterwards.
type RunConfig struct {
	RunID        string            `json:"run_id"`
	Window       TimeWindow        `json:"window"`
	Regions      []string          `json:"regions"`
	Issues       []string          `json:"issues"`
	Segments     []string          `json:"segments"`
	Depth        Depth             `json:"depth"`
	SnapshotDate string            `json:"snapshot_date"`
	Output       OutputSpec        `json:"output"`
	Constraints  Constraints       `json:"constraints"`
	Benchmarks   []string          `json:"benchmarks"`
	PolicyFocus  []string          `json:"policy_focus"`
	Financials   FinancialsOptions `json:"financials"`
	DataPrefs    []string          `json:"data_prefs"`
	RiskWeight   float64           `json:"risk_weight"`
	Cadence      string            `json:"cadence"` // informational only
	Persona      string            `json:"persona"`

	// Warnings collects soft validation findings that did not block the run.
	Warnings []string `json:"warnings,omitempty"`
}

// WantsCompanyStages reports whether company and stock stages should be planned.
func (c *RunConfig) WantsCompanyStages() bool {
	return len(c.Benchmarks) > 0
}

// WantsCharts reports whether chart stages should be planned.
func (c *RunConfig) WantsCharts() bool {
	return c.Constraints.MaxCharts > 0
}
