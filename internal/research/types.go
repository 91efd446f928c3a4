package research

// Doc is one collected source document with its metadata.
type Doc struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Date   string `json:"date"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// EvidenceRef is one entry in the run's evidence map: a numbered source
// reference attached to a report section.
type EvidenceRef struct {
	Section string `json:"section"`
	N       int    `json:"n"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Date    string `json:"date"`
	Ticker  string `json:"ticker,omitempty"`
}

// SourceBatch is one producing stage's contribution to the run evidence
// map, tagged with the fan-out instance it came from so the compiler can
// resolve each section's references from the map.
type SourceBatch struct {
	Instance string        `json:"instance"`
	Refs     []EvidenceRef `json:"refs"`
}

// Claim is one substantive statement with the local reference numbers of
// the evidence supporting it. A claim with no refs counts against citation
// coverage.
type Claim struct {
	Text string `json:"text"`
	Refs []int  `json:"refs"`
}

// Brief is the structured market summary one market.brief stage produces
// for a region x issue combination.
type Brief struct {
	Region  string        `json:"region"`
	Issue   string        `json:"issue"`
	Summary string        `json:"summary"`
	Claims  []Claim       `json:"claims"`
	Refs    []EvidenceRef `json:"refs"`
}

// Dossier is the structured company profile one company.dossier stage
// produces for a benchmark ticker.
type Dossier struct {
	Ticker   string        `json:"ticker"`
	Overview string        `json:"overview"`
	Claims   []Claim       `json:"claims"`
	Refs     []EvidenceRef `json:"refs"`
}
