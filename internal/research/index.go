package research

import (
	"sort"
	"strings"
)

// Passage is one ranked retrieval result.
type Passage struct {
	Doc   Doc     `json:"doc"`
	Score float64 `json:"score"`
}

// Index is a small in-memory keyword index over collected documents.
// It is built once per stage instance and owned exclusively by it.
type Index struct {
	docs  []Doc
	terms map[string]map[int]int // term -> doc position -> frequency
}

// BuildIndex indexes the documents' titles and body text.
func BuildIndex(docs []Doc) *Index {
	idx := &Index{docs: docs, terms: make(map[string]map[int]int)}
	for i, d := range docs {
		for _, tok := range tokenize(d.Title + " " + d.Text) {
			if idx.terms[tok] == nil {
				idx.terms[tok] = make(map[int]int)
			}
			idx.terms[tok][i]++
		}
	}
	return idx
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Query returns up to topK passages ranked by summed term frequency, with
// document order as a stable tie-break.
func (ix *Index) Query(query string, topK int) []Passage {
	scores := make(map[int]float64)
	for _, tok := range tokenize(query) {
		for pos, freq := range ix.terms[tok] {
			scores[pos] += float64(freq)
		}
	}

	positions := make([]int, 0, len(scores))
	for pos := range scores {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(a, b int) bool {
		if scores[positions[a]] != scores[positions[b]] {
			return scores[positions[a]] > scores[positions[b]]
		}
		return positions[a] < positions[b]
	})

	if topK > 0 && len(positions) > topK {
		positions = positions[:topK]
	}
	out := make([]Passage, 0, len(positions))
	for _, pos := range positions {
		out = append(out, Passage{Doc: ix.docs[pos], Score: scores[pos]})
	}
	return out
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
