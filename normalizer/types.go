package normalizer

// Mention is a single normalization request: the surface string of an entity
// mention, optionally accompanied by surrounding context and a coarse type
// hint such as "disease" or "chemical".
type Mention struct {
	Surface  string `json:"surface"`
	Context  string `json:"context,omitempty"`
	TypeHint string `json:"typeHint,omitempty"`
}

// Concept is one entry of the reference vocabulary.
type Concept struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Synonyms []string `json:"synonyms,omitempty"`
	// Vector is an optional precomputed representation for the canonical
	// name. When empty the index encodes the name itself at build time.
	Vector []float32 `json:"vector,omitempty"`
}

// Candidate pairs a concept with the score the ranking model assigned to it
// for one mention. Label records which name or synonym the concept was
// retrieved through.
type Candidate struct {
	ConceptID string  `json:"conceptId"`
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
}

// Result is the outcome of normalizing one mention. Candidates are ordered
// by descending score with ties broken by ascending concept ID. When NIL is
// true no candidate cleared the configured threshold and ConceptID is empty.
type Result struct {
	Mention    Mention     `json:"mention"`
	Candidates []Candidate `json:"candidates"`
	ConceptID  string      `json:"conceptId,omitempty"`
	NIL        bool        `json:"nil"`
}

// Best returns the selected candidate, if any.
func (r *Result) Best() (Candidate, bool) {
	if r == nil || r.NIL || len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}
