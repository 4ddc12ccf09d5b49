// Package nlp defines the language-processing interfaces consumed by the
// query processor, plus deterministic default implementations that work
// without any model or network dependency.
//
// The defaults are intentionally simple: a dictionary + fuzzy-match spell
// checker, a pattern/keyword entity extractor, and a hash-seeded embedder.
// Production deployments can swap real services behind the same interfaces.
package nlp

import "context"

// SpellChecker corrects a query string. The returned string equals the
// input when nothing needed correcting.
type SpellChecker interface {
	Correct(ctx context.Context, text string) (string, error)
}

// Entity is one span found in a query.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// EntityExtractor finds typed spans in a query, sorted by position and free
// of overlaps.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// Embedder maps text to a fixed-dimension vector. Same text, same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
