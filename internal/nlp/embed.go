package nlp

import (
	"context"
	"math"
	"math/rand"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultEmbeddingDimension matches the common sentence-transformer size.
const DefaultEmbeddingDimension = 768

// signalBoost bumps a dimension range when a term appears in the text, so
// related queries land near each other under cosine similarity.
type signalBoost struct {
	term     string
	from, to int
	boost    float32
}

var signalBoosts = []signalBoost{
	{"machine learning", 0, 50, 0.3},
	{"deep learning", 50, 100, 0.3},
	{"transformer", 100, 150, 0.4},
	{"attention", 150, 200, 0.35},
	{"neural", 200, 250, 0.3},
	{"search", 250, 300, 0.25},
	{"query", 300, 350, 0.25},
	{"document", 350, 400, 0.3},
	{"vector", 400, 450, 0.35},
	{"semantic", 450, 500, 0.4},
}

// HashEmbedder is the default Embedder: a hash-seeded pseudo-random base
// vector plus term-range signal boosts, normalized to unit length. The same
// text always yields a bit-identical vector, which makes vector search
// testable without a model.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates an embedder of the given dimension; non-positive
// values take the default.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDimension
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

// Embed builds the deterministic vector for text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	seed := int64(xxhash.Sum64String(text))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float32, e.dim)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64() * 0.5)
	}

	lower := strings.ToLower(text)
	for _, s := range signalBoosts {
		if !strings.Contains(lower, s.term) {
			continue
		}
		for i := s.from; i < s.to && i < e.dim; i++ {
			vec[i] += s.boost
		}
	}

	// Length signal.
	lenSignal := float32(len(text)) / 100
	for i := 500; i < 510 && i < e.dim; i++ {
		vec[i] += lenSignal
	}

	normalize(vec)
	return vec, nil
}

// CosineSimilarity is the defined distance for embeddings.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
