// Package query implements the request enrichment pipeline: spell
// correction, entity extraction, intent classification, keyword
// extraction, embedding, and query expansion, run concurrently per
// request.
//
// Every subtask degrades gracefully: a failing subtask contributes nothing
// and the rest of the pipeline proceeds. The output is purely additive —
// with every subtask down, a ProcessedQuery still carries the original
// query and its keywords.
package query

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/nulpointcorp/uir-gateway/internal/metrics"
	"github.com/nulpointcorp/uir-gateway/internal/nlp"
)

// Intent is the classified purpose of a query.
type Intent struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ProcessedQuery is the pipeline output. Corrected is empty when the query
// needed no correction.
type ProcessedQuery struct {
	Original  string         `json:"original"`
	Corrected string         `json:"corrected,omitempty"`
	Expanded  string         `json:"expanded,omitempty"`
	Entities  []nlp.Entity   `json:"entities,omitempty"`
	Intent    *Intent        `json:"intent,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	Filters   map[string]any `json:"filters,omitempty"`
	Keywords  []string       `json:"keywords,omitempty"`
}

// EffectiveQuery is what downstream search calls should use: the corrected
// form when present, else the original.
func (p *ProcessedQuery) EffectiveQuery() string {
	if p.Corrected != "" {
		return p.Corrected
	}
	return p.Original
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "is": true, "are": true,
	"was": true, "were": true, "been": true, "be": true,
}

// synonyms drives query expansion: the first synonym of each matched term
// is appended to the query.
var synonyms = map[string][]string{
	"machine learning": {"ML", "artificial intelligence", "AI", "deep learning"},
	"transformer":      {"attention mechanism", "self-attention", "bert", "gpt"},
	"search":           {"retrieval", "query", "find", "lookup"},
	"database":         {"datastore", "repository", "storage", "db"},
}

// intentRules are checked in order; the first category with a keyword hit
// wins. Ordering matters: "how does" must beat "how to"-style tutorials.
var intentRules = []struct {
	intent     string
	confidence float64
	keywords   []string
}{
	{"explanation", 0.85, []string{"explain", "what is", "how does", "define"}},
	{"comparison", 0.80, []string{"compare", "difference", "versus", "vs"}},
	{"news", 0.75, []string{"latest", "recent", "new", "news"}},
	{"academic", 0.80, []string{"paper", "research", "study", "academic"}},
	{"tutorial", 0.85, []string{"tutorial", "guide", "how to", "example"}},
}

// Processor runs the pipeline. NLP dependencies are injected; any of them
// may be nil, which simply disables that subtask.
type Processor struct {
	spell    nlp.SpellChecker
	entities nlp.EntityExtractor
	embedder nlp.Embedder
	log      *slog.Logger
	met      *metrics.Registry
}

// New creates a Processor. log must not be nil; met may be nil.
func New(spell nlp.SpellChecker, entities nlp.EntityExtractor, embedder nlp.Embedder, log *slog.Logger, met *metrics.Registry) *Processor {
	return &Processor{
		spell:    spell,
		entities: entities,
		embedder: embedder,
		log:      log,
		met:      met,
	}
}

// NewDefault wires the deterministic default NLP implementations.
func NewDefault(embeddingDim int, log *slog.Logger, met *metrics.Registry) *Processor {
	return New(
		nlp.NewDictSpellChecker(),
		nlp.NewRegexEntityExtractor(),
		nlp.NewHashEmbedder(embeddingDim),
		log, met,
	)
}

// Process enriches query. It never returns an error: subtask failures are
// logged and their output omitted.
func (p *Processor) Process(ctx context.Context, query string) *ProcessedQuery {
	out := &ProcessedQuery{Original: query}

	// Spell, entities, and embedding do real work; run them concurrently.
	// Each goroutine writes a distinct field, so no locking is needed.
	var wg sync.WaitGroup
	var corrected string

	if p.spell != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.spell.Correct(ctx, query)
			if err != nil {
				p.subtaskFailed(ctx, "spell", err)
				return
			}
			corrected = c
		}()
	}

	if p.entities != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ents, err := p.entities.Extract(ctx, query)
			if err != nil {
				p.subtaskFailed(ctx, "entities", err)
				return
			}
			out.Entities = ents
		}()
	}

	if p.embedder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := p.embedder.Embed(ctx, query)
			if err != nil {
				p.subtaskFailed(ctx, "embedding", err)
				return
			}
			out.Embedding = vec
		}()
	}

	wg.Wait()

	if corrected != "" && corrected != query {
		out.Corrected = corrected
	}

	out.Intent = ClassifyIntent(query)
	out.Keywords = ExtractKeywords(query)
	out.Expanded = Expand(out.EffectiveQuery(), out.Entities)
	out.Filters = SynthesizeFilters(out.Entities, out.Intent)

	return out
}

func (p *Processor) subtaskFailed(ctx context.Context, subtask string, err error) {
	p.log.WarnContext(ctx, "query_subtask_failed",
		slog.String("subtask", subtask),
		slog.String("error", err.Error()),
	)
	if p.met != nil {
		p.met.RecordSubtaskFailure(subtask)
	}
}

// ClassifyIntent returns the first matching rule, or general/0.60.
func ClassifyIntent(query string) *Intent {
	lower := strings.ToLower(query)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return &Intent{Type: rule.intent, Confidence: rule.confidence}
			}
		}
	}
	return &Intent{Type: "general", Confidence: 0.60}
}

// ExtractKeywords lowercases, drops stopwords, and drops tokens of length
// <= 2.
func ExtractKeywords(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) <= 2 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Expand appends the first synonym of every matched term, plus one related
// term per TECHNOLOGY entity. Returns "" when nothing matched.
func Expand(query string, entities []nlp.Entity) string {
	lower := strings.ToLower(query)
	var added []string
	seen := map[string]bool{}

	add := func(term string) {
		if !seen[term] {
			seen[term] = true
			added = append(added, term)
		}
	}

	// Deterministic order: iterate the rules via a fixed slice, not map order.
	for _, term := range []string{"machine learning", "transformer", "search", "database"} {
		if strings.Contains(lower, term) {
			add(synonyms[term][0])
		}
	}

	for _, e := range entities {
		if e.Label != "TECHNOLOGY" {
			continue
		}
		if related, ok := synonyms[strings.ToLower(e.Text)]; ok && len(related) > 0 {
			add(related[0])
		}
	}

	return strings.Join(added, " ")
}

// SynthesizeFilters builds suggested search filters from entities and
// intent. Returns nil when nothing applies.
func SynthesizeFilters(entities []nlp.Entity, intent *Intent) map[string]any {
	filters := map[string]any{}

	for _, e := range entities {
		switch e.Label {
		case "DATE":
			filters["date_range"] = e.Text
		case "LOCATION":
			filters["location"] = e.Text
		case "ORGANIZATION":
			filters["organization"] = e.Text
		}
	}

	if intent != nil {
		switch intent.Type {
		case "academic":
			filters["document_type"] = []string{"paper", "article", "thesis"}
		case "news":
			filters["document_type"] = []string{"news", "blog"}
		}
	}

	if len(filters) == 0 {
		return nil
	}
	return filters
}
