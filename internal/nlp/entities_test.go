package nlp

import (
	"context"
	"testing"
)

func findEntity(entities []Entity, label string) *Entity {
	for i := range entities {
		if entities[i].Label == label {
			return &entities[i]
		}
	}
	return nil
}

func TestExtractStructuredSpans(t *testing.T) {
	x := NewRegexEntityExtractor()
	ctx := context.Background()

	cases := []struct {
		text  string
		label string
		want  string
	}{
		{"papers published 2024-01-15 about attention", "DATE", "2024-01-15"},
		{"contact alice@example.com for the dataset", "EMAIL", "alice@example.com"},
		{"see https://arxiv.org/abs/1706.03762 for details", "URL", "https://arxiv.org/abs/1706.03762"},
		{"budget is $1,500.00 per month", "MONEY", "$1,500.00"},
		{"accuracy improved by 12.5% overall", "PERCENTAGE", "12.5%"},
	}
	for _, c := range cases {
		entities, err := x.Extract(ctx, c.text)
		if err != nil {
			t.Fatalf("Extract(%q): %v", c.text, err)
		}
		e := findEntity(entities, c.label)
		if e == nil {
			t.Errorf("Extract(%q): no %s entity in %v", c.text, c.label, entities)
			continue
		}
		if e.Text != c.want {
			t.Errorf("Extract(%q): %s = %q, want %q", c.text, c.label, e.Text, c.want)
		}
		if c.text[e.Start:e.End] != e.Text {
			t.Errorf("Extract(%q): span [%d,%d) does not cover %q", c.text, e.Start, e.End, e.Text)
		}
	}
}

func TestExtractKeywordEntities(t *testing.T) {
	x := NewRegexEntityExtractor()

	entities, err := x.Extract(context.Background(), "deep learning research at stanford using pytorch")
	if err != nil {
		t.Fatal(err)
	}

	if e := findEntity(entities, "TECHNOLOGY"); e == nil {
		t.Error("expected a TECHNOLOGY entity")
	}
	if e := findEntity(entities, "ORGANIZATION"); e == nil || e.Text != "stanford" {
		t.Errorf("expected ORGANIZATION stanford, got %v", e)
	}
}

func TestExtractCaseMismatchConfidence(t *testing.T) {
	x := NewRegexEntityExtractor()
	ctx := context.Background()

	lower, err := x.Extract(ctx, "running pytorch models")
	if err != nil {
		t.Fatal(err)
	}
	upper, err := x.Extract(ctx, "running PyTorch models")
	if err != nil {
		t.Fatal(err)
	}

	le := findEntity(lower, "TECHNOLOGY")
	ue := findEntity(upper, "TECHNOLOGY")
	if le == nil || ue == nil {
		t.Fatal("expected TECHNOLOGY entities in both variants")
	}
	if le.Confidence != keywordConfidence {
		t.Errorf("exact-case confidence = %v, want %v", le.Confidence, keywordConfidence)
	}
	if ue.Confidence != caseMismatchConf {
		t.Errorf("case-mismatch confidence = %v, want %v", ue.Confidence, caseMismatchConf)
	}
}

// TestExtractNoOverlaps verifies overlapping candidates collapse to the
// higher-confidence span.
func TestExtractNoOverlaps(t *testing.T) {
	x := NewRegexEntityExtractor()

	// "reinforcement learning" overlaps the RESEARCH_FIELD keyword "learning"
	// variants; numeric "2024" overlaps the DATE span.
	entities, err := x.Extract(context.Background(), "reinforcement learning survey 2024-03-01")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			if a.Start < b.End && a.End > b.Start {
				t.Errorf("overlapping entities: %+v and %+v", a, b)
			}
		}
	}
}

func TestExtractSortedByPosition(t *testing.T) {
	x := NewRegexEntityExtractor()

	entities, err := x.Extract(context.Background(), "google published transformer results in new york in 2017")
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) < 3 {
		t.Fatalf("expected several entities, got %v", entities)
	}
	for i := 1; i < len(entities); i++ {
		if entities[i].Start < entities[i-1].Start {
			t.Fatalf("entities out of order: %v", entities)
		}
	}
}

func TestExtractEmptyText(t *testing.T) {
	x := NewRegexEntityExtractor()

	entities, err := x.Extract(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 0 {
		t.Errorf("Extract(\"\") = %v, want none", entities)
	}
}
