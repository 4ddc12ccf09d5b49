package nlp

import (
	"context"
	"testing"
)

func TestCorrectKnownTypos(t *testing.T) {
	c := NewDictSpellChecker()
	ctx := context.Background()

	cases := []struct {
		in, want string
	}{
		{"machien leraning", "machine learning"},
		{"nueral netowrk serch", "neural network search"},
		{"teh databse", "the database"},
		{"informaton retreival", "information retrieval"},
		{"a clean query", "a clean query"},
	}
	for _, cs := range cases {
		got, err := c.Correct(ctx, cs.in)
		if err != nil {
			t.Fatalf("Correct(%q): %v", cs.in, err)
		}
		if got != cs.want {
			t.Errorf("Correct(%q) = %q, want %q", cs.in, got, cs.want)
		}
	}
}

func TestCorrectPreservesCase(t *testing.T) {
	c := NewDictSpellChecker()
	ctx := context.Background()

	cases := []struct {
		in, want string
	}{
		{"Machien learning", "Machine learning"},
		{"MACHIEN learning", "MACHINE learning"},
		{"Teh Databse", "The Database"},
	}
	for _, cs := range cases {
		got, err := c.Correct(ctx, cs.in)
		if err != nil {
			t.Fatalf("Correct(%q): %v", cs.in, err)
		}
		if got != cs.want {
			t.Errorf("Correct(%q) = %q, want %q", cs.in, got, cs.want)
		}
	}
}

func TestCorrectPreservesPunctuationAndSpacing(t *testing.T) {
	c := NewDictSpellChecker()

	got, err := c.Correct(context.Background(), "machien-leraning,  what is it?")
	if err != nil {
		t.Fatal(err)
	}
	want := "machine-learning,  what is it?"
	if got != want {
		t.Errorf("Correct = %q, want %q", got, want)
	}
}

// TestCorrectIdempotent verifies that corrected text passes through a second
// pass unchanged.
func TestCorrectIdempotent(t *testing.T) {
	c := NewDictSpellChecker()
	ctx := context.Background()

	inputs := []string{
		"machien leraning with nueral netowrks",
		"informaton retreival reserch",
		"transformer attention mechanism",
		"What is teh best serch algoritm?",
	}
	for _, in := range inputs {
		once, err := c.Correct(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		twice, err := c.Correct(ctx, once)
		if err != nil {
			t.Fatal(err)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

// TestCorrectLeavesLexiconWordsAlone verifies in-vocabulary words are never
// rewritten by the fuzzy pass.
func TestCorrectLeavesLexiconWordsAlone(t *testing.T) {
	c := NewDictSpellChecker()

	in := "semantic vector similarity search query embedding"
	got, err := c.Correct(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Errorf("lexicon words rewritten: %q -> %q", in, got)
	}
}

func TestCorrectShortWordsUntouched(t *testing.T) {
	c := NewDictSpellChecker()

	in := "is it a go or ml"
	got, err := c.Correct(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Errorf("short words rewritten: %q -> %q", in, got)
	}
}

func TestCorrectEmpty(t *testing.T) {
	c := NewDictSpellChecker()

	got, err := c.Correct(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("Correct(\"\") = %q", got)
	}
}

func TestMatchRatio(t *testing.T) {
	if r := matchRatio("abc", "abc"); r != 1 {
		t.Errorf("identical strings ratio = %v, want 1", r)
	}
	if r := matchRatio("abc", "xyz"); r != 0 {
		t.Errorf("disjoint strings ratio = %v, want 0", r)
	}
	if r := matchRatio("", ""); r != 1 {
		t.Errorf("empty strings ratio = %v, want 1", r)
	}
	// "serch" vs "search": LCS = 5, ratio = 10/11.
	if r := matchRatio("serch", "search"); r < 0.9 {
		t.Errorf("near-miss ratio = %v, want > 0.9", r)
	}
}
