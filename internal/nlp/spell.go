package nlp

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// corrections maps known misspellings to their fixes. Lookup is lowercase;
// the original token's case is restored on output.
var corrections = map[string]string{
	// Technology terms
	"transformr": "transformer",
	"atention":   "attention",
	"mechanizm":  "mechanism",
	"machien":    "machine",
	"leraning":   "learning",
	"learnign":   "learning",
	"artifical":  "artificial",
	"inteligence": "intelligence",
	"nueral":      "neural",
	"netowrk":     "network",
	"netwrok":     "network",
	"algoritm":    "algorithm",
	"algorithmn":  "algorithm",
	"serch":       "search",
	"seach":       "search",
	"databse":     "database",
	"databas":     "database",
	"retreival":   "retrieval",
	"retreval":    "retrieval",
	"informaton":  "information",
	"informtion":  "information",

	// Common misspellings
	"teh":       "the",
	"hte":       "the",
	"adn":       "and",
	"nad":       "and",
	"wiht":      "with",
	"whith":     "with",
	"taht":      "that",
	"thta":      "that",
	"wich":      "which",
	"whcih":     "which",
	"recieve":   "receive",
	"seperate":  "separate",
	"seprate":   "separate",
	"occured":   "occurred",
	"occurence": "occurrence",
	"begining":  "beginning",
	"comming":   "coming",
	"runing":    "running",
	"geting":    "getting",
	"puting":    "putting",
	"writting":  "writing",
	"writng":    "writing",

	// Research terms
	"reserch":     "research",
	"reasearch":   "research",
	"publshed":    "published",
	"publised":    "published",
	"anaylsis":    "analysis",
	"analisys":    "analysis",
	"expirment":   "experiment",
	"experment":   "experiment",
	"comparision": "comparison",
	"compairson":  "comparison",
	"performace":  "performance",
	"preformance": "performance",
	"assesment":   "assessment",

	// Document terms
	"docuemnt":   "document",
	"documnet":   "document",
	"relavent":   "relevant",
	"relevent":   "relevant",
	"similiar":   "similar",
	"simular":    "similar",
	"accross":    "across",
	"procces":    "process",
	"prcess":     "process",
	"procesing":  "processing",
	"processng":  "processing",
}

// lexicon is the reference vocabulary for fuzzy correction. A word already
// in the lexicon is never rewritten (it matches itself with ratio 1.0).
var lexicon = []string{
	"machine", "learning", "deep", "neural", "network", "transformer",
	"attention", "mechanism", "algorithm", "algorithms", "search", "retrieval",
	"database", "document", "query", "vector", "semantic", "model",
	"training", "inference", "prediction", "classification", "clustering",
	"supervised", "unsupervised", "reinforcement", "artificial",
	"intelligence", "data", "mining", "analysis", "processing",
	"computer", "vision", "language", "natural",
	"embedding", "similarity", "distance", "cosine", "euclidean",
	"research", "paper", "study", "experiment", "result", "conclusion",
	"method", "approach", "technique", "framework", "system",
	"performance", "accuracy", "precision", "recall", "score",
}

// DictSpellChecker corrects queries against a static dictionary plus fuzzy
// matching over a reference lexicon. It holds no mutable state and is safe
// for concurrent use.
type DictSpellChecker struct {
	sortedTypos []string
}

// NewDictSpellChecker builds the default checker.
func NewDictSpellChecker() *DictSpellChecker {
	typos := make([]string, 0, len(corrections))
	for t := range corrections {
		typos = append(typos, t)
	}
	// Deterministic fuzzy scan order.
	sort.Strings(typos)
	return &DictSpellChecker{sortedTypos: typos}
}

// Correct fixes misspellings token by token, preserving punctuation,
// whitespace, and the original case shape (UPPER / Title / lower).
// Correct is idempotent: corrected output passes through unchanged.
func (c *DictSpellChecker) Correct(_ context.Context, text string) (string, error) {
	var out strings.Builder
	out.Grow(len(text))

	for _, tok := range tokenize(text) {
		if !isAlpha(tok) {
			out.WriteString(tok)
			continue
		}
		lower := strings.ToLower(tok)
		if fixed, ok := corrections[lower]; ok {
			out.WriteString(matchCase(tok, fixed))
			continue
		}
		if fixed := c.fuzzyCorrect(lower); fixed != lower {
			out.WriteString(matchCase(tok, fixed))
			continue
		}
		out.WriteString(tok)
	}

	return out.String(), nil
}

// fuzzyCorrect finds the best close match for word. Words shorter than 3
// runes are left alone. Candidates are the lexicon (ratio > 0.8, length
// within ±2) and the typo keys (ratio > 0.85, length within ±1).
func (c *DictSpellChecker) fuzzyCorrect(word string) string {
	if len(word) < 3 {
		return word
	}

	best := word
	bestRatio := 0.0

	for _, cand := range lexicon {
		if abs(len(word)-len(cand)) > 2 {
			continue
		}
		if r := matchRatio(word, cand); r > 0.8 && r > bestRatio {
			bestRatio = r
			best = cand
		}
	}

	for _, typo := range c.sortedTypos {
		if abs(len(word)-len(typo)) > 1 {
			continue
		}
		if r := matchRatio(word, typo); r > 0.85 && r > bestRatio {
			bestRatio = r
			best = corrections[typo]
		}
	}

	if bestRatio > 0.8 {
		return best
	}
	return word
}

// tokenize splits text into alternating word and non-word runs so the
// original spacing and punctuation survive reassembly.
func tokenize(text string) []string {
	var toks []string
	start := 0
	inWord := false
	for i, r := range text {
		w := isWordRune(r)
		if i == 0 {
			inWord = w
			continue
		}
		if w != inWord {
			toks = append(toks, text[start:i])
			start = i
			inWord = w
		}
	}
	if len(text) > 0 {
		toks = append(toks, text[start:])
	}
	return toks
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// matchCase reshapes fixed to the case pattern of the original token.
func matchCase(original, fixed string) string {
	if strings.ToUpper(original) == original {
		return strings.ToUpper(fixed)
	}
	if isTitle(original) {
		return strings.ToUpper(fixed[:1]) + fixed[1:]
	}
	return fixed
}

func isTitle(s string) bool {
	r := []rune(s)
	if len(r) == 0 || !unicode.IsUpper(r[0]) {
		return false
	}
	for _, c := range r[1:] {
		if unicode.IsUpper(c) {
			return false
		}
	}
	return true
}

// matchRatio is a similarity in [0,1]: 2·|LCS| / (|a|+|b|).
func matchRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	l := lcs(a, b)
	return 2 * float64(l) / float64(len(a)+len(b))
}

// lcs computes longest-common-subsequence length with a rolling row.
func lcs(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
