// Package aggregate merges heterogeneous ranked result lists into one.
//
// Deduplication keys on a result fingerprint: the URL hash when a URL is
// present, else a hash of title+content+snippet. Fusion algorithms (RRF,
// weighted-sum, max-score) operate on fingerprints, so the same document
// surfaced by two providers is scored once.
//
// All functions are pure and deterministic: equal inputs in equal order
// produce equal outputs. Ties are broken by input position.
package aggregate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/nulpointcorp/uir-gateway/internal/providers"
)

// RRFConstant is the k in 1/(k+rank); the standard value from the RRF paper.
const RRFConstant = 60

// DefaultMaxSimilar bounds near-duplicate results per domain or title group.
const DefaultMaxSimilar = 2

// Fingerprint identifies a result across providers.
func Fingerprint(r *providers.SearchResult) string {
	if r.URL != "" {
		return strconv.FormatUint(xxhash.Sum64String(r.URL), 16)
	}
	return strconv.FormatUint(xxhash.Sum64String(r.Title+r.Content+r.Snippet), 16)
}

// Dedup keeps one result per fingerprint, retaining the highest score seen.
// First-seen input order is preserved for equal fingerprints.
func Dedup(results []providers.SearchResult) []providers.SearchResult {
	seen := make(map[string]int, len(results))
	out := make([]providers.SearchResult, 0, len(results))
	for _, r := range results {
		fp := Fingerprint(&r)
		if i, ok := seen[fp]; ok {
			if r.Score > out[i].Score {
				out[i] = r
			}
			continue
		}
		seen[fp] = len(out)
		out = append(out, r)
	}
	return out
}

// Aggregate optionally deduplicates, then sorts by score descending with a
// stable tie-break on input order.
func Aggregate(results []providers.SearchResult, dedup bool) []providers.SearchResult {
	out := results
	if dedup {
		out = Dedup(results)
	} else {
		out = append([]providers.SearchResult(nil), results...)
	}
	sortByScore(out)
	return out
}

// ReciprocalRankFusion fuses ranked lists: each fingerprint accumulates
// 1/(k + rank) per list it appears in, rank 1-based. The fused score
// replaces the representative's score.
func ReciprocalRankFusion(lists [][]providers.SearchResult, k int) []providers.SearchResult {
	if k <= 0 {
		k = RRFConstant
	}
	return fuse(lists, func(score *float64, r *providers.SearchResult, rank int) {
		*score += 1 / float64(k+rank)
	}, firstRepresentative)
}

// WeightedSum fuses by summing scores per fingerprint across lists. The
// representative is the highest-scoring occurrence.
func WeightedSum(lists [][]providers.SearchResult) []providers.SearchResult {
	return fuse(lists, func(score *float64, r *providers.SearchResult, rank int) {
		*score += r.Score
	}, bestRepresentative)
}

// MaxScore fuses by taking the maximum score per fingerprint.
func MaxScore(lists [][]providers.SearchResult) []providers.SearchResult {
	return fuse(lists, func(score *float64, r *providers.SearchResult, rank int) {
		if r.Score > *score {
			*score = r.Score
		}
	}, bestRepresentative)
}

type repPolicy int

const (
	firstRepresentative repPolicy = iota
	bestRepresentative
)

type fusedEntry struct {
	rep   providers.SearchResult
	score float64
	order int
}

func fuse(lists [][]providers.SearchResult, accumulate func(*float64, *providers.SearchResult, int), policy repPolicy) []providers.SearchResult {
	entries := make(map[string]*fusedEntry)
	var order []string

	for _, list := range lists {
		for rank, r := range list {
			fp := Fingerprint(&r)
			e, ok := entries[fp]
			if !ok {
				e = &fusedEntry{rep: r, order: len(order)}
				entries[fp] = e
				order = append(order, fp)
			} else if policy == bestRepresentative && r.Score > e.rep.Score {
				e.rep = r
			}
			accumulate(&e.score, &r, rank+1)
		}
	}

	out := make([]providers.SearchResult, 0, len(order))
	for _, fp := range order {
		e := entries[fp]
		e.rep.Score = e.score
		out = append(out, e.rep)
	}
	sortByScore(out)
	return out
}

// Rerank boosts results by query-term overlap: new score is
// old · (1 + 0.5 · matching/|terms|), matching terms counted lowercase in
// title+content+snippet.
func Rerank(results []providers.SearchResult, query string) []providers.SearchResult {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return Aggregate(results, false)
	}

	out := append([]providers.SearchResult(nil), results...)
	for i := range out {
		text := strings.ToLower(out[i].Title + " " + out[i].Content + " " + out[i].Snippet)
		matching := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				matching++
			}
		}
		boost := float64(matching) / float64(len(terms))
		out[i].Score *= 1 + 0.5*boost
	}
	sortByScore(out)
	return out
}

// Diversify greedily filters a score-sorted list. The top result is always
// kept; a candidate is dropped once maxSimilar accepted results share its
// URL domain or its first 50 lowercased title characters.
func Diversify(results []providers.SearchResult, maxSimilar int) []providers.SearchResult {
	if maxSimilar <= 0 {
		maxSimilar = DefaultMaxSimilar
	}
	if len(results) <= 1 {
		return results
	}

	out := make([]providers.SearchResult, 0, len(results))
	out = append(out, results[0])

	for _, cand := range results[1:] {
		cd, cp := domain(cand.URL), titlePrefix(cand.Title)
		similar := 0
		for i := range out {
			if sameGroup(cd, cp, domain(out[i].URL), titlePrefix(out[i].Title)) {
				similar++
			}
		}
		if similar < maxSimilar {
			out = append(out, cand)
		}
	}
	return out
}

func sameGroup(d1, p1, d2, p2 string) bool {
	if d1 != "" && d1 == d2 {
		return true
	}
	return p1 != "" && p1 == p2
}

func domain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(strings.ToLower(s), "www.")
}

func titlePrefix(title string) string {
	t := strings.ToLower(title)
	if len(t) > 50 {
		t = t[:50]
	}
	return t
}

func sortByScore(results []providers.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
