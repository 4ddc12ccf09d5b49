package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
)

// newElasticsearchHandler returns an http.Handler simulating the slice of
// the Elasticsearch HTTP API the adapter uses:
//
//	POST /{index}/_search   — full-text and kNN search
//	POST /_bulk             — NDJSON bulk indexing
//	GET  /_cluster/health   — health probe
func newElasticsearchHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/_cluster/health", func(w http.ResponseWriter, r *http.Request) {
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal error", "cluster_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cluster_name": "mock-cluster",
			"status":       "green",
		})
	})

	mux.HandleFunc("/_bulk", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal error", "bulk_error")
			return
		}

		// Count action lines (every other NDJSON line).
		var items []map[string]any
		sc := bufio.NewScanner(r.Body)
		line := 0
		for sc.Scan() {
			if line%2 == 0 && len(strings.TrimSpace(sc.Text())) > 0 {
				items = append(items, map[string]any{
					"index": map[string]any{"status": 201, "result": "created"},
				})
			}
			line++
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"errors": false,
			"items":  items,
		})
	})

	// Anything else is treated as /{index}/_search.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/_search") {
			writeError(w, http.StatusNotFound, "unknown endpoint", "not_found")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal error", "search_error")
			return
		}

		var body struct {
			Size int `json:"size"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		size := body.Size
		if size <= 0 {
			size = 10
		}

		hits := make([]map[string]any, 0, size)
		for i := 0; i < size; i++ {
			score := 10.0 * rand.Float64()
			hits = append(hits, map[string]any{
				"_id":    fmt.Sprintf("doc-%d", i),
				"_score": score,
				"_source": map[string]any{
					"title":       fakeSentence(5),
					"content":     fakeSentence(40),
					"description": fakeSentence(12),
					"url":         fmt.Sprintf("https://docs.example.org/%d", i),
				},
				"highlight": map[string]any{
					"content": []string{fakeSentence(8)},
				},
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"took": cfg.LatencyMS,
			"hits": map[string]any{
				"total": map[string]any{"value": size * 10, "relation": "gte"},
				"hits":  hits,
			},
		})
	})

	return mux
}
