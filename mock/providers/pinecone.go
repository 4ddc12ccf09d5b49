package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
)

// newPineconeHandler returns an http.Handler simulating the Pinecone index
// API: /query, /vectors/upsert, and /describe_index_stats.
func newPineconeHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	requireKey := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Api-Key") == "" {
			writeError(w, http.StatusUnauthorized, "missing Api-Key header", "unauthorized")
			return false
		}
		return true
	}

	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		if !requireKey(w, r) {
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal error", "query_error")
			return
		}

		var req struct {
			Vector []float32 `json:"vector"`
			TopK   int       `json:"topK"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Vector) == 0 {
			writeError(w, http.StatusBadRequest, "vector is required", "invalid_request")
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = 10
		}

		matches := make([]map[string]any, 0, topK)
		score := 0.95
		for i := 0; i < topK; i++ {
			matches = append(matches, map[string]any{
				"id":    fmt.Sprintf("vec-%d", i),
				"score": score,
				"metadata": map[string]any{
					"title":   fakeSentence(5),
					"content": fakeSentence(30),
					"url":     fmt.Sprintf("https://kb.example.org/%d", i),
				},
			})
			score -= 0.03 * rand.Float64()
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"matches":   matches,
			"namespace": "",
		})
	})

	mux.HandleFunc("/vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		if !requireKey(w, r) {
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal error", "upsert_error")
			return
		}

		var req struct {
			Vectors []json.RawMessage `json:"vectors"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"upsertedCount": len(req.Vectors),
		})
	})

	mux.HandleFunc("/describe_index_stats", func(w http.ResponseWriter, r *http.Request) {
		if !requireKey(w, r) {
			return
		}
		applyLatency(cfg)
		writeJSON(w, http.StatusOK, map[string]any{
			"dimension":        768,
			"totalVectorCount": 100000,
			"namespaces":       map[string]any{},
		})
	})

	return mux
}
