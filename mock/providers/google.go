package main

import (
	"fmt"
	"net/http"
	"strconv"
)

// newGoogleHandler returns an http.Handler that simulates the Google Custom
// Search JSON API. The adapter talks to it via the base endpoint override.
func newGoogleHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	// GET /  — the customsearch/v1 query endpoint (the adapter appends
	// its query string to the configured base URL).
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		applyLatency(cfg)
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal error", "backend_error")
			return
		}

		q := r.URL.Query()
		if q.Get("key") == "" || q.Get("cx") == "" {
			writeError(w, http.StatusUnauthorized, "missing API key", "unauthorized")
			return
		}
		query := q.Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, "missing query", "invalid_request")
			return
		}

		num := 10
		if v := q.Get("num"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10 {
				num = n
			}
		}

		items := make([]map[string]any, 0, num)
		for i := 0; i < num; i++ {
			link := fmt.Sprintf("https://example.org/%s/%d", sanitize(query), i)
			items = append(items, map[string]any{
				"title":       fakeSentence(6),
				"link":        link,
				"snippet":     fakeSentence(20),
				"displayLink": "example.org",
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"kind":  "customsearch#search",
			"items": items,
			"searchInformation": map[string]any{
				"totalResults": strconv.Itoa(num * 100),
			},
		})
	})

	return mux
}

// sanitize keeps the query URL-safe for the fake result links.
func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
