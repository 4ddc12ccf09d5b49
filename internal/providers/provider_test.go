package providers

import (
	"encoding/json"
	"testing"
	"time"
)

// TestOptionsDecodeOverDefaults verifies that absent fields take the defaults
// rather than Go zero values.
func TestOptionsDecodeOverDefaults(t *testing.T) {
	var opts SearchOptions
	if err := json.Unmarshal([]byte(`{"limit": 25}`), &opts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if opts.Limit != 25 {
		t.Errorf("Limit = %d, want 25", opts.Limit)
	}
	if opts.TimeoutMS != DefaultTimeoutMS {
		t.Errorf("TimeoutMS = %d, want default %d", opts.TimeoutMS, DefaultTimeoutMS)
	}
	if !opts.Deduplicate {
		t.Error("Deduplicate should default to true")
	}
	if !opts.IncludeMetadata {
		t.Error("IncludeMetadata should default to true")
	}
	if !opts.Cache.Enabled {
		t.Error("caching should default to enabled")
	}
}

// TestOptionsExplicitFalseSurvives verifies an explicit false is not clobbered
// by the defaults.
func TestOptionsExplicitFalseSurvives(t *testing.T) {
	var opts SearchOptions
	if err := json.Unmarshal([]byte(`{"deduplicate": false, "cache": {"enabled": false}}`), &opts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if opts.Deduplicate {
		t.Error("explicit deduplicate=false was overridden")
	}
	if opts.Cache.Enabled {
		t.Error("explicit cache.enabled=false was overridden")
	}
}

func TestOptionsValidateBounds(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*SearchOptions)
		wantErr bool
	}{
		{"defaults", func(*SearchOptions) {}, false},
		{"limit zero", func(o *SearchOptions) { o.Limit = 0 }, true},
		{"limit over max", func(o *SearchOptions) { o.Limit = MaxLimit + 1 }, true},
		{"limit at max", func(o *SearchOptions) { o.Limit = MaxLimit }, false},
		{"negative offset", func(o *SearchOptions) { o.Offset = -1 }, true},
		{"timeout under min", func(o *SearchOptions) { o.TimeoutMS = MinTimeoutMS - 1 }, true},
		{"timeout over max", func(o *SearchOptions) { o.TimeoutMS = MaxTimeoutMS + 1 }, true},
		{"bad filter", func(o *SearchOptions) {
			o.Filters = map[string]Filter{"f": {Op: "between"}}
		}, true},
		{"good filter", func(o *SearchOptions) {
			o.Filters = map[string]Filter{"kind": Eq("paper")}
		}, false},
	}
	for _, c := range cases {
		opts := DefaultSearchOptions()
		c.mutate(opts)
		err := opts.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", c.name, err, c.wantErr)
		}
		if err != nil && KindOf(err) != KindValidation {
			t.Errorf("%s: kind = %s, want ValidationError", c.name, KindOf(err))
		}
	}
}

func TestOptionsTimeoutAndTTL(t *testing.T) {
	opts := DefaultSearchOptions()
	if opts.Timeout() != DefaultTimeoutMS*time.Millisecond {
		t.Errorf("Timeout = %v", opts.Timeout())
	}
	opts.TimeoutMS = 250
	if opts.Timeout() != 250*time.Millisecond {
		t.Errorf("Timeout = %v, want 250ms", opts.Timeout())
	}

	opts.Cache.TTLSeconds = 0
	if opts.TTL() != DefaultCacheTTL {
		t.Errorf("TTL = %v, want default", opts.TTL())
	}
	opts.Cache.TTLSeconds = 90
	if opts.TTL() != 90*time.Second {
		t.Errorf("TTL = %v, want 90s", opts.TTL())
	}
}

func TestProviderList(t *testing.T) {
	r := &SearchRequest{Provider: "google"}
	if got := r.ProviderList(); len(got) != 1 || got[0] != "google" {
		t.Errorf("ProviderList = %v", got)
	}

	r = &SearchRequest{Provider: "google", Providers: []string{"elasticsearch", "qdrant"}}
	got := r.ProviderList()
	if len(got) != 2 || got[0] != "elasticsearch" || got[1] != "qdrant" {
		t.Errorf("Providers must win over Provider, got %v", got)
	}

	r = &SearchRequest{}
	if got := r.ProviderList(); got != nil {
		t.Errorf("ProviderList on empty request = %v, want nil", got)
	}
}

func TestFilterDecodeShorthand(t *testing.T) {
	var f Filter
	if err := json.Unmarshal([]byte(`"paper"`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Op != OpEq || f.Value != "paper" {
		t.Errorf("bare literal decoded as %+v, want eq paper", f)
	}

	if err := json.Unmarshal([]byte(`{"op":"in","values":["a","b"]}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Op != OpIn || len(f.Values) != 2 {
		t.Errorf("operator object decoded as %+v", f)
	}
}

func TestFilterValidate(t *testing.T) {
	cases := []struct {
		name    string
		f       Filter
		wantErr bool
	}{
		{"eq", Eq("x"), false},
		{"in", In("a", "b"), false},
		{"in empty", Filter{Op: OpIn}, true},
		{"range from only", Filter{Op: OpRange, From: "2024-01-01"}, false},
		{"range empty", Filter{Op: OpRange}, true},
		{"gte no value", Filter{Op: OpGte}, true},
		{"unknown op", Filter{Op: "between", Value: 1}, true},
	}
	for _, c := range cases {
		if err := c.f.Validate(); (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestNormalizeScore(t *testing.T) {
	cases := []struct {
		x, min, max, want float64
	}{
		{5, 0, 10, 0.5},
		{10, 0, 10, 1},
		{0, 0, 10, 0},
		{7, 7, 7, 0.5}, // degenerate range
		{-1, 0, 10, 0}, // clamped
		{11, 0, 10, 1}, // clamped
	}
	for _, c := range cases {
		if got := NormalizeScore(c.x, c.min, c.max); got != c.want {
			t.Errorf("NormalizeScore(%v, %v, %v) = %v, want %v", c.x, c.min, c.max, got, c.want)
		}
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.2, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.3, 1}, // dot-product metrics can exceed 1
	}
	for _, c := range cases {
		if got := Clamp01(c.in); got != c.want {
			t.Errorf("Clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestPositionScore(t *testing.T) {
	if got := PositionScore(0, 10); got != 1 {
		t.Errorf("top rank = %v, want 1", got)
	}
	if got := PositionScore(9, 10); got != 0.1 {
		t.Errorf("last rank = %v, want 0.1", got)
	}
	if got := PositionScore(0, 0); got != 0 {
		t.Errorf("empty page = %v, want 0", got)
	}
}

func TestProviderConfigEndpoint(t *testing.T) {
	c := &ProviderConfig{Endpoints: map[string]string{
		"base":   "https://api.example.com",
		"search": "https://search.example.com",
	}}
	if got := c.Endpoint("search"); got != "https://search.example.com" {
		t.Errorf("Endpoint(search) = %q", got)
	}
	if got := c.Endpoint("index"); got != "https://api.example.com" {
		t.Errorf("Endpoint(index) = %q, want base fallback", got)
	}
}
