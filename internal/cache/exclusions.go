package cache

import (
	"fmt"
	"regexp"
)

// ExclusionList names the providers whose responses must never enter the
// cache — typically internal or staging providers whose results are
// caller-private or change too fast to be worth storing. Rules come in two
// forms:
//
//   - exact provider names, checked as a set
//   - regular expressions, checked in configuration order
//
// A nil list excludes nothing, so callers never guard the lookup.
type ExclusionList struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewExclusionList compiles the rule set. A bad pattern fails construction
// so a typo in the config surfaces at startup instead of silently caching
// an excluded provider. Empty rule strings are ignored.
func NewExclusionList(exact, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{
		exact: make(map[string]struct{}, len(exact)),
	}
	for _, name := range exact {
		if name != "" {
			el.exact[name] = struct{}{}
		}
	}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache exclusion: invalid pattern %q: %w", p, err)
		}
		el.patterns = append(el.patterns, re)
	}
	return el, nil
}

// Matches reports whether provider is excluded from caching. The exact set
// is consulted before the patterns.
func (el *ExclusionList) Matches(provider string) bool {
	if el == nil {
		return false
	}
	if _, ok := el.exact[provider]; ok {
		return true
	}
	for _, re := range el.patterns {
		if re.MatchString(provider) {
			return true
		}
	}
	return false
}

// Len is the number of configured rules, exact and pattern combined.
func (el *ExclusionList) Len() int {
	if el == nil {
		return 0
	}
	return len(el.exact) + len(el.patterns)
}
