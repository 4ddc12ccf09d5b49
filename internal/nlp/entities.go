package nlp

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// Pattern-matched entities carry confidence 0.95, keyword matches 0.9
// (0.8 when the surface form differs in case), numeric matches 0.85.
const (
	patternConfidence  = 0.95
	keywordConfidence  = 0.9
	caseMismatchConf   = 0.8
	numericConfidence  = 0.85
)

type labeledPattern struct {
	label string
	conf  float64
	re    *regexp.Regexp
}

var spanPatterns = compilePatterns([]struct {
	label    string
	conf     float64
	patterns []string
}{
	{"DATE", patternConfidence, []string{
		`\b\d{4}-\d{2}-\d{2}\b`,
		`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`,
		`\b(?i:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]* \d{1,2},? \d{4}\b`,
		`\b\d{1,2} (?i:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]* \d{4}\b`,
	}},
	{"EMAIL", patternConfidence, []string{
		`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	}},
	{"URL", patternConfidence, []string{
		`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`,
		`www\.[^\s<>"{}|\\^` + "`" + `\[\]]+`,
	}},
	{"PHONE", patternConfidence, []string{
		`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`,
	}},
	{"MONEY", patternConfidence, []string{
		`\$\d+(?:,\d{3})*(?:\.\d{2})?`,
		`\b\d+(?:,\d{3})*(?:\.\d{2})?\s?(?i:usd|dollars?|cents?)\b`,
	}},
	{"PERCENTAGE", patternConfidence, []string{
		`\b\d+(?:\.\d+)?%`,
		`\b\d+(?:\.\d+)?\s?(?i:percent)\b`,
	}},
	{"TIME", patternConfidence, []string{
		`\b\d{1,2}:\d{2}(?::\d{2})?\s?(?i:am|pm)?\b`,
		`\b(?i:morning|afternoon|evening|night)\b`,
	}},
})

var numericPatterns = compilePatterns([]struct {
	label    string
	conf     float64
	patterns []string
}{
	{"QUANTITY", numericConfidence, []string{
		`\b\d+(?:,\d{3})*(?:\.\d+)?\s?(?i:billion|million|thousand|hundred)\b`,
	}},
	{"NUMBER", numericConfidence, []string{
		`\b\d+(?:,\d{3})*(?:\.\d+)?\b`,
	}},
	{"ORDINAL", numericConfidence, []string{
		`\b(?i:first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\b`,
	}},
	{"CARDINAL", numericConfidence, []string{
		`\b(?i:one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\b`,
	}},
})

func compilePatterns(groups []struct {
	label    string
	conf     float64
	patterns []string
}) []labeledPattern {
	var out []labeledPattern
	for _, g := range groups {
		for _, p := range g.patterns {
			out = append(out, labeledPattern{g.label, g.conf, regexp.MustCompile(p)})
		}
	}
	return out
}

// keywordEntities maps labels to known multi-word surface forms, matched
// case-insensitively on word boundaries.
var keywordEntities = map[string][]string{
	"TECHNOLOGY": {
		"transformer", "transformers", "bert", "gpt",
		"attention", "self-attention", "encoder", "decoder",
		"neural network", "neural networks", "cnn", "rnn", "lstm",
		"machine learning", "deep learning", "artificial intelligence",
		"natural language processing", "nlp", "computer vision",
		"reinforcement learning", "supervised learning", "unsupervised learning",
		"classification", "regression", "clustering",
		"tensorflow", "pytorch", "keras", "pandas", "numpy",
		"python", "java", "javascript", "rust", "sql",
		"docker", "kubernetes", "aws", "azure", "gcp",
		"api", "rest", "graphql", "microservices", "database",
		"elasticsearch", "mongodb", "postgresql", "redis", "cassandra",
		"spark", "hadoop", "kafka", "rabbitmq", "nginx",
	},
	"ORGANIZATION": {
		"google", "microsoft", "apple", "amazon", "meta", "facebook",
		"netflix", "uber", "twitter", "linkedin", "github",
		"openai", "huggingface", "deepmind", "nvidia", "intel", "amd",
		"mit", "stanford", "harvard", "berkeley", "carnegie mellon",
		"ieee", "acm", "arxiv", "pubmed", "nature",
	},
	"PERSON": {
		"john", "jane", "smith", "johnson", "brown", "davis", "miller",
		"wilson", "moore", "taylor", "anderson", "thomas", "jackson",
		"white", "harris", "martin", "thompson", "garcia", "martinez",
		"robinson", "clark", "rodriguez", "lewis", "lee", "walker",
	},
	"LOCATION": {
		"new york", "los angeles", "chicago", "houston", "phoenix",
		"philadelphia", "san antonio", "san diego", "dallas", "san jose",
		"austin", "san francisco", "seattle", "denver", "boston",
		"california", "texas", "florida", "pennsylvania",
		"illinois", "ohio", "georgia", "michigan",
		"usa", "united states", "america", "canada", "uk", "england",
		"france", "germany", "italy", "spain", "japan", "china", "india",
	},
	"RESEARCH_FIELD": {
		"computer science", "machine learning", "artificial intelligence",
		"data science", "statistics", "mathematics", "physics",
		"biology", "chemistry", "medicine", "psychology", "neuroscience",
		"linguistics", "economics", "finance", "engineering",
		"electrical engineering", "software engineering", "bioengineering",
	},
}

// RegexEntityExtractor is the default EntityExtractor: regex patterns for
// structured spans, keyword lists for domain terms, numeric patterns last.
// All tables are read-only after construction.
type RegexEntityExtractor struct {
	keywordPatterns []keywordPattern
}

type keywordPattern struct {
	label   string
	keyword string
	re      *regexp.Regexp
}

// NewRegexEntityExtractor compiles the keyword tables.
func NewRegexEntityExtractor() *RegexEntityExtractor {
	labels := make([]string, 0, len(keywordEntities))
	for label := range keywordEntities {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var kps []keywordPattern
	for _, label := range labels {
		for _, kw := range keywordEntities[label] {
			re := regexp.MustCompile(`\b(?i:` + regexp.QuoteMeta(kw) + `)\b`)
			kps = append(kps, keywordPattern{label, kw, re})
		}
	}
	return &RegexEntityExtractor{keywordPatterns: kps}
}

// Extract returns non-overlapping entities sorted by position. When spans
// overlap, the higher-confidence entity wins; ties go to the earlier start.
func (x *RegexEntityExtractor) Extract(_ context.Context, text string) ([]Entity, error) {
	var entities []Entity

	for _, lp := range spanPatterns {
		for _, loc := range lp.re.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{
				Text:       text[loc[0]:loc[1]],
				Label:      lp.label,
				Start:      loc[0],
				End:        loc[1],
				Confidence: lp.conf,
			})
		}
	}

	for _, kp := range x.keywordPatterns {
		for _, loc := range kp.re.FindAllStringIndex(text, -1) {
			surface := text[loc[0]:loc[1]]
			conf := keywordConfidence
			if strings.ToLower(surface) != kp.keyword {
				conf = caseMismatchConf
			}
			entities = append(entities, Entity{
				Text:       surface,
				Label:      kp.label,
				Start:      loc[0],
				End:        loc[1],
				Confidence: conf,
			})
		}
	}

	for _, lp := range numericPatterns {
		for _, loc := range lp.re.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{
				Text:       text[loc[0]:loc[1]],
				Label:      lp.label,
				Start:      loc[0],
				End:        loc[1],
				Confidence: lp.conf,
			})
		}
	}

	entities = removeOverlaps(entities)
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Start < entities[j].Start })
	return entities, nil
}

// removeOverlaps sweeps entities sorted by (start, −confidence) and drops
// any that overlap an accepted higher-confidence span.
func removeOverlaps(entities []Entity) []Entity {
	if len(entities) == 0 {
		return entities
	}
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		return entities[i].Confidence > entities[j].Confidence
	})

	var accepted []Entity
	for _, e := range entities {
		keep := true
		for i := 0; i < len(accepted); i++ {
			a := accepted[i]
			if e.Start < a.End && e.End > a.Start {
				if e.Confidence <= a.Confidence {
					keep = false
				} else {
					accepted = append(accepted[:i], accepted[i+1:]...)
				}
				break
			}
		}
		if keep {
			accepted = append(accepted, e)
		}
	}
	return accepted
}
