package storage

import "strings"

// stopwords excluded from keyword matching. Small on purpose: the fallback
// only has to be good enough to keep matching alive while the embedder is
// down.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"was": true, "with": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// KeywordScore returns the fraction of query keywords present in the
// candidate text, in [0, 1]. It stands in for cosine similarity when no
// embedding is available.
func KeywordScore(query, candidate string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}

	candidateSet := make(map[string]bool)
	for _, tok := range tokenize(candidate) {
		candidateSet[tok] = true
	}

	hits := 0
	for _, tok := range queryTokens {
		if candidateSet[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}
