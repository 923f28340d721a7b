package pipeline

import "strings"

// Vocabulary that signals the user is asking about themselves or their
// goals, so the richer profile-aware path is worth its extra store read.
var personalizationTerms = map[string]struct{}{
	"i":        {},
	"i'm":      {},
	"i've":     {},
	"i'll":     {},
	"me":       {},
	"my":       {},
	"mine":     {},
	"myself":   {},
	"goal":     {},
	"goals":    {},
	"diet":     {},
	"plan":     {},
	"weight":   {},
	"calorie":  {},
	"calories": {},
	"macro":    {},
	"macros":   {},
	"deficit":  {},
	"surplus":  {},
	"bulk":     {},
	"cut":      {},
	"lose":     {},
	"losing":   {},
	"gain":     {},
	"gaining":  {},
	"tdee":     {},
	"bmr":      {},
	"progress": {},
	"target":   {},
}

// needsPersonalization is the pipeline's only conditional branch: a pure
// keyword heuristic over the latest query deciding whether profile fetch
// runs before historical retrieval.
func needsPersonalization(query string) bool {
	for _, token := range tokenize(query) {
		if _, ok := personalizationTerms[token]; ok {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' {
			return false
		}
		return true
	})
}
