// Package similarity provides vector and term similarity utilities.
package similarity

import (
	"math"
	"strings"
)

// Cosine computes the cosine similarity between two float32 vectors.
// Returns a value in [-1, 1], where 1 means identical direction.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dotProduct += ai * bi
		normA += ai * ai
		normB += bi * bi
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Jaccard computes the Jaccard similarity between two term sets.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for term := range a {
		if b[term] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}

// TermSimilarity tokenizes both texts and returns their Jaccard similarity.
// Used as the dedup fallback when embeddings are unavailable.
func TermSimilarity(a, b string) float64 {
	return Jaccard(ExtractTerms(a), ExtractTerms(b))
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "for": true,
	"of": true, "to": true, "in": true, "on": true, "with": true,
	"and": true, "or": true, "at": true, "by": true, "per": true,
}

// ExtractTerms tokenizes text into a set of meaningful lowercase terms.
func ExtractTerms(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.' || r == '%')
	})

	terms := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		terms[w] = true
	}
	return terms
}
