package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{5, 0}), 1e-9, "magnitude does not matter")
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestCosine_DegenerateInputs(t *testing.T) {
	assert.Zero(t, Cosine(nil, nil))
	assert.Zero(t, Cosine([]float32{1, 2}, []float32{1, 2, 3}), "mismatched dimensions")
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}), "zero vector has no direction")
}

func TestJaccard(t *testing.T) {
	a := map[string]bool{"deck": true, "labor": true, "staining": true}
	b := map[string]bool{"deck": true, "labor": true, "materials": true}

	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9, "2 shared of 4 distinct terms")
	assert.InDelta(t, 1.0, Jaccard(a, a), 1e-9)
	assert.Zero(t, Jaccard(a, nil))
}

func TestTermSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, TermSimilarity("Deck Labor", "deck labor"), 1e-9, "case-insensitive")
	assert.Zero(t, TermSimilarity("deck labor", "gutter cleaning"))

	sim := TermSimilarity("labor underquoted on large decks", "labor underquoted on small decks")
	assert.Greater(t, sim, 0.5)
	assert.Less(t, sim, 1.0)
}

func TestExtractTerms(t *testing.T) {
	terms := ExtractTerms("Increase the deck-staining labor by 15% for 2-story homes")

	assert.True(t, terms["deck"])
	assert.True(t, terms["staining"])
	assert.True(t, terms["labor"])
	assert.True(t, terms["15%"])
	assert.False(t, terms["the"], "stop words dropped")
	assert.False(t, terms["by"], "stop words dropped")
	assert.False(t, terms["a"], "single characters dropped")
}