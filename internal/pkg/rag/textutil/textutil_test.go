package textutil

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a\t b\n\nc "))
	assert.Equal(t, "", CollapseWhitespace("   \n\t "))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"s10", "emergency", "stop"}, Tokenize("S10 Emergency  STOP"))
	assert.Empty(t, Tokenize(""))
}

func TestWindowSplit(t *testing.T) {
	text := strings.Repeat("abcde ", 400) // 2400 chars
	windows := WindowSplit(text, 900)
	require.Len(t, windows, 3)
	for _, w := range windows {
		assert.LessOrEqual(t, len([]rune(w)), 900)
		assert.NotEmpty(t, w)
	}

	// 拼接后（忽略窗口边界空白差异）应保持原文词序
	joined := CollapseWhitespace(strings.Join(windows, " "))
	assert.Equal(t, CollapseWhitespace(text), joined)
}

func TestWindowSplitDefaults(t *testing.T) {
	windows := WindowSplit("short text", 0)
	require.Len(t, windows, 1)
	assert.Equal(t, "short text", windows[0])

	assert.Nil(t, WindowSplit("", 900))
}

func TestNormalize(t *testing.T) {
	vec := []float32{3, 4}
	Normalize(vec)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.False(t, math.IsNaN(CosineSimilarity([]float32{0}, []float32{0})))
}
