package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"日本語テキスト", 2}, // 7 runes -> ceil(7/4)
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Estimate(tt.in), "%q", tt.in)
	}
}

// Estimate is monotone in rune count and exactly ceil(runes/4).
func TestEstimateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		runes := len([]rune(s))
		want := (runes + 3) / 4
		if got := Estimate(s); got != want {
			t.Fatalf("Estimate(%q) = %d, want %d", s, got, want)
		}
	})
}

func TestTiktokenCounterPicksEncoding(t *testing.T) {
	assert.Equal(t, "tiktoken[o200k_base]", NewTiktokenCounter("gpt-4o-mini").Name())
	assert.Equal(t, "tiktoken[cl100k_base]", NewTiktokenCounter("gpt-4-turbo").Name())
	assert.Equal(t, "tiktoken[cl100k_base]", NewTiktokenCounter("some-unknown-model").Name())
}

func TestTiktokenCounterNeverFails(t *testing.T) {
	// Even without encoding data the counter falls back to the estimate.
	c := NewTiktokenCounter("some-unknown-model")
	n, err := c.CountTokens("four byte words here")
	assert.NoError(t, err)
	assert.Positive(t, n)
}
