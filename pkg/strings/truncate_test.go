package strings

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateCell(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{name: "short value unchanged", input: "win10-x64", maxLen: 20, expected: "win10-x64"},
		{name: "exact length unchanged", input: "hello", maxLen: 5, expected: "hello"},
		{name: "long value cut", input: "Product Suite 2024 Service Pack 1", maxLen: 15, expected: "Product Suit..."},
		{name: "newlines folded", input: "lab\r\nmachine", maxLen: 20, expected: "lab machine"},
		{name: "runs of blanks folded", input: "  a \t\t b  ", maxLen: 20, expected: "a b"},
		{name: "blank becomes empty", input: " \n\t ", maxLen: 10, expected: ""},
		{name: "small limit clamped", input: "hello", maxLen: 1, expected: "h..."},
		{name: "negative limit clamped", input: "hello", maxLen: -3, expected: "h..."},
		{name: "short value under small limit", input: "hi", maxLen: 3, expected: "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncateCell(tt.input, tt.maxLen))
		})
	}
}

func TestTruncateCell_CountsRunes(t *testing.T) {
	result := TruncateCell("日本語テスト", 5)

	assert.Equal(t, "日本...", result)
	assert.Equal(t, 5, utf8.RuneCountInString(result))
}
