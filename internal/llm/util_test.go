package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"ids\": [\"m-1\"]}\n```",
			expected: `{"ids": ["m-1"]}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"ids\": []}\n```",
			expected: `{"ids": []}`,
		},
		{
			name:     "plain JSON",
			input:    `{"ids": ["m-1", "m-2"]}`,
			expected: `{"ids": ["m-1", "m-2"]}`,
		},
		{
			name:     "preamble before object",
			input:    "Here are my picks:\n{\"ids\": [\"m-3\"], \"notes\": [\"spicy\"]}",
			expected: `{"ids": ["m-3"], "notes": ["spicy"]}`,
		},
		{
			name:     "trailing text",
			input:    "{\"ids\": [\"m-1\"]}\n\nEnjoy your meals!",
			expected: `{"ids": ["m-1"]}`,
		},
		{
			name:     "braces inside strings",
			input:    `Result: {"notes": ["try {this} one"], "ids": []}`,
			expected: `{"notes": ["try {this} one"], "ids": []}`,
		},
		{
			name:     "escaped quotes",
			input:    `{"notes": ["the \"house\" special"]}`,
			expected: `{"notes": ["the \"house\" special"]}`,
		},
		{
			name:     "array",
			input:    "Picks: [\"m-1\", \"m-2\"] done",
			expected: `["m-1", "m-2"]`,
		},
		{
			name:     "no JSON",
			input:    "  I cannot help with that.  ",
			expected: "I cannot help with that.",
		},
		{
			name:     "unbalanced",
			input:    `{"ids": ["m-1"`,
			expected: `{"ids": ["m-1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractBalanced(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, extractJSONObject(`{"a": {"b": 1}} tail`))
	assert.Equal(t, `[[1, 2], [3]]`, extractJSONArray(`[[1, 2], [3]] tail`))
	assert.Equal(t, "", extractJSONObject(""))
	assert.Equal(t, "", extractJSONArray("not array"))
}
