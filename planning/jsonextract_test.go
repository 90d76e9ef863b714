package planning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONStripsCodeFenceAndCommentary(t *testing.T) {
	s := "Sure, here you go:\n```json\n{\"a\": 1}\n```\nLet me know if that works."
	assert.Equal(t, `{"a": 1}`, extractJSON(s))
}

func TestExtractJSONHandlesArrayRoot(t *testing.T) {
	s := `preamble [{"phase":1}, {"phase":2}] trailer`
	assert.Equal(t, `[{"phase":1}, {"phase":2}]`, extractJSON(s))
}

func TestFindJSONEndStringSafeIgnoresBracesInsideStrings(t *testing.T) {
	s := `{"goal": "do { this } and that"}`
	end := findJSONEndStringSafe(s, 0)
	assert.Equal(t, len(s), end)
}

func TestFindJSONEndStringSafeHandlesEscapedQuotes(t *testing.T) {
	s := `{"goal": "say \"hi\""}`
	end := findJSONEndStringSafe(s, 0)
	assert.Equal(t, len(s), end)
}

func TestStripMarkdownFromJSONRemovesBoldMarkers(t *testing.T) {
	assert.Equal(t, `{"goal": "fetch rows"}`, stripMarkdownFromJSON(`{"goal": "**fetch** rows"}`))
}
