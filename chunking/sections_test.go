package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		line  string
		ok    bool
		level int
		text  string
	}{
		{"# Title", true, 1, "Title"},
		{"#### Four", true, 4, "Four"},
		{"##### Five", false, 0, ""},
		{"#hashtag", false, 0, ""},
		{"## Closed ##", true, 2, "Closed"},
		{"   ## Indented", true, 2, "Indented"},
		{"    # Code block", false, 0, ""},
		{"#", true, 1, ""},
		{"C# is a language", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			h, ok := parseHeader(tt.line)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.level, h.level)
				assert.Equal(t, tt.text, h.text)
			}
		})
	}
}

func TestSplitSections_TildeFence(t *testing.T) {
	sections, err := splitSections("# A\n~~~\n# inside\n```\n# still inside\n~~~\n# B\nx")
	assert.NoError(t, err)
	assert.Len(t, sections, 2)
}

func TestSplitSections_CRLF(t *testing.T) {
	sections, err := splitSections("# A\r\nbody\r\n# B\r\nmore")
	assert.NoError(t, err)
	assert.Len(t, sections, 2)
	assert.Equal(t, "# A\nbody", sections[0].content)
}
