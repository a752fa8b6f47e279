package cli

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPreviewKeepsShortContent(t *testing.T) {
	assert.Equal(t, "short", preview("short", 60))
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	content := strings.Repeat("知识库检索", 20)
	out := preview(content, 60)

	assert.True(t, utf8.ValidString(out), "truncation must not split a multi-byte character")
	assert.Equal(t, string([]rune(content)[:60])+"...", out)
}
