package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestWalkMatchesPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "guide.md", []byte("docs"))
	writeFile(t, root, "notes/deep/inner.md", []byte("more docs"))
	writeFile(t, root, "binary.png", []byte{0x89, 0x50})
	writeFile(t, root, "node_modules/dep/readme.md", []byte("dep docs"))

	w := NewWalker([]string{"**/*.md"}, []string{"**/node_modules/**"})
	files, err := w.Walk(root)
	require.NoError(t, err)

	sources := make([]string, 0, len(files))
	for _, f := range files {
		sources = append(sources, f.Source)
	}
	assert.ElementsMatch(t, []string{"guide.md", "notes/deep/inner.md"}, sources)
}

func TestWalkSingleFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "only.txt", []byte("body"))

	w := NewWalker([]string{"**/*.md"}, nil)
	files, err := w.Walk(filepath.Join(root, "only.txt"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "only.txt", files[0].Source)
}

func TestReadTextRejectsBinary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "bin.dat", []byte{0x00, 0x01, 0x02})
	writeFile(t, root, "ok.txt", []byte("plain text 中文"))

	w := NewWalker(nil, nil)
	files, err := w.Walk(root)
	require.NoError(t, err)

	byName := make(map[string]SourceFile)
	for _, f := range files {
		byName[f.Source] = f
	}

	_, err = ReadText(byName["bin.dat"])
	assert.Error(t, err)

	text, err := ReadText(byName["ok.txt"])
	require.NoError(t, err)
	assert.Equal(t, "plain text 中文", text)
}
