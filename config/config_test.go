package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragkit.yaml")
	data := []byte("chunking:\n  size: 300\nretrieval:\n  mode: keyword\n  top_k: 8\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Chunking.Size)
	assert.Equal(t, "keyword", cfg.Retrieval.Mode)
	assert.Equal(t, 8, cfg.Retrieval.TopK)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().Context.BudgetTokens, cfg.Context.BudgetTokens)
}

func TestLoadFromDirPrefersTopLevelFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ragkit.yaml"), []byte("chunking:\n  size: 111\n"), 0644))

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 111, cfg.Chunking.Size)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.Retrieval.VectorWeight = 0.7
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	// The separator starts with a newline; block-scalar encoding would eat it.
	assert.Equal(t, "\n\n---\n\n", loaded.Context.Separator)
}
