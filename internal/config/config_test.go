package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPopulatesRetrievalAndEmbeddingDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "hybrid", cfg.Retrieval.Mode)
	assert.Equal(t, "weighted", cfg.Retrieval.Fusion)
	assert.Equal(t, 168.0, cfg.Retrieval.RecencyHalfLifeHrs)
	assert.Equal(t, 384, cfg.Embedding.Dim)
	assert.Equal(t, "bartholomew.db", cfg.Store.Filename)
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
store:
  data_dir: /var/lib/bartholomew
  filename: memory.db
embedding:
  provider: local-model
  model: e5-small
  dim: 256
retrieval:
  mode: vector
  fusion: rrf
  rrf_k: 45
indexing:
  disallow_strong_only: true
brake:
  engaged: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/bartholomew", cfg.Store.DataDir)
	assert.Equal(t, "memory.db", cfg.Store.Filename)
	assert.Equal(t, "local-model", cfg.Embedding.Provider)
	assert.Equal(t, 256, cfg.Embedding.Dim)
	assert.Equal(t, "vector", cfg.Retrieval.Mode)
	assert.Equal(t, "rrf", cfg.Retrieval.Fusion)
	assert.Equal(t, 45.0, cfg.Retrieval.RRFK)
	assert.True(t, cfg.Indexing.DisallowStrongOnly)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvTogglesOverrideEmbedFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  filename: x.db\n"), 0o600))

	t.Setenv("BARTHO_EMBED_ENABLED", "true")
	t.Setenv("BARTHO_EMBED_RELOAD", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.EmbedEnabled)
	assert.True(t, cfg.EmbedReload)
}

func TestEnvTogglesDefaultFalseWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  filename: x.db\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.EmbedEnabled)
	assert.False(t, cfg.EmbedReload)
}
