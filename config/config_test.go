package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
model: gpt-4o-mini
compact_model: gpt-4o-mini
max_iterations: 5
namespace: support-bot
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, "support-bot", cfg.Namespace)
	assert.Equal(t, 0.8, cfg.MemoryPressure, "unset field keeps its default")
	assert.Equal(t, 2, cfg.KeepRecentRounds)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	path := writeConfig(t, "model: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.MemoryPressure = 1.5
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxIterations = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Model = ""
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.KeepRecentRounds = 0
	require.Error(t, cfg.Validate())
}

func TestCompactModelFallsBackToModel(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Model, cfg.CompactModelOrDefault())

	cfg.CompactModel = "cheap-model"
	assert.Equal(t, "cheap-model", cfg.CompactModelOrDefault())
}
