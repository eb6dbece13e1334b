package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codemerge/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(configEnv, "")

	config, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultConfig, config)
}

func TestLoadConfig_Layers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codemerge.yaml")
	yamlConfig := "provider_url: http://yaml:9000\nprovider_model: yaml-model\nmax_diff_cells: 100\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o644))
	t.Setenv(configEnv, `{"provider_model": "env-model", "ns_id": 7}`)

	config, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://yaml:9000", config.ProviderURL, "yaml overrides defaults")
	assert.Equal(t, "env-model", config.ProviderModel, "env overrides yaml")
	assert.Equal(t, 7, config.NsID)
	assert.Equal(t, 100, config.MaxDiffCells)
	assert.Equal(t, types.DefaultConfig.ProviderMaxTokens, config.ProviderMaxTokens, "unset fields keep defaults")
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv(configEnv, "")
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("ns_id: [unclosed"), 0o644))
	_, err = loadConfig(bad)
	assert.Error(t, err)

	t.Setenv(configEnv, "{not json")
	_, err = loadConfig("")
	assert.ErrorContains(t, err, configEnv)
}

func TestProviderConfig_ResolvesAPIKey(t *testing.T) {
	t.Setenv("CODEMERGE_TEST_KEY", "sk-test")
	config := types.DefaultConfig
	config.APIKeyEnv = "CODEMERGE_TEST_KEY"
	config.CompressRequests = true

	pc := providerConfig(config)
	assert.Equal(t, "sk-test", pc.APIKey)
	assert.Equal(t, config.ProviderURL, pc.ProviderURL)
	assert.True(t, pc.CompressRequests)

	config.APIKeyEnv = ""
	assert.Empty(t, providerConfig(config).APIKey)

	assert.False(t, pc.Streaming)
	config.ProviderStreaming = true
	assert.True(t, providerConfig(config).Streaming)
}

func TestEngineConfig(t *testing.T) {
	config := types.DefaultConfig
	config.CompletionTimeout = 1500
	config.MaxDiffCells = 42

	ec := engineConfig(config)
	assert.Equal(t, 1500*time.Millisecond, ec.ReconcileTimeout)
	assert.Equal(t, 42, ec.MaxDiffCells)

	config.MaxDiffCells = -1
	assert.Equal(t, -1, engineConfig(config).MaxDiffCells, "negative disables affix trimming")
	assert.Equal(t, 16, ec.MaxPreviews)
}
