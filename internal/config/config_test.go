package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "./output/retrieval-status/checkpoint.csv", cfg.CheckpointPath)
	assert.False(t, cfg.ProbeNonActive)
	assert.Nil(t, cfg.PrepIDs)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CONCURRENCY", "4")
	t.Setenv("CHECKPOINT_PATH", "/tmp/cp.csv")
	t.Setenv("PREP_IDS", "1, 3 ,5")
	t.Setenv("PROBE_NON_ACTIVE", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "/tmp/cp.csv", cfg.CheckpointPath)
	assert.Equal(t, []string{"1", "3", "5"}, cfg.PrepIDs)
	assert.True(t, cfg.ProbeNonActive)
}

func TestLoadConfigRejectsBadConcurrency(t *testing.T) {
	t.Setenv("CONCURRENCY", "0")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"f01234": {"name": "alpha", "retrieval_endpoint": "https://gw.alpha.example/"},
		"f05678": {"name": "beta", "retrieval_endpoint": "https://gw.beta.example"}
	}`), 0644))

	providers, err := LoadProviders(path)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "https://gw.alpha.example", providers["f01234"].RetrievalEndpoint,
		"trailing slash is stripped")
	assert.Equal(t, "beta", providers["f05678"].Name)
}

func TestLoadProvidersMissingEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"f01234": {"name": "alpha"}}`), 0644))

	_, err := LoadProviders(path)
	assert.Error(t, err)
}
