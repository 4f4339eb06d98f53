package deals

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDeals(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deals.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeDeals(t, `[
		{"pieceCid": "piece-1", "provider": "f01", "state": "active", "dealId": 10, "updatedAt": "2026-01-02"},
		{"pieceCid": "piece-1", "provider": "f02", "state": "expired", "dealId": 11, "updatedAt": "2026-01-01"}
	]`)

	list, err := Load(path)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Active())
	assert.False(t, list[1].Active())
}

func TestLoadEmptyList(t *testing.T) {
	list, err := Load(writeDeals(t, `[]`))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoadInvalidJSON(t *testing.T) {
	_, err := Load(writeDeals(t, `{not json`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadDataIntegrity(t *testing.T) {
	_, err := Load(writeDeals(t, `[{"pieceCid": "", "provider": "f01", "state": "active"}]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataIntegrity)

	_, err = Load(writeDeals(t, `[{"pieceCid": "piece-1", "provider": "", "state": "active"}]`))
	assert.ErrorIs(t, err, ErrDataIntegrity)
}

func TestBuildActiveSet(t *testing.T) {
	list := []Deal{
		{PieceCID: "piece-1", Provider: "f01", State: "active"},
		{PieceCID: "piece-1", Provider: "f02", State: "Active"},
		{PieceCID: "piece-2", Provider: "f01", State: "expired"},
	}

	set := BuildActiveSet(list)
	assert.True(t, set.Has("piece-1", "f01"))
	assert.True(t, set.Has("piece-1", "f02"), "state matching is case-insensitive")
	assert.False(t, set.Has("piece-2", "f01"))
	assert.ElementsMatch(t, []string{"f01", "f02"}, set.Providers("piece-1"))
	assert.Empty(t, set.Providers("piece-2"))
}

func TestLatest(t *testing.T) {
	list := []Deal{
		{PieceCID: "piece-1", Provider: "f01", State: "expired", DealID: 1, UpdatedAt: "2026-01-01T00:00:00Z"},
		{PieceCID: "piece-1", Provider: "f01", State: "active", DealID: 2, UpdatedAt: "2026-02-01T00:00:00Z"},
		{PieceCID: "piece-1", Provider: "f02", State: "expired", DealID: 3, UpdatedAt: "2026-01-15T00:00:00Z"},
	}

	latest := Latest(list)
	require.Len(t, latest, 2)
	assert.Equal(t, int64(2), latest[Key{PieceCID: "piece-1", Provider: "f01"}].DealID)
	assert.Equal(t, "active", latest[Key{PieceCID: "piece-1", Provider: "f01"}].State)
	assert.Equal(t, int64(3), latest[Key{PieceCID: "piece-1", Provider: "f02"}].DealID)
}
