package results

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrieval-audit-cli/internal/deals"
	"retrieval-audit-cli/internal/metadata"
	"retrieval-audit-cli/internal/prober"
)

func sizePtr(v int64) *int64 { return &v }

func enrichFixture() ([]prober.Result, map[string]*metadata.Preparation, map[string]*metadata.PiecePreparation, []deals.Deal) {
	flat := []prober.Result{
		{
			Kind:         prober.KindPiece,
			PieceCID:     "piece-1",
			ProviderID:   "A",
			ProviderName: "alpha",
			Timestamp:    "2026-08-27T10:00:00Z",
			Status:       prober.StatusAvailable,
			StatusCode:   200,
		},
		{
			Kind:         prober.KindCID,
			CID:          "cid-1",
			PieceCID:     "piece-1",
			Preparation:  "1",
			ProviderID:   "A",
			ProviderName: "alpha",
			Status:       prober.StatusAvailable,
			StatusCode:   200,
		},
		{
			Kind:         prober.KindCID,
			CID:          "cid-1",
			PieceCID:     "piece-1",
			Preparation:  "1",
			ProviderID:   "B",
			ProviderName: "beta",
			Status:       prober.StatusUnavailable,
			StatusCode:   500,
			ResponseBody: "could not find node",
		},
		{
			Kind:       prober.KindCID,
			CID:        "cid-unlisted",
			PieceCID:   "piece-2",
			ProviderID: "A",
			Status:     prober.StatusUnavailable,
			StatusCode: 404,
		},
	}

	preps := map[string]*metadata.Preparation{
		"1": {
			ID: "1",
			CIDAttrs: map[string]metadata.CIDAttr{
				"cid-1": {FileType: "h5", FileName: "granule.h5", Size: sizePtr(2048)},
			},
		},
		"2": {
			ID: "2",
			CIDAttrs: map[string]metadata.CIDAttr{
				"cid-1": {FileType: "txt", FileName: "shadow.txt", Size: sizePtr(1)},
			},
		},
	}

	piecePreps := map[string]*metadata.PiecePreparation{
		"1": {
			ID:     "1",
			Pieces: []metadata.PieceEntry{{PieceCID: "piece-1", FileSize: sizePtr(777)}},
		},
	}

	dealList := []deals.Deal{
		{PieceCID: "piece-1", Provider: "A", State: "active", DealID: 42, UpdatedAt: "2026-08-01"},
		{PieceCID: "piece-1", Provider: "A", State: "expired", DealID: 7, UpdatedAt: "2026-01-01"},
		{PieceCID: "piece-1", Provider: "B", State: "active", DealID: 43, UpdatedAt: "2026-08-01"},
	}

	return flat, preps, piecePreps, dealList
}

func TestEnrich(t *testing.T) {
	flat, preps, piecePreps, dealList := enrichFixture()
	latest := deals.Latest(dealList)
	active := deals.BuildActiveSet(dealList)

	pieceRecords, cidRecords := Enrich(flat, preps, piecePreps, latest, active)
	require.Len(t, pieceRecords, 1)
	require.Len(t, cidRecords, 2)

	piece := pieceRecords[0]
	assert.Equal(t, "piece-1", piece.PieceCID)
	assert.Equal(t, "1", piece.Preparation, "preparation joined from piece metadata")
	require.NotNil(t, piece.FileSize)
	assert.Equal(t, int64(777), *piece.FileSize)
	assert.Equal(t, []string{"A", "B"}, piece.ActiveDealProviders)

	checkA := piece.Checks["A"]
	assert.Equal(t, "alpha", checkA.ProviderName)
	assert.Equal(t, "active", checkA.DealState, "newest deal wins the join")
	assert.Equal(t, int64(42), checkA.DealID)

	cid := cidRecords[0]
	assert.Equal(t, "cid-1", cid.CID)
	assert.Equal(t, "granule.h5", cid.FileName, "lowest prep listing the CID wins")
	assert.Equal(t, "h5", cid.FileType)
	require.NotNil(t, cid.FileSize)
	assert.Equal(t, int64(2048), *cid.FileSize)
	require.Len(t, cid.Checks, 2, "checks for one unit collapse into one record")
	assert.Equal(t, 500, cid.Checks["B"].StatusCode)
	assert.Equal(t, "could not find node", cid.Checks["B"].ResponseBody)

	unlisted := cidRecords[1]
	assert.Equal(t, "unknown", unlisted.FileType)
	assert.Nil(t, unlisted.FileSize)
	assert.Equal(t, []string{}, unlisted.ActiveDealProviders, "empty list, not null")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	flat, preps, piecePreps, dealList := enrichFixture()
	_, cidRecords := Enrich(flat, preps, piecePreps, deals.Latest(dealList), deals.BuildActiveSet(dealList))

	dir := filepath.Join(t.TempDir(), "out")
	path, err := Save(dir, CIDStatusFile, cidRecords)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, CIDStatusFile), path)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cidRecords, loaded)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
