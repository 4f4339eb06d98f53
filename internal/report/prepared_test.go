package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrieval-audit-cli/internal/metadata"
)

// Coverage fixture: the metadata lists three CIDs, only two of which were
// ever checked. cid-1 is retrievable on A and not on B; cid-2 is retrievable
// on its only provider; cid-orphan has no active deal anywhere.
func preparedFixture() (map[string]*metadata.Preparation, []Check) {
	fileMeta := map[string]*metadata.Preparation{
		"1": {
			ID:         "1",
			SourceFile: "dataset_prep1_details.csv",
			Files: []metadata.FileEntry{
				{CID: "cid-1"}, {CID: "cid-2"}, {CID: "cid-orphan"},
			},
			UniqueCIDs: map[string]struct{}{
				"cid-1": {}, "cid-2": {}, "cid-orphan": {},
			},
			CIDAttrs: map[string]metadata.CIDAttr{
				"cid-1":      {FileType: "h5", FileName: "a.h5", Size: sizePtr(2 * MiB)},
				"cid-2":      {FileType: "csv", FileName: "b.csv", Size: sizePtr(100)},
				"cid-orphan": {FileType: "h5", FileName: "c.h5"},
			},
		},
	}

	cidActive := []Check{
		{CID: "cid-1", PieceCID: "p1", Preparation: "1", ProviderID: "A", ProviderName: "alpha", Status: "available", StatusCode: 200},
		{CID: "cid-1", PieceCID: "p1", Preparation: "1", ProviderID: "B", ProviderName: "beta", Status: "unavailable", StatusCode: 500},
		{CID: "cid-2", PieceCID: "p2", Preparation: "1", ProviderID: "A", ProviderName: "alpha", Status: "available", StatusCode: 200},
	}
	return fileMeta, cidActive
}

func TestPreparedContentMetricsNilWithoutMetadata(t *testing.T) {
	assert.Nil(t, PreparedContentMetrics(nil, nil, nil, nil, nil, nil))
}

func TestPreparedContentMetrics(t *testing.T) {
	fileMeta, cidActive := preparedFixture()

	content := PreparedContentMetrics(fileMeta, nil, cidActive, nil, nil, nil)
	require.NotNil(t, content)

	overall := content.Overall.CIDMetrics
	assert.Equal(t, 3, overall.TotalFiles)
	assert.Equal(t, 3, overall.UniqueCIDs)
	assert.Equal(t, 2, overall.RetrievableByAny)
	assert.Equal(t, 1, overall.RetrievableByAll, "cid-1 fails on B, only cid-2 is clean")
	assert.Zero(t, overall.NotRetrievableByAny)
	assert.Equal(t, 1, overall.NotInAnyActiveDeals, "the orphan was never checked")

	provA := overall.ByProvider["A"]
	assert.Equal(t, "alpha", provA.ProviderName)
	assert.Equal(t, 2, provA.Retrievable)
	assert.Zero(t, provA.NotRetrievable)
	assert.Equal(t, 1, provA.NotInDeals)

	provB := overall.ByProvider["B"]
	assert.Equal(t, 1, provB.NotRetrievable)
	assert.Equal(t, 2, provB.NotInDeals, "cid-2 and the orphan have no deal with B")

	assert.Equal(t, map[string]string{"A": "alpha", "B": "beta"}, content.Providers)
}

func TestPreparedContentByPreparation(t *testing.T) {
	fileMeta, cidActive := preparedFixture()

	content := PreparedContentMetrics(fileMeta, nil, cidActive, nil, nil, nil)
	require.NotNil(t, content)
	require.Contains(t, content.ByPreparation, "1")
	prep := content.ByPreparation["1"]

	assert.Equal(t, "dataset_prep1_details.csv", prep.CIDMetrics.SourceFile)
	assert.Equal(t, 3, prep.CIDMetrics.UniqueCIDs)

	require.Contains(t, prep.ByFiletype, "h5")
	h5 := prep.ByFiletype["h5"]
	assert.Equal(t, 2, h5.UniqueCIDs)
	assert.Equal(t, 1, h5.ByProvider["A"].Retrievable)
	assert.Equal(t, 1, h5.ByProvider["A"].NotInDeals)

	// Every standard size bucket is present even when empty; the orphan has
	// no size and lands in unknown.
	for _, b := range SizeBuckets {
		assert.Contains(t, prep.ByFilesizeBucket, b.Label)
	}
	assert.Equal(t, 1, prep.ByFilesizeBucket["1-10MB"].UniqueCIDs)
	assert.Equal(t, 1, prep.ByFilesizeBucket["0-1MB"].UniqueCIDs)
	assert.Equal(t, 1, prep.ByFilesizeBucket["unknown"].UniqueCIDs)
	assert.Zero(t, prep.ByFilesizeBucket["1GB+"].UniqueCIDs)

	// No piece metadata for this prep: empty metrics, full provider list.
	assert.Zero(t, prep.PieceMetrics.TotalPieces)
	assert.Contains(t, prep.PieceMetrics.ByProvider, "A")
}
