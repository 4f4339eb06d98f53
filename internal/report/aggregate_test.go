package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrieval-audit-cli/internal/deals"
	"retrieval-audit-cli/internal/prober"
	"retrieval-audit-cli/internal/results"
)

func check(id, provider, status string, code int) Check {
	return Check{
		PieceCID:   id,
		CID:        id,
		ProviderID: provider,
		Status:     status,
		StatusCode: code,
	}
}

func TestComputeOutcomes(t *testing.T) {
	checks := []Check{
		check("u1", "A", "available", 200),
		check("u1", "B", "unavailable", 500),
		check("u2", "A", "available", 200),
	}
	m := ComputeOutcomes(checks)
	assert.Equal(t, 2, m.SuccessCount)
	assert.Equal(t, 1, m.FailureCount)
	require.NotNil(t, m.SuccessRate)
	assert.Equal(t, 0.666667, *m.SuccessRate)

	empty := ComputeOutcomes(nil)
	assert.Zero(t, empty.SuccessCount)
	assert.Nil(t, empty.SuccessRate)
}

func TestComputeUniqueMixedOutcome(t *testing.T) {
	// Unit u1 succeeds on A and fails on B: it counts toward any-success
	// but toward neither all-success nor all-failed.
	checks := []Check{
		check("u1", "A", "available", 200),
		check("u1", "B", "unavailable", 500),
		check("u2", "A", "available", 200),
		check("u2", "B", "available", 200),
		check("u3", "A", "unavailable", 500),
		check("u3", "B", "unavailable", 500),
	}
	m := ComputeUnique(checks, CIDID)
	assert.Equal(t, 2, m.AnySuccess)
	assert.Equal(t, 1, m.AllSuccess)
	assert.Equal(t, 1, m.AllFailed)
}

func TestExtractChecksSplitsByActiveSet(t *testing.T) {
	active := deals.BuildActiveSet([]deals.Deal{
		{PieceCID: "piece-1", Provider: "A", State: "active"},
	})

	records := []results.Record{{
		Kind:        prober.KindCID,
		PieceCID:    "piece-1",
		CID:         "cid-1",
		Preparation: "3",
		FileType:    "h5",
		FileSize:    sizePtr(2 * MiB),
		Checks: map[string]results.Check{
			"A": {ProviderName: "alpha", Status: "available", StatusCode: 200},
			"B": {ProviderName: "beta", Status: prober.StatusNoDeal, StatusCode: prober.NoDealStatusCode},
		},
	}}

	activeChecks, nonActive := ExtractChecks(records, active)
	require.Len(t, activeChecks, 1)
	require.Len(t, nonActive, 1)
	assert.Equal(t, "A", activeChecks[0].ProviderID)
	assert.Equal(t, "3", activeChecks[0].Preparation)
	assert.Equal(t, "h5", activeChecks[0].FileType)
	assert.Equal(t, "B", nonActive[0].ProviderID)
}

func TestFilesizeBreakdownAllBucketsPresent(t *testing.T) {
	checks := []Check{
		{CID: "u1", Status: "available", StatusCode: 200, FileSize: sizePtr(MiB)},
	}
	buckets := FilesizeBreakdown(checks)
	require.Len(t, buckets, len(SizeBuckets))
	assert.Equal(t, 1, buckets["1-10MB"].TotalFiles)
	assert.Equal(t, 0, buckets["0-1MB"].TotalFiles)
	assert.Nil(t, buckets["0-1MB"].SuccessRate)

	withUnknown := FilesizeBreakdown(append(checks, Check{CID: "u2", Status: "error"}))
	require.Len(t, withUnknown, len(SizeBuckets)+1)
	assert.Equal(t, 1, withUnknown["unknown"].TotalFiles)
}

func TestByProviderNames(t *testing.T) {
	checks := []Check{
		{PieceCID: "p1", ProviderID: "A", ProviderName: "alpha", Status: "available", StatusCode: 200},
		{PieceCID: "p2", ProviderID: "A", ProviderName: "alpha", Status: "unavailable", StatusCode: 500},
		{PieceCID: "p3", ProviderID: "A", ProviderName: "renamed", Status: "available", StatusCode: 200},
	}
	summary := ByProvider(checks, nil, nil, nil)
	require.Contains(t, summary, "A")
	assert.Equal(t, "alpha", summary["A"].ProviderName, "most frequent name wins")
	assert.Equal(t, 3, summary["A"].PieceMetrics.PiecesInActiveDeals)
	assert.Equal(t, 2, summary["A"].PieceMetrics.UniqueWithSuccess)
	assert.Equal(t, 1, summary["A"].PieceMetrics.UniqueAllChecksFail)
}

func TestByPreparationGrouping(t *testing.T) {
	pieceActive := []Check{
		{PieceCID: "p1", ProviderID: "A", Preparation: "1", Status: "available", StatusCode: 200},
		{PieceCID: "p2", ProviderID: "A", Preparation: "2", Status: "unavailable", StatusCode: 500},
	}
	pieceNonActive := []Check{
		{PieceCID: "p3", ProviderID: "B", Preparation: "1", Status: prober.StatusNoDeal, StatusCode: -1},
	}

	byPrep := ByPreparation(pieceActive, nil, pieceNonActive, nil)
	require.Len(t, byPrep, 2)

	prep1 := byPrep["1"]
	assert.Equal(t, 1, prep1.PieceMetrics.RetrievalChecks)
	assert.Equal(t, 1, prep1.PieceMetrics.UniqueAllSuccess)
	assert.Equal(t, 1, prep1.NonActiveDeals.UniquePieces)
	assert.Equal(t, 1, prep1.NonActiveDeals.PieceChecks)

	prep2 := byPrep["2"]
	assert.Equal(t, 1, prep2.PieceMetrics.UniqueAllFailed)
	assert.Zero(t, prep2.NonActiveDeals.PieceChecks)
}
