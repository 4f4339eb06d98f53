package report

import (
	"sort"

	"retrieval-audit-cli/internal/deals"
	"retrieval-audit-cli/internal/prober"
	"retrieval-audit-cli/internal/results"
)

// Check is one flattened (unit, provider) retrieval check, carrying just
// the fields the aggregations need.
type Check struct {
	PieceCID     string
	CID          string
	Preparation  string
	ProviderID   string
	ProviderName string
	Status       string
	StatusCode   int
	FileType     string
	FileSize     *int64
}

func (c Check) success() bool { return IsSuccess(c.Status, c.StatusCode) }

// ExtractChecks flattens enriched records into per-provider checks, split
// into checks backed by an active agreement and the rest. Activity is
// decided against the supplied set, never against flags embedded in the
// records themselves.
func ExtractChecks(records []results.Record, active deals.ActiveSet) (activeChecks, nonActive []Check) {
	for _, rec := range records {
		prep := rec.Preparation
		if prep == "" {
			prep = "unknown"
		}
		for _, providerID := range sortedCheckProviders(rec) {
			check := rec.Checks[providerID]
			flat := Check{
				PieceCID:     rec.PieceCID,
				CID:          rec.CID,
				Preparation:  prep,
				ProviderID:   providerID,
				ProviderName: check.ProviderName,
				Status:       check.Status,
				StatusCode:   check.StatusCode,
			}
			if rec.Kind == prober.KindCID {
				flat.FileType = rec.FileType
				flat.FileSize = rec.FileSize
			}
			if active.Has(rec.PieceCID, providerID) {
				activeChecks = append(activeChecks, flat)
			} else {
				nonActive = append(nonActive, flat)
			}
		}
	}
	return activeChecks, nonActive
}

func sortedCheckProviders(rec results.Record) []string {
	ids := make([]string, 0, len(rec.Checks))
	for id := range rec.Checks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OutcomeMetrics is the basic success/failure tally for a set of checks.
type OutcomeMetrics struct {
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	SuccessRate  *float64 `json:"success_rate"`
}

// ComputeOutcomes tallies a check list.
func ComputeOutcomes(checks []Check) OutcomeMetrics {
	success := 0
	for _, c := range checks {
		if c.success() {
			success++
		}
	}
	failure := len(checks) - success
	return OutcomeMetrics{
		SuccessCount: success,
		FailureCount: failure,
		SuccessRate:  SafeRate(success, failure),
	}
}

// UniqueMetrics counts distinct content units by their cross-provider
// outcome. A unit with a mixed outcome counts toward any-success but toward
// neither all-success nor all-failed.
type UniqueMetrics struct {
	AnySuccess int
	AllSuccess int
	AllFailed  int
}

// ComputeUnique groups checks by unit ID and classifies each unit.
// idOf selects the grouping key; units with an empty key are ignored.
func ComputeUnique(checks []Check, idOf func(Check) string) UniqueMetrics {
	type outcome struct{ success, failure int }
	byID := make(map[string]*outcome)
	for _, c := range checks {
		id := idOf(c)
		if id == "" {
			continue
		}
		o, ok := byID[id]
		if !ok {
			o = &outcome{}
			byID[id] = o
		}
		if c.success() {
			o.success++
		} else {
			o.failure++
		}
	}

	var m UniqueMetrics
	for _, o := range byID {
		if o.success > 0 {
			m.AnySuccess++
		}
		if o.failure == 0 && o.success > 0 {
			m.AllSuccess++
		}
		if o.success == 0 && o.failure > 0 {
			m.AllFailed++
		}
	}
	return m
}

// PieceID and CIDID are the unit selectors for ComputeUnique.
func PieceID(c Check) string { return c.PieceCID }
func CIDID(c Check) string   { return c.CID }

// GroupMetrics is one entry of a filetype or filesize breakdown.
type GroupMetrics struct {
	TotalFiles int `json:"total_files_in_active_deals"`
	OutcomeMetrics
}

// FiletypeBreakdown groups CID checks by file type.
func FiletypeBreakdown(cidChecks []Check) map[string]GroupMetrics {
	byType := make(map[string][]Check)
	for _, c := range cidChecks {
		ft := c.FileType
		if ft == "" {
			ft = "unknown"
		}
		byType[ft] = append(byType[ft], c)
	}

	result := make(map[string]GroupMetrics, len(byType))
	for ft, checks := range byType {
		result[ft] = GroupMetrics{TotalFiles: len(checks), OutcomeMetrics: ComputeOutcomes(checks)}
	}
	return result
}

// FilesizeBreakdown groups CID checks by size bucket. Every standard bucket
// appears even when empty; "unknown" appears only when unsized files were
// seen.
func FilesizeBreakdown(cidChecks []Check) map[string]GroupMetrics {
	byBucket := make(map[string][]Check)
	for _, c := range cidChecks {
		bucket := BucketFor(c.FileSize)
		byBucket[bucket] = append(byBucket[bucket], c)
	}

	result := make(map[string]GroupMetrics, len(SizeBuckets)+1)
	for _, b := range SizeBuckets {
		checks := byBucket[b.Label]
		result[b.Label] = GroupMetrics{TotalFiles: len(checks), OutcomeMetrics: ComputeOutcomes(checks)}
	}
	if checks, ok := byBucket["unknown"]; ok {
		result["unknown"] = GroupMetrics{TotalFiles: len(checks), OutcomeMetrics: ComputeOutcomes(checks)}
	}
	return result
}

// NonActiveMetrics is the diagnostic block for checks without an active
// agreement.
type NonActiveMetrics struct {
	UniquePieces int `json:"unique_pieces_not_in_active_deals"`
	UniqueCIDs   int `json:"unique_cids_not_in_active_deals"`
	PieceChecks  int `json:"piece_retrieval_checks_not_in_active_deals"`
	CIDChecks    int `json:"cid_retrieval_checks_not_in_active_deals"`
}

func computeNonActive(pieceChecks, cidChecks []Check) NonActiveMetrics {
	return NonActiveMetrics{
		UniquePieces: countUnique(pieceChecks, PieceID),
		UniqueCIDs:   countUnique(cidChecks, CIDID),
		PieceChecks:  len(pieceChecks),
		CIDChecks:    len(cidChecks),
	}
}

func countUnique(checks []Check, idOf func(Check) string) int {
	seen := make(map[string]struct{})
	for _, c := range checks {
		if id := idOf(c); id != "" {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// PrepPieceMetrics and PrepCIDMetrics are the per-preparation metric blocks.
type PrepPieceMetrics struct {
	PiecesInActiveDeals int `json:"pieces_in_active_deals"`
	RetrievalChecks     int `json:"piece_retrieval_checks"`
	OutcomeMetrics
	UniqueAnySuccess int `json:"unique_pieces_with_any_provider_success"`
	UniqueAllSuccess int `json:"unique_pieces_all_providers_success"`
	UniqueAllFailed  int `json:"unique_pieces_all_providers_failed"`
}

type PrepCIDMetrics struct {
	CIDsInActiveDeals int `json:"cids_in_active_deals"`
	RetrievalChecks   int `json:"cid_retrieval_checks"`
	OutcomeMetrics
	UniqueAnySuccess int `json:"unique_cids_with_any_provider_success"`
	UniqueAllSuccess int `json:"unique_cids_all_providers_success"`
	UniqueAllFailed  int `json:"unique_cids_all_providers_failed"`
}

// PreparationSummary is the full metric set for one preparation.
type PreparationSummary struct {
	PieceMetrics     PrepPieceMetrics        `json:"piece_metrics"`
	CIDMetrics       PrepCIDMetrics          `json:"cid_metrics"`
	ByFiletype       map[string]GroupMetrics `json:"by_filetype"`
	ByFilesizeBucket map[string]GroupMetrics `json:"by_filesize_bucket"`
	NonActiveDeals   NonActiveMetrics        `json:"non_active_deals"`
}

// ByPreparation computes the full metric set per preparation across active
// and non-active checks.
func ByPreparation(pieceActive, cidActive, pieceNonActive, cidNonActive []Check) map[string]PreparationSummary {
	preps := make(map[string]struct{})
	pieceByPrep := groupBy(pieceActive, prepOf, preps)
	cidByPrep := groupBy(cidActive, prepOf, preps)
	pieceNAByPrep := groupBy(pieceNonActive, prepOf, preps)
	cidNAByPrep := groupBy(cidNonActive, prepOf, preps)

	result := make(map[string]PreparationSummary, len(preps))
	for prep := range preps {
		pChecks := pieceByPrep[prep]
		cChecks := cidByPrep[prep]
		pUnique := ComputeUnique(pChecks, PieceID)
		cUnique := ComputeUnique(cChecks, CIDID)

		result[prep] = PreparationSummary{
			PieceMetrics: PrepPieceMetrics{
				PiecesInActiveDeals: countUnique(pChecks, PieceID),
				RetrievalChecks:     len(pChecks),
				OutcomeMetrics:      ComputeOutcomes(pChecks),
				UniqueAnySuccess:    pUnique.AnySuccess,
				UniqueAllSuccess:    pUnique.AllSuccess,
				UniqueAllFailed:     pUnique.AllFailed,
			},
			CIDMetrics: PrepCIDMetrics{
				CIDsInActiveDeals: countUnique(cChecks, CIDID),
				RetrievalChecks:   len(cChecks),
				OutcomeMetrics:    ComputeOutcomes(cChecks),
				UniqueAnySuccess:  cUnique.AnySuccess,
				UniqueAllSuccess:  cUnique.AllSuccess,
				UniqueAllFailed:   cUnique.AllFailed,
			},
			ByFiletype:       FiletypeBreakdown(cChecks),
			ByFilesizeBucket: FilesizeBreakdown(cChecks),
			NonActiveDeals:   computeNonActive(pieceNAByPrep[prep], cidNAByPrep[prep]),
		}
	}
	return result
}

// ProviderPieceMetrics and ProviderCIDMetrics are the per-provider metric
// blocks. Their unique-unit counts are scoped to the single provider, so
// the field names differ from the preparation blocks.
type ProviderPieceMetrics struct {
	PiecesInActiveDeals int `json:"pieces_in_active_deals"`
	RetrievalChecks     int `json:"piece_retrieval_checks"`
	OutcomeMetrics
	UniqueWithSuccess   int `json:"unique_pieces_with_success"`
	UniqueAllChecksFail int `json:"unique_pieces_all_checks_failed"`
}

type ProviderCIDMetrics struct {
	CIDsInActiveDeals int `json:"cids_in_active_deals"`
	RetrievalChecks   int `json:"cid_retrieval_checks"`
	OutcomeMetrics
	UniqueWithSuccess   int `json:"unique_cids_with_success"`
	UniqueAllChecksFail int `json:"unique_cids_all_checks_failed"`
}

// ProviderSummary is the full metric set for one storage provider.
type ProviderSummary struct {
	ProviderID       string                  `json:"providerid"`
	ProviderName     string                  `json:"providername"`
	PieceMetrics     ProviderPieceMetrics    `json:"piece_metrics"`
	CIDMetrics       ProviderCIDMetrics      `json:"cid_metrics"`
	ByFiletype       map[string]GroupMetrics `json:"by_filetype"`
	ByFilesizeBucket map[string]GroupMetrics `json:"by_filesize_bucket"`
	NonActiveDeals   NonActiveMetrics        `json:"non_active_deals"`
}

// ByProvider computes the full metric set per storage provider. The
// provider name shown is the one seen most often for that ID.
func ByProvider(pieceActive, cidActive, pieceNonActive, cidNonActive []Check) map[string]ProviderSummary {
	provs := make(map[string]struct{})
	pieceByProv := groupBy(pieceActive, provOf, provs)
	cidByProv := groupBy(cidActive, provOf, provs)
	pieceNAByProv := groupBy(pieceNonActive, provOf, provs)
	cidNAByProv := groupBy(cidNonActive, provOf, provs)

	names := make(map[string]map[string]int)
	for _, c := range pieceActive {
		countName(names, c)
	}
	for _, c := range cidActive {
		countName(names, c)
	}

	result := make(map[string]ProviderSummary, len(provs))
	for prov := range provs {
		pChecks := pieceByProv[prov]
		cChecks := cidByProv[prov]
		pUnique := ComputeUnique(pChecks, PieceID)
		cUnique := ComputeUnique(cChecks, CIDID)

		result[prov] = ProviderSummary{
			ProviderID:   prov,
			ProviderName: mostCommonName(names[prov]),
			PieceMetrics: ProviderPieceMetrics{
				PiecesInActiveDeals: countUnique(pChecks, PieceID),
				RetrievalChecks:     len(pChecks),
				OutcomeMetrics:      ComputeOutcomes(pChecks),
				UniqueWithSuccess:   pUnique.AnySuccess,
				UniqueAllChecksFail: pUnique.AllFailed,
			},
			CIDMetrics: ProviderCIDMetrics{
				CIDsInActiveDeals: countUnique(cChecks, CIDID),
				RetrievalChecks:   len(cChecks),
				OutcomeMetrics:      ComputeOutcomes(cChecks),
				UniqueWithSuccess:   cUnique.AnySuccess,
				UniqueAllChecksFail: cUnique.AllFailed,
			},
			ByFiletype:       FiletypeBreakdown(cChecks),
			ByFilesizeBucket: FilesizeBreakdown(cChecks),
			NonActiveDeals:   computeNonActive(pieceNAByProv[prov], cidNAByProv[prov]),
		}
	}
	return result
}

func prepOf(c Check) string {
	if c.Preparation == "" {
		return "unknown"
	}
	return c.Preparation
}

func provOf(c Check) string {
	if c.ProviderID == "" {
		return "unknown"
	}
	return c.ProviderID
}

func groupBy(checks []Check, keyOf func(Check) string, keys map[string]struct{}) map[string][]Check {
	grouped := make(map[string][]Check)
	for _, c := range checks {
		k := keyOf(c)
		grouped[k] = append(grouped[k], c)
		keys[k] = struct{}{}
	}
	return grouped
}

func countName(names map[string]map[string]int, c Check) {
	if c.ProviderName == "" {
		return
	}
	if names[c.ProviderID] == nil {
		names[c.ProviderID] = make(map[string]int)
	}
	names[c.ProviderID][c.ProviderName]++
}

func mostCommonName(counts map[string]int) string {
	best, bestCount := "", 0
	for name, n := range counts {
		if n > bestCount || (n == bestCount && name < best) {
			best, bestCount = name, n
		}
	}
	return best
}
