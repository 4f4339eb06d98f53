package report

import (
	"sort"

	"retrieval-audit-cli/internal/metadata"
)

// The prepared_content section traces coverage from the prepared metadata
// (the source of truth for what should be stored) through to retrieval
// outcomes. Unlike the retrieval sections it is not filtered by active
// agreements: content the metadata lists but no deal covers is exactly what
// this section exposes.

// ProviderCounts is one provider's coverage over a set of units.
type ProviderCounts struct {
	ProviderName   string `json:"provider_name"`
	Retrievable    int    `json:"retrievable"`
	NotRetrievable int    `json:"not_retrievable"`
	NotInDeals     int    `json:"not_in_deals"`
}

// PreparedCIDMetrics is CID-level coverage for one scope (overall or prep).
type PreparedCIDMetrics struct {
	SourceFile          string                    `json:"source_file,omitempty"`
	TotalFiles          int                       `json:"total_files"`
	UniqueCIDs          int                       `json:"unique_cids"`
	RetrievableByAny    int                       `json:"retrievable_by_any_provider"`
	RetrievableByAll    int                       `json:"retrievable_by_all_providers"`
	NotRetrievableByAny int                       `json:"not_retrievable_by_any_provider"`
	NotInAnyActiveDeals int                       `json:"not_in_any_active_deals"`
	ByProvider          map[string]ProviderCounts `json:"by_provider"`
}

// PreparedPieceMetrics is the piece-level analog.
type PreparedPieceMetrics struct {
	SourceFile          string                    `json:"source_file,omitempty"`
	TotalPieces         int                       `json:"total_pieces"`
	UniquePieceCIDs     int                       `json:"unique_piece_cids"`
	RetrievableByAny    int                       `json:"retrievable_by_any_provider"`
	RetrievableByAll    int                       `json:"retrievable_by_all_providers"`
	NotRetrievableByAny int                       `json:"not_retrievable_by_any_provider"`
	NotInAnyActiveDeals int                       `json:"not_in_any_active_deals"`
	ByProvider          map[string]ProviderCounts `json:"by_provider"`
}

// CoverageGroup is one filetype or filesize cell of a preparation's
// coverage breakdown.
type CoverageGroup struct {
	UniqueCIDs int                       `json:"unique_cids"`
	ByProvider map[string]ProviderCounts `json:"by_provider"`
}

// PreparedPrep is the coverage block for one preparation.
type PreparedPrep struct {
	CIDMetrics       PreparedCIDMetrics       `json:"cid_metrics"`
	PieceMetrics     PreparedPieceMetrics     `json:"piece_metrics"`
	ByFiletype       map[string]CoverageGroup `json:"by_filetype"`
	ByFilesizeBucket map[string]CoverageGroup `json:"by_filesize_bucket"`
}

// PreparedOverall holds the coverage totals across all preparations.
type PreparedOverall struct {
	CIDMetrics   PreparedCIDMetrics   `json:"cid_metrics"`
	PieceMetrics PreparedPieceMetrics `json:"piece_metrics"`
}

// PreparedContent is the full prepared_content report section.
type PreparedContent struct {
	Overall       PreparedOverall         `json:"overall"`
	ByPreparation map[string]PreparedPrep `json:"by_preparation"`
	Providers     map[string]string       `json:"providers"`
}

// unitRetrieval is the per-unit view the coverage math runs on: which
// providers hold an active agreement, and which of those retrieved
// successfully.
type unitRetrieval struct {
	activeProviders map[string]struct{}
	outcomes        map[string]bool
}

type coverageLookups struct {
	cids          map[string]*unitRetrieval
	pieces        map[string]*unitRetrieval
	providerNames map[string]string
	providers     []string
}

func buildCoverageLookups(cidActive, cidNonActive, pieceActive, pieceNonActive []Check) *coverageLookups {
	l := &coverageLookups{
		cids:          make(map[string]*unitRetrieval),
		pieces:        make(map[string]*unitRetrieval),
		providerNames: make(map[string]string),
	}
	providerSet := make(map[string]struct{})

	record := func(units map[string]*unitRetrieval, id string, c Check) {
		u, ok := units[id]
		if !ok {
			u = &unitRetrieval{
				activeProviders: make(map[string]struct{}),
				outcomes:        make(map[string]bool),
			}
			units[id] = u
		}
		u.activeProviders[c.ProviderID] = struct{}{}
		u.outcomes[c.ProviderID] = c.success()
	}

	for _, c := range cidActive {
		if c.CID != "" && c.ProviderID != "" {
			record(l.cids, c.CID, c)
			providerSet[c.ProviderID] = struct{}{}
		}
	}
	for _, c := range pieceActive {
		if c.PieceCID != "" && c.ProviderID != "" {
			record(l.pieces, c.PieceCID, c)
			providerSet[c.ProviderID] = struct{}{}
		}
	}

	for _, group := range [][]Check{cidActive, cidNonActive, pieceActive, pieceNonActive} {
		for _, c := range group {
			if c.ProviderID == "" {
				continue
			}
			providerSet[c.ProviderID] = struct{}{}
			if c.ProviderName != "" {
				if _, seen := l.providerNames[c.ProviderID]; !seen {
					l.providerNames[c.ProviderID] = c.ProviderName
				}
			}
		}
	}

	for p := range providerSet {
		l.providers = append(l.providers, p)
	}
	sort.Strings(l.providers)
	return l
}

func (l *coverageLookups) counts(ids map[string]struct{}, units map[string]*unitRetrieval) (anyOK, allOK, noneOK, noDeals int) {
	for id := range ids {
		u := units[id]
		if u == nil || len(u.activeProviders) == 0 {
			noDeals++
			continue
		}
		successes, failures := 0, 0
		for p := range u.activeProviders {
			if u.outcomes[p] {
				successes++
			} else {
				failures++
			}
		}
		if successes > 0 {
			anyOK++
		}
		if failures == 0 && successes > 0 {
			allOK++
		}
		if successes == 0 && failures > 0 {
			noneOK++
		}
	}
	return anyOK, allOK, noneOK, noDeals
}

func (l *coverageLookups) perProvider(ids map[string]struct{}, units map[string]*unitRetrieval) map[string]ProviderCounts {
	result := make(map[string]ProviderCounts, len(l.providers))
	for _, providerID := range l.providers {
		counts := ProviderCounts{ProviderName: l.providerNames[providerID]}
		for id := range ids {
			u := units[id]
			switch {
			case u == nil:
				counts.NotInDeals++
			case !hasProvider(u, providerID):
				counts.NotInDeals++
			case u.outcomes[providerID]:
				counts.Retrievable++
			default:
				counts.NotRetrievable++
			}
		}
		result[providerID] = counts
	}
	return result
}

func hasProvider(u *unitRetrieval, providerID string) bool {
	_, ok := u.activeProviders[providerID]
	return ok
}

// PreparedContentMetrics computes the prepared_content section. Returns nil
// when no metadata was loaded at all.
func PreparedContentMetrics(
	fileMeta map[string]*metadata.Preparation,
	pieceMeta map[string]*metadata.PiecePreparation,
	cidActive, cidNonActive, pieceActive, pieceNonActive []Check,
) *PreparedContent {
	if len(fileMeta) == 0 && len(pieceMeta) == 0 {
		return nil
	}

	l := buildCoverageLookups(cidActive, cidNonActive, pieceActive, pieceNonActive)

	// Overall scope: every unit listed anywhere in the metadata, with the
	// globally first-listed attributes.
	totalFiles := 0
	allCIDs := make(map[string]struct{})
	for _, id := range sortedMetaKeys(fileMeta) {
		prep := fileMeta[id]
		totalFiles += len(prep.Files)
		for cid := range prep.UniqueCIDs {
			allCIDs[cid] = struct{}{}
		}
	}

	totalPieces := 0
	allPieces := make(map[string]struct{})
	for _, id := range sortedMetaKeys(pieceMeta) {
		prep := pieceMeta[id]
		totalPieces += len(prep.Pieces)
		for pieceCID := range prep.UniquePieceCIDs {
			allPieces[pieceCID] = struct{}{}
		}
	}

	cidAny, cidAll, cidNone, cidNoDeals := l.counts(allCIDs, l.cids)
	pieceAny, pieceAll, pieceNone, pieceNoDeals := l.counts(allPieces, l.pieces)

	content := &PreparedContent{
		Overall: PreparedOverall{
			CIDMetrics: PreparedCIDMetrics{
				TotalFiles:          totalFiles,
				UniqueCIDs:          len(allCIDs),
				RetrievableByAny:    cidAny,
				RetrievableByAll:    cidAll,
				NotRetrievableByAny: cidNone,
				NotInAnyActiveDeals: cidNoDeals,
				ByProvider:          l.perProvider(allCIDs, l.cids),
			},
			PieceMetrics: PreparedPieceMetrics{
				TotalPieces:         totalPieces,
				UniquePieceCIDs:     len(allPieces),
				RetrievableByAny:    pieceAny,
				RetrievableByAll:    pieceAll,
				NotRetrievableByAny: pieceNone,
				NotInAnyActiveDeals: pieceNoDeals,
				ByProvider:          l.perProvider(allPieces, l.pieces),
			},
		},
		ByPreparation: make(map[string]PreparedPrep),
		Providers:     make(map[string]string, len(l.providers)),
	}
	for _, p := range l.providers {
		content.Providers[p] = l.providerNames[p]
	}

	prepIDs := make(map[string]struct{})
	for id := range fileMeta {
		prepIDs[id] = struct{}{}
	}
	for id := range pieceMeta {
		prepIDs[id] = struct{}{}
	}
	for prepID := range prepIDs {
		content.ByPreparation[prepID] = l.prepCoverage(fileMeta[prepID], pieceMeta[prepID])
	}

	return content
}

func (l *coverageLookups) prepCoverage(filePrep *metadata.Preparation, piecePrep *metadata.PiecePreparation) PreparedPrep {
	var (
		cidM   PreparedCIDMetrics
		pieceM PreparedPieceMetrics
		attrs  map[string]metadata.CIDAttr
		cids   map[string]struct{}
	)

	if filePrep != nil {
		cids = filePrep.UniqueCIDs
		attrs = filePrep.CIDAttrs
		anyOK, allOK, noneOK, noDeals := l.counts(cids, l.cids)
		cidM = PreparedCIDMetrics{
			SourceFile:          filePrep.SourceFile,
			TotalFiles:          len(filePrep.Files),
			UniqueCIDs:          len(cids),
			RetrievableByAny:    anyOK,
			RetrievableByAll:    allOK,
			NotRetrievableByAny: noneOK,
			NotInAnyActiveDeals: noDeals,
			ByProvider:          l.perProvider(cids, l.cids),
		}
	} else {
		cidM.ByProvider = l.perProvider(nil, l.cids)
	}

	if piecePrep != nil {
		pieces := piecePrep.UniquePieceCIDs
		anyOK, allOK, noneOK, noDeals := l.counts(pieces, l.pieces)
		pieceM = PreparedPieceMetrics{
			SourceFile:          piecePrep.SourceFile,
			TotalPieces:         len(piecePrep.Pieces),
			UniquePieceCIDs:     len(pieces),
			RetrievableByAny:    anyOK,
			RetrievableByAll:    allOK,
			NotRetrievableByAny: noneOK,
			NotInAnyActiveDeals: noDeals,
			ByProvider:          l.perProvider(pieces, l.pieces),
		}
	} else {
		pieceM.ByProvider = l.perProvider(nil, l.pieces)
	}

	return PreparedPrep{
		CIDMetrics:       cidM,
		PieceMetrics:     pieceM,
		ByFiletype:       l.coverageBreakdown(cids, attrs, filetypeOfAttr),
		ByFilesizeBucket: l.sizeCoverageBreakdown(cids, attrs),
	}
}

func filetypeOfAttr(attr metadata.CIDAttr, known bool) string {
	if !known || attr.FileType == "" {
		return "unknown"
	}
	return attr.FileType
}

func (l *coverageLookups) coverageBreakdown(
	cids map[string]struct{},
	attrs map[string]metadata.CIDAttr,
	groupOf func(metadata.CIDAttr, bool) string,
) map[string]CoverageGroup {
	groups := make(map[string]CoverageGroup)
	for cid := range cids {
		attr, known := attrs[cid]
		label := groupOf(attr, known)
		group, ok := groups[label]
		if !ok {
			group = l.emptyCoverageGroup()
		}
		group.UniqueCIDs++
		l.tallyCoverage(group.ByProvider, cid)
		groups[label] = group
	}
	return groups
}

func (l *coverageLookups) sizeCoverageBreakdown(cids map[string]struct{}, attrs map[string]metadata.CIDAttr) map[string]CoverageGroup {
	groups := make(map[string]CoverageGroup, len(SizeBuckets))
	for _, b := range SizeBuckets {
		groups[b.Label] = l.emptyCoverageGroup()
	}
	for cid := range cids {
		var size *int64
		if attr, known := attrs[cid]; known {
			size = attr.Size
		}
		label := BucketFor(size)
		group, ok := groups[label]
		if !ok {
			group = l.emptyCoverageGroup()
		}
		group.UniqueCIDs++
		l.tallyCoverage(group.ByProvider, cid)
		groups[label] = group
	}
	return groups
}

func (l *coverageLookups) emptyCoverageGroup() CoverageGroup {
	byProvider := make(map[string]ProviderCounts, len(l.providers))
	for _, p := range l.providers {
		byProvider[p] = ProviderCounts{ProviderName: l.providerNames[p]}
	}
	return CoverageGroup{ByProvider: byProvider}
}

func (l *coverageLookups) tallyCoverage(byProvider map[string]ProviderCounts, cid string) {
	u := l.cids[cid]
	for _, providerID := range l.providers {
		counts := byProvider[providerID]
		switch {
		case u == nil || !hasProvider(u, providerID):
			counts.NotInDeals++
		case u.outcomes[providerID]:
			counts.Retrievable++
		default:
			counts.NotRetrievable++
		}
		byProvider[providerID] = counts
	}
}

func sortedMetaKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
