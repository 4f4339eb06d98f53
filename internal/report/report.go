// Package report computes the deterministic metrics summary from enriched
// retrieval status documents. Given the same inputs it always produces the
// same numbers; everything non-deterministic (probing, enrichment) happens
// upstream.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"retrieval-audit-cli/internal/deals"
	"retrieval-audit-cli/internal/metadata"
	"retrieval-audit-cli/internal/results"
)

// SummaryFile is the report filename under the output directory.
const SummaryFile = "summary_report.json"

// Counts are the top-level check totals over active deals.
type Counts struct {
	TotalUniquePieces int `json:"total_unique_pieces_in_active_deals"`
	TotalUniqueCIDs   int `json:"total_unique_cids_in_active_deals"`
	TotalPieceChecks  int `json:"total_piece_retrieval_checks"`
	TotalCIDChecks    int `json:"total_cid_retrieval_checks"`
}

// UniqueBlock is the unique-unit outcome triple for one unit kind.
type UniqueBlock struct {
	WithAnyProviderSuccess int `json:"with_any_provider_success"`
	AllProvidersSuccess    int `json:"all_providers_success"`
	AllProvidersFailed     int `json:"all_providers_failed"`
}

// UniqueSection groups the unique metrics of both unit kinds.
type UniqueSection struct {
	Pieces UniqueBlock `json:"pieces"`
	CIDs   UniqueBlock `json:"cids"`
}

// OverallRetrieval is the whole-dataset retrieval section.
type OverallRetrieval struct {
	Counts           Counts                  `json:"counts"`
	PieceOutcomes    OutcomeMetrics          `json:"piece_outcomes"`
	CIDOutcomes      OutcomeMetrics          `json:"cid_outcomes"`
	UniqueMetrics    UniqueSection           `json:"unique_metrics"`
	ByFiletype       map[string]GroupMetrics `json:"by_filetype"`
	ByFilesizeBucket map[string]GroupMetrics `json:"by_filesize_bucket"`
	NonActiveDeals   NonActiveMetrics        `json:"non_active_deals"`
}

// Metadata records what the summary was computed from.
type Metadata struct {
	GeneratedAt      string            `json:"generated_at"`
	InputFiles       map[string]string `json:"input_files"`
	ActiveDealsCount int               `json:"active_deals_count"`
}

// Summary is the complete report document.
type Summary struct {
	Metadata          Metadata                      `json:"metadata"`
	OverallRetrieval  OverallRetrieval              `json:"overall_retrieval"`
	ByPreparation     map[string]PreparationSummary `json:"by_preparation"`
	ByStorageProvider map[string]ProviderSummary    `json:"by_storage_provider"`
	PreparedContent   *PreparedContent              `json:"prepared_content,omitempty"`
	ErrorAnalysis     ErrorAnalysis                 `json:"error_analysis"`
}

// Inputs bundles everything Generate consumes.
type Inputs struct {
	PieceRecords  []results.Record
	CIDRecords    []results.Record
	Deals         []deals.Deal
	FileMetadata  map[string]*metadata.Preparation
	PieceMetadata map[string]*metadata.PiecePreparation
	ProviderNames map[string]string
	InputFiles    map[string]string
}

// Generate computes the full summary. The active-agreement set is derived
// from the deals list here; activity flags carried inside the status
// records are never consulted.
func Generate(in Inputs) *Summary {
	active := deals.BuildActiveSet(in.Deals)

	pieceActive, pieceNonActive := ExtractChecks(in.PieceRecords, active)
	cidActive, cidNonActive := ExtractChecks(in.CIDRecords, active)

	log.Info().
		Int("piece_active", len(pieceActive)).
		Int("piece_non_active", len(pieceNonActive)).
		Int("cid_active", len(cidActive)).
		Int("cid_non_active", len(cidNonActive)).
		Msg("extracted retrieval checks")

	pieceUnique := ComputeUnique(pieceActive, PieceID)
	cidUnique := ComputeUnique(cidActive, CIDID)

	overall := OverallRetrieval{
		Counts: Counts{
			TotalUniquePieces: countUnique(pieceActive, PieceID),
			TotalUniqueCIDs:   countUnique(cidActive, CIDID),
			TotalPieceChecks:  len(pieceActive),
			TotalCIDChecks:    len(cidActive),
		},
		PieceOutcomes: ComputeOutcomes(pieceActive),
		CIDOutcomes:   ComputeOutcomes(cidActive),
		UniqueMetrics: UniqueSection{
			Pieces: UniqueBlock{
				WithAnyProviderSuccess: pieceUnique.AnySuccess,
				AllProvidersSuccess:    pieceUnique.AllSuccess,
				AllProvidersFailed:     pieceUnique.AllFailed,
			},
			CIDs: UniqueBlock{
				WithAnyProviderSuccess: cidUnique.AnySuccess,
				AllProvidersSuccess:    cidUnique.AllSuccess,
				AllProvidersFailed:     cidUnique.AllFailed,
			},
		},
		ByFiletype:       FiletypeBreakdown(cidActive),
		ByFilesizeBucket: FilesizeBreakdown(cidActive),
		NonActiveDeals:   computeNonActive(pieceNonActive, cidNonActive),
	}

	return &Summary{
		Metadata: Metadata{
			GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
			InputFiles:       in.InputFiles,
			ActiveDealsCount: len(active),
		},
		OverallRetrieval:  overall,
		ByPreparation:     ByPreparation(pieceActive, cidActive, pieceNonActive, cidNonActive),
		ByStorageProvider: ByProvider(pieceActive, cidActive, pieceNonActive, cidNonActive),
		PreparedContent: PreparedContentMetrics(
			in.FileMetadata, in.PieceMetadata,
			cidActive, cidNonActive, pieceActive, pieceNonActive,
		),
		ErrorAnalysis: ComputeErrorAnalysis(in.CIDRecords, in.ProviderNames),
	}
}

// WriteSummary writes the summary as indented JSON under dir and returns
// the file path.
func WriteSummary(dir string, s *Summary) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, SummaryFile)

	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("write summary %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("wrote summary report")
	return path, nil
}
