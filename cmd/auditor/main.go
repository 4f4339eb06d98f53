package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"retrieval-audit-cli/internal/api"
	"retrieval-audit-cli/internal/config"
	"retrieval-audit-cli/internal/database"
	"retrieval-audit-cli/internal/deals"
	"retrieval-audit-cli/internal/metadata"
	"retrieval-audit-cli/internal/prober"
	"retrieval-audit-cli/internal/report"
	"retrieval-audit-cli/internal/results"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	mode := "all"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	if mode != "check" && mode != "report" && mode != "all" {
		fmt.Fprintf(os.Stderr, "usage: auditor [check|report|all]\n")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	runID := uuid.NewString()
	log.Info().Str("run_id", runID).Str("mode", mode).Msg("starting retrieval audit")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dealList, err := deals.Load(cfg.DealsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("loading deals failed")
	}
	active := deals.BuildActiveSet(dealList)
	log.Info().Int("active_pairs", len(active)).Msg("built active deal set")

	fileMeta, err := metadata.LoadFileMetadata(cfg.FileMetadataDir, cfg.PrepIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("loading file metadata failed")
	}
	pieceMeta, err := metadata.LoadPieceMetadata(cfg.PieceMetadataDir, cfg.PrepIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("loading piece metadata failed")
	}

	providers := map[string]config.Provider{}
	if mode != "report" {
		providers, err = config.LoadProviders(cfg.ProvidersFile)
		if err != nil {
			log.Fatal().Err(err).Msg("loading providers failed")
		}
		if len(providers) == 0 {
			log.Fatal().Str("path", cfg.ProvidersFile).Msg("provider registry is empty")
		}
	}

	db := openArchive(ctx, cfg)
	if db != nil {
		defer db.Close()
	}

	checker := prober.New(providers, active, cfg)

	var server *api.StatusServer
	if cfg.StatusAddr != "" {
		server = api.NewStatusServer(&checker.Progress, db, cfg.OutputDir, runID)
		go func() {
			if err := server.Start(cfg.StatusAddr); err != nil {
				log.Error().Err(err).Msg("status API failed")
			}
		}()
		defer server.Shutdown()
	}

	var pieceRecords, cidRecords []results.Record

	if mode == "check" || mode == "all" {
		pieceRecords, cidRecords = runChecks(ctx, cfg, dealList, active, fileMeta, pieceMeta, checker, db, runID)
		if ctx.Err() != nil {
			log.Warn().Msg("interrupted, checkpoint saved; rerun to resume")
			return
		}
	}

	if mode == "report" || mode == "all" {
		if mode == "report" {
			pieceRecords = loadRecords(filepath.Join(cfg.OutputDir, results.PieceStatusFile))
			cidRecords = loadRecords(filepath.Join(cfg.OutputDir, results.CIDStatusFile))
		}

		summary := report.Generate(report.Inputs{
			PieceRecords:  pieceRecords,
			CIDRecords:    cidRecords,
			Deals:         dealList,
			FileMetadata:  fileMeta,
			PieceMetadata: pieceMeta,
			ProviderNames: providerNames(providers),
			InputFiles: map[string]string{
				"piece_status":       filepath.Join(cfg.OutputDir, results.PieceStatusFile),
				"cid_status":         filepath.Join(cfg.OutputDir, results.CIDStatusFile),
				"deals":              cfg.DealsFile,
				"file_metadata_dir":  cfg.FileMetadataDir,
				"piece_metadata_dir": cfg.PieceMetadataDir,
			},
		})

		if _, err := report.WriteSummary(cfg.OutputDir, summary); err != nil {
			log.Fatal().Err(err).Msg("writing summary failed")
		}
		if server != nil {
			server.SetSummary(summary)
		}
		printSummary(summary)
	}

	log.Info().Str("run_id", runID).Msg("audit complete")
}

// runChecks executes the probe phase and returns the enriched records.
func runChecks(
	ctx context.Context,
	cfg *config.Config,
	dealList []deals.Deal,
	active deals.ActiveSet,
	fileMeta map[string]*metadata.Preparation,
	pieceMeta map[string]*metadata.PiecePreparation,
	checker *prober.Checker,
	db *database.DB,
	runID string,
) (pieceRecords, cidRecords []results.Record) {
	if cfg.Refresh {
		if err := prober.BackupCheckpoint(cfg.CheckpointPath); err != nil {
			log.Fatal().Err(err).Msg("discarding checkpoint failed")
		}
	}

	cp := prober.LoadCheckpoint(cfg.CheckpointPath)
	if cfg.CheckNoDeals {
		dropped := cp.DropNoDeal()
		log.Info().Int("dropped", dropped).Msg("re-checking pairs without active deals")
	}

	pieces, cids := buildTargets(dealList, fileMeta, pieceMeta)
	log.Info().Int("pieces", len(pieces)).Int("cids", len(cids)).Msg("built probe targets")

	if db != nil {
		if err := db.CreateRun(ctx, runID, "check"); err != nil {
			log.Warn().Err(err).Msg("archiving run failed")
		}
	}

	err := checker.Run(ctx, pieces, cids, cp)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("retrieval checks failed")
	}

	if db != nil {
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if n, err := db.InsertResults(archiveCtx, runID, cp.Results()); err != nil {
			log.Warn().Err(err).Msg("archiving results failed")
		} else if err := db.FinishRun(archiveCtx, runID, n); err != nil {
			log.Warn().Err(err).Msg("finishing archived run failed")
		}
	}

	if ctx.Err() != nil {
		return nil, nil
	}

	pieceRecords, cidRecords = results.Enrich(cp.Results(), fileMeta, pieceMeta, deals.Latest(dealList), active)
	if _, err := results.Save(cfg.OutputDir, results.PieceStatusFile, pieceRecords); err != nil {
		log.Fatal().Err(err).Msg("writing piece status failed")
	}
	if _, err := results.Save(cfg.OutputDir, results.CIDStatusFile, cidRecords); err != nil {
		log.Fatal().Err(err).Msg("writing cid status failed")
	}
	return pieceRecords, cidRecords
}

// buildTargets derives the probe targets: pieces from the piece metadata
// when present, otherwise from the deals list; file CIDs always from the
// file metadata.
func buildTargets(
	dealList []deals.Deal,
	fileMeta map[string]*metadata.Preparation,
	pieceMeta map[string]*metadata.PiecePreparation,
) ([]string, []prober.CIDTarget) {
	pieceSet := make(map[string]struct{})
	for _, id := range sortedKeys(pieceMeta) {
		for pieceCID := range pieceMeta[id].UniquePieceCIDs {
			pieceSet[pieceCID] = struct{}{}
		}
	}
	if len(pieceSet) == 0 {
		for _, d := range dealList {
			pieceSet[d.PieceCID] = struct{}{}
		}
	}
	pieces := make([]string, 0, len(pieceSet))
	for pieceCID := range pieceSet {
		pieces = append(pieces, pieceCID)
	}
	sort.Strings(pieces)

	var cids []prober.CIDTarget
	seen := make(map[string]struct{})
	for _, id := range sortedKeys(fileMeta) {
		for _, f := range fileMeta[id].Files {
			if f.CID == "" {
				continue
			}
			if _, dup := seen[f.CID]; dup {
				continue
			}
			seen[f.CID] = struct{}{}
			cids = append(cids, prober.CIDTarget{
				CID:         f.CID,
				PieceCID:    f.PieceCID,
				Preparation: id,
			})
		}
	}
	return pieces, cids
}

func openArchive(ctx context.Context, cfg *config.Config) *database.DB {
	if cfg.DatabaseURL == "" {
		return nil
	}
	db, err := database.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("run archive unavailable")
		return nil
	}
	if err := db.InitSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("run archive schema init failed")
		db.Close()
		return nil
	}
	log.Info().Msg("run archive connected")
	return db
}

func loadRecords(path string) []results.Record {
	records, err := results.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("loading status file failed")
	}
	return records
}

func providerNames(providers map[string]config.Provider) map[string]string {
	names := make(map[string]string, len(providers))
	for id, p := range providers {
		names[id] = p.Name
	}
	return names
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printSummary(s *report.Summary) {
	pterm.DefaultSection.Println("Retrieval Audit Summary")

	rows := pterm.TableData{
		{"", "Checks", "Success", "Failure", "Rate"},
		summaryRow("Pieces", s.OverallRetrieval.Counts.TotalPieceChecks, s.OverallRetrieval.PieceOutcomes),
		summaryRow("CIDs", s.OverallRetrieval.Counts.TotalCIDChecks, s.OverallRetrieval.CIDOutcomes),
	}
	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

	pterm.Info.Printf("Active deal pairs: %d\n", s.Metadata.ActiveDealsCount)
	pterm.Info.Printf("HTTP 500 errors on active deals: %d\n", s.ErrorAnalysis.Overview.Total500Errors)
}

func summaryRow(label string, checks int, m report.OutcomeMetrics) []string {
	rate := "n/a"
	if m.SuccessRate != nil {
		rate = fmt.Sprintf("%.2f%%", *m.SuccessRate*100)
	}
	return []string{
		label,
		fmt.Sprintf("%d", checks),
		fmt.Sprintf("%d", m.SuccessCount),
		fmt.Sprintf("%d", m.FailureCount),
		rate,
	}
}
