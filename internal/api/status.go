// Package api exposes a small status server for watching a running audit:
// live progress counters, the latest summary, and the archived runs when a
// database is configured.
package api

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog/log"

	"retrieval-audit-cli/internal/database"
	"retrieval-audit-cli/internal/prober"
	"retrieval-audit-cli/internal/report"
)

type StatusServer struct {
	app      *fiber.App
	progress *prober.Progress
	db       *database.DB

	mu      sync.RWMutex
	summary *report.Summary

	outputDir string
	runID     string
}

// NewStatusServer builds the server. db may be nil; the runs endpoints then
// answer 404.
func NewStatusServer(progress *prober.Progress, db *database.DB, outputDir, runID string) *StatusServer {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(logger.New())
	app.Use(cors.New())

	s := &StatusServer{
		app:       app,
		progress:  progress,
		db:        db,
		outputDir: outputDir,
		runID:     runID,
	}

	s.registerRoutes()
	return s
}

func (s *StatusServer) Start(addr string) error {
	log.Info().Str("addr", addr).Msg("status API listening")
	return s.app.Listen(addr)
}

func (s *StatusServer) Shutdown() error {
	return s.app.Shutdown()
}

// SetSummary publishes the freshly generated summary to /api/v1/report.
func (s *StatusServer) SetSummary(summary *report.Summary) {
	s.mu.Lock()
	s.summary = summary
	s.mu.Unlock()
}

func (s *StatusServer) registerRoutes() {
	s.app.Get("/healthz", s.healthz)

	v1 := s.app.Group("/api/v1")
	v1.Get("/progress", s.getProgress)
	v1.Get("/report", s.getReport)
	v1.Get("/runs", s.listRuns)
	v1.Get("/runs/:id/results", s.runResults)
}

func (s *StatusServer) healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "run_id": s.runID})
}

func (s *StatusServer) getProgress(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"run_id":   s.runID,
		"progress": s.progress.Snapshot(),
	})
}

// getReport serves the in-memory summary when this run generated one, or
// the last summary written to the output directory otherwise.
func (s *StatusServer) getReport(c *fiber.Ctx) error {
	s.mu.RLock()
	summary := s.summary
	s.mu.RUnlock()
	if summary != nil {
		return c.JSON(summary)
	}

	raw, err := os.ReadFile(filepath.Join(s.outputDir, report.SummaryFile))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "No summary report available"})
	}
	c.Set("Content-Type", "application/json")
	return c.Send(raw)
}

func (s *StatusServer) listRuns(c *fiber.Ctx) error {
	if s.db == nil {
		return c.Status(404).JSON(fiber.Map{"error": "Run archive not configured"})
	}
	runs, err := s.db.ListRuns(c.Context())
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(runs)
}

func (s *StatusServer) runResults(c *fiber.Ctx) error {
	if s.db == nil {
		return c.Status(404).JSON(fiber.Map{"error": "Run archive not configured"})
	}
	list, err := s.db.RunResults(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if len(list) == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Run not found"})
	}
	return c.JSON(list)
}
