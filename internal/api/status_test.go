package api

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrieval-audit-cli/internal/prober"
	"retrieval-audit-cli/internal/report"
)

func get(t *testing.T, s *StatusServer, path string) (int, []byte) {
	t.Helper()
	resp, err := s.app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealthz(t *testing.T) {
	s := NewStatusServer(&prober.Progress{}, nil, t.TempDir(), "run-1")

	code, body := get(t, s, "/healthz")
	assert.Equal(t, 200, code)

	var doc map[string]string
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "ok", doc["status"])
	assert.Equal(t, "run-1", doc["run_id"])
}

func TestGetProgress(t *testing.T) {
	progress := &prober.Progress{}
	progress.Total.Store(10)
	progress.Completed.Store(4)
	progress.Skipped.Store(1)

	s := NewStatusServer(progress, nil, t.TempDir(), "run-1")

	code, body := get(t, s, "/api/v1/progress")
	assert.Equal(t, 200, code)

	var doc struct {
		RunID    string          `json:"run_id"`
		Progress prober.Snapshot `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, int64(10), doc.Progress.Total)
	assert.Equal(t, int64(4), doc.Progress.Completed)
	assert.Equal(t, int64(1), doc.Progress.Skipped)
}

func TestGetReport(t *testing.T) {
	dir := t.TempDir()
	s := NewStatusServer(&prober.Progress{}, nil, dir, "run-1")

	code, _ := get(t, s, "/api/v1/report")
	assert.Equal(t, 404, code, "no summary yet")

	// A summary left on disk by a previous run is served as-is.
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, report.SummaryFile),
		[]byte(`{"metadata":{"active_deals_count":7}}`), 0644))

	code, body := get(t, s, "/api/v1/report")
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), `"active_deals_count":7`)

	// Publishing an in-memory summary takes precedence.
	s.SetSummary(&report.Summary{
		Metadata: report.Metadata{ActiveDealsCount: 9},
	})
	code, body = get(t, s, "/api/v1/report")
	assert.Equal(t, 200, code)

	var doc report.Summary
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, 9, doc.Metadata.ActiveDealsCount)
}

func TestRunsWithoutDatabase(t *testing.T) {
	s := NewStatusServer(&prober.Progress{}, nil, t.TempDir(), "run-1")

	code, _ := get(t, s, "/api/v1/runs")
	assert.Equal(t, 404, code)

	code, _ = get(t, s, "/api/v1/runs/run-1/results")
	assert.Equal(t, 404, code)
}
