package prober

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// checkpointColumns is the fixed column order of the checkpoint CSV. A file
// whose header differs is treated as corrupt, which means absent: the run
// starts from scratch rather than resuming from bad state.
var checkpointColumns = []string{
	"retrieval_type",
	"piece_cid",
	"cid",
	"preparation",
	"provider_id",
	"provider_name",
	"url",
	"timestamp",
	"status",
	"status_code",
	"content_length",
	"error_message",
	"response_body",
	"response_time_ms",
}

type pairKey struct {
	item     string
	provider string
	kind     Kind
}

// Checkpoint is the durable snapshot of completed probes. Every entry in it
// represents a probe that will not be reissued on resume. It is written by a
// single goroutine at batch boundaries; readers only consult it at startup.
type Checkpoint struct {
	path    string
	results []Result
	keys    map[pairKey]struct{}
}

// LoadCheckpoint reads the checkpoint at path. A missing or corrupt file
// yields an empty checkpoint, never an error: corruption forces a full
// re-probe instead of a silent partial one.
func LoadCheckpoint(path string) *Checkpoint {
	cp := &Checkpoint{path: path, keys: make(map[pairKey]struct{})}

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Str("path", path).Err(err).Msg("checkpoint unreadable, starting fresh")
		}
		return cp
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil || !sameColumns(header, checkpointColumns) {
		log.Warn().Str("path", path).Msg("checkpoint invalid, treating as absent")
		return cp
	}

	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Str("path", path).Int("line", line).Err(err).Msg("skipping bad checkpoint row")
			continue
		}
		res, err := rowToResult(row)
		if err != nil {
			log.Warn().Str("path", path).Int("line", line).Err(err).Msg("skipping bad checkpoint row")
			continue
		}
		cp.add(res)
	}

	log.Info().Int("records", len(cp.results)).Str("path", path).Msg("loaded checkpoint")
	return cp
}

// Has reports whether a probe outcome for this pair is already recorded.
func (cp *Checkpoint) Has(kind Kind, item, provider string) bool {
	_, ok := cp.keys[pairKey{item: item, provider: provider, kind: kind}]
	return ok
}

// Len returns the number of recorded probe outcomes.
func (cp *Checkpoint) Len() int { return len(cp.results) }

// Results returns all recorded outcomes in insertion order.
func (cp *Checkpoint) Results() []Result { return cp.results }

// Append records a batch of newly completed probes in memory. Flush persists
// them.
func (cp *Checkpoint) Append(batch []Result) {
	for _, r := range batch {
		cp.add(r)
	}
}

func (cp *Checkpoint) add(r Result) {
	k := pairKey{item: r.ItemKey(), provider: r.ProviderID, kind: r.Kind}
	if _, dup := cp.keys[k]; dup {
		return
	}
	cp.keys[k] = struct{}{}
	cp.results = append(cp.results, r)
}

// DropNoDeal removes "no active deal" sentinel rows so those pairs run
// again, and returns how many were dropped.
func (cp *Checkpoint) DropNoDeal() int {
	kept := cp.results[:0]
	dropped := 0
	for _, r := range cp.results {
		if r.Status == StatusNoDeal {
			delete(cp.keys, pairKey{item: r.ItemKey(), provider: r.ProviderID, kind: r.Kind})
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	cp.results = kept
	return dropped
}

// Flush writes the full checkpoint atomically: temp file first, then a
// timestamped backup of the previous checkpoint, then rename into place. A
// crash at any point leaves either the old or the new file fully intact.
func (cp *Checkpoint) Flush() error {
	dir := filepath.Dir(cp.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(checkpointColumns); err == nil {
		for _, r := range cp.results {
			if err = w.Write(resultToRow(r)); err != nil {
				break
			}
		}
	}
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write checkpoint: %w", err)
	}

	if _, statErr := os.Stat(cp.path); statErr == nil {
		if _, err := backupFile(cp.path); err != nil {
			os.Remove(tmpPath)
			return err
		}
	}

	if err := os.Rename(tmpPath, cp.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// BackupCheckpoint copies the checkpoint aside with a timestamp and removes
// the original, for fresh-start runs. Missing checkpoint is a no-op.
func BackupCheckpoint(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	backup, err := backupFile(path)
	if err != nil {
		return err
	}
	log.Info().Str("backup", backup).Msg("backed up checkpoint")
	return os.Remove(path)
}

func backupFile(path string) (string, error) {
	stamp := time.Now().UTC().Format("20060102_150405")
	backup := fmt.Sprintf("%s.backup_%s%s", trimExt(path), stamp, filepath.Ext(path))

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backup)
	if err != nil {
		return "", fmt.Errorf("create checkpoint backup: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy checkpoint backup: %w", err)
	}
	return backup, nil
}

func trimExt(path string) string {
	return path[:len(path)-len(filepath.Ext(path))]
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func resultToRow(r Result) []string {
	return []string{
		string(r.Kind),
		r.PieceCID,
		r.CID,
		r.Preparation,
		r.ProviderID,
		r.ProviderName,
		r.URL,
		r.Timestamp,
		r.Status,
		strconv.Itoa(r.StatusCode),
		strconv.FormatInt(r.ContentLength, 10),
		r.ErrorMessage,
		r.ResponseBody,
		strconv.FormatInt(r.ResponseTimeMS, 10),
	}
}

func rowToResult(row []string) (Result, error) {
	if len(row) != len(checkpointColumns) {
		return Result{}, fmt.Errorf("expected %d fields, got %d", len(checkpointColumns), len(row))
	}
	statusCode, err := strconv.Atoi(row[9])
	if err != nil {
		return Result{}, fmt.Errorf("bad status_code %q", row[9])
	}
	contentLength, err := strconv.ParseInt(row[10], 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("bad content_length %q", row[10])
	}
	responseTime, err := strconv.ParseInt(row[13], 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("bad response_time_ms %q", row[13])
	}
	res := Result{
		Kind:           Kind(row[0]),
		PieceCID:       row[1],
		CID:            row[2],
		Preparation:    row[3],
		ProviderID:     row[4],
		ProviderName:   row[5],
		URL:            row[6],
		Timestamp:      row[7],
		Status:         row[8],
		StatusCode:     statusCode,
		ContentLength:  contentLength,
		ErrorMessage:   row[11],
		ResponseBody:   row[12],
		ResponseTimeMS: responseTime,
	}
	if res.Kind != KindPiece && res.Kind != KindCID {
		return Result{}, fmt.Errorf("bad retrieval_type %q", row[0])
	}
	if res.ItemKey() == "" || res.ProviderID == "" {
		return Result{}, fmt.Errorf("missing item key or provider")
	}
	return res, nil
}
