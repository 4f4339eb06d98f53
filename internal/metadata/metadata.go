// Package metadata loads the per-preparation content listings that describe
// what was prepared for storage: file metadata CSVs (one row per file/CID)
// and piece metadata JSONs (one entry per sealed piece).
package metadata

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var prepPattern = regexp.MustCompile(`prep(\d+)`)

// CIDAttr holds the canonical attributes of a CID. With duplicate listings
// the first occurrence wins; later duplicates are counted but never
// reclassified.
type CIDAttr struct {
	FileType string
	FileName string
	Size     *int64
}

// FileEntry is one row of a file metadata CSV.
type FileEntry struct {
	CID      string
	PieceCID string
	FileName string
	Size     *int64
}

// Preparation groups the file metadata of one preparation batch.
type Preparation struct {
	ID         string
	SourceFile string
	Files      []FileEntry
	UniqueCIDs map[string]struct{}
	CIDAttrs   map[string]CIDAttr
}

// PieceEntry is one piece record from a piece metadata JSON.
type PieceEntry struct {
	PieceCID   string `json:"pieceCid"`
	PieceSize  *int64 `json:"pieceSize"`
	FileSize   *int64 `json:"fileSize"`
	NumOfFiles int    `json:"numOfFiles"`
}

// PiecePreparation groups the piece metadata of one preparation batch.
type PiecePreparation struct {
	ID              string
	SourceFile      string
	Pieces          []PieceEntry
	UniquePieceCIDs map[string]struct{}
}

// FileTypeOf returns the lower-cased extension of a filename, or "unknown"
// when there is none to extract.
func FileTypeOf(fileName string) string {
	if fileName == "" {
		return "unknown"
	}
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return "unknown"
	}
	return strings.ToLower(fileName[idx+1:])
}

// LoadFileMetadata reads every *.csv under dir, grouping rows by the prep ID
// embedded in the filename. prepIDs, when non-empty, restricts which
// preparations are kept. A missing directory yields an empty map; an
// unreadable CSV is fatal, a malformed row is skipped with a diagnostic.
func LoadFileMetadata(dir string, prepIDs []string) (map[string]*Preparation, error) {
	paths, err := globSorted(dir, "*.csv")
	if err != nil {
		return nil, err
	}
	if paths == nil {
		log.Warn().Str("dir", dir).Msg("file-metadata directory not found")
		return map[string]*Preparation{}, nil
	}

	wanted := toSet(prepIDs)
	result := make(map[string]*Preparation)

	for _, path := range paths {
		prepID, ok := prepIDFrom(path)
		if !ok {
			log.Warn().Str("file", filepath.Base(path)).Msg("no prep ID in filename, skipping")
			continue
		}
		if wanted != nil {
			if _, keep := wanted[prepID]; !keep {
				continue
			}
		}

		prep, err := loadFileCSV(path, prepID)
		if err != nil {
			return nil, err
		}
		result[prepID] = prep
		log.Info().Str("prep", prepID).Int("files", len(prep.Files)).
			Int("unique_cids", len(prep.UniqueCIDs)).Msg("loaded file metadata")
	}
	return result, nil
}

func loadFileCSV(path, prepID string) (*Preparation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file metadata %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read file metadata header %s: %w", path, err)
	}
	col := indexColumns(header)

	prep := &Preparation{
		ID:         prepID,
		SourceFile: filepath.Base(path),
		UniqueCIDs: make(map[string]struct{}),
		CIDAttrs:   make(map[string]CIDAttr),
	}

	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Str("file", prep.SourceFile).Int("line", line).Err(err).Msg("skipping malformed row")
			continue
		}

		entry := FileEntry{
			CID:      field(row, col, "cid"),
			PieceCID: field(row, col, "pieceCid"),
			FileName: field(row, col, "fileName"),
		}
		if sizeStr := field(row, col, "size"); sizeStr != "" {
			if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
				entry.Size = &size
			}
		}

		prep.Files = append(prep.Files, entry)
		if entry.CID != "" {
			prep.UniqueCIDs[entry.CID] = struct{}{}
			// First one in: the first listing fixes this CID's attributes.
			if _, seen := prep.CIDAttrs[entry.CID]; !seen {
				prep.CIDAttrs[entry.CID] = CIDAttr{
					FileType: FileTypeOf(entry.FileName),
					FileName: entry.FileName,
					Size:     entry.Size,
				}
			}
		}
	}
	return prep, nil
}

// LoadPieceMetadata reads every *.json under dir. The structure is
// [{"attachmentId": ..., "pieces": [...]}]; a file with invalid JSON is
// skipped with a diagnostic since piece metadata is supplementary.
func LoadPieceMetadata(dir string, prepIDs []string) (map[string]*PiecePreparation, error) {
	paths, err := globSorted(dir, "*.json")
	if err != nil {
		return nil, err
	}
	if paths == nil {
		log.Warn().Str("dir", dir).Msg("piece-metadata directory not found")
		return map[string]*PiecePreparation{}, nil
	}

	wanted := toSet(prepIDs)
	result := make(map[string]*PiecePreparation)

	for _, path := range paths {
		prepID, ok := prepIDFrom(path)
		if !ok {
			log.Warn().Str("file", filepath.Base(path)).Msg("no prep ID in filename, skipping")
			continue
		}
		if wanted != nil {
			if _, keep := wanted[prepID]; !keep {
				continue
			}
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read piece metadata %s: %w", path, err)
		}

		var groups []struct {
			AttachmentID json.Number  `json:"attachmentId"`
			Pieces       []PieceEntry `json:"pieces"`
		}
		if err := json.Unmarshal(raw, &groups); err != nil {
			log.Warn().Str("file", filepath.Base(path)).Err(err).Msg("invalid piece metadata JSON, skipping")
			continue
		}

		prep := &PiecePreparation{
			ID:              prepID,
			SourceFile:      filepath.Base(path),
			UniquePieceCIDs: make(map[string]struct{}),
		}
		for _, g := range groups {
			for _, p := range g.Pieces {
				prep.Pieces = append(prep.Pieces, p)
				if p.PieceCID != "" {
					prep.UniquePieceCIDs[p.PieceCID] = struct{}{}
				}
			}
		}
		result[prepID] = prep
		log.Info().Str("prep", prepID).Int("pieces", len(prep.Pieces)).Msg("loaded piece metadata")
	}
	return result, nil
}

func globSorted(dir, pattern string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	return paths, nil
}

func prepIDFrom(path string) (string, bool) {
	m := prepPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func indexColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	return col
}

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
