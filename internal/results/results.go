// Package results joins flat probe outcomes with deal and content metadata
// into the per-unit status documents the report stage consumes.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"retrieval-audit-cli/internal/deals"
	"retrieval-audit-cli/internal/metadata"
	"retrieval-audit-cli/internal/prober"
)

// Output filenames under the configured output directory.
const (
	PieceStatusFile = "final_retrieval_piece_status.json"
	CIDStatusFile   = "final_retrieval_cid_status.json"
)

// Check is one provider's probe outcome for a unit, with the newest
// matching deal joined in.
type Check struct {
	ProviderName   string `json:"provider_name"`
	URL            string `json:"url,omitempty"`
	Timestamp      string `json:"timestamp"`
	Status         string `json:"status"`
	StatusCode     int    `json:"status_code"`
	ContentLength  int64  `json:"content_length"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	DealState      string `json:"deal_state,omitempty"`
	DealID         int64  `json:"deal_id,omitempty"`
}

// Record is the enriched status of one content unit across all providers
// that were checked for it.
type Record struct {
	Kind                prober.Kind      `json:"retrieval_type"`
	PieceCID            string           `json:"pieceCid"`
	CID                 string           `json:"cid,omitempty"`
	Preparation         string           `json:"preparation,omitempty"`
	FileName            string           `json:"file_name,omitempty"`
	FileType            string           `json:"file_type,omitempty"`
	FileSize            *int64           `json:"file_size"`
	Checks              map[string]Check `json:"storage_provider_retrieval_check"`
	ActiveDealProviders []string         `json:"active_deal_providers"`
}

// ItemKey mirrors the probe-level identity of the unit.
func (r Record) ItemKey() string {
	if r.Kind == prober.KindCID {
		return r.CID
	}
	return r.PieceCID
}

// Enrich groups flat probe results per content unit and attaches file
// attributes, preparation, latest deal state and the active-provider list.
// Embedded deal hints on the results are ignored; activity always comes
// from the supplied set.
func Enrich(
	flat []prober.Result,
	preps map[string]*metadata.Preparation,
	piecePreps map[string]*metadata.PiecePreparation,
	latest map[deals.Key]deals.Deal,
	active deals.ActiveSet,
) (pieceRecords, cidRecords []Record) {
	cidAttrs := globalCIDAttrs(preps)
	piecePrep, pieceSizes := pieceIndex(piecePreps)

	type groupKey struct {
		kind prober.Kind
		item string
	}
	groups := make(map[groupKey]*Record)
	var order []groupKey

	for _, res := range flat {
		k := groupKey{kind: res.Kind, item: res.ItemKey()}
		rec, ok := groups[k]
		if !ok {
			rec = &Record{
				Kind:        res.Kind,
				PieceCID:    res.PieceCID,
				CID:         res.CID,
				Preparation: res.Preparation,
				Checks:      make(map[string]Check),
			}
			groups[k] = rec
			order = append(order, k)
		}
		rec.Checks[res.ProviderID] = toCheck(res, latest)
	}

	for _, k := range order {
		rec := groups[k]
		rec.ActiveDealProviders = sortedProviders(active, rec.PieceCID)

		switch rec.Kind {
		case prober.KindCID:
			if attr, ok := cidAttrs[rec.CID]; ok {
				rec.FileName = attr.FileName
				rec.FileType = attr.FileType
				rec.FileSize = attr.Size
			} else {
				rec.FileType = "unknown"
			}
			cidRecords = append(cidRecords, *rec)
		default:
			if rec.Preparation == "" {
				rec.Preparation = piecePrep[rec.PieceCID]
			}
			if size, ok := pieceSizes[rec.PieceCID]; ok {
				rec.FileSize = size
			}
			pieceRecords = append(pieceRecords, *rec)
		}
	}

	log.Info().
		Int("piece_records", len(pieceRecords)).
		Int("cid_records", len(cidRecords)).
		Msg("enriched probe results")
	return pieceRecords, cidRecords
}

func toCheck(res prober.Result, latest map[deals.Key]deals.Deal) Check {
	c := Check{
		ProviderName:   res.ProviderName,
		URL:            res.URL,
		Timestamp:      res.Timestamp,
		Status:         res.Status,
		StatusCode:     res.StatusCode,
		ContentLength:  res.ContentLength,
		ErrorMessage:   res.ErrorMessage,
		ResponseBody:   res.ResponseBody,
		ResponseTimeMS: res.ResponseTimeMS,
	}
	if d, ok := latest[deals.Key{PieceCID: res.PieceCID, Provider: res.ProviderID}]; ok {
		c.DealState = d.State
		c.DealID = d.DealID
	}
	return c
}

// globalCIDAttrs merges per-prep CID attributes, preps in sorted order so
// the first listing wins deterministically.
func globalCIDAttrs(preps map[string]*metadata.Preparation) map[string]metadata.CIDAttr {
	attrs := make(map[string]metadata.CIDAttr)
	for _, id := range sortedKeys(preps) {
		for cid, attr := range preps[id].CIDAttrs {
			if _, seen := attrs[cid]; !seen {
				attrs[cid] = attr
			}
		}
	}
	return attrs
}

// pieceIndex maps each piece CID to the first preparation listing it and to
// the file size that listing reports.
func pieceIndex(piecePreps map[string]*metadata.PiecePreparation) (map[string]string, map[string]*int64) {
	prepOf := make(map[string]string)
	sizeOf := make(map[string]*int64)
	for _, id := range sortedKeys(piecePreps) {
		for _, p := range piecePreps[id].Pieces {
			if p.PieceCID == "" {
				continue
			}
			if _, seen := prepOf[p.PieceCID]; !seen {
				prepOf[p.PieceCID] = id
				sizeOf[p.PieceCID] = p.FileSize
			}
		}
	}
	return prepOf, sizeOf
}

func sortedProviders(active deals.ActiveSet, pieceCID string) []string {
	providers := active.Providers(pieceCID)
	sort.Strings(providers)
	if providers == nil {
		providers = []string{}
	}
	return providers
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes records as indented JSON under dir.
func Save(dir, name string, records []Record) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("records", len(records)).Msg("wrote status file")
	return path, nil
}

// Load reads a status file back. A missing file is systemic for the report
// stage, so it is an error here.
func Load(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status file %s: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("invalid status file %s: %w", path, err)
	}
	return records, nil
}
