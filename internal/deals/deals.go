package deals

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrDataIntegrity marks an agreement record that is missing required fields.
// The deals file is the authoritative scope source, so a broken record is a
// hard failure rather than a skipped row.
var ErrDataIntegrity = errors.New("deals: data integrity error")

// Deal is one storage agreement record from deals.json.
type Deal struct {
	PieceCID   string `json:"pieceCid"`
	Provider   string `json:"provider"`
	State      string `json:"state"`
	DealID     int64  `json:"dealId"`
	PieceSize  int64  `json:"pieceSize"`
	StartEpoch int64  `json:"startEpoch"`
	EndEpoch   int64  `json:"endEpoch"`
	UpdatedAt  string `json:"updatedAt"`
}

// Active reports whether this deal is currently in force.
func (d Deal) Active() bool {
	return strings.EqualFold(d.State, "active")
}

// Key identifies one (content unit, provider) agreement pair.
type Key struct {
	PieceCID string
	Provider string
}

// ActiveSet is the authoritative set of (pieceCid, provider) pairs with an
// active agreement. Read-only after construction; safe to share across
// probe workers.
type ActiveSet map[Key]struct{}

func (s ActiveSet) Has(pieceCID, provider string) bool {
	_, ok := s[Key{PieceCID: pieceCID, Provider: provider}]
	return ok
}

// Providers returns the providers holding an active deal for pieceCID.
func (s ActiveSet) Providers(pieceCID string) []string {
	var out []string
	for k := range s {
		if k.PieceCID == pieceCID {
			out = append(out, k.Provider)
		}
	}
	return out
}

// Load reads the full deals list. An unreadable file or invalid JSON is a
// systemic failure; an empty list is fine.
func Load(path string) ([]Deal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deals file %s: %w", path, err)
	}

	var list []Deal
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("invalid deals file %s: %w", path, err)
	}

	for i, d := range list {
		if d.PieceCID == "" || d.Provider == "" {
			return nil, fmt.Errorf("%w: deal record %d is missing pieceCid or provider", ErrDataIntegrity, i)
		}
	}

	log.Info().Int("deals", len(list)).Str("path", path).Msg("loaded deals")
	return list, nil
}

// BuildActiveSet derives the active-agreement set from the deal list.
// Probe and metadata records may carry their own "active" flags; those are
// never trusted, this set is always re-derived here.
func BuildActiveSet(list []Deal) ActiveSet {
	set := make(ActiveSet)
	for _, d := range list {
		if d.Active() {
			set[Key{PieceCID: d.PieceCID, Provider: d.Provider}] = struct{}{}
		}
	}
	return set
}

// Latest maps every (pieceCid, provider) pair to its newest deal by
// updatedAt, for joining dealId and state onto probe results. All states
// are kept, not just active ones.
func Latest(list []Deal) map[Key]Deal {
	latest := make(map[Key]Deal)
	for _, d := range list {
		k := Key{PieceCID: d.PieceCID, Provider: d.Provider}
		if prev, ok := latest[k]; !ok || d.UpdatedAt > prev.UpdatedAt {
			latest[k] = d
		}
	}
	return latest
}
