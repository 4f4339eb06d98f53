package prober

// Kind tells whether a probe targeted a sealed piece or an individual CID.
type Kind string

const (
	KindPiece Kind = "piece"
	KindCID   Kind = "cid"
)

// Probe outcome statuses. NoDeal is the sentinel for pairs that were skipped
// because no active agreement exists with the provider.
const (
	StatusAvailable   = "available"
	StatusUnavailable = "unavailable"
	StatusTimeout     = "timeout"
	StatusError       = "error"
	StatusNoDeal      = "no active deal"
)

// Sentinel values recorded for skipped (no active deal) pairs. They are
// distinguishable from "unknown" which is zero.
const (
	NoDealStatusCode    = -1
	NoDealContentLength = -1
	NoDealResponseTime  = -1
)

// Result is the outcome of one retrieval probe for a (content unit,
// provider) pair. Once recorded it is never mutated; a re-run supersedes it.
type Result struct {
	Kind         Kind   `json:"retrieval_type"`
	PieceCID     string `json:"pieceCid"`
	CID          string `json:"cid,omitempty"`
	Preparation  string `json:"preparation,omitempty"`
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	URL          string `json:"url,omitempty"`
	Timestamp    string `json:"timestamp"`
	Status       string `json:"status"`
	StatusCode   int    `json:"status_code"`
	// ContentLength: -1 = no-deal sentinel, 0 = unknown, >0 = reported.
	ContentLength  int64  `json:"content_length"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	ResponseTimeMS int64  `json:"response_time_ms"`
}

// ItemKey is the content-unit identifier used for checkpoint dedup: the
// piece CID for piece probes, the CID for file probes.
func (r Result) ItemKey() string {
	if r.Kind == KindCID {
		return r.CID
	}
	return r.PieceCID
}

// CIDTarget is one file-level probe target with its join metadata.
type CIDTarget struct {
	CID         string
	PieceCID    string
	Preparation string
}
