package report

import (
	"regexp"
	"strings"
)

// Error categories, in rule order. The categorizer walks this table and the
// first matching rule wins, so "multihash ... not found" never degrades to
// cid_not_found even though both substrings are present.
const (
	CategoryMultihashNotFound = "multihash_not_found"
	CategoryRootLoadFailure   = "root_load_failure"
	CategoryPieceNotFound     = "piece_not_found"
	CategoryCIDNotFound       = "cid_not_found"
	CategoryTimeout           = "timeout"
	CategoryConnectionError   = "connection_error"
	CategoryIPLDError         = "ipld_error"
	CategoryNodeNotFound      = "node_not_found"
	CategoryOther             = "other"
	CategoryUnknown           = "unknown"
)

type categoryRule struct {
	category string
	match    func(string) bool
}

func containsAll(subs ...string) func(string) bool {
	return func(text string) bool {
		for _, s := range subs {
			if !strings.Contains(text, s) {
				return false
			}
		}
		return true
	}
}

var categoryRules = []categoryRule{
	{CategoryMultihashNotFound, containsAll("multihash", "not found")},
	{CategoryRootLoadFailure, containsAll("failed to load root")},
	{CategoryPieceNotFound, containsAll("piece", "not found")},
	{CategoryCIDNotFound, containsAll("cid", "not found")},
	{CategoryTimeout, containsAll("timeout")},
	{CategoryConnectionError, containsAll("connection")},
	{CategoryIPLDError, containsAll("ipld")},
	{CategoryNodeNotFound, containsAll("could not find node")},
}

// Categorize maps an error response to a high-level category. Matching is
// case-insensitive over the concatenated body and message.
func Categorize(responseBody, errorMessage string) string {
	if responseBody == "" && errorMessage == "" {
		return CategoryUnknown
	}
	text := strings.ToLower(responseBody + " " + errorMessage)
	for _, rule := range categoryRules {
		if rule.match(text) {
			return rule.category
		}
	}
	return CategoryOther
}

var (
	cidPattern       = regexp.MustCompile(`baf[a-z0-9]{50,}`)
	multihashPattern = regexp.MustCompile(`multihash [a-f0-9]{64,}:`)
	pieceCIDPattern  = regexp.MustCompile(`baga6ea4seaq[a-z0-9]{50,}`)
	dealIDPattern    = regexp.MustCompile(`deal \d+`)
	hexRunPattern    = regexp.MustCompile(`[a-f0-9]{32,}`)
)

// NormalizePattern collapses the dynamic parts of an error body (CIDs,
// multihashes, deal IDs, long hex runs) into placeholders so that similar
// errors group under one pattern.
func NormalizePattern(responseBody string) string {
	if responseBody == "" {
		return "<no response body>"
	}
	pattern := responseBody
	pattern = cidPattern.ReplaceAllString(pattern, "<CID>")
	pattern = multihashPattern.ReplaceAllString(pattern, "multihash <HASH>:")
	pattern = pieceCIDPattern.ReplaceAllString(pattern, "<PIECE_CID>")
	pattern = dealIDPattern.ReplaceAllString(pattern, "deal <ID>")
	pattern = hexRunPattern.ReplaceAllString(pattern, "<HASH>")
	return strings.TrimSpace(pattern)
}
