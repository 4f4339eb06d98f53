package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeOrdering(t *testing.T) {
	// Rule 1 wins over rule 4 even though "not found" also matches later rules.
	assert.Equal(t, CategoryMultihashNotFound, Categorize("", "multihash abc not found"))

	// Rule 5 precedes rule 6.
	assert.Equal(t, CategoryTimeout, Categorize("", "connection timeout occurred"))

	// Rule 2 precedes rules 3 and 4.
	assert.Equal(t, CategoryRootLoadFailure, Categorize("failed to load root: cid not found", ""))

	// Rule 7 precedes rule 8: text containing both "ipld" and
	// "could not find node" is an ipld_error.
	assert.Equal(t, CategoryIPLDError, Categorize("ipld: could not find node", ""))
	assert.Equal(t, CategoryNodeNotFound, Categorize("could not find node", ""))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		body, message, want string
	}{
		{"piece baga not found", "", CategoryPieceNotFound},
		{"CID bafy Not Found", "", CategoryCIDNotFound},
		{"", "Request timeout", CategoryTimeout},
		{"", "connection refused", CategoryConnectionError},
		{"something else entirely", "", CategoryOther},
		{"", "", CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.body, tt.message),
			"Categorize(%q, %q)", tt.body, tt.message)
	}
}

func TestCategorizeCombinesBodyAndMessage(t *testing.T) {
	assert.Equal(t, CategoryMultihashNotFound, Categorize("multihash abc:", "block not found"))
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "<no response body>", NormalizePattern(""))

	cid := "bafybei" + strings.Repeat("a", 52)
	assert.Equal(t, "failed to fetch <CID>", NormalizePattern("failed to fetch "+cid))

	pieceCID := "baga6ea4seaq" + strings.Repeat("b2", 26)
	assert.Equal(t, "piece <PIECE_CID> missing", NormalizePattern("piece "+pieceCID+" missing"))

	hash := strings.Repeat("ab", 32)
	assert.Equal(t, "multihash <HASH>: not found", NormalizePattern("multihash "+hash+": not found"))

	assert.Equal(t, "no deal <ID> here", NormalizePattern("no deal 4281337 here"))

	assert.Equal(t, "block <HASH> gone", NormalizePattern("block "+strings.Repeat("0f", 16)+" gone"))

	assert.Equal(t, "trimmed", NormalizePattern("  trimmed \n"))
}
