package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSuccess(t *testing.T) {
	tests := []struct {
		status     string
		statusCode int
		want       bool
	}{
		{"available", 200, true},
		{"Available", 200, true},
		{"available", 299, true},
		{"available", 300, false},
		{"available", 404, false},
		{"available", 199, false},
		{"unavailable", 200, false},
		{"error", 200, false},
		{"timeout", 0, false},
		{"", 200, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSuccess(tt.status, tt.statusCode),
			"IsSuccess(%q, %d)", tt.status, tt.statusCode)
	}
}
