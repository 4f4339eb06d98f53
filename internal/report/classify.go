package report

import "strings"

// IsSuccess is the single success criterion used by every metric: the probe
// reported the content available and the HTTP status was 2xx.
func IsSuccess(status string, statusCode int) bool {
	return strings.EqualFold(status, "available") && statusCode >= 200 && statusCode < 300
}
