package report

import "math"

// Byte units used for size bucketing.
const (
	MiB int64 = 1024 * 1024
	GiB int64 = 1024 * MiB
)

// SizeBucket is one file-size bucket. Lower bound inclusive, upper bound
// exclusive; Upper < 0 means unbounded.
type SizeBucket struct {
	Label string
	Lower int64
	Upper int64
}

// SizeBuckets is the fixed bucket table, in report order. Breakdown maps
// always contain every label here, plus "unknown" when unsized files were
// seen.
var SizeBuckets = []SizeBucket{
	{Label: "0-1MB", Lower: 0, Upper: 1 * MiB},
	{Label: "1-10MB", Lower: 1 * MiB, Upper: 10 * MiB},
	{Label: "10-100MB", Lower: 10 * MiB, Upper: 100 * MiB},
	{Label: "100MB-1GB", Lower: 100 * MiB, Upper: 1 * GiB},
	{Label: "1GB+", Lower: 1 * GiB, Upper: -1},
}

// BucketFor returns the bucket label for a file size in bytes. Unknown or
// negative sizes land in "unknown".
func BucketFor(size *int64) string {
	if size == nil || *size < 0 {
		return "unknown"
	}
	for _, b := range SizeBuckets {
		if *size >= b.Lower && (b.Upper < 0 || *size < b.Upper) {
			return b.Label
		}
	}
	return "unknown"
}

// SafeRate computes success/(success+failure) rounded to 6 decimals, or nil
// when there is no data. Nil serializes as JSON null, which keeps "no data"
// distinguishable from "0% success".
func SafeRate(success, failure int) *float64 {
	total := success + failure
	if total == 0 {
		return nil
	}
	rate := math.Round(float64(success)/float64(total)*1e6) / 1e6
	return &rate
}
