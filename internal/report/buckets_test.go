package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sizePtr(v int64) *int64 { return &v }

func TestBucketFor(t *testing.T) {
	assert.Equal(t, "unknown", BucketFor(nil))
	assert.Equal(t, "unknown", BucketFor(sizePtr(-1)))
	assert.Equal(t, "0-1MB", BucketFor(sizePtr(0)))
	assert.Equal(t, "0-1MB", BucketFor(sizePtr(MiB-1)))
	// Lower bound of the next bucket is inclusive: exactly 1 MiB is 1-10MB.
	assert.Equal(t, "1-10MB", BucketFor(sizePtr(MiB)))
	assert.Equal(t, "10-100MB", BucketFor(sizePtr(10*MiB)))
	assert.Equal(t, "100MB-1GB", BucketFor(sizePtr(100*MiB)))
	assert.Equal(t, "100MB-1GB", BucketFor(sizePtr(GiB-1)))
	assert.Equal(t, "1GB+", BucketFor(sizePtr(GiB)))
	assert.Equal(t, "1GB+", BucketFor(sizePtr(50*GiB)))
}

func TestSafeRate(t *testing.T) {
	assert.Nil(t, SafeRate(0, 0))

	full := SafeRate(5, 0)
	require.NotNil(t, full)
	assert.Equal(t, 1.0, *full)

	zero := SafeRate(0, 5)
	require.NotNil(t, zero)
	assert.Equal(t, 0.0, *zero)

	third := SafeRate(1, 2)
	require.NotNil(t, third)
	assert.Equal(t, 0.333333, *third)

	again := SafeRate(1, 2)
	require.NotNil(t, again)
	assert.Equal(t, *third, *again)
}
