package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"btcusdt":       "BTCUSDT",
		"BTC-USDT":      "BTCUSDT",
		"BTC-USDT-SWAP": "BTCUSDT",
		"BTC_USDT":      "BTCUSDT",
		"BTC/USDT":      "BTCUSDT",
		"  ethusdt  ":   "ETHUSDT",
		"ETH-USDT-PERP": "ETHUSDT",
	}
	for in, want := range cases {
		assert.Equal(t, want, Canonicalize(in), "input %q", in)
	}
}

func TestBucketStart_AlignsToBoundary(t *testing.T) {
	assert.Equal(t, int64(1000), BucketStart(1000, 1000))
	assert.Equal(t, int64(1000), BucketStart(1999, 1000))
	assert.Equal(t, int64(2000), BucketStart(2000, 1000))
}

func TestBucketStart_FloorsTowardNegativeInfinityForNegativeTimestamps(t *testing.T) {
	assert.Equal(t, int64(-1000), BucketStart(-1, 1000))
	assert.Equal(t, int64(-1000), BucketStart(-1000, 1000))
	assert.Equal(t, int64(-2000), BucketStart(-1001, 1000))
}

func TestBucketCloseTs_IsBucketStartPlusWidth(t *testing.T) {
	assert.Equal(t, int64(2000), BucketCloseTs(1500, 1000))
	assert.Equal(t, int64(0), BucketCloseTs(-1, 1000))
}

func TestSameBucket(t *testing.T) {
	assert.True(t, SameBucket(1000, 1999, 1000))
	assert.False(t, SameBucket(1999, 2000, 1000))
	assert.True(t, SameBucket(-1, -999, 1000))
	assert.False(t, SameBucket(-1, -1001, 1000))
}
