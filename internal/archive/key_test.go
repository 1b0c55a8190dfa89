package archive

import (
	"testing"
	"time"

	"tickerflow/internal/model/enum"
	"tickerflow/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyUsesUTCSecond(t *testing.T) {
	ts := time.Date(2025, 5, 23, 18, 4, 5, 999_000_000, time.FixedZone("UTC+8", 8*3600))
	assert.Equal(t, "kucoin/2025-05-23T10-04-05.json", Key(enum.SourceKucoin, ts))
	assert.Equal(t, "binance/2025-05-23T10-04-05.json", Key(enum.SourceBinance, ts))
}

func TestParseKeyTime(t *testing.T) {
	ts, err := ParseKeyTime("kucoin/2025-05-23T10-04-05.json")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 23, 10, 4, 5, 0, time.UTC), ts)

	ts, err = ParseKeyTime("binance/2025-01-02T03-04-05.json.gz")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), ts)

	for _, key := range []string{"kucoin/latest.json", "kucoin/2025-05-23.json", "kucoin/2025-13-40T10-04-05.json"} {
		_, err := ParseKeyTime(key)
		require.ErrorIs(t, err, exception.ErrInvalidObjectKey, key)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	got, err := ParseKeyTime(Key(enum.SourceBinance, ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
}
