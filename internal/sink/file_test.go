package sink

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"tickerflow/pkg/exception"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeObject(t *testing.T, store *FileStore, key string, payload []byte) {
	t.Helper()
	stored, err := store.WriteObject(context.Background(), key, payload)
	require.NoError(t, err)
	require.Equal(t, key, stored)
}

func TestFileStoreWriteListRead(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	writeObject(t, store, "kucoin/2025-05-23T10-04-05.json", []byte(`[{"a":1}]`))
	writeObject(t, store, "kucoin/2025-05-23T10-04-06.json", []byte(`[]`))
	writeObject(t, store, "binance/2025-05-23T10-04-05.json", []byte(`[]`))
	// same key overwrites
	writeObject(t, store, "kucoin/2025-05-23T10-04-06.json", []byte(`[{"b":2}]`))

	keys, err := store.List(ctx, "kucoin/")
	require.NoError(t, err)
	assert.Equal(t, []string{"kucoin/2025-05-23T10-04-05.json", "kucoin/2025-05-23T10-04-06.json"}, keys)

	payload, err := store.Read(ctx, "kucoin/2025-05-23T10-04-06.json")
	require.NoError(t, err)
	assert.Equal(t, `[{"b":2}]`, string(payload))

	entries, err := os.ReadDir(filepath.Join(dir, "kucoin"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.json", "kucoin/../../x.json", "kucoin/", "/abs.json"} {
		_, err := store.WriteObject(context.Background(), key, []byte(`[]`))
		require.ErrorIs(t, err, exception.ErrInvalidObjectKey, key)
	}
}

func TestGzipDecorator(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	g := NewGzip(store, gzip.BestSpeed)
	stored, err := g.WriteObject(ctx, "binance/2025-05-23T10-04-05.json", []byte(`[{"s":"BTCUSDT"}]`))
	require.NoError(t, err)
	assert.Equal(t, "binance/2025-05-23T10-04-05.json.gz", stored)

	keys, err := store.List(ctx, "binance/")
	require.NoError(t, err)
	require.Equal(t, []string{"binance/2025-05-23T10-04-05.json.gz"}, keys)

	payload, err := store.Read(ctx, keys[0])
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, `[{"s":"BTCUSDT"}]`, string(plain))
}
