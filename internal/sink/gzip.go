package sink

import (
	"bytes"
	"context"

	"tickerflow/internal/archive"

	"github.com/klauspost/compress/gzip"
	"github.com/yanun0323/errors"
)

const gzipExt = ".gz"

// Gzip compresses every payload before handing it to the next writer and
// marks the key with a .gz suffix. The suffixed key is what it returns.
type Gzip struct {
	next  archive.ObjectWriter
	level int
}

// NewGzip wraps next. A level of 0 uses gzip.DefaultCompression.
func NewGzip(next archive.ObjectWriter, level int) *Gzip {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return &Gzip{next: next, level: level}
}

func (g *Gzip) WriteObject(ctx context.Context, key string, payload []byte) (string, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return "", errors.Wrap(err, "new gzip writer")
	}
	if _, err := zw.Write(payload); err != nil {
		return "", errors.Wrap(err, "gzip payload").With("key", key)
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "gzip close").With("key", key)
	}

	return g.next.WriteObject(ctx, key+gzipExt, buf.Bytes())
}
