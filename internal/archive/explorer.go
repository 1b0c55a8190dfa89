package archive

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"tickerflow/internal/model/enum"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/yanun0323/errors"
)

const gzipExt = ".gz"

var _json = sonic.Config{UseNumber: true}.Froze()

// ObjectReader is the read side of an object store.
type ObjectReader interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// Explorer finds and loads archived batches by the time embedded in their keys.
type Explorer struct {
	store ObjectReader
}

func NewExplorer(store ObjectReader) *Explorer {
	return &Explorer{store: store}
}

// List returns the keys of source stamped within [start, end], oldest first.
func (e *Explorer) List(ctx context.Context, source enum.Source, start, end time.Time) ([]string, error) {
	keys, err := e.store.List(ctx, Prefix(source))
	if err != nil {
		return nil, errors.Wrap(err, "list objects").With("source", source.String())
	}

	type stamped struct {
		key string
		ts  time.Time
	}
	matched := make([]stamped, 0, len(keys))
	for _, key := range keys {
		if !isArchiveKey(source, key) {
			continue
		}
		ts, err := ParseKeyTime(key)
		if err != nil {
			continue
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		matched = append(matched, stamped{key: key, ts: ts})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].ts.Equal(matched[j].ts) {
			return matched[i].key < matched[j].key
		}
		return matched[i].ts.Before(matched[j].ts)
	})

	out := make([]string, len(matched))
	for i := range matched {
		out[i] = matched[i].key
	}
	return out, nil
}

// Download concatenates the records of every object List returns.
func (e *Explorer) Download(ctx context.Context, source enum.Source, start, end time.Time) ([]map[string]any, error) {
	keys, err := e.List(ctx, source, start, end)
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	for _, key := range keys {
		batch, err := e.read(ctx, key)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	return records, nil
}

func (e *Explorer) read(ctx context.Context, key string) ([]map[string]any, error) {
	payload, err := e.store.Read(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "read object").With("key", key)
	}

	if strings.HasSuffix(key, gzipExt) {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, errors.Wrap(err, "open gzip").With("key", key)
		}
		defer zr.Close()
		if payload, err = io.ReadAll(zr); err != nil {
			return nil, errors.Wrap(err, "gunzip").With("key", key)
		}
	}

	var batch []map[string]any
	if err := _json.Unmarshal(payload, &batch); err != nil {
		return nil, errors.Wrap(err, "decode object").With("key", key)
	}
	return batch, nil
}
