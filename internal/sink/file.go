package sink

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"tickerflow/pkg/exception"

	"github.com/yanun0323/errors"
)

const tempPrefix = ".tmp-"

// FileStore keeps objects as files under a directory, one file per key.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "file store: empty dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create store dir").With("dir", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

// WriteObject writes to a temp file and renames it into place, so readers
// never see a partial object.
func (s *FileStore) WriteObject(_ context.Context, key string, payload []byte) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "create object dir").With("key", key)
	}

	file, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return "", errors.Wrap(err, "create temp object").With("key", key)
	}
	tmp := file.Name()
	defer os.Remove(tmp)

	if _, err := file.Write(payload); err != nil {
		_ = file.Close()
		return "", errors.Wrap(err, "write object").With("key", key)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return "", errors.Wrap(err, "sync object").With("key", key)
	}
	if err := file.Close(); err != nil {
		return "", errors.Wrap(err, "close object").With("key", key)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return "", errors.Wrap(err, "rename object").With("key", key)
	}
	return key, nil
}

// List returns every key starting with prefix, sorted.
func (s *FileStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk store dir").With("dir", s.dir)
	}

	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Read(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrap(err, "read object").With("key", key)
	}
	return payload, nil
}

// path maps key into the store, rejecting keys that would escape it.
func (s *FileStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || strings.HasSuffix(key, "/") || clean != "/"+key {
		return "", errors.Wrap(exception.ErrInvalidObjectKey, key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean[1:])), nil
}
