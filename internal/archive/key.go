package archive

import (
	"regexp"
	"strings"
	"time"

	"tickerflow/internal/model/enum"
	"tickerflow/pkg/exception"

	"github.com/yanun0323/errors"
)

const (
	keyTimeLayout = "2006-01-02T15-04-05"
	keyExt        = ".json"
)

var keyTimePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2})\.json(?:\.gz)?$`)

// Key names the object holding a batch: <source>/<UTC second>.json.
// Two batches of one source flushed in the same second share a key.
func Key(source enum.Source, ts time.Time) string {
	return source.String() + "/" + ts.UTC().Format(keyTimeLayout) + keyExt
}

// Prefix is the key prefix of every object of source.
func Prefix(source enum.Source) string {
	return source.String() + "/"
}

// ParseKeyTime extracts the UTC timestamp embedded in key.
func ParseKeyTime(key string) (time.Time, error) {
	m := keyTimePattern.FindStringSubmatch(key)
	if len(m) != 2 {
		return time.Time{}, errors.Wrap(exception.ErrInvalidObjectKey, key)
	}

	ts, err := time.ParseInLocation(keyTimeLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrap(exception.ErrInvalidObjectKey, key)
	}
	return ts, nil
}

func isArchiveKey(source enum.Source, key string) bool {
	return strings.HasPrefix(key, Prefix(source)) && keyTimePattern.MatchString(key)
}
