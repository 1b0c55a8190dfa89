package enum

import "strings"

// Source identifies the exchange a record was ingested from.
type Source uint8

const (
	_source_beg Source = iota
	SourceKucoin
	SourceBinance
	_source_end
)

func (s Source) IsAvailable() bool {
	return s > _source_beg && s < _source_end
}

// String returns the tag used for topics, object keys and logs.
func (s Source) String() string {
	switch s {
	case SourceKucoin:
		return "kucoin"
	case SourceBinance:
		return "binance"
	default:
		return "unknown"
	}
}

// ParseSource maps a source tag back to its enum value.
func ParseSource(value string) (Source, bool) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "kucoin":
		return SourceKucoin, true
	case "binance":
		return SourceBinance, true
	default:
		return 0, false
	}
}

// Sources lists every available source in declaration order.
func Sources() []Source {
	out := make([]Source, 0, int(_source_end)-1)
	for s := _source_beg + 1; s < _source_end; s++ {
		out = append(out, s)
	}
	return out
}
