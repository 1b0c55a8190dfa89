// Package exception holds the sentinel errors shared across packages.
//
// Sentinels are plain errors: wrapping one with github.com/yanun0323/errors
// keeps it as the cause, so errors.Is still matches through the wrap.
package exception

import "errors"

// General errors
var (
	ErrNilInstance        = errors.New("nil instance")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidBatchConfig = errors.New("batch: max size and max age must be > 0")
	ErrUnknownSource      = errors.New("unknown source")
	ErrDuplicateSource    = errors.New("duplicate source")
)
