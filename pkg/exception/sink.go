package exception

import "errors"

// Sink errors
var (
	ErrQueueFull          = errors.New("queue: full")
	ErrQueueClosed        = errors.New("queue: closed")
	ErrEmptyBatch         = errors.New("sink: empty batch")
	ErrUnknownTopic       = errors.New("sink: no topic for source")
	ErrInvalidObjectKey   = errors.New("sink: invalid object key")
	ErrUnsupportedStorage = errors.New("sink: unsupported object store driver")
)
