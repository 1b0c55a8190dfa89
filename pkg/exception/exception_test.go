package exception

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	yerrors "github.com/yanun0323/errors"
)

func TestWrappedSentinelMatches(t *testing.T) {
	sentinels := []error{
		ErrNilInstance, ErrInvalidBatchConfig, ErrBootstrap, ErrConnectExhausted,
		ErrMalformedFrame, ErrWebSocketConnectionClose, ErrQueueFull, ErrInvalidObjectKey,
	}

	for _, sentinel := range sentinels {
		wrapped := yerrors.Wrap(sentinel, "context").With("key", "value")
		assert.ErrorIs(t, wrapped, sentinel)
		assert.True(t, yerrors.Is(wrapped, sentinel))

		twice := yerrors.Wrapf(wrapped, "outer %d", 1)
		assert.ErrorIs(t, twice, sentinel)

		mixed := fmt.Errorf("start: %w", twice)
		assert.ErrorIs(t, mixed, sentinel)
	}
}

func TestWrappedSentinelDoesNotMatchOthers(t *testing.T) {
	wrapped := yerrors.Wrap(ErrBootstrap, "unexpected status")
	assert.False(t, errors.Is(wrapped, ErrConnectExhausted))
	assert.False(t, errors.Is(wrapped, ErrMalformedFrame))
}
