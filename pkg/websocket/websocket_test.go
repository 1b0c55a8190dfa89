package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tickerflow/pkg/exception"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffNext(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, b.Next(0))
	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 800*time.Millisecond, b.Next(4))
	assert.Equal(t, time.Second, b.Next(10))
}

func TestFixedBackoff(t *testing.T) {
	b := FixedBackoff(time.Second)
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, time.Second, b.Next(attempt))
	}
	assert.False(t, b.IsZero())
	assert.True(t, Backoff{}.IsZero())
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Second, Factor: 2, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := b.Next(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func newEchoServer(t *testing.T, onConn func(c *gorilla.Conn)) string {
	t.Helper()
	upgrader := gorilla.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		onConn(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialerReadWrite(t *testing.T) {
	url := newEchoServer(t, func(c *gorilla.Conn) {
		mt, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(mt, msg)
		_ = c.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "done"))
		_, _, _ = c.ReadMessage()
	})

	ctx := context.Background()
	conn, err := NewDialer(DialerOption{}).Dial(ctx, url)
	require.NoError(t, err)
	defer conn.Close(CloseNormal, "")

	require.NoError(t, conn.Write(ctx, MessageText, []byte("hello")))

	mt, payload, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, MessageText, mt)
	assert.Equal(t, "hello", string(payload))

	_, _, err = conn.Read(ctx)
	require.ErrorIs(t, err, exception.ErrWebSocketConnectionClose)
}

func TestCloseUnblocksRead(t *testing.T) {
	url := newEchoServer(t, func(c *gorilla.Conn) {
		_, _, _ = c.ReadMessage()
	})

	conn, err := NewDialer(DialerOption{}).Dial(context.Background(), url)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, conn.Close(CloseNormal, "bye"))
	require.NoError(t, conn.Close(CloseNormal, "bye"))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "read not unblocked")
	}
}

func TestDialFailure(t *testing.T) {
	_, err := NewDialer(DialerOption{HandshakeTimeout: 200 * time.Millisecond}).Dial(context.Background(), "ws://127.0.0.1:1/none")
	require.Error(t, err)
}
