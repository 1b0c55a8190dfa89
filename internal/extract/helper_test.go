package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tickerflow/internal/model"
	"tickerflow/pkg/websocket"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const _waitTimeout = 3 * time.Second

// wsServer upgrades every request and hands the conn to handle together with
// its 1-based connection number.
type wsServer struct {
	*httptest.Server
	conns atomic.Int32
}

func newWSServer(t *testing.T, handle func(n int, c *gorilla.Conn, r *http.Request)) *wsServer {
	t.Helper()
	s := &wsServer{}
	upgrader := gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handle(int(s.conns.Add(1)), c, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// hold blocks until the peer goes away.
func hold(c *gorilla.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig() Config {
	return Config{
		ConnectAttempts:  3,
		ConnectDelay:     time.Millisecond,
		ReconnectBackoff: websocket.FixedBackoff(10 * time.Millisecond),
	}
}

type run struct {
	out  chan []model.RawRecord
	done chan error
}

func startExtract(ctx context.Context, ex Extractor) *run {
	r := &run{
		out:  make(chan []model.RawRecord, 16),
		done: make(chan error, 1),
	}
	go func() {
		r.done <- ex.Extract(ctx, r.out)
	}()
	return r
}

func (r *run) next(t *testing.T) []model.RawRecord {
	t.Helper()
	select {
	case batch, ok := <-r.out:
		require.True(t, ok, "out closed early")
		return batch
	case <-time.After(_waitTimeout):
		require.FailNow(t, "timed out waiting for records")
		return nil
	}
}

// wait returns the Extract result and asserts out was closed.
func (r *run) wait(t *testing.T) error {
	t.Helper()
	var err error
	select {
	case err = <-r.done:
	case <-time.After(_waitTimeout):
		require.FailNow(t, "extract did not return")
	}
	for range r.out {
	}
	return err
}
