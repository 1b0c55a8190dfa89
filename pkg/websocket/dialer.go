package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"tickerflow/pkg/exception"

	gorilla "github.com/gorilla/websocket"
	yerrors "github.com/yanun0323/errors"
)

const (
	DefaultDialerTimeout = 10 * time.Second
	DefaultReadLimit     = 4 << 20

	closeWriteTimeout = time.Second
)

// DialerOption configures the gorilla backed dialer.
type DialerOption struct {
	HandshakeTimeout  time.Duration
	ReadLimit         int64
	EnableCompression bool
	Header            http.Header
}

type dialer struct {
	ws        gorilla.Dialer
	readLimit int64
	header    http.Header
}

// NewDialer returns a Dialer that opens ws:// and wss:// connections.
func NewDialer(opt DialerOption) Dialer {
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = DefaultDialerTimeout
	}
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = DefaultReadLimit
	}
	return &dialer{
		ws: gorilla.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  opt.HandshakeTimeout,
			EnableCompression: opt.EnableCompression,
		},
		readLimit: opt.ReadLimit,
		header:    opt.Header,
	}
}

func (d *dialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := d.ws.DialContext(ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, yerrors.Wrap(err, "dial websocket").With("status", resp.StatusCode)
		}
		return nil, yerrors.Wrap(err, "dial websocket")
	}
	c.SetReadLimit(d.readLimit)
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn      *gorilla.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(ctx context.Context) (MessageType, []byte, error) {
	if err := setDeadline(ctx, c.conn.SetReadDeadline); err != nil {
		return 0, nil, err
	}
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *gorilla.CloseError
			if errors.As(err, &closeErr) {
				return 0, nil, yerrors.Wrap(exception.ErrWebSocketConnectionClose, closeErr.Error()).With("code", closeErr.Code)
			}
			return 0, nil, err
		}
		mt := MessageType(msgType)
		if !mt.IsData() {
			continue
		}
		return mt, payload, nil
	}
}

func (c *wsConn) Write(ctx context.Context, msgType MessageType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := setDeadline(ctx, c.conn.SetWriteDeadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(int(msgType), payload)
}

// Close sends a close frame on a best-effort basis and releases the socket.
// It is safe to call more than once and concurrently with Read.
func (c *wsConn) Close(code CloseCode, reason string) error {
	c.closeOnce.Do(func() {
		if code != 0 {
			msg := gorilla.FormatCloseMessage(int(code), reason)
			_ = c.conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func setDeadline(ctx context.Context, set func(time.Time) error) error {
	if ctx == nil {
		return set(time.Time{})
	}
	if deadline, ok := ctx.Deadline(); ok {
		return set(deadline)
	}
	if ctx.Err() != nil {
		return set(time.Now())
	}
	return set(time.Time{})
}
