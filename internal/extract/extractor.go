package extract

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tickerflow/internal/model"
	"tickerflow/internal/model/enum"
	"tickerflow/internal/obs"
	"tickerflow/pkg/exception"
	"tickerflow/pkg/websocket"

	"github.com/yanun0323/logs"
)

const (
	DefaultConnectAttempts  = 5
	DefaultConnectDelay     = 200 * time.Millisecond
	DefaultReconnectBackoff = time.Second
)

// Extractor streams ticker records from one exchange.
//
// Extract owns out and closes it on return. It returns nil once a stop was
// requested (or ctx is done) and a non-nil error only when the source can no
// longer be reached. An Extractor runs at most once.
type Extractor interface {
	Source() enum.Source
	Extract(ctx context.Context, out chan<- []model.RawRecord) error
	RequestStop()
}

// Config holds the knobs shared by every exchange.
type Config struct {
	// ConnectAttempts bounds consecutive failures while connecting.
	ConnectAttempts int
	// ConnectDelay is the fixed wait between connect attempts.
	ConnectDelay time.Duration
	// ReconnectBackoff is waited after a lost session.
	ReconnectBackoff websocket.Backoff
	Dialer           websocket.Dialer
	Metrics          *obs.Metrics
}

func (c Config) withDefaults() Config {
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = DefaultConnectDelay
	}
	if c.ReconnectBackoff.IsZero() {
		c.ReconnectBackoff = websocket.FixedBackoff(DefaultReconnectBackoff)
	}
	if c.Dialer == nil {
		c.Dialer = websocket.NewDialer(websocket.DialerOption{})
	}
	return c
}

// endpoint is a resolved connection target.
type endpoint struct {
	url          string
	pingInterval time.Duration
}

// protocol is the exchange specific part of a stream.
type protocol interface {
	resolve(ctx context.Context) (endpoint, error)
	// onConnect runs once per session before the first read.
	onConnect(ctx context.Context, conn websocket.Conn) error
	// ping returns the keepalive message, nil when the exchange needs none.
	ping() []byte
	// decode returns nil, nil for frames that carry no records.
	decode(payload []byte) ([]model.RawRecord, error)
}

// stream drives the connect, consume, reconnect cycle for one protocol.
type stream struct {
	source enum.Source
	proto  protocol
	cfg    Config

	used     atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func newStream(source enum.Source, proto protocol, cfg Config) *stream {
	return &stream{
		source: source,
		proto:  proto,
		cfg:    cfg.withDefaults(),
		stopCh: make(chan struct{}),
	}
}

func (s *stream) Source() enum.Source {
	return s.source
}

// RequestStop is idempotent and safe to call from any goroutine.
func (s *stream) RequestStop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
	})
}

// Stopped reports whether a stop was requested.
func (s *stream) Stopped() bool {
	return s.stopped.Load()
}

func (s *stream) Extract(ctx context.Context, out chan<- []model.RawRecord) error {
	if !s.used.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", exception.ErrExtractorReused, s.source)
	}
	defer close(out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	reconnects := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, ep, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		logs.Infof("%s stream connected", s.source)
		delivered, err := s.consume(ctx, conn, ep, out)
		if ctx.Err() != nil {
			return nil
		}

		if delivered {
			reconnects = 0
		}
		reconnects++
		s.cfg.Metrics.IncReconnect(s.source)
		logs.Errorf("%s stream lost, reconnecting, err: %+v", s.source, err)

		if !sleep(ctx, s.cfg.ReconnectBackoff.Next(reconnects)) {
			return nil
		}
	}
}

// connect resolves, dials and subscribes, retrying a bounded number of times.
func (s *stream) connect(ctx context.Context) (websocket.Conn, endpoint, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ConnectAttempts; attempt++ {
		if attempt > 1 && !sleep(ctx, s.cfg.ConnectDelay) {
			return nil, endpoint{}, ctx.Err()
		}

		conn, ep, err := s.open(ctx)
		if err == nil {
			return conn, ep, nil
		}
		if ctx.Err() != nil {
			return nil, endpoint{}, ctx.Err()
		}

		lastErr = err
		s.cfg.Metrics.IncConnectFailure(s.source)
		logs.Errorf("%s connect attempt %d/%d, err: %+v", s.source, attempt, s.cfg.ConnectAttempts, err)
	}

	return nil, endpoint{}, fmt.Errorf("%w: %s after %d attempts: %w",
		exception.ErrConnectExhausted, s.source, s.cfg.ConnectAttempts, lastErr)
}

func (s *stream) open(ctx context.Context) (websocket.Conn, endpoint, error) {
	ep, err := s.proto.resolve(ctx)
	if err != nil {
		return nil, endpoint{}, err
	}

	conn, err := s.cfg.Dialer.Dial(ctx, ep.url)
	if err != nil {
		return nil, endpoint{}, err
	}

	if err := s.proto.onConnect(ctx, conn); err != nil {
		_ = conn.Close(websocket.CloseNormal, "subscribe failed")
		return nil, endpoint{}, err
	}

	return conn, ep, nil
}

// consume reads frames until the session breaks or ctx is done. delivered
// reports whether at least one batch reached out.
func (s *stream) consume(ctx context.Context, conn websocket.Conn, ep endpoint, out chan<- []model.RawRecord) (delivered bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the conn is the only way to unblock a pending read.
	go func() {
		<-ctx.Done()
		_ = conn.Close(websocket.CloseNormal, "")
	}()

	if msg := s.proto.ping(); msg != nil && ep.pingInterval > 0 {
		go s.keepalive(ctx, conn, ep.pingInterval)
	}

	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			return delivered, err
		}
		if !msgType.IsData() {
			continue
		}

		records, err := s.proto.decode(payload)
		if err != nil {
			s.cfg.Metrics.IncFrameSkipped(s.source)
			logs.Errorf("%s skip frame, err: %+v", s.source, err)
			continue
		}
		if len(records) == 0 {
			continue
		}

		select {
		case out <- records:
			delivered = true
			s.cfg.Metrics.AddExtracted(s.source, len(records))
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}

func (s *stream) keepalive(ctx context.Context, conn websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, s.proto.ping()); err != nil {
				logs.Errorf("%s keepalive, err: %+v", s.source, err)
				_ = conn.Close(websocket.CloseGoingAway, "keepalive failed")
				return
			}
		}
	}
}

// sleep waits d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
