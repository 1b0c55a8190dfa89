// Package archive re-batches dispatched envelopes and writes them to an
// object store as JSON arrays.
package archive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tickerflow/internal/batch"
	"tickerflow/internal/bus"
	"tickerflow/internal/model"
	"tickerflow/internal/model/enum"
	"tickerflow/internal/obs"
	"tickerflow/pkg/exception"

	"github.com/bytedance/sonic"
	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	DefaultPollTimeout  = time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// ObjectWriter stores one object under key and returns the key it was
// actually stored as, which differs from key when a writer rewrites it.
type ObjectWriter interface {
	WriteObject(ctx context.Context, key string, payload []byte) (string, error)
}

// ObjectInfo describes a written object. Key is the stored key; Bytes is the
// JSON payload size before any compression.
type ObjectInfo struct {
	Key             string
	Source          enum.Source
	Records         int
	Bytes           int
	FirstIngestedAt time.Time
}

// Recorder keeps a catalog of written objects.
type Recorder interface {
	Record(ctx context.Context, info ObjectInfo) error
}

type WorkerConfig struct {
	MaxBatchSize int
	MaxBatchAge  time.Duration
	// PollTimeout bounds each wait on the queue, and so the stop latency.
	PollTimeout  time.Duration
	WriteTimeout time.Duration
	// Catalog is optional.
	Catalog Recorder
	Metrics *obs.Metrics
	Clock   func() time.Time
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Worker drains the archive queue on its own goroutine.
type Worker struct {
	queue *bus.Queue
	store ObjectWriter
	cfg   WorkerConfig

	policies map[enum.Source]*batch.Policy[model.Item]
	order    []enum.Source

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWorker builds one policy per source. Sources defaults to every known
// source; envelopes of other sources get a policy on first sight.
func NewWorker(queue *bus.Queue, store ObjectWriter, cfg WorkerConfig, sources ...enum.Source) (*Worker, error) {
	if queue == nil || store == nil {
		return nil, yerrors.Wrap(exception.ErrNilInstance, "worker needs a queue and an object writer")
	}
	if len(sources) == 0 {
		sources = enum.Sources()
	}

	w := &Worker{
		queue:    queue,
		store:    store,
		cfg:      cfg.withDefaults(),
		policies: make(map[enum.Source]*batch.Policy[model.Item], len(sources)),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, source := range sources {
		if _, err := w.policy(source); err != nil {
			return nil, err
		}
	}

	return w, nil
}

func (w *Worker) policy(source enum.Source) (*batch.Policy[model.Item], error) {
	if p, ok := w.policies[source]; ok {
		return p, nil
	}

	p, err := batch.New[model.Item](w.cfg.MaxBatchSize, w.cfg.MaxBatchAge, batch.WithClock(w.cfg.Clock))
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", source, err)
	}
	w.policies[source] = p
	w.order = append(w.order, source)
	return p, nil
}

// Start launches the worker goroutine. Later calls do nothing.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
}

// Stop ends the loop after the current cycle. Idempotent.
func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Join waits for the goroutine and its final flush. It returns at once when
// the worker was never started.
func (w *Worker) Join() {
	if w == nil || !w.started.Load() {
		return
	}
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	logs.Info("archive worker started")

	for {
		select {
		case <-w.stopCh:
			w.shutdown()
			logs.Info("archive worker stopped")
			return
		default:
		}

		if env, ok := w.queue.Poll(w.cfg.PollTimeout); ok {
			w.absorb(env)
		}
		w.flushReady()
		w.cfg.Metrics.SetArchiveQueueLength(w.queue.Len())
	}
}

// shutdown takes whatever is still queued and force-flushes every window.
func (w *Worker) shutdown() {
	for {
		env, ok := w.queue.TryDequeue()
		if !ok {
			break
		}
		w.absorb(env)
	}

	for _, source := range w.order {
		w.flush(source, w.policies[source])
	}
	w.cfg.Metrics.SetArchiveQueueLength(w.queue.Len())
}

func (w *Worker) absorb(env model.Envelope) {
	p, err := w.policy(env.Source)
	if err != nil {
		logs.Errorf("drop envelope of %d records, err: %+v", len(env.Records), err)
		return
	}
	p.Append(env.Items()...)
}

func (w *Worker) flushReady() {
	for _, source := range w.order {
		if p := w.policies[source]; p.Ready() {
			w.flush(source, p)
		}
	}
}

// flush writes the window as one object. A failed write drops the window.
func (w *Worker) flush(source enum.Source, p *batch.Policy[model.Item]) {
	items := p.Drain()
	if len(items) == 0 {
		return
	}
	defer p.Reset()

	key := Key(source, items[0].IngestedAt)
	records := make([]map[string]any, len(items))
	for i := range items {
		records[i] = items[i].Record
	}

	payload, err := sonic.ConfigFastest.Marshal(records)
	if err != nil {
		w.cfg.Metrics.ObserveObjectWrite(source, len(items), 0, err)
		logs.Errorf("%s encode %d records for %s, err: %+v", source, len(items), key, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	stored, err := w.store.WriteObject(ctx, key, payload)
	w.cfg.Metrics.ObserveObjectWrite(source, len(items), time.Since(start), err)
	if err != nil {
		logs.Errorf("%s write %s (%d records), err: %+v", source, key, len(items), err)
		return
	}
	logs.Infof("%s wrote %s (%d records)", source, stored, len(items))

	if w.cfg.Catalog == nil {
		return
	}
	if err := w.cfg.Catalog.Record(ctx, ObjectInfo{
		Key:             stored,
		Source:          source,
		Records:         len(items),
		Bytes:           len(payload),
		FirstIngestedAt: items[0].IngestedAt,
	}); err != nil {
		w.cfg.Metrics.IncCatalogFailure()
		logs.Errorf("%s catalog %s, err: %+v", source, stored, err)
	}
}
