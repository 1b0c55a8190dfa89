// Package dispatch batches extractor output per source and fans each batch
// out to the message bus and the archive queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickerflow/internal/batch"
	"tickerflow/internal/extract"
	"tickerflow/internal/model"
	"tickerflow/internal/model/enum"
	"tickerflow/internal/obs"
	"tickerflow/pkg/exception"

	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultFlushInterval = time.Second
	DefaultChannelSize   = 64
)

// Publisher delivers a batch to the message bus.
type Publisher interface {
	Publish(ctx context.Context, source enum.Source, batch []model.RawRecord) error
}

// Enqueuer hands an envelope to the archive side.
type Enqueuer interface {
	Enqueue(ctx context.Context, env model.Envelope) error
}

// Source pairs an extractor with its batching thresholds.
type Source struct {
	Extractor    extract.Extractor
	MaxBatchSize int
	MaxBatchAge  time.Duration
}

type Options struct {
	// FlushInterval is how often quiet sources are checked for aged batches.
	FlushInterval time.Duration
	// ChannelSize bounds each extractor's output channel.
	ChannelSize int
	Metrics     *obs.Metrics
	Clock       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.ChannelSize <= 0 {
		o.ChannelSize = DefaultChannelSize
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type lane struct {
	extractor extract.Extractor
	policy    *batch.Policy[model.RawRecord]
}

// Dispatcher runs one batching loop per source.
type Dispatcher struct {
	publisher Publisher
	archive   Enqueuer
	opts      Options
	lanes     []*lane
}

// New validates every source before any connection is made.
func New(publisher Publisher, archive Enqueuer, opts Options, sources ...Source) (*Dispatcher, error) {
	if publisher == nil || archive == nil {
		return nil, yerrors.Wrap(exception.ErrNilInstance, "dispatcher needs a publisher and an enqueuer")
	}
	if len(sources) == 0 {
		return nil, yerrors.Wrap(exception.ErrInvalidArgument, "no source")
	}

	opts = opts.withDefaults()
	d := &Dispatcher{
		publisher: publisher,
		archive:   archive,
		opts:      opts,
		lanes:     make([]*lane, 0, len(sources)),
	}

	seen := make(map[enum.Source]struct{}, len(sources))
	for _, src := range sources {
		if src.Extractor == nil {
			return nil, yerrors.Wrap(exception.ErrNilInstance, "nil extractor")
		}
		name := src.Extractor.Source()
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %s", exception.ErrDuplicateSource, name)
		}
		seen[name] = struct{}{}

		policy, err := batch.New[model.RawRecord](src.MaxBatchSize, src.MaxBatchAge, batch.WithClock(opts.Clock))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		d.lanes = append(d.lanes, &lane{extractor: src.Extractor, policy: policy})
	}

	return d, nil
}

// Start blocks until every source has finished. The first fatal source error
// stops the others and is returned prefixed with the source name.
func (d *Dispatcher) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range d.lanes {
		g.Go(func() error {
			return d.run(gctx, l)
		})
	}
	return g.Wait()
}

// Stop asks every extractor to stop. Start returns once the remaining
// batches are flushed.
func (d *Dispatcher) Stop() {
	if d == nil {
		return
	}
	for _, l := range d.lanes {
		l.extractor.RequestStop()
	}
}

func (d *Dispatcher) run(ctx context.Context, l *lane) error {
	source := l.extractor.Source()
	out := make(chan []model.RawRecord, d.opts.ChannelSize)
	result := make(chan error, 1)
	go func() {
		result <- l.extractor.Extract(ctx, out)
	}()

	// flushes must outlive a cancelled group so the tail is not lost
	flushCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(d.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case records, ok := <-out:
			if !ok {
				d.flush(flushCtx, l)
				if err := <-result; err != nil {
					logs.Errorf("%s extractor stopped, err: %+v", source, err)
					return fmt.Errorf("%s: %w", source, err)
				}
				logs.Infof("%s extractor stopped", source)
				return nil
			}
			l.policy.Append(records...)
			if l.policy.Ready() {
				d.flush(flushCtx, l)
			}
		case <-ticker.C:
			if l.policy.Ready() {
				d.flush(flushCtx, l)
			}
		}
	}
}

// flush sends the window to both sinks. A failure in one never skips the other.
func (d *Dispatcher) flush(ctx context.Context, l *lane) {
	records := l.policy.Drain()
	if len(records) == 0 {
		return
	}
	defer l.policy.Reset()

	source := l.extractor.Source()

	err := d.publisher.Publish(ctx, source, records)
	d.opts.Metrics.ObservePublish(source, err)
	if err != nil {
		logs.Errorf("%s publish %d records, err: %+v", source, len(records), err)
	}

	err = d.archive.Enqueue(ctx, model.NewEnvelope(source, records, d.opts.Clock()))
	d.opts.Metrics.ObserveEnqueue(source, enqueueFailure(err), err)
	if err != nil {
		logs.Errorf("%s enqueue %d records, err: %+v", source, len(records), err)
	}
}

func enqueueFailure(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, exception.ErrQueueFull):
		return "full"
	case errors.Is(err, exception.ErrQueueClosed):
		return "closed"
	default:
		return "error"
	}
}
