// Package batch drives collections of items through a unit of work in
// fixed-size batches, isolating per-item failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

const DefaultBatchSize = 100

type UnitOfWork[T any] func(ctx context.Context, item T) error

type ItemError struct {
	Item    string `json:"item"`
	Message string `json:"error"`
}

type Stats struct {
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors"`
	StartTime time.Time   `json:"startTime"`
	EndTime   time.Time   `json:"endTime"`
	Batches   int         `json:"batches"`
	Cancelled bool        `json:"cancelled,omitempty"`
}

func (s Stats) Duration() time.Duration { return s.EndTime.Sub(s.StartTime) }

func (s Stats) clone() Stats {
	s.Errors = append([]ItemError(nil), s.Errors...)
	return s
}

// Progress is emitted after every batch with cumulative stats.
type Progress struct {
	Stats   Stats
	Batch   int // 1-based index of the batch just finished
	Batches int
}

// Identifiable and Named let items name themselves in error reports.
type Identifiable interface{ ItemID() string }
type Named interface{ ItemName() string }

// Identify prefers a non-empty ID, then a name, then "unknown". A panicking
// accessor, such as one called on a nil pointer, yields "unknown".
func Identify(item any) (id string) {
	defer func() {
		if recover() != nil {
			id = "unknown"
		}
	}()
	if v, ok := item.(Identifiable); ok {
		if id := v.ItemID(); id != "" {
			return id
		}
	}
	if v, ok := item.(Named); ok {
		if n := v.ItemName(); n != "" {
			return n
		}
	}
	switch m := item.(type) {
	case map[string]any:
		for _, k := range []string{"id", "name"} {
			if s, ok := m[k].(string); ok && s != "" {
				return s
			}
		}
	case map[string]string:
		for _, k := range []string{"id", "name"} {
			if s := m[k]; s != "" {
				return s
			}
		}
	}
	return "unknown"
}

type Config struct {
	BatchSize   int
	Concurrency int
	OnProgress  func(Progress)
}

// Observer receives one call per finished item.
type Observer interface {
	ObserveBatchItem(outcome string)
}

type Processor[T any] struct {
	size     int
	strategy Strategy
	progress func(Progress)
	log      *slog.Logger
	obs      Observer
	now      func() time.Time
}

type Option[T any] func(*Processor[T])

func WithStrategy[T any](s Strategy) Option[T] {
	return func(p *Processor[T]) { p.strategy = s }
}

func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(p *Processor[T]) { p.log = l }
}

func WithObserver[T any](o Observer) Option[T] {
	return func(p *Processor[T]) { p.obs = o }
}

func WithClock[T any](now func() time.Time) Option[T] {
	return func(p *Processor[T]) { p.now = now }
}

func New[T any](cfg Config, opts ...Option[T]) *Processor[T] {
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	p := &Processor[T]{
		size:     size,
		strategy: StrategyFor(cfg.Concurrency),
		progress: cfg.OnProgress,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs uow for every item. Item failures are recorded and never stop
// the run. Cancellation is honoured between batches; the batch in flight
// always completes and is counted.
func (p *Processor[T]) Process(ctx context.Context, items []T, uow UnitOfWork[T]) Stats {
	st := Stats{Total: len(items), StartTime: p.now(), Errors: []ItemError{}}
	batches := (len(items) + p.size - 1) / p.size

	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			st.Cancelled = true
			p.log.Info("batch run cancelled", "completed_batches", b, "batches", batches, "err", err)
			break
		}
		lo := b * p.size
		hi := min(lo+p.size, len(items))
		chunk := items[lo:hi]

		outcomes := make([]error, len(chunk))
		p.strategy.Run(ctx, len(chunk), func(ctx context.Context, i int) {
			outcomes[i] = safeCall(ctx, uow, chunk[i])
		})

		for i, err := range outcomes {
			if err == nil {
				st.Succeeded++
				p.observe("succeeded")
				continue
			}
			st.Failed++
			st.Errors = append(st.Errors, ItemError{Item: Identify(chunk[i]), Message: err.Error()})
			p.observe("failed")
		}
		st.Batches++

		p.log.Debug("batch done",
			"batch", b+1, "batches", batches,
			"succeeded", st.Succeeded, "failed", st.Failed,
			"strategy", p.strategy.Name())
		if p.progress != nil {
			p.progress(Progress{Stats: st.clone(), Batch: b + 1, Batches: batches})
		}
	}

	st.EndTime = p.now()
	return st
}

func (p *Processor[T]) observe(outcome string) {
	if p.obs != nil {
		p.obs.ObserveBatchItem(outcome)
	}
}

var ErrPanic = errors.New("unit of work panicked")

func safeCall[T any](ctx context.Context, uow UnitOfWork[T], item T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in unit of work", "err", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()
	return uow(ctx, item)
}
