package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type item struct {
	id   string
	name string
}

func (i item) ItemID() string   { return i.id }
func (i item) ItemName() string { return i.name }

func items(n int) []item {
	out := make([]item, n)
	for i := range out {
		out[i] = item{id: fmt.Sprintf("item-%03d", i)}
	}
	return out
}

func TestProcess_AllSucceed(t *testing.T) {
	for _, conc := range []int{1, 4} {
		p := New[item](Config{BatchSize: 7, Concurrency: conc})
		st := p.Process(context.Background(), items(50), func(context.Context, item) error { return nil })
		if st.Total != 50 || st.Succeeded != 50 || st.Failed != 0 || len(st.Errors) != 0 {
			t.Fatalf("conc=%d stats=%+v", conc, st)
		}
		if st.Batches != 8 {
			t.Fatalf("conc=%d batches=%d want 8", conc, st.Batches)
		}
		if st.EndTime.Before(st.StartTime) {
			t.Fatalf("end before start")
		}
	}
}

func TestProcess_OneFailingItemIsIsolated(t *testing.T) {
	for _, conc := range []int{1, 3} {
		p := New[item](Config{BatchSize: 10, Concurrency: conc})
		in := items(25)
		st := p.Process(context.Background(), in, func(_ context.Context, it item) error {
			if it.id == "item-013" {
				return errors.New("boom")
			}
			return nil
		})
		if st.Failed != 1 || st.Succeeded != 24 {
			t.Fatalf("conc=%d stats=%+v", conc, st)
		}
		if len(st.Errors) != 1 || st.Errors[0].Item != "item-013" || st.Errors[0].Message != "boom" {
			t.Fatalf("conc=%d errors=%+v", conc, st.Errors)
		}
	}
}

func TestProcess_IdentifierFallbacks(t *testing.T) {
	p := New[any](Config{})
	in := []any{
		item{name: "named"},
		map[string]any{"id": "from-map"},
		42,
	}
	st := p.Process(context.Background(), in, func(context.Context, any) error { return errors.New("x") })
	got := []string{st.Errors[0].Item, st.Errors[1].Item, st.Errors[2].Item}
	want := []string{"named", "from-map", "unknown"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("identifiers=%v want %v", got, want)
		}
	}
}

type ref struct{ id string }

func (r *ref) ItemID() string { return r.id }

func TestProcess_NilPointerItemIsIsolated(t *testing.T) {
	p := New[*ref](Config{})
	in := []*ref{nil, {id: "b"}, {id: "c"}}
	st := p.Process(context.Background(), in, func(_ context.Context, r *ref) error {
		if r == nil || r.id == "b" {
			return errors.New("bad item")
		}
		return nil
	})
	if st.Total != 3 || st.Succeeded != 1 || st.Failed != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if st.Errors[0].Item != "unknown" || st.Errors[1].Item != "b" {
		t.Fatalf("errors=%+v", st.Errors)
	}
}

func TestProcess_PanicBecomesItemError(t *testing.T) {
	p := New[item](Config{})
	st := p.Process(context.Background(), items(3), func(_ context.Context, it item) error {
		if it.id == "item-001" {
			panic("kaboom")
		}
		return nil
	})
	if st.Failed != 1 || st.Succeeded != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestProcess_ConcurrencyNeverExceeded(t *testing.T) {
	const limit = 3
	var inflight, peak atomic.Int32
	p := New[item](Config{BatchSize: 20, Concurrency: limit})
	p.Process(context.Background(), items(40), func(context.Context, item) error {
		n := inflight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inflight.Add(-1)
		return nil
	})
	if peak.Load() > limit {
		t.Fatalf("peak in-flight %d exceeds %d", peak.Load(), limit)
	}
}

func TestProcess_ProgressAfterEveryBatch(t *testing.T) {
	var mu sync.Mutex
	var seen []Progress
	p := New[item](Config{BatchSize: 100, Concurrency: 1, OnProgress: func(pr Progress) {
		mu.Lock()
		seen = append(seen, pr)
		mu.Unlock()
	}})
	st := p.Process(context.Background(), items(250), func(context.Context, item) error { return nil })

	if len(seen) != 3 || st.Batches != 3 {
		t.Fatalf("progress events=%d batches=%d want 3", len(seen), st.Batches)
	}
	if seen[0].Batch != 1 || seen[0].Batches != 3 || seen[0].Stats.Succeeded != 100 {
		t.Fatalf("first progress %+v", seen[0])
	}
	if seen[2].Stats.Succeeded != 250 {
		t.Fatalf("last progress %+v", seen[2])
	}
}

func TestProcess_CancelBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := New[item](Config{BatchSize: 10, OnProgress: func(pr Progress) {
		if pr.Batch == 2 {
			cancel()
		}
	}})
	st := p.Process(ctx, items(50), func(context.Context, item) error { return nil })
	if !st.Cancelled {
		t.Fatalf("expected cancelled run")
	}
	if st.Succeeded != 20 || st.Failed != 0 || st.Total != 50 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestProcess_StatsDoNotLeakBetweenCalls(t *testing.T) {
	p := New[item](Config{BatchSize: 5})
	fail := func(context.Context, item) error { return errors.New("no") }
	first := p.Process(context.Background(), items(4), fail)
	second := p.Process(context.Background(), items(2), func(context.Context, item) error { return nil })
	if first.Failed != 4 || second.Failed != 0 || len(second.Errors) != 0 || second.Total != 2 {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
}

func TestRetry_FailsTwiceThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	var delays []time.Duration

	rp := NewRetry[item](Config{BatchSize: 10}, RetryConfig{MaxRetries: 2, RetryDelay: 100 * time.Millisecond}).
		WithSleep(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		})

	st := rp.Process(context.Background(), items(3), func(_ context.Context, it item) error {
		mu.Lock()
		defer mu.Unlock()
		calls[it.id]++
		if it.id == "item-001" && calls[it.id] <= 2 {
			return errors.New("transient")
		}
		return nil
	})

	if st.Succeeded != 3 || st.Failed != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if calls["item-001"] != 3 {
		t.Fatalf("calls=%d want 3", calls["item-001"])
	}
	if len(delays) != 2 || delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Fatalf("delays=%v want [100ms 200ms]", delays)
	}
}

func TestRetry_TerminalFailureCountedOnce(t *testing.T) {
	rp := NewRetry[item](Config{}, RetryConfig{MaxRetries: 2}).
		WithSleep(func(context.Context, time.Duration) error { return nil })
	var calls atomic.Int32
	st := rp.Process(context.Background(), items(1), func(context.Context, item) error {
		calls.Add(1)
		return errors.New("down")
	})
	if st.Failed != 1 || len(st.Errors) != 1 || calls.Load() != 3 {
		t.Fatalf("stats=%+v calls=%d", st, calls.Load())
	}
}

func TestRetry_PermanentErrorsNotRetried(t *testing.T) {
	rp := NewRetry[item](Config{}, RetryConfig{MaxRetries: 5}).
		WithSleep(func(context.Context, time.Duration) error { return nil })
	var calls atomic.Int32
	st := rp.Process(context.Background(), items(1), func(context.Context, item) error {
		calls.Add(1)
		return Permanent(errors.New("bad geometry"))
	})
	if calls.Load() != 1 || st.Failed != 1 || st.Errors[0].Message != "bad geometry" {
		t.Fatalf("calls=%d stats=%+v", calls.Load(), st)
	}
}
