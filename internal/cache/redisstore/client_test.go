package redisstore

import (
	"context"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T, opts ...Option) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestSetMGetDel_HappyPath_AndMGetFiltersMissing(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "k2", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MGet size=%d want 2", len(got))
	}
	if string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, err := rc.Get(ctx, "k1"); err != nil || ok {
		t.Fatalf("Get after Del ok=%v err=%v", ok, err)
	}
}

func TestSetTTL_Expires(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()
	if err := rc.MSetWithTTL(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute); err != nil {
		t.Fatalf("MSetWithTTL: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	got, err := rc.MGet(ctx, []string{"a", "b"})
	if err != nil || len(got) != 0 {
		t.Fatalf("after ttl got=%v err=%v", got, err)
	}
}

func TestCountersAndSets(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	if n, err := rc.GetInt(ctx, "gen"); err != nil || n != 0 {
		t.Fatalf("missing counter n=%d err=%v", n, err)
	}
	for range 3 {
		if _, err := rc.Incr(ctx, "gen"); err != nil {
			t.Fatalf("Incr: %v", err)
		}
	}
	if n, _ := rc.GetInt(ctx, "gen"); n != 3 {
		t.Fatalf("gen=%d want 3", n)
	}

	err := rc.Tx(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, "s1", "a", "b")
		p.SAdd(ctx, "s2", "b", "c")
		return nil
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	u, err := rc.SUnion(ctx, "s1", "s2")
	if err != nil {
		t.Fatalf("SUnion: %v", err)
	}
	sort.Strings(u)
	if len(u) != 3 || u[0] != "a" || u[2] != "c" {
		t.Fatalf("union=%v", u)
	}
	m, _ := rc.SMembers(ctx, "s1")
	if len(m) != 2 {
		t.Fatalf("members=%v", m)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestMetrics_Incremented(t *testing.T) {
	reg := prometheus.NewRegistry()
	rc, _ := newMini(t, WithRegisterer(reg))
	ctx := context.Background()

	_ = rc.Set(ctx, "m1", []byte("x"), time.Minute)
	_, _ = rc.MGet(ctx, []string{"m1"})
	_ = rc.Del(ctx, "m1")

	for _, op := range []string{"ping", "set", "mget", "del"} {
		if got := testutil.ToFloat64(rc.metrics.ops.WithLabelValues(op, "ok")); got != 1 {
			t.Fatalf("redis_op_total{op=%q} = %v want 1", op, got)
		}
	}
	if n, err := testutil.GatherAndCount(reg, "redis_operation_duration_seconds"); err != nil || n != 4 {
		t.Fatalf("histogram series=%d err=%v", n, err)
	}
}
