// Package expdecay scores keys with exponentially decaying request counts.
package expdecay

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geotemporal/internal/hotness"
)

const numShards = 64

// entries decayed below this are dropped when a shard is over capacity
const pruneFloor = 0.05

type Tracker struct {
	halfLife float64 // seconds
	perShard int     // 0 means unbounded

	now func() time.Time

	shards [numShards]shard
}

type shard struct {
	mu sync.Mutex
	m  map[string]*counter
}

type counter struct {
	score float64
	last  time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

type Option func(*Tracker)

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithMaxKeys bounds memory. It is enforced per shard, so the total may
// briefly differ from n by up to one key per shard.
func WithMaxKeys(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.perShard = max(n/numShards, 1)
		}
	}
}

func New(halfLife time.Duration, opts ...Option) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{halfLife: halfLife.Seconds(), now: time.Now}
	for _, o := range opts {
		o(t)
	}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*counter)
	}
	return t
}

func (t *Tracker) Observe(key string) float64 {
	if key == "" {
		return 0
	}
	s := t.pick(key)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m[key]
	if c == nil {
		if t.perShard > 0 && len(s.m) >= t.perShard {
			t.evict(s, n)
		}
		s.m[key] = &counter{score: 1, last: n}
		return 1
	}
	c.score = decay(c.score, n.Sub(c.last).Seconds(), t.halfLife) + 1
	c.last = n
	return c.score
}

func (t *Tracker) Score(key string) float64 {
	if key == "" {
		return 0
	}
	s := t.pick(key)
	s.mu.Lock()
	c := s.m[key]
	if c == nil {
		s.mu.Unlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.Unlock()
	return decay(score, t.now().Sub(last).Seconds(), t.halfLife)
}

func (t *Tracker) Reset(keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		s := t.pick(k)
		s.mu.Lock()
		delete(s.m, k)
		s.mu.Unlock()
	}
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		total += len(s.m)
		s.mu.Unlock()
	}
	return total
}

// evict drops every faded key in s, or the coldest one if none has faded.
// s.mu must be held.
func (t *Tracker) evict(s *shard, now time.Time) {
	coldest, coldScore := "", math.Inf(1)
	dropped := false
	for k, c := range s.m {
		sc := decay(c.score, now.Sub(c.last).Seconds(), t.halfLife)
		if sc < pruneFloor {
			delete(s.m, k)
			dropped = true
			continue
		}
		if sc < coldScore {
			coldest, coldScore = k, sc
		}
	}
	if !dropped && coldest != "" {
		delete(s.m, coldest)
	}
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2/halfLife*dt)
}

func (t *Tracker) pick(key string) *shard {
	return &t.shards[xxhash.Sum64String(key)&(numShards-1)]
}
