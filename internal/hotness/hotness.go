// Package hotness scores how often query shapes are requested and decides
// which results are worth caching.
package hotness

import "sync/atomic"

type Interface interface {
	// Observe records one request for key and returns its updated score.
	Observe(key string) float64
	Score(key string) float64
	Reset(keys ...string)
}

// Admission admits a result into the cache once its query has been asked
// for at least Threshold times, with older requests decayed by the tracker.
type Admission struct {
	hot       Interface
	threshold float64

	admitted, rejected atomic.Int64
}

// NewAdmission returns nil when threshold <= 1, since the first request
// already scores 1 and every result would be admitted.
func NewAdmission(hot Interface, threshold float64) *Admission {
	if hot == nil || threshold <= 1 {
		return nil
	}
	return &Admission{hot: hot, threshold: threshold}
}

// Admit records a cache miss for key and reports whether to store the result.
func (a *Admission) Admit(key string) bool {
	if a == nil {
		return true
	}
	if a.hot.Observe(key) >= a.threshold {
		a.admitted.Add(1)
		return true
	}
	a.rejected.Add(1)
	return false
}

func (a *Admission) Stats() (admitted, rejected int64) {
	if a == nil {
		return 0, 0
	}
	return a.admitted.Load(), a.rejected.Load()
}
