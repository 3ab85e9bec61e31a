package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/geotemporal/internal/feature"
	"github.com/mohammed-shakir/geotemporal/internal/ratelimit"
	"github.com/mohammed-shakir/geotemporal/internal/store"
	"github.com/mohammed-shakir/geotemporal/internal/store/memstore"
)

type pointRec struct {
	lon, lat float64
	bad      bool
}

// fakeSource serves n point records, or an error from Fetch.
type fakeSource struct {
	n        int
	fetchErr error
	fetched  atomic.Int32
	badRefs  map[string]bool
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Validate(p Params) error {
	if p.Option("mode") == "broken" {
		return Invalid("mode", "unsupported")
	}
	return nil
}

func (s *fakeSource) Fetch(context.Context, Fetcher, Params) ([]RawRecord, error) {
	s.fetched.Add(1)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := make([]RawRecord, s.n)
	for i := range out {
		ref := fmt.Sprintf("rec-%03d", i)
		out[i] = RawRecord{Ref: ref, Payload: pointRec{lon: float64(i%360) - 179.5, lat: 10, bad: s.badRefs[ref]}}
	}
	return out, nil
}

func (s *fakeSource) Convert(r RawRecord, _ Params) (*feature.Feature, error) {
	pr := r.Payload.(pointRec)
	if pr.bad {
		return nil, errors.New("unparseable record")
	}
	return feature.New("", orb.Point{pr.lon, pr.lat}, nil)
}

func (s *fakeSource) Fallback(Params) []RawRecord {
	return []RawRecord{{Ref: "fallback-1", Payload: pointRec{lon: 1, lat: 1}}}
}

type nopFetcher struct{}

func (nopFetcher) Request(context.Context, string, ratelimit.Options) (*ratelimit.Response, error) {
	return nil, errors.New("not used")
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestImport_250RecordsIn3Batches(t *testing.T) {
	st := memstore.New()
	src := &fakeSource{n: 250}
	im := NewImporter(src, nopFetcher{}, st, Config{BatchSize: 100, Concurrency: 1})

	res, err := im.Import(context.Background(), Params{LayerID: "points"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Batches)
	assert.Equal(t, 250, res.Stats.Succeeded+res.Stats.Failed)
	assert.Equal(t, 250, res.Stats.Succeeded)
	require.Len(t, res.Features, 250)
	assert.Equal(t, 250, st.Len())
	assert.NotEmpty(t, res.JobID)
	assert.False(t, res.Degraded)

	// records stay in source order
	ref, ok := res.Features[7].Properties.GetString("source_ref")
	require.True(t, ok)
	assert.Equal(t, "rec-007", ref)
	srcName, _ := res.Features[0].Properties.GetString("source")
	assert.Equal(t, "fake", srcName)
	assert.Equal(t, "points", res.Features[0].LayerID)
}

func TestImport_InvalidParamsBeforeFetch(t *testing.T) {
	cases := map[string]Params{
		"missing layer":   {},
		"negative limit":  {LayerID: "l", Limit: -1},
		"inverted bbox":   {LayerID: "l", Bbox: &orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{1, 1}}},
		"inverted window": {LayerID: "l", From: feature.MustParseDate("2020-01-01").Ptr(), To: feature.MustParseDate("2019-01-01").Ptr()},
		"source option":   {LayerID: "l", Options: map[string]string{"mode": "broken"}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			src := &fakeSource{n: 1}
			_, err := NewImporter(src, nopFetcher{}, memstore.New(), Config{}).Import(context.Background(), p)
			require.ErrorIs(t, err, ErrInvalidParams)
			var ipe *InvalidParamsError
			require.ErrorAs(t, err, &ipe)
			assert.Zero(t, src.fetched.Load())
		})
	}
}

func TestImport_UnavailableSourceDegrades(t *testing.T) {
	src := &fakeSource{fetchErr: Unavailable("fake", "no endpoint configured")}
	res, err := NewImporter(src, nopFetcher{}, memstore.New(), Config{}).Import(context.Background(), Params{LayerID: "l"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Contains(t, res.Reason, "no endpoint")
	assert.Equal(t, 1, res.Stats.Succeeded)
}

func TestImport_NetworkErrorSurfacesUnlessFallbackEnabled(t *testing.T) {
	netErr := &ratelimit.NetworkError{Endpoint: "http://x", Cause: errors.New("refused"), Attempts: 3}

	_, err := NewImporter(&fakeSource{fetchErr: netErr}, nopFetcher{}, memstore.New(), Config{}).
		Import(context.Background(), Params{LayerID: "l"})
	var ne *ratelimit.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, 3, ne.Attempts)

	res, err := NewImporter(&fakeSource{fetchErr: netErr}, nopFetcher{}, memstore.New(), Config{FallbackOnNetworkError: true}).
		Import(context.Background(), Params{LayerID: "l"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestImport_ConversionFailuresArePermanent(t *testing.T) {
	src := &fakeSource{n: 5, badRefs: map[string]bool{"rec-002": true}}
	res, err := NewImporter(src, nopFetcher{}, memstore.New(), Config{MaxRetries: 3}, WithSleep(noSleep)).
		Import(context.Background(), Params{LayerID: "l"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stats.Succeeded)
	require.Len(t, res.Stats.Errors, 1)
	assert.Equal(t, "rec-002", res.Stats.Errors[0].Item)
	assert.Contains(t, res.Stats.Errors[0].Message, "unparseable")
}

// flakyStore fails the first Create of every feature.
type flakyStore struct {
	store.Store
	mu    sync.Mutex
	seen  map[string]int
	calls int
}

func (s *flakyStore) Create(ctx context.Context, f *feature.Feature) (*feature.Feature, error) {
	s.mu.Lock()
	ref, _ := f.Properties.GetString("source_ref")
	s.seen[ref]++
	s.calls++
	first := s.seen[ref] == 1
	s.mu.Unlock()
	if first {
		return nil, store.Wrap("create", errors.New("connection reset"))
	}
	return s.Store.Create(ctx, f)
}

func TestImport_StoreErrorsAreRetried(t *testing.T) {
	fs := &flakyStore{Store: memstore.New(), seen: map[string]int{}}
	res, err := NewImporter(&fakeSource{n: 4}, nopFetcher{}, fs, Config{MaxRetries: 1}, WithSleep(noSleep)).
		Import(context.Background(), Params{LayerID: "l"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stats.Succeeded)
	assert.Equal(t, 8, fs.calls)
}

type blockingSource struct {
	fakeSource
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) Fetch(ctx context.Context, f Fetcher, p Params) ([]RawRecord, error) {
	close(s.started)
	<-s.release
	return s.fakeSource.Fetch(ctx, f, p)
}

func TestImport_GuardRejectsConcurrentRun(t *testing.T) {
	src := &blockingSource{fakeSource: fakeSource{n: 1}, started: make(chan struct{}), release: make(chan struct{})}
	im := NewImporter(src, nopFetcher{}, memstore.New(), Config{}, WithGuard(NewGuard()))

	done := make(chan error, 1)
	go func() {
		_, err := im.Import(context.Background(), Params{LayerID: "l"})
		done <- err
	}()
	<-src.started

	_, err := im.Import(context.Background(), Params{LayerID: "l"})
	require.ErrorIs(t, err, ErrImportInProgress)

	close(src.release)
	require.NoError(t, <-done)

	// released after the first run
	src.started = make(chan struct{})
	src.release = make(chan struct{})
	close(src.release)
	_, err = im.Import(context.Background(), Params{LayerID: "l"})
	require.NoError(t, err)
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (n *recordingNotifier) FeatureCreated(_ context.Context, f *feature.Feature) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, f.ID)
	return n.err
}

func TestImport_NotifiesEveryCreatedFeature(t *testing.T) {
	n := &recordingNotifier{err: errors.New("broker down")}
	res, err := NewImporter(&fakeSource{n: 3}, nopFetcher{}, memstore.New(), Config{}, WithNotifier(n)).
		Import(context.Background(), Params{LayerID: "l"})
	require.NoError(t, err)
	// a failed notification does not fail the item
	assert.Equal(t, 3, res.Stats.Succeeded)
	assert.Len(t, n.ids, 3)
}

func TestImport_LimitTruncates(t *testing.T) {
	res, err := NewImporter(&fakeSource{n: 10}, nopFetcher{}, memstore.New(), Config{}).
		Import(context.Background(), Params{LayerID: "l", Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stats.Total)
}

func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	g := NewGuard()
	rel, err := g.Acquire("k")
	require.NoError(t, err)
	rel()
	rel()
	rel2, err := g.Acquire("k")
	require.NoError(t, err)
	_, err = g.Acquire("k")
	require.ErrorIs(t, err, ErrImportInProgress)
	rel2()
}
