package album

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/pinalbum/internal/datastore"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/events"
	"github.com/tphakala/pinalbum/internal/flickr"
	"github.com/tphakala/pinalbum/internal/geo"
	"github.com/tphakala/pinalbum/internal/imagestore"
	"github.com/tphakala/pinalbum/internal/observability/metrics"
	"github.com/tphakala/pinalbum/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type searchFunc func(ctx context.Context, req flickr.SearchRequest) (*flickr.SearchResult, error)

func (f searchFunc) Search(ctx context.Context, req flickr.SearchRequest) (*flickr.SearchResult, error) {
	return f(ctx, req)
}

type downloadFunc func(ctx context.Context, url string) ([]byte, error)

func (f downloadFunc) Download(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) TryPublish(e events.Event) bool {
	_ = p.Publish(context.Background(), e)
	return true
}

// terminal returns the BatchSettled and BatchFailed events.
func (p *recordingPublisher) terminal() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Kind() != events.KindPhotoResolved {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	c       *Coordinator
	records *datastore.Store
	images  *imagestore.Store
	pub     *recordingPublisher
	metrics *metrics.AlbumMetrics
}

func newHarness(t *testing.T, cfg Config, s Searcher, d Downloader) *harness {
	t.Helper()

	records, err := datastore.OpenSQLite(filepath.Join(t.TempDir(), "album.db"), nil)
	require.NoError(t, err)
	images, err := imagestore.New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)
	m, err := metrics.NewAlbumMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	if cfg.PageSize == 0 {
		cfg.PageSize = 21
	}
	h := &harness{records: records, images: images, pub: &recordingPublisher{}, metrics: m}
	h.c, err = New(cfg, Deps{
		Searcher:   s,
		Downloader: d,
		Images:     images,
		Records:    records,
		Events:     h.pub,
		Metrics:    m,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		h.c.Close()
		_ = records.Close()
	})
	return h
}

func (h *harness) location(t *testing.T) *datastore.Location {
	t.Helper()
	loc, err := datastore.NewLocation(geo.Coordinate{Latitude: 64.1466, Longitude: -21.9426})
	require.NoError(t, err)
	require.NoError(t, h.records.CreateLocation(t.Context(), loc))
	return loc
}

func wait(t *testing.T, b *Batch) events.Event {
	t.Helper()
	testutil.WaitForChannel(t, b.Done(), testutil.DefaultTestTimeout, "batch did not finish")
	ev, err := b.Wait(t.Context())
	require.NoError(t, err)
	return ev
}

func descriptors(ids ...string) []flickr.Descriptor {
	out := make([]flickr.Descriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, flickr.Descriptor{RemoteID: id, URL: "https://live.staticflickr.com/1/" + id + "_m.jpg"})
	}
	return out
}

func staticSearch(pages int, ids ...string) searchFunc {
	return func(_ context.Context, req flickr.SearchRequest) (*flickr.SearchResult, error) {
		return &flickr.SearchResult{
			Page:        req.Page,
			Pages:       pages,
			PerPage:     req.PageSize,
			Total:       len(ids),
			Descriptors: descriptors(ids...),
		}, nil
	}
}

func bytesFor(url string) []byte {
	return []byte("jpeg:" + url)
}

func okDownload(_ context.Context, url string) ([]byte, error) {
	return bytesFor(url), nil
}

// gatedDownload blocks every download until release is closed.
func gatedDownload(release <-chan struct{}) downloadFunc {
	return func(ctx context.Context, url string) ([]byte, error) {
		select {
		case <-release:
			return bytesFor(url), nil
		case <-ctx.Done():
			return nil, &DownloadError{URL: url, Err: ctx.Err()}
		}
	}
}

func TestBatchSettlesWithAllPhotos(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxConcurrent: 2}, staticSearch(4, "101", "102", "103"), downloadFunc(okDownload))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	ev := wait(t, b)

	settled, ok := ev.(events.BatchSettled)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, events.KindSettled, settled.Kind())
	assert.Equal(t, 3, settled.ResultCount)
	assert.Zero(t, settled.ItemErrors)
	assert.Equal(t, PhaseSettled, h.c.State(loc.ID))

	photos, err := h.records.ListPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	require.Len(t, photos, 3)
	for i, p := range photos {
		assert.Equal(t, i, p.Position)
		data, ok := h.images.Get(p.CacheKey())
		require.True(t, ok)
		assert.Equal(t, bytesFor(p.RemoteURL), data)
	}

	stored, err := h.records.GetLocation(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.False(t, stored.Downloading)
	assert.Equal(t, 4, stored.Pages)
}

func TestConcurrentCompletionsSettleOnce(t *testing.T) {
	t.Parallel()

	const n = 50
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", 1000+i)
	}

	// Every download waits until all of them are in flight, so completions
	// race each other.
	var started atomic.Int32
	allStarted := make(chan struct{})
	download := downloadFunc(func(ctx context.Context, url string) ([]byte, error) {
		if started.Add(1) == n {
			close(allStarted)
		}
		select {
		case <-allStarted:
			return bytesFor(url), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	h := newHarness(t, Config{PageSize: n}, staticSearch(1, ids...), download)
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	ev := wait(t, b)

	settled, ok := ev.(events.BatchSettled)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, n, settled.ResultCount)
	assert.Zero(t, settled.ItemErrors)

	require.Len(t, h.pub.terminal(), 1, "batch must settle exactly once")
	_, entries := h.images.MemoryUsage()
	assert.Equal(t, int64(n), entries)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(h.metrics.Batches.WithLabelValues(string(events.KindSettled))))
}

func TestTransientItemFailureIsCounted(t *testing.T) {
	t.Parallel()

	download := downloadFunc(func(ctx context.Context, url string) ([]byte, error) {
		if url == descriptors("102")[0].URL {
			return nil, &DownloadError{URL: url, Transient: true, Err: syscall.ECONNRESET}
		}
		return okDownload(ctx, url)
	})
	h := newHarness(t, Config{}, staticSearch(1, "101", "102", "103"), download)
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	settled, ok := wait(t, b).(events.BatchSettled)
	require.True(t, ok)
	assert.Equal(t, 3, settled.ResultCount)
	assert.Equal(t, 1, settled.ItemErrors)
	assert.Equal(t, 1, settled.TransientErrors)

	failed, err := h.records.ListFailedPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "102", failed[0].RemoteID)

	assert.False(t, h.images.Has(datastore.CacheKey(loc.ID, "102")))
	assert.True(t, h.images.Has(datastore.CacheKey(loc.ID, "101")))
}

func TestPermanentItemFailureLeavesFlagUnset(t *testing.T) {
	t.Parallel()

	download := downloadFunc(func(_ context.Context, url string) ([]byte, error) {
		return nil, &DownloadError{URL: url, StatusCode: 404}
	})
	h := newHarness(t, Config{}, staticSearch(1, "101"), download)
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	settled, ok := wait(t, b).(events.BatchSettled)
	require.True(t, ok)
	assert.Equal(t, 1, settled.ItemErrors)
	assert.Zero(t, settled.TransientErrors)

	failed, err := h.records.ListFailedPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRejectedCacheKeyIsPermanent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, staticSearch(1, "101", "bad/id"), downloadFunc(okDownload))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	settled, ok := wait(t, b).(events.BatchSettled)
	require.True(t, ok)
	assert.Equal(t, 1, settled.ItemErrors)
	assert.Zero(t, settled.TransientErrors)

	failed, err := h.records.ListFailedPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.Empty(t, failed, "a key the image store rejects is never retried")
	assert.True(t, h.images.Has(datastore.CacheKey(loc.ID, "101")))

	require.NoError(t, h.c.Clear(t.Context(), loc.ID))
	photos, err := h.records.ListPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.Empty(t, photos)
}

func TestRecoverRejectsBatchInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, Config{}, staticSearch(1, "101"), gatedDownload(release))
	loc := h.location(t)

	_, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.c.State(loc.ID) == PhaseDownloading }, time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Recover(t.Context())
		done <- err
	}()
	err = testutil.WaitForChannel(t, done, testutil.DefaultTestTimeout, "Recover blocked")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	stored, err := h.records.GetLocation(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.True(t, stored.Downloading, "in-flight flag is left alone")
}

func TestEmptySearchIsNoResults(t *testing.T) {
	t.Parallel()

	var downloads atomic.Int32
	download := downloadFunc(func(ctx context.Context, url string) ([]byte, error) {
		downloads.Add(1)
		return okDownload(ctx, url)
	})
	h := newHarness(t, Config{}, staticSearch(0), download)
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	ev := wait(t, b)

	settled, ok := ev.(events.BatchSettled)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, events.KindNoResults, settled.Kind())
	assert.Zero(t, settled.ResultCount)
	assert.Zero(t, downloads.Load())
	assert.Equal(t, PhaseSettled, h.c.State(loc.ID))

	stored, err := h.records.GetLocation(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.False(t, stored.Downloading)
}

func TestOfflineSearchFails(t *testing.T) {
	t.Parallel()

	search := searchFunc(func(context.Context, flickr.SearchRequest) (*flickr.SearchResult, error) {
		return nil, errors.New(&flickr.NetworkError{Transient: true, Err: syscall.ECONNREFUSED}).
			Component("flickr").
			Build()
	})
	h := newHarness(t, Config{}, search, downloadFunc(okDownload))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	ev := wait(t, b)

	failed, ok := ev.(events.BatchFailed)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, KindNetwork, failed.ErrorKind)
	var netErr *flickr.NetworkError
	require.ErrorAs(t, failed.Err, &netErr)
	assert.True(t, netErr.Transient)
	assert.Equal(t, PhaseFailed, h.c.State(loc.ID))

	stored, err := h.records.GetLocation(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.False(t, stored.Downloading)
	photos, err := h.records.ListPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.Empty(t, photos)
}

func TestBusyLocationRejectsOperations(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	h := newHarness(t, Config{}, staticSearch(1, "101", "102"), gatedDownload(release))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.c.State(loc.ID) == PhaseDownloading }, time.Second, 5*time.Millisecond)

	var busy *BusyError
	_, err = h.c.Start(t.Context(), loc.ID)
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, PhaseDownloading, busy.Phase)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	_, err = h.c.NewCollection(t.Context(), loc.ID)
	require.ErrorAs(t, err, &busy)
	_, err = h.c.RetryFailed(t.Context(), loc.ID)
	require.ErrorAs(t, err, &busy)
	require.ErrorAs(t, h.c.Clear(t.Context(), loc.ID), &busy)
	require.ErrorAs(t, h.c.DeleteLocation(t.Context(), loc.ID), &busy)

	close(release)
	ev := wait(t, b)
	require.IsType(t, events.BatchSettled{}, ev)
	assert.Equal(t, events.KindSettled, ev.Kind())
	require.Len(t, h.pub.terminal(), 1)

	var notEmpty *NotEmptyError
	_, err = h.c.Start(t.Context(), loc.ID)
	require.ErrorAs(t, err, &notEmpty)
	assert.Equal(t, 2, notEmpty.Photos)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
	assert.Equal(t, KindNotEmpty, ErrorKind(err))
	require.Len(t, h.pub.terminal(), 1, "a rejected start publishes nothing")

	require.NoError(t, h.c.Clear(t.Context(), loc.ID))
	b, err = h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err, "a cleared location accepts a new batch")
	ev = wait(t, b)
	assert.Equal(t, events.KindSettled, ev.Kind())
	assert.Equal(t, 2, ev.(events.BatchSettled).ResultCount)
}

func TestPersistedDownloadingFlag(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, staticSearch(1, "101"), downloadFunc(okDownload))
	loc := h.location(t)
	require.NoError(t, h.records.SetDownloading(t.Context(), loc.ID, true))

	var busy *BusyError
	_, err := h.c.Start(t.Context(), loc.ID)
	require.ErrorAs(t, err, &busy)
	assert.True(t, busy.Persisted)

	n, err := h.c.Recover(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	_, ok := wait(t, b).(events.BatchSettled)
	assert.True(t, ok)
}

func TestClearIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, staticSearch(1, "101", "102"), downloadFunc(okDownload))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	wait(t, b)

	require.NoError(t, h.c.Clear(t.Context(), loc.ID))
	require.NoError(t, h.c.Clear(t.Context(), loc.ID))

	photos, err := h.records.ListPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.Empty(t, photos)
	assert.False(t, h.images.Has(datastore.CacheKey(loc.ID, "101")))
	assert.False(t, h.images.Has(datastore.CacheKey(loc.ID, "102")))
	_, entries := h.images.MemoryUsage()
	assert.Zero(t, entries)
}

func TestCancelDiscardsLateCompletions(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, Config{}, staticSearch(1, "101", "102", "103"), gatedDownload(release))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.c.State(loc.ID) == PhaseDownloading }, time.Second, 5*time.Millisecond)

	cancelled, err := h.c.Cancel(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	failed, ok := wait(t, b).(events.BatchFailed)
	require.True(t, ok)
	assert.Equal(t, KindCancelled, failed.ErrorKind)
	assert.Equal(t, PhaseIdle, h.c.State(loc.ID))

	require.Eventually(t, func() bool {
		return promtestutil.ToFloat64(h.metrics.StaleCompletions) == 3
	}, time.Second, 5*time.Millisecond)
	require.Len(t, h.pub.terminal(), 1)

	marked, err := h.records.ListFailedPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.Len(t, marked, 3, "unresolved photos are marked for retry")
	stored, err := h.records.GetLocation(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.False(t, stored.Downloading)

	again, err := h.c.Cancel(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.False(t, again)

	var notEmpty *NotEmptyError
	_, err = h.c.Start(t.Context(), loc.ID)
	require.ErrorAs(t, err, &notEmpty, "cancelled photos are picked up by RetryFailed, not Start")
	assert.Equal(t, 3, notEmpty.Photos)
	require.Len(t, h.pub.terminal(), 1)
}

func TestRetryFailedRecoversTransientPhotos(t *testing.T) {
	t.Parallel()

	var failOnce atomic.Bool
	failOnce.Store(true)
	target := descriptors("103")[0].URL
	download := downloadFunc(func(ctx context.Context, url string) ([]byte, error) {
		if url == target && failOnce.CompareAndSwap(true, false) {
			return nil, &DownloadError{URL: url, StatusCode: 503, Transient: true}
		}
		return okDownload(ctx, url)
	})
	h := newHarness(t, Config{}, staticSearch(1, "101", "102", "103"), download)
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	first, ok := wait(t, b).(events.BatchSettled)
	require.True(t, ok)
	assert.Equal(t, 1, first.TransientErrors)

	b, err = h.c.RetryFailed(t.Context(), loc.ID)
	require.NoError(t, err)
	retried, ok := wait(t, b).(events.BatchSettled)
	require.True(t, ok)
	assert.True(t, retried.Retry)
	assert.Equal(t, 1, retried.ResultCount)
	assert.Zero(t, retried.ItemErrors)

	failed, err := h.records.ListFailedPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.True(t, h.images.Has(datastore.CacheKey(loc.ID, "103")))
}

func TestRetryWithNothingFailedClearsStaleFlag(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, staticSearch(1), downloadFunc(okDownload))
	loc := h.location(t)
	require.NoError(t, h.records.SetDownloading(t.Context(), loc.ID, true))

	b, err := h.c.RetryFailed(t.Context(), loc.ID)
	require.NoError(t, err)
	settled, ok := wait(t, b).(events.BatchSettled)
	require.True(t, ok)
	assert.True(t, settled.Retry)
	assert.Zero(t, settled.ResultCount)

	stored, err := h.records.GetLocation(t.Context(), loc.ID)
	require.NoError(t, err)
	assert.False(t, stored.Downloading)
}

func TestNewCollectionAdvancesAndWrapsPage(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var pages []int
	search := searchFunc(func(ctx context.Context, req flickr.SearchRequest) (*flickr.SearchResult, error) {
		mu.Lock()
		pages = append(pages, req.Page)
		mu.Unlock()
		ids := []string{fmt.Sprintf("p%d-a", req.Page), fmt.Sprintf("p%d-b", req.Page)}
		return staticSearch(2, ids...)(ctx, req)
	})
	h := newHarness(t, Config{}, search, downloadFunc(okDownload))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	wait(t, b)

	for _, wantPage := range []int{2, 1} {
		b, err = h.c.NewCollection(t.Context(), loc.ID)
		require.NoError(t, err)
		assert.Equal(t, wantPage, b.Page)
		wait(t, b)

		photos, err := h.records.ListPhotos(t.Context(), loc.ID)
		require.NoError(t, err)
		require.Len(t, photos, 2, "previous collection is cleared")
		assert.Equal(t, fmt.Sprintf("p%d-a", wantPage), photos[0].RemoteID)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 1}, pages)
	assert.False(t, h.images.Has(datastore.CacheKey(loc.ID, "p2-a")))
}

func TestDuplicateDescriptorsAreSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, staticSearch(1, "101", "101", "102"), downloadFunc(okDownload))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	settled, ok := wait(t, b).(events.BatchSettled)
	require.True(t, ok)
	assert.Equal(t, 2, settled.ResultCount)
	assert.Equal(t, events.KindSettled, settled.Kind())

	photos, err := h.records.ListPhotos(t.Context(), loc.ID)
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, "101", photos[0].RemoteID)
	assert.Equal(t, "102", photos[1].RemoteID)
}

func TestDeletePhotoAndLocation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, staticSearch(1, "101", "102"), downloadFunc(okDownload))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	wait(t, b)

	require.NoError(t, h.c.DeletePhoto(t.Context(), loc.ID, "101"))
	assert.False(t, h.images.Has(datastore.CacheKey(loc.ID, "101")))
	err = h.c.DeletePhoto(t.Context(), loc.ID, "101")
	require.ErrorIs(t, err, datastore.ErrPhotoNotFound)

	require.NoError(t, h.c.DeleteLocation(t.Context(), loc.ID))
	assert.False(t, h.images.Has(datastore.CacheKey(loc.ID, "102")))
	_, err = h.records.GetLocation(t.Context(), loc.ID)
	require.ErrorIs(t, err, datastore.ErrLocationNotFound)
}

func TestUnknownLocation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, staticSearch(1), downloadFunc(okDownload))
	_, err := h.c.Start(t.Context(), "missing")
	require.ErrorIs(t, err, datastore.ErrLocationNotFound)
	assert.Equal(t, KindRecordStore, ErrorKind(err))
	assert.Equal(t, PhaseIdle, h.c.State("missing"))
}

func TestCloseCancelsRunningBatches(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, Config{}, staticSearch(1, "101"), gatedDownload(release))
	loc := h.location(t)

	b, err := h.c.Start(t.Context(), loc.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.c.State(loc.ID) == PhaseDownloading }, time.Second, 5*time.Millisecond)

	h.c.Close()
	failed, ok := wait(t, b).(events.BatchFailed)
	require.True(t, ok)
	assert.Equal(t, KindCancelled, failed.ErrorKind)

	_, err = h.c.Start(t.Context(), loc.ID)
	require.ErrorIs(t, err, ErrClosed)
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{PageSize: 21}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
