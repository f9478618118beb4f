package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pinalbum/internal/album"
	"github.com/tphakala/pinalbum/internal/datastore"
	"github.com/tphakala/pinalbum/internal/events"
	"github.com/tphakala/pinalbum/internal/flickr"
	"github.com/tphakala/pinalbum/internal/imagestore"
	"github.com/tphakala/pinalbum/internal/observability/metrics"
)

var jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00fake")

type stubSearcher struct{ ids []string }

func (s stubSearcher) Search(_ context.Context, req flickr.SearchRequest) (*flickr.SearchResult, error) {
	res := &flickr.SearchResult{Page: req.Page, Pages: 3, PerPage: req.PageSize, Total: len(s.ids)}
	for _, id := range s.ids {
		res.Descriptors = append(res.Descriptors, flickr.Descriptor{
			RemoteID: id,
			URL:      "https://live.staticflickr.com/1/" + id + "_m.jpg",
		})
	}
	return res, nil
}

// stubDownloader returns jpegBytes, optionally after release is closed.
type stubDownloader struct{ release chan struct{} }

func (d stubDownloader) Download(ctx context.Context, _ string) ([]byte, error) {
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return jpegBytes, nil
}

type testEnv struct {
	server  *Server
	records *datastore.Store
	album   *album.Coordinator
}

func newTestEnv(t *testing.T, downloader album.Downloader, opts ...ServerOption) *testEnv {
	t.Helper()

	records, err := datastore.OpenSQLite(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	images, err := imagestore.New(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)
	bus := events.New(events.Config{Workers: 1}, nil)

	coordinator, err := album.New(album.Config{PageSize: 21}, album.Deps{
		Searcher:   stubSearcher{ids: []string{"101", "102"}},
		Downloader: downloader,
		Images:     images,
		Records:    records,
		Events:     bus,
	})
	require.NoError(t, err)

	server, err := New(DefaultConfig(), Deps{Album: coordinator, Records: records, Images: images}, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		coordinator.Close()
		_ = bus.Shutdown(time.Second)
		_ = records.Close()
	})
	return &testEnv{server: server, records: records, album: coordinator}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	e.server.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createLocation(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/locations", `{"latitude": 37.7749, "longitude": -122.4194}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[createLocationResponse](t, rec)
	return resp.Location.ID
}

func (e *testEnv) waitIdle(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool { return !e.album.State(id).Busy() }, 2*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, stubDownloader{})
	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
}

func TestCreateLocationFetchesPhotos(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, stubDownloader{})
	rec := env.do(t, http.MethodPost, "/api/v1/locations", `{"latitude": 37.7749, "longitude": -122.4194}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	created := decode[createLocationResponse](t, rec)
	id := created.Location.ID
	assert.Equal(t, 1, created.Batch.Page)
	assert.Equal(t, id, created.Batch.LocationID)
	env.waitIdle(t, id)

	rec = env.do(t, http.MethodGet, "/api/v1/locations/"+id+"/photos", "")
	require.Equal(t, http.StatusOK, rec.Code)
	photos := decode[[]photoResponse](t, rec)
	require.Len(t, photos, 2)
	assert.Equal(t, "101", photos[0].RemoteID)
	assert.True(t, photos[0].HasImage)

	rec = env.do(t, http.MethodGet, "/api/v1/locations/"+id+"/photos/101/image", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, jpegBytes, rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, "/api/v1/locations/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	loc := decode[map[string]any](t, rec)
	assert.Equal(t, "settled", loc["phase"])
	assert.Equal(t, false, loc["downloading"])

	rec = env.do(t, http.MethodGet, "/api/v1/locations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
}

func TestCreateLocationValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, stubDownloader{})
	tests := []struct {
		name string
		body string
	}{
		{"latitude out of range", `{"latitude": 91, "longitude": 0}`},
		{"longitude out of range", `{"latitude": 0, "longitude": -181}`},
		{"missing longitude", `{"latitude": 10}`},
		{"not json", `{latitude`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/locations", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.NotEmpty(t, resp.CorrelationID)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, stubDownloader{})
	for _, path := range []string{
		"/api/v1/locations/missing",
		"/api/v1/locations/missing/photos",
		"/api/v1/locations/missing/photos/101/image",
		"/api/v1/nothing-here",
	} {
		rec := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, http.StatusNotFound, decode[ErrorResponse](t, rec).Code, path)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/locations/missing/collection", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBusyLocationReturnsConflict(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	env := newTestEnv(t, stubDownloader{release: release})
	id := env.createLocation(t)
	require.Eventually(t, func() bool { return env.album.State(id) == album.PhaseDownloading }, time.Second, 5*time.Millisecond)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/locations/" + id + "/collection"},
		{http.MethodPost, "/api/v1/locations/" + id + "/retry"},
		{http.MethodDelete, "/api/v1/locations/" + id},
		{http.MethodDelete, "/api/v1/locations/" + id + "/photos/101"},
	} {
		rec := env.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusConflict, rec.Code, tc.path)
	}

	close(release)
	env.waitIdle(t, id)

	rec := env.do(t, http.MethodPost, "/api/v1/locations/"+id+"/collection", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[batchResponse](t, rec).Page)
	env.waitIdle(t, id)
}

func TestCancelAndRetry(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	env := newTestEnv(t, stubDownloader{release: release})
	id := env.createLocation(t)
	require.Eventually(t, func() bool { return env.album.State(id) == album.PhaseDownloading }, time.Second, 5*time.Millisecond)

	rec := env.do(t, http.MethodPost, "/api/v1/locations/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"cancelled": true}, decode[map[string]bool](t, rec))

	rec = env.do(t, http.MethodPost, "/api/v1/locations/"+id+"/cancel", "")
	assert.Equal(t, map[string]bool{"cancelled": false}, decode[map[string]bool](t, rec))

	photos, err := env.records.ListFailedPhotos(t.Context(), id)
	require.NoError(t, err)
	assert.Len(t, photos, 2)
}

func TestDeletePhotoAndLocation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, stubDownloader{})
	id := env.createLocation(t)
	env.waitIdle(t, id)

	rec := env.do(t, http.MethodDelete, "/api/v1/locations/"+id+"/photos/101", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/locations/"+id+"/photos/101/image", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/locations/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/locations/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := metrics.NewAlbumMetrics(registry)
	require.NoError(t, err)

	env := newTestEnv(t, stubDownloader{}, WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pinalbum_batches_active")
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusConflict, StatusCode(&album.BusyError{LocationID: "a"}))
	assert.Equal(t, http.StatusConflict, StatusCode(&album.NotEmptyError{LocationID: "a", Photos: 2}))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(album.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(context.DeadlineExceeded))
}
