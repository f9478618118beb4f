package flickr

import (
	"context"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pinalbum/internal/conf"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/geo"
	"github.com/tphakala/pinalbum/internal/httpclient"
	"github.com/tphakala/pinalbum/internal/observability/metrics"
)

const (
	testEndpoint = "https://api.flickr.com/services/rest/"
	testAPIKey   = "0123456789abcdef0123456789abcdef"
	endpointRe   = `=~^https://api\.flickr\.com/services/rest/`
)

const threePhotos = `{
  "photos": {
    "page": 1, "pages": 4, "perpage": 3, "total": "12",
    "photo": [
      {"id": "101", "title": "a", "url_m": "https://live.staticflickr.com/1/101_m.jpg"},
      {"id": "102", "title": "b", "url_m": "https://live.staticflickr.com/1/102_m.jpg"},
      {"id": "103", "title": "c", "url_m": "https://live.staticflickr.com/1/103_m.jpg"}
    ]
  },
  "stat": "ok"
}`

const noPhotos = `{"photos":{"page":1,"pages":0,"perpage":21,"total":0,"photo":[]},"stat":"ok"}`

func testSettings() conf.FlickrSettings {
	return conf.FlickrSettings{
		APIKey:     testAPIKey,
		Endpoint:   testEndpoint,
		PageSize:   21,
		HalfWidth:  1.0,
		HalfHeight: 1.0,
		SafeSearch: 1,
		Extras:     "url_m",
		Timeout:    5 * time.Second,
	}
}

func newTestClient(t *testing.T, settings conf.FlickrSettings, opts ...Option) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	hc := httpclient.New(&httpclient.Config{Transport: transport})
	c, err := NewClient(&settings, hc, opts...)
	require.NoError(t, err)
	return c, transport
}

func validRequest() SearchRequest {
	return SearchRequest{
		Coordinate: geo.Coordinate{Latitude: 48.8566, Longitude: 2.3522},
		Page:       1,
		PageSize:   3,
	}
}

func TestSearchEncodesParameters(t *testing.T) {
	t.Parallel()

	c, transport := newTestClient(t, testSettings())

	var got http.Header
	var query map[string][]string
	transport.RegisterResponder(http.MethodGet, endpointRe, func(req *http.Request) (*http.Response, error) {
		got = req.Header
		query = req.URL.Query()
		return httpmock.NewStringResponse(http.StatusOK, threePhotos), nil
	})

	req := SearchRequest{
		Coordinate: geo.Coordinate{Latitude: 89.5, Longitude: -179.25},
		Page:       3,
		PageSize:   21,
	}
	_, err := c.Search(t.Context(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"flickr.photos.search"}, query["method"])
	assert.Equal(t, []string{testAPIKey}, query["api_key"])
	assert.Equal(t, []string{"-180,88.5,-178.25,90"}, query["bbox"], "bbox must be clamped")
	assert.Equal(t, []string{"1"}, query["safe_search"])
	assert.Equal(t, []string{"url_m"}, query["extras"])
	assert.Equal(t, []string{"json"}, query["format"])
	assert.Equal(t, []string{"1"}, query["nojsoncallback"])
	assert.Equal(t, []string{"3"}, query["page"])
	assert.Equal(t, []string{"21"}, query["per_page"])
	assert.Equal(t, "application/json", got.Get("Accept"))
}

func TestSearchParsesDescriptorsInOrder(t *testing.T) {
	t.Parallel()

	c, transport := newTestClient(t, testSettings())
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK, threePhotos))

	result, err := c.Search(t.Context(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Page)
	assert.Equal(t, 4, result.Pages)
	assert.Equal(t, 3, result.PerPage)
	assert.Equal(t, 12, result.Total, "numeric strings are accepted")
	require.Len(t, result.Descriptors, 3)
	assert.Equal(t, Descriptor{RemoteID: "101", URL: "https://live.staticflickr.com/1/101_m.jpg"}, result.Descriptors[0])
	assert.Equal(t, "102", result.Descriptors[1].RemoteID)
	assert.Equal(t, "103", result.Descriptors[2].RemoteID)
}

func TestSearchEmptyResultIsSuccess(t *testing.T) {
	t.Parallel()

	c, transport := newTestClient(t, testSettings())
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK, noPhotos))

	result, err := c.Search(t.Context(), validRequest())
	require.NoError(t, err)
	assert.NotNil(t, result.Descriptors)
	assert.Empty(t, result.Descriptors)
	assert.Zero(t, result.Pages)
}

func TestSearchAPIStatusError(t *testing.T) {
	t.Parallel()

	c, transport := newTestClient(t, testSettings())
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK,
		`{"stat":"fail","code":100,"message":"Invalid API Key (Key has invalid format)"}`))

	_, err := c.Search(t.Context(), validRequest())
	require.Error(t, err)

	var apiErr *APIStatusError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, "Invalid API Key (Key has invalid format)", apiErr.Message)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
}

func TestSearchMalformedResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `<html>Service Unavailable</html>`, "body"},
		{"missing stat", `{"photos":{}}`, "stat"},
		{"missing photos", `{"stat":"ok"}`, "photos"},
		{"photos wrong type", `{"stat":"ok","photos":[]}`, "photos"},
		{"missing page", `{"stat":"ok","photos":{"pages":1,"photo":[]}}`, "photos.page"},
		{"pages not numeric", `{"stat":"ok","photos":{"page":1,"pages":"many","photo":[]}}`, "photos.pages"},
		{"missing photo array", `{"stat":"ok","photos":{"page":1,"pages":1}}`, "photos.photo"},
		{
			"third photo without url",
			`{"stat":"ok","photos":{"page":1,"pages":1,"photo":[
				{"id":"1","url_m":"https://x/1.jpg"},
				{"id":"2","url_m":"https://x/2.jpg"},
				{"id":"3"}]}}`,
			"photos.photo[2].url_m",
		},
		{
			"id wrong type",
			`{"stat":"ok","photos":{"page":1,"pages":1,"photo":[{"id":7,"url_m":"https://x/7.jpg"}]}}`,
			"photos.photo[0].id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, transport := newTestClient(t, testSettings())
			transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK, tt.body))

			_, err := c.Search(t.Context(), validRequest())
			require.Error(t, err)

			var malformed *MalformedResponseError
			require.True(t, errors.As(err, &malformed), "got %T: %v", err, err)
			assert.Equal(t, tt.field, malformed.Field)
		})
	}
}

func TestSearchNetworkErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		responder  httpmock.Responder
		transient  bool
		statusCode int
	}{
		{
			name: "connection refused",
			responder: httpmock.NewErrorResponder(&net.OpError{
				Op: "dial", Net: "tcp",
				Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED},
			}),
			transient: true,
		},
		{
			name:      "dns failure",
			responder: httpmock.NewErrorResponder(&net.DNSError{Err: "no such host", Name: "api.flickr.com"}),
			transient: true,
		},
		{
			name:       "service unavailable",
			responder:  httpmock.NewStringResponder(http.StatusServiceUnavailable, "<html>down</html>"),
			transient:  true,
			statusCode: http.StatusServiceUnavailable,
		},
		{
			name:       "rate limited",
			responder:  httpmock.NewStringResponder(http.StatusTooManyRequests, ""),
			transient:  true,
			statusCode: http.StatusTooManyRequests,
		},
		{
			name:       "forbidden",
			responder:  httpmock.NewStringResponder(http.StatusForbidden, "<html>forbidden</html>"),
			transient:  false,
			statusCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, transport := newTestClient(t, testSettings())
			transport.RegisterResponder(http.MethodGet, endpointRe, tt.responder)

			_, err := c.Search(t.Context(), validRequest())
			require.Error(t, err)

			var netErr *NetworkError
			require.True(t, errors.As(err, &netErr), "got %T: %v", err, err)
			assert.Equal(t, tt.transient, netErr.Transient)
			assert.Equal(t, tt.statusCode, netErr.StatusCode)
			assert.NotContains(t, err.Error(), testAPIKey)
		})
	}
}

func TestSearchNonOKStatusWithFailBody(t *testing.T) {
	t.Parallel()

	c, transport := newTestClient(t, testSettings())
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusBadRequest,
		`{"stat":"fail","code":3,"message":"No valid machine tags"}`))

	_, err := c.Search(t.Context(), validRequest())
	var apiErr *APIStatusError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 3, apiErr.Code)
}

func TestSearchRejectsInvalidInputWithoutRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"latitude too high", SearchRequest{Coordinate: geo.Coordinate{Latitude: 90.5}, Page: 1, PageSize: 10}},
		{"longitude too low", SearchRequest{Coordinate: geo.Coordinate{Longitude: -181}, Page: 1, PageSize: 10}},
		{"page zero", SearchRequest{Page: 0, PageSize: 10}},
		{"page size zero", SearchRequest{Page: 1, PageSize: 0}},
		{"page size too large", SearchRequest{Page: 1, PageSize: conf.MaxPageSize + 1}},
	}

	c, transport := newTestClient(t, testSettings())
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK, noPhotos))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Search(t.Context(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestSearchResultCache(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.CacheTTL = time.Minute
	m, err := metrics.NewSearchMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	c, transport := newTestClient(t, settings, WithMetrics(m))
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK, threePhotos))

	first, err := c.Search(t.Context(), validRequest())
	require.NoError(t, err)
	first.Descriptors[0].RemoteID = "mutated"

	second, err := c.Search(t.Context(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "101", second.Descriptors[0].RemoteID, "cached result must not alias the caller's copy")

	other := validRequest()
	other.Page = 2
	_, err = c.Search(t.Context(), other)
	require.NoError(t, err)

	assert.Equal(t, 2, transport.GetTotalCallCount())
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheHits), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Requests.WithLabelValues("ok")), 0)
}

func TestSearchFailuresAreNotCached(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.CacheTTL = time.Minute
	c, transport := newTestClient(t, settings)
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusBadGateway, ""))

	_, err := c.Search(t.Context(), validRequest())
	require.Error(t, err)

	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK, threePhotos))
	result, err := c.Search(t.Context(), validRequest())
	require.NoError(t, err)
	assert.Len(t, result.Descriptors, 3)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestSearchRateLimit(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.RateLimit = 0.5
	settings.Burst = 1
	c, transport := newTestClient(t, settings)
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK, noPhotos))

	_, err := c.Search(t.Context(), validRequest())
	require.NoError(t, err)

	// The next token is two seconds away, beyond this deadline.
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Search(ctx, validRequest())
	require.Error(t, err)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.False(t, netErr.Transient)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestSearchCancelledContext(t *testing.T) {
	t.Parallel()

	c, transport := newTestClient(t, testSettings())
	transport.RegisterResponder(http.MethodGet, endpointRe, httpmock.NewStringResponder(http.StatusOK, noPhotos))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := c.Search(ctx, validRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBoundingBoxContainsCoordinate(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, testSettings())
	for _, coord := range []geo.Coordinate{
		{Latitude: 0, Longitude: 0},
		{Latitude: 90, Longitude: 180},
		{Latitude: -90, Longitude: -180},
		{Latitude: 45.5, Longitude: -179.9},
	} {
		box := c.BoundingBox(coord)
		assert.True(t, box.Contains(coord), "box %s must contain %s", box, coord)
		assert.GreaterOrEqual(t, box.LonMin, geo.MinLongitude)
		assert.LessOrEqual(t, box.LatMax, geo.MaxLatitude)
	}
}
