// Package flickr implements the geographic photo search against the Flickr
// REST API. A search turns a coordinate and page into an ordered list of
// photo descriptors, or into one of the typed errors in errors.go.
package flickr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/pinalbum/internal/conf"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/geo"
	"github.com/tphakala/pinalbum/internal/httpclient"
	"github.com/tphakala/pinalbum/internal/logger"
	"github.com/tphakala/pinalbum/internal/observability/metrics"
	"github.com/tphakala/pinalbum/internal/privacy"
)

const (
	searchMethod = "flickr.photos.search"

	// maxResponseBytes caps a search response; a full 500-photo page is well under 1 MiB.
	maxResponseBytes = 4 << 20
)

// Descriptor identifies one remote photo in a search result.
type Descriptor struct {
	RemoteID string
	URL      string
}

// SearchRequest is one page of a bounding-box search around Coordinate.
type SearchRequest struct {
	Coordinate geo.Coordinate
	Page       int
	PageSize   int
}

// SearchResult is a successful search. Descriptors keep the API order and
// may be empty.
type SearchResult struct {
	Page        int
	Pages       int
	PerPage     int
	Total       int
	Descriptors []Descriptor
}

func (r *SearchResult) clone() *SearchResult {
	out := *r
	out.Descriptors = slices.Clone(r.Descriptors)
	return &out
}

// Client is safe for concurrent use.
type Client struct {
	settings conf.FlickrSettings
	http     *httpclient.Client
	limiter  *rate.Limiter
	results  *cache.Cache // nil when caching is disabled
	metrics  *metrics.SearchMetrics
	logger   logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records request outcomes, result sizes and limiter waits.
func WithMetrics(m *metrics.SearchMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a search client. settings are copied.
func NewClient(settings *conf.FlickrSettings, httpClient *httpclient.Client, opts ...Option) (*Client, error) {
	if settings == nil {
		return nil, errors.Newf("flickr settings are required").
			Component("flickr").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if httpClient == nil {
		httpClient = httpclient.New(nil)
	}

	limit := rate.Inf
	if settings.RateLimit > 0 {
		limit = rate.Limit(settings.RateLimit)
	}
	burst := max(settings.Burst, 1)

	c := &Client{
		settings: *settings,
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.NewDiscardLogger(),
	}
	if settings.CacheTTL > 0 {
		c.results = cache.New(settings.CacheTTL, 2*settings.CacheTTL)
	}
	for _, opt := range opts {
		opt(c)
	}

	if settings.APIKey == "" {
		c.logger.Warn("flickr api key is not configured, searches will be rejected by the API")
	}
	return c, nil
}

// BoundingBox returns the clamped search box for c using the configured extents.
func (c *Client) BoundingBox(coord geo.Coordinate) geo.Box {
	return geo.BoundingBox(coord, c.settings.HalfWidth, c.settings.HalfHeight)
}

// Search runs one page of a bounding-box photo search. Invalid input is
// rejected before any request is issued.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	box := c.BoundingBox(req.Coordinate)
	cacheKey := fmt.Sprintf("%s|%d|%d", box, req.Page, req.PageSize)
	if c.results != nil {
		if cached, found := c.results.Get(cacheKey); found {
			if result, ok := cached.(*SearchResult); ok {
				c.metrics.IncCacheHit()
				c.logger.Debug("search cache hit", logger.String("bbox", box.String()), logger.Int("page", req.Page))
				return result.clone(), nil
			}
		}
	}

	start := time.Now()
	result, err := c.search(ctx, box, req)
	duration := time.Since(start)
	c.metrics.ObserveRequest(outcome(err), duration)

	if err != nil {
		c.logger.Debug("search failed",
			logger.String("bbox", box.String()),
			logger.Int("page", req.Page),
			logger.String("outcome", outcome(err)),
			logger.Error(err))
		return nil, errors.New(err).
			Component("flickr").
			Context("operation", "search").
			Context("bbox", box.String()).
			Context("page", req.Page).
			Timing("search", duration).
			Build()
	}

	c.metrics.ObserveResults(len(result.Descriptors))
	c.logger.Debug("search completed",
		logger.String("bbox", box.String()),
		logger.Int("page", result.Page),
		logger.Int("pages", result.Pages),
		logger.Int("results", len(result.Descriptors)),
		logger.Duration("duration", duration))

	if c.results != nil {
		c.results.Set(cacheKey, result.clone(), cache.DefaultExpiration)
	}
	return result, nil
}

func validateRequest(req SearchRequest) error {
	if err := req.Coordinate.Validate(); err != nil {
		return err
	}
	if req.Page < 1 {
		return errors.Newf("page must be >= 1, got %d", req.Page).
			Component("flickr").
			Category(errors.CategoryValidation).
			Build()
	}
	if req.PageSize < 1 || req.PageSize > conf.MaxPageSize {
		return errors.Newf("page size must be between 1 and %d, got %d", conf.MaxPageSize, req.PageSize).
			Component("flickr").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func (c *Client) search(ctx context.Context, box geo.Box, req SearchRequest) (*SearchResult, error) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Err: err}
	}
	c.metrics.ObserveRateLimitWait(time.Since(waitStart))

	if c.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
	}

	endpoint, err := c.buildURL(box, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return nil, &NetworkError{Transient: httpclient.IsTransient(err), Err: privacy.WrapError(err)}
	}

	// ReadBody closes the body.
	body, readErr := httpclient.ReadBody(resp, maxResponseBytes)
	statusErr := httpclient.CheckStatus(resp)

	if statusErr != nil {
		// Some gateways answer errors with a regular stat=fail body.
		if readErr == nil {
			if apiErr := parseStatusOnly(body); apiErr != nil {
				return nil, apiErr
			}
		}
		var se *httpclient.StatusError
		errors.As(statusErr, &se)
		return nil, &NetworkError{Transient: se.Transient(), StatusCode: resp.StatusCode, Err: statusErr}
	}

	if readErr != nil {
		if errors.Is(readErr, httpclient.ErrBodyTooLarge) {
			return nil, &MalformedResponseError{Field: "body", Err: readErr}
		}
		return nil, &NetworkError{Transient: httpclient.IsTransient(readErr), StatusCode: resp.StatusCode, Err: readErr}
	}

	return parseResponse(body)
}

func (c *Client) buildURL(box geo.Box, req SearchRequest) (string, error) {
	u, err := url.Parse(c.settings.Endpoint)
	if err != nil {
		return "", errors.New(err).
			Component("flickr").
			Category(errors.CategoryConfiguration).
			Build()
	}

	q := u.Query()
	q.Set("method", searchMethod)
	q.Set("api_key", c.settings.APIKey)
	q.Set("bbox", box.String())
	q.Set("safe_search", strconv.Itoa(c.settings.SafeSearch))
	q.Set("extras", c.settings.Extras)
	q.Set("format", "json")
	q.Set("nojsoncallback", "1")
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("per_page", strconv.Itoa(req.PageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseStatusOnly returns an *APIStatusError when body is JSON with stat != "ok".
func parseStatusOnly(body []byte) error {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil
	}
	stat, err := obj.GetString("stat")
	if err != nil || stat == "ok" {
		return nil
	}
	return statusError(obj)
}

func statusError(obj *jason.Object) *APIStatusError {
	apiErr := &APIStatusError{}
	if code, err := intField(obj, "code"); err == nil {
		apiErr.Code = code
	}
	if msg, err := obj.GetString("message"); err == nil {
		apiErr.Message = msg
	}
	return apiErr
}

func parseResponse(body []byte) (*SearchResult, error) {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, &MalformedResponseError{Field: "body", Err: err}
	}

	stat, err := obj.GetString("stat")
	if err != nil {
		return nil, &MalformedResponseError{Field: "stat", Err: err}
	}
	if stat != "ok" {
		return nil, statusError(obj)
	}

	photos, err := obj.GetObject("photos")
	if err != nil {
		return nil, &MalformedResponseError{Field: "photos", Err: err}
	}

	result := &SearchResult{}
	for _, f := range []struct {
		name     string
		dst      *int
		optional bool
	}{
		{"page", &result.Page, false},
		{"pages", &result.Pages, false},
		{"perpage", &result.PerPage, true},
		{"total", &result.Total, true},
	} {
		v, err := intField(photos, f.name)
		if err != nil {
			if f.optional {
				continue
			}
			return nil, &MalformedResponseError{Field: "photos." + f.name, Err: err}
		}
		*f.dst = v
	}

	items, err := photos.GetObjectArray("photo")
	if err != nil {
		return nil, &MalformedResponseError{Field: "photos.photo", Err: err}
	}

	result.Descriptors = make([]Descriptor, 0, len(items))
	for i, item := range items {
		id, err := item.GetString("id")
		if err != nil || id == "" {
			return nil, &MalformedResponseError{Field: fmt.Sprintf("photos.photo[%d].id", i), Err: err}
		}
		imageURL, err := item.GetString("url_m")
		if err != nil || imageURL == "" {
			return nil, &MalformedResponseError{Field: fmt.Sprintf("photos.photo[%d].url_m", i), Err: err}
		}
		result.Descriptors = append(result.Descriptors, Descriptor{RemoteID: id, URL: imageURL})
	}

	return result, nil
}

// intField reads key as a JSON number or a numeric string; the API has
// used both for paging fields.
func intField(obj *jason.Object, key string) (int, error) {
	v, err := obj.GetValue(key)
	if err != nil {
		return 0, err
	}
	if n, err := v.Int64(); err == nil {
		return int(n), nil
	}
	s, err := v.String()
	if err != nil {
		return 0, fmt.Errorf("%s is neither a number nor a numeric string", key)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
