package album

import (
	"context"
	"net/http"
	"time"

	"github.com/tphakala/pinalbum/internal/conf"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/httpclient"
	"github.com/tphakala/pinalbum/internal/observability/metrics"
)

// HTTPDownloader fetches photo bytes over HTTP.
type HTTPDownloader struct {
	client   *httpclient.Client
	timeout  time.Duration
	maxBytes int64
	metrics  *metrics.AlbumMetrics
}

// NewHTTPDownloader creates a downloader. m may be nil.
func NewHTTPDownloader(client *httpclient.Client, settings *conf.DownloadSettings, m *metrics.AlbumMetrics) *HTTPDownloader {
	return &HTTPDownloader{
		client:   client,
		timeout:  settings.Timeout,
		maxBytes: settings.MaxBytes,
		metrics:  m,
	}
}

// Download returns the body of url. Every failure is a *DownloadError whose
// Transient field says whether a later retry may succeed.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	data, err := d.download(ctx, url)

	outcome := "ok"
	if err != nil {
		outcome = "permanent"
		if IsTransient(err) {
			outcome = "transient"
		}
	}
	d.metrics.ObserveDownload(outcome, time.Since(start), len(data))
	return data, err
}

func (d *HTTPDownloader) download(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DownloadError{URL: url, Transient: httpclient.IsTransient(err), Err: err}
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	resp, err := d.client.Do(ctx, req)
	if err != nil {
		return nil, &DownloadError{URL: url, Transient: httpclient.IsTransient(err), Err: err}
	}

	if err := httpclient.CheckStatus(resp); err != nil {
		_ = resp.Body.Close()
		return nil, &DownloadError{URL: url, StatusCode: resp.StatusCode, Transient: httpclient.IsTransient(err), Err: err}
	}

	data, err := httpclient.ReadBody(resp, d.maxBytes)
	switch {
	case errors.Is(err, httpclient.ErrBodyTooLarge):
		return nil, &DownloadError{URL: url, Err: err}
	case err != nil:
		return nil, &DownloadError{URL: url, Transient: httpclient.IsTransient(err), Err: err}
	case len(data) == 0:
		return nil, &DownloadError{URL: url, Err: errors.NewStd("empty response body")}
	}
	return data, nil
}
