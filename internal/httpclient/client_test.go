package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	client := New(&Config{})
	assert.Equal(t, DefaultTimeout, client.defaultTimeout)
	assert.Equal(t, defaultUserAgent, client.userAgent)

	client = New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "Test/1.0"})
	assert.Equal(t, 5*time.Second, client.defaultTimeout)
	assert.Equal(t, "Test/1.0", client.userAgent)

	client = New(nil)
	assert.Equal(t, DefaultTimeout, client.defaultTimeout)
}

func TestGetSetsUserAgentAndReadsBody(t *testing.T) {
	t.Parallel()

	var receivedUA string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("photo-bytes"))
	})

	resp, err := newTestClient(t).Get(t.Context(), server.URL)
	require.NoError(t, err)
	require.NoError(t, CheckStatus(resp))

	body, err := ReadBody(resp, 0)
	require.NoError(t, err)
	assert.Equal(t, "photo-bytes", string(body))
	assert.Equal(t, defaultUserAgent, receivedUA)
}

func TestDefaultTimeoutCoversBodyRead(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("late body"))
	})

	client := New(&Config{DefaultTimeout: 2 * time.Second})
	t.Cleanup(client.Close)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	body, err := ReadBody(resp, 0)
	require.NoError(t, err, "default timeout must not be cancelled before the body is read")
	assert.Equal(t, "late body", string(body))
}

func TestDefaultTimeoutExpires(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	client := New(&Config{DefaultTimeout: 50 * time.Millisecond})
	t.Cleanup(client.Close)

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, IsTransient(err), "timeout should be transient: %v", err)
}

func TestCancelledContextIsNotTransient(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := newTestClient(t).Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

func TestHooksObserveRequests(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://example.test/a",
		httpmock.NewStringResponder(http.StatusTeapot, "short and stout"))

	client := New(&Config{Transport: transport})
	var before, after atomic.Int32
	var status atomic.Int32
	client.SetBeforeRequestHook(func(*http.Request) { before.Add(1) })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		after.Add(1)
		if err == nil {
			status.Store(int32(resp.StatusCode))
		}
	})

	resp, err := client.Get(t.Context(), "https://example.test/a")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, int32(http.StatusTeapot), status.Load())

	var statusErr *StatusError
	require.ErrorAs(t, CheckStatus(resp), &statusErr)
	assert.False(t, statusErr.Transient())
}

func TestReadBodyLimit(t *testing.T) {
	t.Parallel()

	mk := func(body string) *http.Response {
		return &http.Response{Body: io.NopCloser(strings.NewReader(body))}
	}

	data, err := ReadBody(mk("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	_, err = ReadBody(mk("123456"), 5)
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"canceled", fmt.Errorf("get: %w", context.Canceled), false},
		{"net timeout", timeoutErr{}, true},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.flickr.com"}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"503", &StatusError{StatusCode: 503, Status: "503 Service Unavailable"}, true},
		{"429", &StatusError{StatusCode: 429, Status: "429 Too Many Requests"}, true},
		{"404", &StatusError{StatusCode: 404, Status: "404 Not Found"}, false},
		{"too large", ErrBodyTooLarge, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
