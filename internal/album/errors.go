package album

import (
	"context"
	"fmt"

	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/flickr"
	"github.com/tphakala/pinalbum/internal/httpclient"
)

// Error kinds reported in BatchFailed events and API responses.
const (
	KindNetwork           = "network"
	KindAPIStatus         = "api_status"
	KindMalformedResponse = "malformed_response"
	KindBusy              = "busy"
	KindNotEmpty          = "not_empty"
	KindValidation        = "validation"
	KindRecordStore       = "record_store"
	KindCancelled         = "cancelled"
	KindInternal          = "internal"
)

// ErrClosed is returned by operations started after Close.
var ErrClosed = errors.NewStd("album coordinator closed")

// BusyError rejects an operation on a location whose batch is in flight.
type BusyError struct {
	LocationID string
	Phase      Phase
	// Persisted is set when only the stored downloading flag is set, e.g.
	// after a crash mid-batch.
	Persisted bool
}

func (e *BusyError) Error() string {
	if e.Persisted {
		return fmt.Sprintf("location %s is busy: a download is recorded as in progress", e.LocationID)
	}
	return fmt.Sprintf("location %s is busy (%s)", e.LocationID, e.Phase)
}

// ErrorCategory implements errors.CategorizedError.
func (e *BusyError) ErrorCategory() errors.ErrorCategory { return errors.CategoryConflict }

// NotEmptyError rejects Start on a location whose album already holds
// photos. NewCollection replaces them; RetryFailed re-downloads failed ones.
type NotEmptyError struct {
	LocationID string
	Photos     int
}

func (e *NotEmptyError) Error() string {
	return fmt.Sprintf("location %s already has %d photos; request a new collection or retry failed photos",
		e.LocationID, e.Photos)
}

// ErrorCategory implements errors.CategorizedError.
func (e *NotEmptyError) ErrorCategory() errors.ErrorCategory { return errors.CategoryConflict }

// DownloadError is a failed download of one photo. Transient failures leave
// the photo marked for retry.
type DownloadError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ErrorCategory implements errors.CategorizedError.
func (e *DownloadError) ErrorCategory() errors.ErrorCategory { return errors.CategoryImageFetch }

// IsTransient reports whether a per-item failure is worth retrying.
func IsTransient(err error) bool {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Transient
	}
	return httpclient.IsTransient(err)
}

// ErrorKind maps err to one of the Kind constants.
func ErrorKind(err error) string {
	var (
		busy      *BusyError
		notEmpty  *NotEmptyError
		netErr    *flickr.NetworkError
		statusErr *flickr.APIStatusError
		malformed *flickr.MalformedResponseError
		download  *DownloadError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &busy):
		return KindBusy
	case errors.As(err, &notEmpty):
		return KindNotEmpty
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &netErr), errors.As(err, &download):
		return KindNetwork
	case errors.As(err, &statusErr):
		return KindAPIStatus
	case errors.As(err, &malformed):
		return KindMalformedResponse
	case errors.IsCategory(err, errors.CategoryDatabase),
		errors.IsCategory(err, errors.CategoryNotFound):
		return KindRecordStore
	case errors.IsCategory(err, errors.CategoryValidation):
		return KindValidation
	default:
		return KindInternal
	}
}
