// Package datastore persists locations and their photo records with GORM on
// SQLite or MySQL.
package datastore

import (
	"context"

	"github.com/tphakala/pinalbum/internal/errors"
)

// Sentinel errors for record store operations.
var (
	// ErrLocationNotFound indicates the requested location does not exist.
	ErrLocationNotFound = errors.NewStd("location not found")

	// ErrPhotoNotFound indicates the requested photo does not exist.
	ErrPhotoNotFound = errors.NewStd("photo not found")
)

// Interface is the record store used by the album coordinator and the API.
type Interface interface {
	CreateLocation(ctx context.Context, loc *Location) error
	GetLocation(ctx context.Context, id string) (*Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	// UpdatePaging stores the requested page and the last known page count.
	UpdatePaging(ctx context.Context, id string, page, pages int) error
	SetDownloading(ctx context.Context, id string, downloading bool) error
	// ClearDownloading sets downloading=false only if it was true and reports
	// whether a row changed.
	ClearDownloading(ctx context.Context, id string) (bool, error)
	// ResetDownloading clears every downloading flag and returns the IDs reset.
	ResetDownloading(ctx context.Context) ([]string, error)
	// DeleteLocation removes the location and all of its photos.
	DeleteLocation(ctx context.Context, id string) error

	// CreatePhotos inserts all photos in one transaction; on error none are stored.
	CreatePhotos(ctx context.Context, photos []Photo) error
	// ListPhotos returns photos in display order (added_at, position).
	ListPhotos(ctx context.Context, locationID string) ([]Photo, error)
	ListFailedPhotos(ctx context.Context, locationID string) ([]Photo, error)
	CountPhotos(ctx context.Context, locationID string) (int, error)
	GetPhoto(ctx context.Context, locationID, remoteID string) (*Photo, error)
	SetPhotoError(ctx context.Context, locationID, remoteID string, hasError bool) error
	// MarkPhotosFailed sets has_error on the given photos in one statement.
	MarkPhotosFailed(ctx context.Context, locationID string, remoteIDs []string) error
	DeletePhoto(ctx context.Context, locationID, remoteID string) error

	Close() error
}
