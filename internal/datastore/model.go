package datastore

import (
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/pinalbum/internal/flickr"
	"github.com/tphakala/pinalbum/internal/geo"
)

// Location is a dropped pin and the paging state of its photo album.
type Location struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Latitude    float64   `gorm:"not null" json:"latitude"`
	Longitude   float64   `gorm:"not null" json:"longitude"`
	Page        int       `gorm:"not null" json:"page"`
	Pages       int       `gorm:"not null" json:"pages"` // 0 until a search reports it
	Downloading bool      `gorm:"not null;index" json:"downloading"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Photos []Photo `gorm:"foreignKey:LocationID;constraint:OnDelete:CASCADE" json:"-"`
}

// Coordinate returns the pin position.
func (l *Location) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// NextPage returns the page a new collection should request. It wraps to 1
// once the next page would pass the last known page.
func (l *Location) NextPage() int {
	next := l.Page + 1
	if l.Pages > 0 && next > l.Pages {
		return 1
	}
	return next
}

// Photo is one remote image in a location's album. Image bytes live in the
// image store under CacheKey.
type Photo struct {
	LocationID string    `gorm:"primaryKey;size:36;index:idx_photos_order,priority:1" json:"locationId"`
	RemoteID   string    `gorm:"primaryKey;size:64" json:"remoteId"`
	RemoteURL  string    `gorm:"size:2048;not null" json:"remoteUrl"`
	AddedAt    time.Time `gorm:"not null;index:idx_photos_order,priority:2" json:"addedAt"`
	Position   int       `gorm:"not null;index:idx_photos_order,priority:3" json:"position"`
	HasError   bool      `gorm:"not null" json:"hasError"`
}

// CacheKey is the image store key for the photo bytes. It is scoped by
// location so overlapping searches never share cache entries.
func (p *Photo) CacheKey() string {
	return CacheKey(p.LocationID, p.RemoteID)
}

// CacheKey builds the image store key for a location and remote photo ID.
func CacheKey(locationID, remoteID string) string {
	return locationID + "_" + remoteID
}

// NewLocation creates an unsaved location at c starting on page 1.
func NewLocation(c geo.Coordinate) (*Location, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Location{
		ID:        uuid.NewString(),
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
		Page:      1,
	}, nil
}

// NewPhoto creates an unsaved photo for the descriptor at position in a batch.
func NewPhoto(locationID string, d flickr.Descriptor, position int, addedAt time.Time) Photo {
	return Photo{
		LocationID: locationID,
		RemoteID:   d.RemoteID,
		RemoteURL:  d.URL,
		AddedAt:    addedAt,
		Position:   position,
	}
}
