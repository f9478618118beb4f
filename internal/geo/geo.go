// Package geo holds coordinate validation and the clamped search bounding box.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tphakala/pinalbum/internal/errors"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	// DefaultHalfExtent is the bounding box half width and half height in degrees.
	DefaultHalfExtent = 1.0
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects NaN and out-of-range values.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < MinLatitude || c.Latitude > MaxLatitude {
		return errors.Newf("latitude %v out of range [-90, 90]", c.Latitude).
			Component("geo").
			Category(errors.CategoryValidation).
			Build()
	}
	if math.IsNaN(c.Longitude) || c.Longitude < MinLongitude || c.Longitude > MaxLongitude {
		return errors.Newf("longitude %v out of range [-180, 180]", c.Longitude).
			Component("geo").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Box is a latitude/longitude rectangle.
type Box struct {
	LonMin, LatMin, LonMax, LatMax float64
}

// BoundingBox returns the box extending halfWidth degrees of longitude and
// halfHeight degrees of latitude around c, clamped to the valid ranges. It
// never wraps across the antimeridian.
func BoundingBox(c Coordinate, halfWidth, halfHeight float64) Box {
	return Box{
		LonMin: max(c.Longitude-halfWidth, MinLongitude),
		LatMin: max(c.Latitude-halfHeight, MinLatitude),
		LonMax: min(c.Longitude+halfWidth, MaxLongitude),
		LatMax: min(c.Latitude+halfHeight, MaxLatitude),
	}
}

// Contains reports whether c lies inside the box, edges included.
func (b Box) Contains(c Coordinate) bool {
	return b.LonMin <= c.Longitude && c.Longitude <= b.LonMax &&
		b.LatMin <= c.Latitude && c.Latitude <= b.LatMax
}

// String formats the box as "lonMin,latMin,lonMax,latMax".
func (b Box) String() string {
	parts := []string{
		formatDegrees(b.LonMin),
		formatDegrees(b.LatMin),
		formatDegrees(b.LonMax),
		formatDegrees(b.LatMax),
	}
	return strings.Join(parts, ",")
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
