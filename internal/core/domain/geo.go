package domain

import (
	"fmt"
	"math"
)

// GeoPoint represents a geographic coordinate (WGS 84). Longitude comes
// first, matching GeoJSON coordinate order.
type GeoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// IsZero reports whether the point is the (0, 0) placeholder.
func (p GeoPoint) IsZero() bool {
	return p.Lon == 0 && p.Lat == 0
}

// IsFinite reports whether both axes are finite numbers.
func (p GeoPoint) IsFinite() bool {
	return !math.IsNaN(p.Lon) && !math.IsInf(p.Lon, 0) &&
		!math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0)
}

// Coordinates returns the point as a GeoJSON [lon, lat] pair.
func (p GeoPoint) Coordinates() []float64 {
	return []float64{p.Lon, p.Lat}
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("[%.5f, %.5f]", p.Lon, p.Lat)
}

// PointFromCoordinates builds a GeoPoint from a GeoJSON [lon, lat] pair.
func PointFromCoordinates(coords []float64) (GeoPoint, error) {
	if len(coords) != 2 {
		return GeoPoint{}, fmt.Errorf("%w: expected 2 coordinates, got %d", ErrInvalidPlace, len(coords))
	}
	return GeoPoint{Lon: coords[0], Lat: coords[1]}, nil
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}
