// Package geo holds the bounding-box rules shared by the client geofence and
// the optional server-side check.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"latitude" yaml:"lat"`
	Lon float64 `json:"longitude" yaml:"lon"`
}

// BoundingBox is an inclusive lat/lon rectangle.
type BoundingBox struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// Bristol is the approximate city rectangle used by the map client.
var Bristol = BoundingBox{
	MinLat: 51.35,
	MaxLat: 51.55,
	MinLon: -2.75,
	MaxLon: -2.45,
}

// BristolCentre is where the map opens.
var BristolCentre = Point{Lat: 51.4545, Lon: -2.5879}

// Contains reports whether (lat, lon) lies inside b, edges included.
// NaN never matches.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return b.MinLat <= lat && lat <= b.MaxLat &&
		b.MinLon <= lon && lon <= b.MaxLon
}

// ContainsPoint is Contains for a Point.
func (b BoundingBox) ContainsPoint(p Point) bool {
	return b.Contains(p.Lat, p.Lon)
}

// Centre returns the midpoint of the box.
func (b BoundingBox) Centre() Point {
	return Point{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// Validate rejects empty, inverted or non-finite boxes.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinLat, b.MaxLat, b.MinLon, b.MaxLon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("bounding box has non-finite edge")
		}
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("min_lat %.6f must be below max_lat %.6f", b.MinLat, b.MaxLat)
	}
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("min_lon %.6f must be below max_lon %.6f", b.MinLon, b.MaxLon)
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return errors.New("bounding box outside WGS84 range")
	}
	return nil
}

// String formats the box as min_lat,min_lon,max_lat,max_lon.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}
