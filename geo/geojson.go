// Package geo provides GeoJSON helpers for locating places, building buffer
// circles around them and drawing polygons used as alarm zones over
// analyzed imagery.
package geo

import (
	"errors"
)

var (
	// ErrNotFound is returned when a place can not be located
	ErrNotFound = errors.New("location not found")
	// ErrTooFewPoints is returned when a polygon is requested from fewer
	// than three points
	ErrTooFewPoints = errors.New("polygon requires at least 3 points")
)

// Feature types recorded in the feature_type property
const (
	FeatureTypeBuffer  = "buffer"
	FeatureTypeCenter  = "center"
	FeatureTypePolygon = "polygon_from_points"
)

// LatLng is a WGS84 coordinate
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geometry is a GeoJSON geometry.  Coordinates are in [lon, lat] order.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// Feature is a GeoJSON feature
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection wraps the features in a collection
func NewFeatureCollection(features ...Feature) FeatureCollection {

	if features == nil {
		features = []Feature{}
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}

// PointFeature returns a named point feature at the coordinate
func PointFeature(name string, c LatLng) Feature {
	return Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: [2]float64{c.Longitude, c.Latitude},
		},
		Properties: map[string]any{
			"name": name,
		},
	}
}

// PolygonFeature returns a polygon feature with a single outer ring
func PolygonFeature(ring [][2]float64, props map[string]any) Feature {

	if props == nil {
		props = map[string]any{}
	}

	return Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Polygon",
			Coordinates: [][][2]float64{ring},
		},
		Properties: props,
	}
}
