package geo

import (
	"errors"
	"fmt"
	"math"

	clipper "github.com/ctessum/go.clipper"
)

const (
	// kmPerDegree is the length of one degree of latitude
	kmPerDegree = 111.32
	// DefaultCirclePoints is the number of vertices in a buffer circle
	DefaultCirclePoints = 64
	// clipperScale converts metres to the integer units clipper works in,
	// giving centimetre precision
	clipperScale = 100
)

// BufferCircle returns a closed ring of [lon, lat] points approximating a
// circle of radiusKm around center.  The longitude offset is zero when the
// center is so close to a pole that a degree of longitude has no length.
func BufferCircle(center LatLng, radiusKm float64, numPoints int) [][2]float64 {

	if numPoints <= 0 {
		numPoints = DefaultCirclePoints
	}

	ring := make([][2]float64, 0, numPoints+1)
	denom := kmPerDegree * math.Cos(center.Latitude*math.Pi/180)

	for i := 0; i < numPoints; i++ {
		angle := 2 * math.Pi * float64(i) / float64(numPoints)
		dLat := (radiusKm / kmPerDegree) * math.Sin(angle)
		dLon := 0.0

		if math.Abs(denom) >= 1e-6 {
			dLon = (radiusKm / denom) * math.Cos(angle)
		}

		ring = append(ring, [2]float64{center.Longitude + dLon, center.Latitude + dLat})
	}

	return append(ring, ring[0])
}

// BufferFeatures returns a buffer circle polygon feature around the center
// followed by a point feature for the center itself
func BufferFeatures(name string, center LatLng, radiusKm float64) []Feature {

	circle := PolygonFeature(BufferCircle(center, radiusKm, DefaultCirclePoints),
		map[string]any{
			"name":         name,
			"radius_km":    radiusKm,
			"feature_type": FeatureTypeBuffer,
		})

	point := PointFeature(name, center)
	point.Properties["feature_type"] = FeatureTypeCenter

	return []Feature{circle, point}
}

// PolygonFromCoordinates joins the points in order into a closed polygon
func PolygonFromCoordinates(points []LatLng) (FeatureCollection, error) {

	if len(points) < 3 {
		return FeatureCollection{}, fmt.Errorf("%w: got %d", ErrTooFewPoints, len(points))
	}

	ring := make([][2]float64, 0, len(points)+1)

	for _, p := range points {
		ring = append(ring, [2]float64{p.Longitude, p.Latitude})
	}

	ring = append(ring, ring[0])

	return NewFeatureCollection(PolygonFeature(ring, map[string]any{
		"feature_type": FeatureTypePolygon,
	})), nil
}

// BufferPolygon expands a closed [lon, lat] ring outward by km with rounded
// corners.  The ring is projected onto a local equirectangular plane in
// metres around its first vertex, offset with clipper and projected back.
func BufferPolygon(ring [][2]float64, km float64) ([][2]float64, error) {

	if len(ring) < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewPoints, len(ring))
	}

	if km < 0 || math.IsNaN(km) {
		return nil, fmt.Errorf("buffer distance %g km must not be negative", km)
	}

	origin := ring[0]
	mPerDegLat := kmPerDegree * 1000
	mPerDegLon := mPerDegLat * math.Cos(origin[1]*math.Pi/180)

	if math.Abs(mPerDegLon) < 1e-6 {
		return nil, errors.New("can not buffer a polygon at a pole")
	}

	// convert the ring to a Clipper Path, dropping the closing vertex
	var path clipper.Path

	for _, pt := range ring[:len(ring)-1] {
		x := (pt[0] - origin[0]) * mPerDegLon * clipperScale
		y := (pt[1] - origin[1]) * mPerDegLat * clipperScale
		path = append(path, &clipper.IntPoint{X: clipper.CInt(math.Round(x)),
			Y: clipper.CInt(math.Round(y))})
	}

	co := clipper.NewClipperOffset()
	// round joins may stray at most 1 m from the true arc
	co.ArcTolerance = clipperScale
	co.AddPath(path, clipper.JtRound, clipper.EtClosedPolygon)

	solution := co.Execute(km * 1000 * clipperScale)

	if len(solution) == 0 {
		return nil, errors.New("buffer produced no polygon")
	}

	// the outer ring encloses the largest area
	best := solution[0]

	for _, sol := range solution[1:] {
		if pathArea(sol) > pathArea(best) {
			best = sol
		}
	}

	out := make([][2]float64, 0, len(best)+1)

	for _, pt := range best {
		out = append(out, [2]float64{
			origin[0] + float64(pt.X)/clipperScale/mPerDegLon,
			origin[1] + float64(pt.Y)/clipperScale/mPerDegLat,
		})
	}

	return append(out, out[0]), nil
}

// pathArea returns the unsigned area of a clipper path
func pathArea(p clipper.Path) float64 {

	area := 0.0

	for i := range p {
		j := (i + 1) % len(p)
		area += float64(p[i].X)*float64(p[j].Y) - float64(p[j].X)*float64(p[i].Y)
	}

	return math.Abs(area) / 2
}
