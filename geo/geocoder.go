package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// PlacesURL is the Google Places find place endpoint
const PlacesURL = "https://maps.googleapis.com/maps/api/place/findplacefromtext/json"

// Geocoder resolves a place name to a coordinate
type Geocoder interface {
	Locate(ctx context.Context, place string) (LatLng, error)
}

// GooglePlaces is a Geocoder using the Google Places find place API
type GooglePlaces struct {
	// Key is the Places API key
	Key string
	// BaseURL overrides PlacesURL
	BaseURL string
	Client  *http.Client
}

// NewGooglePlaces returns a GooglePlaces geocoder using the given API key
func NewGooglePlaces(key string) *GooglePlaces {
	return &GooglePlaces{
		Key:     key,
		BaseURL: PlacesURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// placesResponse is the subset of the find place response used
type placesResponse struct {
	Candidates []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"candidates"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// Locate returns the location of the first candidate matching place
func (g *GooglePlaces) Locate(ctx context.Context, place string) (LatLng, error) {

	if g.Key == "" {
		return LatLng{}, errors.New("google places api key not set")
	}

	q := url.Values{}
	q.Set("input", place)
	q.Set("inputtype", "textquery")
	q.Set("fields", "geometry")
	q.Set("key", g.Key)

	base := g.BaseURL

	if base == "" {
		base = PlacesURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)

	if err != nil {
		return LatLng{}, fmt.Errorf("error creating request: %w", err)
	}

	client := g.Client

	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)

	if err != nil {
		return LatLng{}, fmt.Errorf("error calling places api: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return LatLng{}, fmt.Errorf("places api returned %s", resp.Status)
	}

	var r placesResponse

	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return LatLng{}, fmt.Errorf("error decoding places response: %w", err)
	}

	switch r.Status {
	case "", "OK", "ZERO_RESULTS":
	default:
		return LatLng{}, fmt.Errorf("places api status %s: %s", r.Status, r.ErrorMessage)
	}

	if len(r.Candidates) == 0 {
		return LatLng{}, fmt.Errorf("%w: %s", ErrNotFound, place)
	}

	loc := r.Candidates[0].Geometry.Location

	return LatLng{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}

// Locations geocodes each name into a point feature.  Places that can not
// be found are skipped, ErrNotFound is returned only if none are found.
func Locations(ctx context.Context, g Geocoder, names []string) (FeatureCollection, error) {

	features := make([]Feature, 0, len(names))

	for _, name := range names {
		c, err := g.Locate(ctx, name)

		if errors.Is(err, ErrNotFound) {
			continue
		}

		if err != nil {
			return FeatureCollection{}, err
		}

		features = append(features, PointFeature(name, c))
	}

	if len(features) == 0 {
		return FeatureCollection{}, ErrNotFound
	}

	return NewFeatureCollection(features...), nil
}

// BufferRequest names a place and the radius of the buffer around it
type BufferRequest struct {
	PlaceName string  `json:"place_name"`
	RadiusKm  float64 `json:"radius_km"`
}

// Buffers geocodes each place and returns a buffer circle and center point
// for each one found.  ErrNotFound is returned only if none are found.
func Buffers(ctx context.Context, g Geocoder, reqs []BufferRequest) (FeatureCollection, error) {

	features := make([]Feature, 0, len(reqs)*2)

	for _, r := range reqs {
		c, err := g.Locate(ctx, r.PlaceName)

		if errors.Is(err, ErrNotFound) {
			continue
		}

		if err != nil {
			return FeatureCollection{}, err
		}

		features = append(features, BufferFeatures(r.PlaceName, c, r.RadiusKm)...)
	}

	if len(features) == 0 {
		return FeatureCollection{}, ErrNotFound
	}

	return NewFeatureCollection(features...), nil
}
