// Package assistant answers free text questions about places using a chat
// model that may call one of the geo helpers.  The reply carries a GeoJSON
// block of whatever the helper produced so it can be drawn on the map.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/swdee/go-obbtile/geo"
	"go.uber.org/zap"
)

// Names of the functions offered to the model
const (
	FuncLocation  = "get_location_coordinates"
	FuncBuffer    = "get_buffer_polygon"
	FuncLocations = "get_multiple_locations"
	FuncBuffers   = "get_multiple_buffer_polygons"
	FuncPolygon   = "get_polygon_from_coordinates"
)

var (
	// ErrEmptyPrompt is returned when asked to answer an empty prompt
	ErrEmptyPrompt = errors.New("prompt required")
	// ErrBadArguments is returned when the model calls a function with
	// arguments that can not be decoded or are missing required values
	ErrBadArguments = errors.New("invalid function arguments")
	// ErrUnknownFunction is returned when the model calls a function that
	// was not offered
	ErrUnknownFunction = errors.New("unknown function")
)

// SystemPrompt instructs the model how to answer and when to call the geo
// functions
const SystemPrompt = `You are an intelligence analyst.
Answer the user's question in full.  When the answer mentions places, regions
or landmarks, call a function to locate them so the places can be returned as
GeoJSON after the answer:
- one place: get_location_coordinates
- several places: get_multiple_locations
- a radius around one place: get_buffer_polygon
- radii around several places: get_multiple_buffer_polygons
- three or more coordinates to be drawn as an area or polygon:
  get_polygon_from_coordinates
Treat any pair of numbers in the message that reads as latitude and longitude,
in either order, as a place.  Pass such pairs as strings in the place_names of
get_multiple_locations.`

// Function describes a function the model may call
type Function struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object
	Parameters json.RawMessage
}

// FunctionCall is a function invocation chosen by the model
type FunctionCall struct {
	Name string
	// Arguments is the JSON encoded arguments object
	Arguments string
}

// Completion is the model's reply, either content or a function call
type Completion struct {
	Content string
	Call    *FunctionCall
}

// Model is a chat model able to call functions
type Model interface {
	Complete(ctx context.Context, system, prompt string, fns []Function) (Completion, error)
}

// Functions returns the geo functions offered to the model
func Functions() []Function {
	return []Function{
		{
			Name:        FuncLocation,
			Description: "Get the latitude and longitude of a single named place",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"place_name":{"type":"string","description":"for example 'Taipei 101'"}},
				"required":["place_name"]}`),
		},
		{
			Name: FuncBuffer,
			Description: "Get a circle of the given radius in kilometres around a named " +
				"place as GeoJSON, along with its center point",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"place_name":{"type":"string","description":"for example 'Taipei 101'"},
				"radius_km":{"type":"number","description":"for example 2"}},
				"required":["place_name","radius_km"]}`),
		},
		{
			Name:        FuncLocations,
			Description: "Get the coordinates of several named places as a GeoJSON FeatureCollection",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"place_names":{"type":"array","items":{"type":"string"},
				"description":"for example ['Taipei 101', 'Tamsui Old Street']"}},
				"required":["place_names"]}`),
		},
		{
			Name: FuncBuffers,
			Description: "Get a circle around each of several named places, each with its " +
				"own radius in kilometres, along with their center points",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"locations":{"type":"array","items":{"type":"object","properties":{
				"place_name":{"type":"string"},"radius_km":{"type":"number"}},
				"required":["place_name","radius_km"]}}},
				"required":["locations"]}`),
		},
		{
			Name:        FuncPolygon,
			Description: "Join coordinates in the given order into a GeoJSON Polygon",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"coordinates":{"type":"array","items":{"type":"object","properties":{
				"latitude":{"type":"number"},"longitude":{"type":"number"}},
				"required":["latitude","longitude"]},
				"description":"coordinates in the order they are joined"}},
				"required":["coordinates"]}`),
		},
	}
}

// Assistant answers prompts with a Model, running the geo function it calls
type Assistant struct {
	model    Model
	geocoder geo.Geocoder
	log      *zap.Logger
}

// New returns an Assistant.  A nil logger disables logging.
func New(model Model, g geo.Geocoder, log *zap.Logger) *Assistant {

	if log == nil {
		log = zap.NewNop()
	}

	return &Assistant{
		model:    model,
		geocoder: g,
		log:      log,
	}
}

// Answer replies to the prompt.  When the model calls a geo function the
// reply is a short summary followed by a geojson fenced block of the
// resulting FeatureCollection, or a message saying nothing was found.
func (a *Assistant) Answer(ctx context.Context, prompt string) (string, error) {

	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	c, err := a.model.Complete(ctx, SystemPrompt, prompt, Functions())

	if err != nil {
		return "", fmt.Errorf("error calling model: %w", err)
	}

	if c.Call == nil {
		return c.Content, nil
	}

	a.log.Debug("model function call",
		zap.String("name", c.Call.Name),
		zap.String("arguments", c.Call.Arguments),
	)

	text, fc, err := a.call(ctx, *c.Call)

	if err != nil {
		return "", err
	}

	if fc == nil {
		return text, nil
	}

	return withGeoJSON(text, *fc)
}

// withGeoJSON appends the feature collection to text as a fenced block
func withGeoJSON(text string, fc geo.FeatureCollection) (string, error) {

	b, err := json.MarshalIndent(fc, "", "  ")

	if err != nil {
		return "", fmt.Errorf("error encoding geojson: %w", err)
	}

	return text + "\n\ngeojson ```\n" + string(b) + "\n```", nil
}

// decodeArgs unmarshals the call's arguments into v
func decodeArgs(call FunctionCall, v any) error {

	if err := json.Unmarshal([]byte(call.Arguments), v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadArguments, call.Name, err)
	}

	return nil
}

// call runs the function and returns the reply text with the features it
// produced.  A nil FeatureCollection means nothing was found and the text
// says so.
func (a *Assistant) call(ctx context.Context,
	call FunctionCall) (string, *geo.FeatureCollection, error) {

	switch call.Name {
	case FuncLocation:
		var args struct {
			PlaceName string `json:"place_name"`
		}

		if err := decodeArgs(call, &args); err != nil {
			return "", nil, err
		}

		if args.PlaceName == "" {
			return "", nil, fmt.Errorf("%w: %s: place_name required", ErrBadArguments, call.Name)
		}

		c, err := a.geocoder.Locate(ctx, args.PlaceName)

		if errors.Is(err, geo.ErrNotFound) {
			return fmt.Sprintf("No information found for %s.", args.PlaceName), nil, nil
		}

		if err != nil {
			return "", nil, err
		}

		fc := geo.NewFeatureCollection(geo.PointFeature(args.PlaceName, c))

		return fmt.Sprintf("Location: %s, latitude %g, longitude %g.",
			args.PlaceName, c.Latitude, c.Longitude), &fc, nil

	case FuncLocations:
		var args struct {
			PlaceNames []string `json:"place_names"`
		}

		if err := decodeArgs(call, &args); err != nil {
			return "", nil, err
		}

		fc, err := geo.Locations(ctx, a.geocoder, args.PlaceNames)

		if errors.Is(err, geo.ErrNotFound) {
			return "No places could be found.", nil, nil
		}

		if err != nil {
			return "", nil, err
		}

		return fmt.Sprintf("The places mentioned are %s. Details follow:",
			strings.Join(args.PlaceNames, ", ")), &fc, nil

	case FuncBuffer:
		var args geo.BufferRequest

		if err := decodeArgs(call, &args); err != nil {
			return "", nil, err
		}

		if args.PlaceName == "" || args.RadiusKm <= 0 {
			return "", nil, fmt.Errorf("%w: %s: place_name and positive radius_km required",
				ErrBadArguments, call.Name)
		}

		fc, err := geo.Buffers(ctx, a.geocoder, []geo.BufferRequest{args})

		if errors.Is(err, geo.ErrNotFound) {
			return fmt.Sprintf("No information found for %s.", args.PlaceName), nil, nil
		}

		if err != nil {
			return "", nil, err
		}

		return fmt.Sprintf("The area within %g km of %s and its center:",
			args.RadiusKm, args.PlaceName), &fc, nil

	case FuncBuffers:
		var args struct {
			Locations []geo.BufferRequest `json:"locations"`
		}

		if err := decodeArgs(call, &args); err != nil {
			return "", nil, err
		}

		for _, l := range args.Locations {
			if l.PlaceName == "" || l.RadiusKm <= 0 {
				return "", nil, fmt.Errorf("%w: %s: each location needs place_name and positive radius_km",
					ErrBadArguments, call.Name)
			}
		}

		fc, err := geo.Buffers(ctx, a.geocoder, args.Locations)

		if errors.Is(err, geo.ErrNotFound) {
			return "No valid places could be found.", nil, nil
		}

		if err != nil {
			return "", nil, err
		}

		return "The area around each place and its center:", &fc, nil

	case FuncPolygon:
		var args struct {
			Coordinates []geo.LatLng `json:"coordinates"`
		}

		if err := decodeArgs(call, &args); err != nil {
			return "", nil, err
		}

		fc, err := geo.PolygonFromCoordinates(args.Coordinates)

		if errors.Is(err, geo.ErrTooFewPoints) {
			return "Too few coordinates to form a polygon.", nil, nil
		}

		if err != nil {
			return "", nil, err
		}

		return "The coordinates joined in order form this polygon:", &fc, nil

	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownFunction, call.Name)
	}
}
