package server

import (
	"errors"
	"net/http"

	"github.com/swdee/go-obbtile/geo"
)

type locationsRequest struct {
	PlaceNames []string `json:"place_names"`
}

type buffersRequest struct {
	Locations []geo.BufferRequest `json:"locations"`
}

type polygonRequest struct {
	Coordinates []geo.LatLng `json:"coordinates"`
	// BufferKm expands the polygon outward when positive
	BufferKm float64 `json:"buffer_km"`
}

// geoStatus maps geo helper errors to a response status
func geoStatus(err error) int {

	switch {
	case errors.Is(err, geo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, geo.ErrTooFewPoints):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) location(w http.ResponseWriter, r *http.Request) {

	place := r.URL.Query().Get("place")

	if place == "" {
		s.fail(w, http.StatusBadRequest, errors.New("place required"))
		return
	}

	c, err := s.geocoder.Locate(r.Context(), place)

	if err != nil {
		s.fail(w, geoStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) locations(w http.ResponseWriter, r *http.Request) {

	var req locationsRequest

	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	if len(req.PlaceNames) == 0 {
		s.fail(w, http.StatusBadRequest, errors.New("place_names required"))
		return
	}

	fc, err := geo.Locations(r.Context(), s.geocoder, req.PlaceNames)

	if err != nil {
		s.fail(w, geoStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, fc)
}

func (s *Server) buffer(w http.ResponseWriter, r *http.Request) {

	var req geo.BufferRequest

	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	if req.PlaceName == "" || req.RadiusKm <= 0 {
		s.fail(w, http.StatusBadRequest, errors.New("place_name and positive radius_km required"))
		return
	}

	fc, err := geo.Buffers(r.Context(), s.geocoder, []geo.BufferRequest{req})

	if err != nil {
		s.fail(w, geoStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, fc)
}

func (s *Server) buffers(w http.ResponseWriter, r *http.Request) {

	var req buffersRequest

	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	for _, l := range req.Locations {
		if l.PlaceName == "" || l.RadiusKm <= 0 {
			s.fail(w, http.StatusBadRequest, errors.New("each location needs place_name and positive radius_km"))
			return
		}
	}

	fc, err := geo.Buffers(r.Context(), s.geocoder, req.Locations)

	if err != nil {
		s.fail(w, geoStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, fc)
}

// polygon joins the posted coordinates into a polygon, optionally expanded
// outward by buffer_km
func (s *Server) polygon(w http.ResponseWriter, r *http.Request) {

	var req polygonRequest

	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	fc, err := geo.PolygonFromCoordinates(req.Coordinates)

	if err != nil {
		s.fail(w, geoStatus(err), err)
		return
	}

	if req.BufferKm > 0 {
		f := fc.Features[0]
		ring := f.Geometry.Coordinates.([][][2]float64)[0]

		expanded, err := geo.BufferPolygon(ring, req.BufferKm)

		if err != nil {
			s.fail(w, http.StatusBadRequest, err)
			return
		}

		f.Properties["buffer_km"] = req.BufferKm
		fc = geo.NewFeatureCollection(geo.PolygonFeature(expanded, f.Properties))
	}

	s.writeJSON(w, http.StatusOK, fc)
}
