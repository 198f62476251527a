package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/swdee/go-obbtile/geo"
	"github.com/swdee/go-obbtile/zones"
)

type statusResponse struct {
	Status string `json:"status"`
}

// saveZones stores each feature of the posted FeatureCollection as a zone
func (s *Server) saveZones(w http.ResponseWriter, r *http.Request) {

	var fc geo.FeatureCollection

	if err := decodeJSON(r, &fc); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	if fc.Type != "FeatureCollection" {
		s.fail(w, http.StatusBadRequest, errors.New("invalid GeoJSON format"))
		return
	}

	if err := s.zones.Save(fc.Features); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {

	features, err := s.zones.List()

	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, geo.NewFeatureCollection(features...))
}

func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {

	id, err := strconv.Atoi(r.PathValue("id"))

	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid zone id %q", r.PathValue("id")))
		return
	}

	err = s.zones.Delete(id)

	if errors.Is(err, zones.ErrNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}

	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{Status: "deleted"})
}
