package server

import (
	"errors"
	"net/http"

	"github.com/swdee/go-obbtile/assistant"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// generate answers the posted prompt with the assistant
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {

	if s.assistant == nil {
		s.fail(w, http.StatusServiceUnavailable, errors.New("assistant not configured"))
		return
	}

	var req generateRequest

	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	text, err := s.assistant.Answer(r.Context(), req.Prompt)

	if errors.Is(err, assistant.ErrEmptyPrompt) {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}

	s.writeJSON(w, http.StatusOK, generateResponse{Response: text})
}
