package server

import (
	"encoding/json"
	"net/http"
)

// handleHealth responds with a simple JSON status indicating the server
// is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// handleProxy hands every non-health request straight to the pipeline,
// which does its own path/header classification, routing, and dispatch.
func (s *Server) handleProxy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pipeline.ServeHTTP(w, r)
	}
}
