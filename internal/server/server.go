// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/howard-nolan/llmgateway/internal/pipeline"
)

// Server holds the HTTP router and the proxy pipeline every non-health
// request is handed to.
type Server struct {
	router   chi.Router
	pipeline *pipeline.Pipeline
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(p *pipeline.Pipeline) *Server {
	s := &Server{pipeline: p}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	// middleware.Logger prints a log line for every request, similar to
	// morgan('dev') in Express. It logs method, path, status, and duration.
	r.Use(middleware.Logger)

	// middleware.Recoverer catches panics in handlers and returns a 500
	// instead of crashing the whole process.
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	// Every other route is a provider-shaped path (/v1/chat/completions,
	// /v1/messages, /v1beta/models/...:generateContent, and so on) that the
	// pipeline itself classifies — so it's mounted as a catch-all rather
	// than one route per dialect.
	r.Handle("/*", s.handleProxy())

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface. Every incoming
// request flows through this method, and we just delegate to chi's router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
