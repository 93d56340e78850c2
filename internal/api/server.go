package api

import (
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"qaflow/internal/engine"
)

// Server exposes the run engine over HTTP.
type Server struct {
	engine *engine.Engine
}

func NewServer(e *engine.Engine) *Server {
	return &Server{engine: e}
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", s.handleCreateRun)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /v1/runs/{id}", s.handleEvictRun)
	mux.HandleFunc("POST /v1/runs/{id}/advance", s.handleAdvance)
	mux.HandleFunc("POST /v1/runs/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/runs/{id}/artifacts", s.handleListArtifacts)
	mux.HandleFunc("GET /v1/runs/{id}/artifacts/{step}/{kind}", s.handleGetArtifact)
	mux.HandleFunc("GET /v1/runs/{id}/artifacts/{step}/{kind}/url", s.handleArtifactURL)
	mux.HandleFunc("GET /v1/runs/{id}/watch", s.handleWatchWS)
	return mux
}

// Handler wraps the mux in the CORS middleware.
func (s *Server) Handler() http.Handler {
	return withCORS(s.Mux())
}

// ListenAndServe starts the server with h2c so plaintext HTTP/2 clients work.
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("starting run engine API on %s", addr)
	return http.ListenAndServe(addr, h2c.NewHandler(s.Handler(), &http2.Server{}))
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
