package transport

import (
	"encoding/json"
	"net/http"
)

// Server is a JSON-RPC-over-HTTP server: each route decodes a single
// JSON request body, calls a handler, and encodes a single JSON
// response body. /health is always registered; every other route is
// added with Handle.
type Server struct {
	mux        *http.ServeMux
	httpServer *http.Server
	address    string
	role       string
}

// NewServer returns a Server bound to address (host:port) that reports
// role on /health.
func NewServer(address, role string) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		address: address,
		role:    role,
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResult{Status: "ok", Address: s.address, Role: s.role})
}

// Handle registers a typed JSON handler at path. Decode errors produce a
// 400 response; otherwise the handler returns the response and the HTTP
// status to write it with, and protocol-level failures travel in the
// response type's own structured ApiError field.
func Handle[Req any, Resp any](s *Server, path string, fn func(r *http.Request, req *Req) (*Resp, int)) {
	s.mux.HandleFunc("/"+path, func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if r.Body != nil {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		resp, status := fn(r, &req)
		writeJSON(w, status, resp)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Handler exposes the server's mux as an http.Handler, for tests that
// want to drive it through httptest.NewServer instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the server, blocking until it returns an error
// (including http.ErrServerClosed from Shutdown).
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:    s.address,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server at once, closing its listener and any active
// connections without waiting for in-flight requests.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}
