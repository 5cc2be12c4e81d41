// Package control serves a small HTTP API for observing and steering a
// running verification session.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crimson-sun/tre/internal/session"
)

// Controller is the subset of a session the API drives.
type Controller interface {
	Snapshot() session.State
	Pause()
	Resume()
	Stop()
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(c Controller, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	h := &handler{c: c}
	r.Get("/health", h.health)
	r.Route("/run", func(r chi.Router) {
		r.Get("/", h.state)
		r.Post("/pause", h.pause)
		r.Post("/resume", h.resume)
		r.Post("/stop", h.stop)
	})
	return r
}

type handler struct {
	c Controller
}

type healthResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", RunID: h.c.Snapshot().RunID})
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.c.Snapshot())
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	if !h.c.Snapshot().Running {
		writeError(w, http.StatusConflict, "run is not active")
		return
	}
	h.c.Pause()
	writeJSON(w, http.StatusAccepted, h.c.Snapshot())
}

func (h *handler) resume(w http.ResponseWriter, r *http.Request) {
	if !h.c.Snapshot().Running {
		writeError(w, http.StatusConflict, "run is not active")
		return
	}
	h.c.Resume()
	writeJSON(w, http.StatusAccepted, h.c.Snapshot())
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	h.c.Stop()
	writeJSON(w, http.StatusAccepted, h.c.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("control: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Server runs the API on a listener until its context is cancelled.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr ("127.0.0.1:7070", ":0", ...) and prepares a Server.
func Listen(addr string, c Controller, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", addr, err)
	}
	return &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           NewRouter(c, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(s.ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	return nil
}
