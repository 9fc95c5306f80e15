// Package httpapi serves the read-mostly admin surface: health, the cached
// circle directory and a recache trigger.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stellarlinkco/circlebot/internal/circle"
)

const requestIDHeader = "X-Request-ID"

// Directory is what the admin surface reads and refreshes.
type Directory interface {
	List() []circle.Circle
	Resolve(id string) (circle.Circle, error)
	Recache(ctx context.Context) (int, error)
}

// NewRouter builds the chi router.
func NewRouter(dir Directory) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/circles", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, dir.List())
		})
		r.Get("/circles/{id}", func(w http.ResponseWriter, r *http.Request) {
			c, err := dir.Resolve(chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, c)
		})
		r.Post("/recache", func(w http.ResponseWriter, r *http.Request) {
			n, err := dir.Recache(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"merged": n})
		})
	})
	return r
}

// requestID echoes the caller's X-Request-ID or assigns a fresh uuid.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, circle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, circle.ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, circle.ErrInvalidFormat), errors.Is(err, circle.ErrValidation):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Server runs the admin router on a TCP address.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

func NewServer(addr string, dir Directory) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(dir),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[http] serve error: %v", err)
		}
	}()
	log.Printf("[http] listening on %s", ln.Addr())
	return nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	log.Printf("[http] stopped")
	return nil
}
