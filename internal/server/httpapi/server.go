package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/floodyc/AfterLiving/internal/logging"
)

const gracefulShutdownTimeout = 10 * time.Second

// Server wraps the HTTP listener around the API handler.
type Server struct {
	srv *http.Server
	log logging.Logger
}

func NewServer(addr string, handler *Handler, log logging.Logger) *Server {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	handler.RegisterRoutes(mux)

	mux.Get("/livez", handleLivenessCheck)
	mux.Get("/readyz", handleReadinessCheck)

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		log: log,
	}
}

func handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run serves until ListenAndServe fails. Call Shutdown to stop cleanly.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info(ctx, "http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error(ctx, "http server shutdown", "error", err)
	}
}
