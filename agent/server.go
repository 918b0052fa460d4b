package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"smsrelay/models"
)

const (
	// DefaultPort is the TCP port the agent listens on.
	DefaultPort = 8080
	// SnapshotLimit caps the number of records served per snapshot.
	SnapshotLimit = 50

	defaultReadTimeout = 15 * time.Second
	shutdownTimeout    = 5 * time.Second
)

const livenessPage = "<html><body><h1>SMS relay agent running</h1></body></html>"

// Server serves the device's recent inbox over HTTP.
type Server struct {
	source Source
	log    zerolog.Logger
	router *mux.Router
}

// NewServer builds an agent HTTP handler around source.
func NewServer(source Source, log zerolog.Logger) *Server {
	s := &Server{
		source: source,
		log:    log.With().Str("component", "agent").Logger(),
		router: mux.NewRouter(),
	}

	s.router.Use(s.recoverMiddleware)
	s.router.HandleFunc("/sms", s.handleSMS).Methods(http.MethodGet)
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve accepts connections on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: defaultReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("agent listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown agent server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve agent: %w", err)
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	records, err := s.source.Recent(r.Context(), SnapshotLimit)
	if err != nil {
		s.log.Warn().Err(err).Msg("read inbox failed")
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	if records == nil {
		records = []models.AgentRecord{}
	}
	if len(records) > SnapshotLimit {
		records = records[:SnapshotLimit]
	}

	payload, err := json.Marshal(records)
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Error: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(livenessPage))
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusNotFound, "Not Found")
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				writeText(w, http.StatusInternalServerError, fmt.Sprintf("Error: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
