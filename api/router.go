package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"smsrelay/discovery"
	"smsrelay/models"
	"smsrelay/transport"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxBodyBytes      = 64 * 1024
)

// Service is the synchronizer surface consumed by the API.
type Service interface {
	Connect(ctx context.Context, target transport.Target) (models.Status, error)
	Disconnect(ctx context.Context) (models.Status, error)
	Status() models.Status
	ListDevices(ctx context.Context) ([]models.Device, error)

	Messages() ([]models.Message, error)
	Unread() ([]models.Message, error)
	Conversations() ([]models.Conversation, error)
	Stats() (models.Stats, error)
	Logs() ([]models.ConnectionLogEntry, error)

	MarkRead(messageID string, read bool) error
	Block(sender string) error
	Unblock(sender string) (bool, error)

	Preferences() models.Preferences
	SavePreferences(prefs models.Preferences) (models.Preferences, error)
	TestNotification() models.Preferences
}

// Discoverer lists agents advertised on the local network.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.DiscoveredAgent, error)
}

// EventStream upgrades a request into a notification subscription.
type EventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Options configures the API router.
type Options struct {
	Service    Service
	Discoverer Discoverer
	Events     EventStream
	Log        zerolog.Logger
}

// Router wraps the mux router and the synchronizer behind it.
type Router struct {
	*mux.Router
	service    Service
	discoverer Discoverer
	events     EventStream
	log        zerolog.Logger
}

// NewRouter creates the desktop data API.
func NewRouter(options Options) *Router {
	r := &Router{
		Router:     mux.NewRouter(),
		service:    options.Service,
		discoverer: options.Discoverer,
		events:     options.Events,
		log:        options.Log.With().Str("component", "api").Logger(),
	}

	r.Use(r.recoverMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", r.healthCheck).Methods(http.MethodGet)

	// Connection
	api.HandleFunc("/devices", r.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/discover", r.discover).Methods(http.MethodGet)
	api.HandleFunc("/connect", r.connect).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", r.disconnect).Methods(http.MethodPost)
	api.HandleFunc("/status", r.getStatus).Methods(http.MethodGet)
	api.HandleFunc("/logs", r.getLogs).Methods(http.MethodGet)

	// Mirror
	api.HandleFunc("/sms", r.listSMS).Methods(http.MethodGet)
	api.HandleFunc("/sms/unread", r.listUnread).Methods(http.MethodGet)
	api.HandleFunc("/sms/{id}/read", r.markRead).Methods(http.MethodPost)
	api.HandleFunc("/conversations", r.listConversations).Methods(http.MethodGet)
	api.HandleFunc("/stats", r.getStats).Methods(http.MethodGet)
	api.HandleFunc("/block", r.block).Methods(http.MethodPost)
	api.HandleFunc("/unblock", r.unblock).Methods(http.MethodPost)

	// Preferences and notifications
	api.HandleFunc("/config", r.getConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", r.saveConfig).Methods(http.MethodPost)
	api.HandleFunc("/test_notification", r.testNotification).Methods(http.MethodPost)
	if r.events != nil {
		api.HandleFunc("/events", r.events.ServeWS).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})

	return r
}

// Serve accepts connections on listener until ctx is cancelled.
func (r *Router) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	r.log.Info().Str("addr", listener.Addr().String()).Msg("api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve api: %w", err)
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (r *Router) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", addr, err)
	}
	return r.Serve(ctx, listener)
}

func (r *Router) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().Interface("panic", rec).Str("path", req.URL.Path).Msg("handler panic")
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, req *http.Request, dst any) error {
	if req.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
