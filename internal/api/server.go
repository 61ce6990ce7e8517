// Package api serves the HTTP command API: device actions, variable writes,
// flash control, scene save/compare and action groups.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lighttools/internal/actions"
	"github.com/dokzlo13/lighttools/internal/flash"
	"github.com/dokzlo13/lighttools/internal/host"
	"github.com/dokzlo13/lighttools/internal/scene"
)

const maxBodySize = 1 << 20

// Inventory is the host plus variable listing.
type Inventory interface {
	host.Host
	Variables() []host.Variable
}

// SceneControl saves and compares scene snapshots.
type SceneControl interface {
	SaveState(id host.DeviceID) (scene.Snapshot, error)
	CompareState(id host.DeviceID) (scene.Report, error)
}

// ActionRunner runs a named action group and waits for it.
type ActionRunner interface {
	InvokeThroughLua(ctx context.Context, name string, args map[string]any, source string) error
}

// ActionCatalog lists the defined action groups.
type ActionCatalog interface {
	Describe() []actions.Info
}

// Deps groups the collaborators of the server. Nil members disable their routes.
type Deps struct {
	Host          Inventory
	Flash         actions.FlashControl
	FlashDefaults flash.Defaults
	Scenes        SceneControl
	Actions       ActionRunner
	Catalog       ActionCatalog
}

// Server is the command API HTTP server.
type Server struct {
	addr       string
	deps       Deps
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(host string, port int, deps Deps) *Server {
	return &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
		deps: deps,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /devices", s.listDevices)
	mux.HandleFunc("GET /devices/{id}", s.getDevice)
	mux.HandleFunc("POST /devices/{id}/actions", s.deviceAction)
	mux.HandleFunc("GET /variables", s.listVariables)
	mux.HandleFunc("PUT /variables/{id}", s.setVariable)

	if s.deps.Flash != nil {
		mux.HandleFunc("POST /flash", s.startFlash)
		mux.HandleFunc("POST /flash/cancel", s.cancelFlash)
	}
	if s.deps.Scenes != nil {
		mux.HandleFunc("POST /scenes/{id}/save", s.saveScene)
		mux.HandleFunc("GET /scenes/{id}/compare", s.compareScene)
	}
	if s.deps.Catalog != nil {
		mux.HandleFunc("GET /actions", s.listActions)
	}
	if s.deps.Actions != nil {
		mux.HandleFunc("POST /actions/{name}", s.runAction)
	}

	return withRequestLog(mux)
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write API response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, host.ErrDeviceNotFound),
		errors.Is(err, host.ErrVariableNotFound),
		errors.Is(err, actions.ErrNotFound),
		errors.Is(err, scene.ErrNoSnapshot):
		return http.StatusNotFound
	case errors.Is(err, host.ErrUnsupportedAction),
		errors.Is(err, flash.ErrNoDevices),
		errors.Is(err, flash.ErrInvalidOptions),
		errors.Is(err, scene.ErrEmptySelection),
		errors.Is(err, scene.ErrMalformed),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", errBadRequest, err)
	}
	return nil
}
