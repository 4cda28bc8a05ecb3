// Package api serves the sync bridge and the application controls over HTTP
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/livinlefevreloca/remindersync/internal/bridge"
	"github.com/livinlefevreloca/remindersync/internal/consumer"
	"github.com/livinlefevreloca/remindersync/internal/lifecycle"
)

// Config defines the HTTP listener
type Config struct {
	Address         string        `toml:"address"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Address:         "127.0.0.1",
		Port:            8089,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate returns an error describing the first invalid field
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("http port must be in 1-65535, got %d", c.Port)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("http read_timeout and write_timeout must be positive")
	}
	return nil
}

// ListenAddr is the host:port the server binds
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// BaseURL is the URL clients use to reach the server
func (c Config) BaseURL() string {
	return "http://" + c.ListenAddr()
}

// Bridge is the set of sync operations served under /api/v1/sync
type Bridge interface {
	StartPeriodicSync(ctx context.Context, intervalMinutes int) (bridge.StartResponse, error)
	StopPeriodicSync(ctx context.Context) (bridge.StopResponse, error)
	IsSyncRunning(ctx context.Context) (bridge.RunningResponse, error)
	GetWorkStatus(ctx context.Context) (bridge.StatusResponse, error)
	CheckPendingSync(ctx context.Context) (bridge.PendingResponse, error)
	ClearPendingSync(ctx context.Context) (bridge.ClearResponse, error)
}

// App is the application layer served under /api/v1/app
type App interface {
	Start(ctx context.Context) (lifecycle.StartResult, error)
	Stop(ctx context.Context) error
	SetSyncInterval(ctx context.Context, minutes int) (int, error)
	CheckAndExecutePendingSync(ctx context.Context) (bool, error)
	State(ctx context.Context) (consumer.State, error)
}

// NewRouter builds the HTTP handler
func NewRouter(b Bridge, app App, logger *slog.Logger) *chi.Mux {
	h := &handlers{bridge: b, app: app, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(logger))

	r.Get("/healthz", h.health)

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Post("/periodic", h.startPeriodic)
		r.Delete("/periodic", h.stopPeriodic)
		r.Get("/running", h.isRunning)
		r.Get("/status", h.status)
		r.Get("/pending", h.checkPending)
		r.Delete("/pending", h.clearPending)
	})

	if app != nil {
		r.Route("/api/v1/app", func(r chi.Router) {
			r.Post("/start", h.appStart)
			r.Post("/stop", h.appStop)
			r.Put("/interval", h.appInterval)
			r.Post("/sync", h.appSync)
			r.Get("/state", h.appState)
		})
	}

	return r
}

// Serve runs the HTTP server until ctx is done
func Serve(ctx context.Context, config Config, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:         config.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "address", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	}
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
