package stats

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config defines the metrics endpoint
type Config struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Path    string `toml:"path"`
}

func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Address: "127.0.0.1",
		Port:    9464,
		Path:    "/metrics",
	}
}

// Validate returns an error describing the first invalid field
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("metrics port must be in 1-65535, got %d", c.Port)
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("metrics path must start with /")
	}
	return nil
}

// ListenAddr is the host:port the metrics server binds
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Exporter owns a meter provider whose readings are served in the Prometheus
// text format
type Exporter struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// NewExporter creates a meter provider backed by a private Prometheus registry
func NewExporter() (*Exporter, error) {
	registry := prometheus.NewRegistry()

	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	return &Exporter{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

func (e *Exporter) Provider() *sdkmetric.MeterProvider {
	return e.provider
}

func (e *Exporter) Handler() http.Handler {
	return e.handler
}

// Shutdown flushes and stops the meter provider
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

// Serve exposes the handler on config's address until ctx is done
func Serve(ctx context.Context, config Config, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(config.Path, handler)

	server := &http.Server{Addr: config.ListenAddr(), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "address", server.Addr, "path", config.Path)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return server.Shutdown(context.WithoutCancel(ctx))
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
