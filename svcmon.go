package svcmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/svcmon/internal/config"
	"github.com/loykin/svcmon/internal/history"
	"github.com/loykin/svcmon/internal/history/factory"
	"github.com/loykin/svcmon/internal/metrics"
	"github.com/loykin/svcmon/internal/monitor"
	"github.com/loykin/svcmon/internal/reconcile"
	"github.com/loykin/svcmon/internal/registry"
	iapi "github.com/loykin/svcmon/internal/server"
	"github.com/loykin/svcmon/internal/servicelist"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = registry.Status

type Registry = registry.Adapter

type Update = monitor.Update

type Handle = monitor.Handle

type ToggleResult = reconcile.ToggleResult

type BulkResult = reconcile.BulkResult

type HistorySink = history.Sink

const (
	StatusRunning = registry.StatusRunning
	StatusStopped = registry.StatusStopped
	StatusUnknown = registry.StatusUnknown
)

var (
	ErrNotTracked  = monitor.ErrNotTracked
	ErrUnavailable = servicelist.ErrUnavailable
)

func LoadConfig(path string, envFiles ...string) (*Config, error) {
	return cfg.Load(path, envFiles...)
}

func WriteSampleConfig(path string) error { return cfg.WriteSample(path) }

// NewLogger builds the logger described by the [log] section.
func NewLogger(c *Config) *slog.Logger { return c.Log.Logger().NewSlogger() }

// NewRegistry builds the configured backend. The memory backend is seeded
// from memory_services.
func NewRegistry(c *Config) (Registry, error) {
	reg, err := registry.New(c.Registry)
	if err != nil {
		return nil, err
	}
	if mem, ok := reg.(*registry.Memory); ok {
		for _, s := range c.MemoryServices {
			mem.Add(s.DisplayName, s.Name, s.Running)
		}
	}
	return reg, nil
}

// Monitor is a thin facade over internal/monitor.Monitor.
type Monitor struct {
	inner *monitor.Monitor
	sink  history.Sink
}

// NewMonitor wires reg and sink (optional) around the configured service list.
func NewMonitor(c *Config, reg Registry, sink HistorySink, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	rec := reconcile.New(c.ServiceList, reg, log)
	return &Monitor{
		inner: monitor.New(rec, monitor.Options{
			Interval: c.Interval,
			Watch:    c.Watch,
			Sink:     sink,
			Logger:   log,
		}),
		sink: sink,
	}
}

// Open builds the registry and, when [history] is enabled, the history sink
// for c, and returns a Monitor over them. Close releases the sink.
func Open(c *Config, log *slog.Logger) (*Monitor, error) {
	reg, err := NewRegistry(c)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	var sink history.Sink
	if c.History.Enabled {
		sink, err = factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
	}
	return NewMonitor(c, reg, sink, log), nil
}

func (m *Monitor) Run(ctx context.Context) error          { return m.inner.Run(ctx) }
func (m *Monitor) Refresh(ctx context.Context) Update     { return m.inner.Refresh(ctx) }
func (m *Monitor) Current(ctx context.Context) Update     { return m.inner.Current(ctx) }
func (m *Monitor) Subscribe() (<-chan Update, func())     { return m.inner.Subscribe() }
func (m *Monitor) StartAll(ctx context.Context) (BulkResult, Update) {
	return m.inner.StartAll(ctx)
}
func (m *Monitor) StopAll(ctx context.Context) (BulkResult, Update) {
	return m.inner.StopAll(ctx)
}
func (m *Monitor) Toggle(ctx context.Context, name string) (ToggleResult, Update, error) {
	return m.inner.Toggle(ctx, name)
}
func (m *Monitor) ListPath() string { return m.inner.ListPath() }

// Close releases the history sink, if any.
func (m *Monitor) Close() error { return factory.Close(m.sink) }

// NewHTTPServer builds the API server for c.Server over m.
func NewHTTPServer(c *Config, m *Monitor) (*http.Server, error) {
	return iapi.NewServer(c.Server, m.inner)
}

// Serve runs srv until ctx is done, then shuts it down.
func Serve(ctx context.Context, srv *http.Server) error { return iapi.Serve(ctx, srv) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics exposes /metrics from the default registry on addr until ctx
// is done.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return iapi.Serve(ctx, srv)
}
