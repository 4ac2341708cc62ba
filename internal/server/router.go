package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/svcmon/internal/config"
	"github.com/loykin/svcmon/internal/monitor"
	"github.com/loykin/svcmon/internal/reconcile"
	svctls "github.com/loykin/svcmon/internal/tls"
)

// Router provides embeddable HTTP handlers for the service monitor.
// Endpoints:
//
//	GET  {basePath}/services              current view in list order
//	POST {basePath}/services/:name/toggle name is a system or display name
//	POST {basePath}/start-all
//	POST {basePath}/stop-all
//	POST {basePath}/refresh               poll now, return the view
//	GET  {basePath}/healthz
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mon      *monitor.Monitor
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/services, /api/start-all, ...
func NewRouter(mon *monitor.Monitor, basePath string) *Router {
	return &Router{mon: mon, basePath: sanitizeBase(basePath)}
}

// BasePath returns the sanitized base path.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/services", r.handleServices)
	group.POST("/services/:name/toggle", r.handleToggle)
	group.POST("/start-all", r.handleBulk(reconcile.ActionStart))
	group.POST("/stop-all", r.handleBulk(reconcile.ActionStop))
	group.POST("/refresh", r.handleRefresh)
	return g
}

// NewServer builds a standalone HTTP server for cfg. TLS is configured when
// cfg.TLS is enabled; the caller starts it with ListenAndServe or
// ListenAndServeTLS("", "") accordingly (see Serve).
func NewServer(cfg config.ServerConfig, mon *monitor.Monitor) (*http.Server, error) {
	r := NewRouter(mon, cfg.BasePath)
	tlsCfg, err := svctls.Setup(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// bulk commands against slow service managers can take a while
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}, nil
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		return <-errCh
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type servicesResp struct {
	At          time.Time        `json:"at"`
	ConfigError string           `json:"config_error,omitempty"`
	Services    []monitor.Handle `json:"services"`
}

type toggleResp struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Before string `json:"before"`
	After  string `json:"after"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type itemResp struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type bulkResp struct {
	Action    string     `json:"action"`
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Items     []itemResp `json:"items"`
}

func toServices(u monitor.Update) servicesResp {
	return servicesResp{At: u.At, ConfigError: u.ConfigError, Services: u.Handles()}
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleServices(c *gin.Context) {
	writeJSON(c, http.StatusOK, toServices(r.mon.Current(c.Request.Context())))
}

func (r *Router) handleRefresh(c *gin.Context) {
	writeJSON(c, http.StatusOK, toServices(r.mon.Refresh(c.Request.Context())))
}

func (r *Router) handleToggle(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "service name required"})
		return
	}
	res, _, err := r.mon.Toggle(c.Request.Context(), name)
	if errors.Is(err, monitor.ErrNotTracked) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, toggleResp{
		Name:   res.Name,
		Action: string(res.Action),
		Before: string(res.Before),
		After:  string(res.After),
		OK:     res.Err == nil,
		Error:  res.ErrorMessage(),
	})
}

func (r *Router) handleBulk(action reconcile.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		var res reconcile.BulkResult
		if action == reconcile.ActionStart {
			res, _ = r.mon.StartAll(c.Request.Context())
		} else {
			res, _ = r.mon.StopAll(c.Request.Context())
		}
		out := bulkResp{Action: string(res.Action), Total: len(res.Items), Succeeded: res.Succeeded, Items: make([]itemResp, 0, len(res.Items))}
		for _, it := range res.Items {
			out.Items = append(out.Items, itemResp{Name: it.Name, OK: it.Err == nil, Error: it.ErrorMessage()})
		}
		writeJSON(c, http.StatusOK, out)
	}
}
