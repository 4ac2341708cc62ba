package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/loykin/svcmon"
	"github.com/loykin/svcmon/internal/servicelist"
	"github.com/loykin/svcmon/pkg/client"
)

type command struct {
	global *GlobalFlags
}

func (c *command) loadConfig() (*svcmon.Config, error) {
	cfg, err := svcmon.LoadConfig(c.global.ConfigPath, c.global.EnvFiles...)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// openLocal loads the config and builds a monitor for a one-shot command.
func (c *command) openLocal() (*svcmon.Monitor, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return svcmon.Open(cfg, svcmon.NewLogger(cfg))
}

func remoteClient(ctx context.Context, f RemoteFlags) (*client.Client, error) {
	cl := client.New(client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'svcmon serve'", f.APIUrl)
	}
	return cl, nil
}

// Serve runs the daemon until ctx is done.
func (c *command) Serve(ctx context.Context, f ServeFlags, w io.Writer) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.Registry != "" {
		cfg.Registry = f.Registry
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	log := svcmon.NewLogger(cfg)

	mon, err := svcmon.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := mon.Close(); err != nil {
			log.Warn("failed to close history sink", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		if err := svcmon.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		} else if cfg.Metrics.Listen != "" {
			go func() {
				if err := svcmon.ServeMetrics(ctx, cfg.Metrics.Listen); err != nil {
					log.Error("metrics server error", "error", err)
				}
			}()
		}
	}

	srv, err := svcmon.NewHTTPServer(cfg, mon)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- mon.Run(ctx) }()

	protocol := "HTTP"
	if srv.TLSConfig != nil {
		protocol = "HTTPS"
	}
	_, _ = fmt.Fprintf(w, "Starting svcmon %s server on %s%s (list %s)\n", protocol, cfg.Server.Listen, cfg.Server.BasePath, mon.ListPath())
	log.Info("svcmon started", "listen", cfg.Server.Listen, "registry", cfg.Registry, "interval", cfg.Interval)

	err = svcmon.Serve(ctx, srv)
	cancel()
	<-runErr
	_, _ = fmt.Fprintln(w, "Shutting down...")
	return err
}

// Status prints one poll (local) or the daemon's current view (remote).
func (c *command) Status(ctx context.Context, f StatusFlags, w io.Writer) error {
	if f.APIUrl != "" {
		cl, err := remoteClient(ctx, f.RemoteFlags)
		if err != nil {
			return err
		}
		res, err := cl.Services(ctx)
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(w, res)
			return nil
		}
		printRows(w, rowsFromResponse(res), res.ConfigError)
		return nil
	}

	mon, err := c.openLocal()
	if err != nil {
		return err
	}
	defer func() { _ = mon.Close() }()
	u := mon.Refresh(ctx)
	if f.JSON {
		printJSON(w, u)
		return nil
	}
	printRows(w, rowsFromUpdate(u), u.ConfigError)
	return nil
}

// Watch runs a local monitor and prints the table after every poll until ctx
// is done.
func (c *command) Watch(ctx context.Context, f WatchFlags, w io.Writer) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.Interval > 0 {
		cfg.Interval = f.Interval
	}
	mon, err := svcmon.Open(cfg, svcmon.NewLogger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = mon.Close() }()

	updates, unsubscribe := mon.Subscribe()
	defer unsubscribe()
	runErr := make(chan error, 1)
	go func() { runErr <- mon.Run(ctx) }()

	for {
		select {
		case u := <-updates:
			if !u.StructureChanged && len(u.Changed) == 0 && u.ConfigError == "" {
				continue
			}
			_, _ = fmt.Fprintf(w, "\n[%s]\n", u.At.Local().Format("15:04:05"))
			printRows(w, rowsFromUpdate(u), u.ConfigError)
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Toggle flips one tracked service, named by system or display name.
func (c *command) Toggle(ctx context.Context, name string, f RemoteFlags, w io.Writer) error {
	if f.APIUrl != "" {
		cl, err := remoteClient(ctx, f)
		if err != nil {
			return err
		}
		res, err := cl.Toggle(ctx, name)
		if client.IsNotFound(err) {
			return fmt.Errorf("%q is not in the service list", name)
		}
		if err != nil {
			return err
		}
		printToggle(w, res.Name, res.Action, res.Before, res.After, res.Error)
		return nil
	}

	mon, err := c.openLocal()
	if err != nil {
		return err
	}
	defer func() { _ = mon.Close() }()
	res, _, err := mon.Toggle(ctx, name)
	if errors.Is(err, svcmon.ErrNotTracked) {
		return fmt.Errorf("%q is not in the service list", name)
	}
	if err != nil {
		return err
	}
	printToggle(w, res.Name, string(res.Action), string(res.Before), string(res.After), res.ErrorMessage())
	return nil
}

// Bulk starts or stops every tracked service.
func (c *command) Bulk(ctx context.Context, start bool, f RemoteFlags, w io.Writer) error {
	if f.APIUrl != "" {
		cl, err := remoteClient(ctx, f)
		if err != nil {
			return err
		}
		var res client.BulkResponse
		if start {
			res, err = cl.StartAll(ctx)
		} else {
			res, err = cl.StopAll(ctx)
		}
		if err != nil {
			return err
		}
		printBulk(w, res.Action, res.Items, res.Succeeded)
		return nil
	}

	mon, err := c.openLocal()
	if err != nil {
		return err
	}
	defer func() { _ = mon.Close() }()
	var res svcmon.BulkResult
	if start {
		res, _ = mon.StartAll(ctx)
	} else {
		res, _ = mon.StopAll(ctx)
	}
	printBulk(w, string(res.Action), bulkItems(res), res.Succeeded)
	return nil
}

// listPath resolves the service list from config without building a monitor.
func (c *command) listPath() (string, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.ServiceList, nil
}

func (c *command) ListShow(w io.Writer) error {
	path, err := c.listPath()
	if err != nil {
		return err
	}
	names, err := servicelist.Load(path)
	if err != nil {
		return err
	}
	for _, n := range names {
		_, _ = fmt.Fprintln(w, n)
	}
	return nil
}

func (c *command) ListAdd(names []string, w io.Writer) error {
	path, err := c.listPath()
	if err != nil {
		return err
	}
	added, err := servicelist.Add(path, names...)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		_, _ = fmt.Fprintln(w, "nothing to add")
		return nil
	}
	_, _ = fmt.Fprintf(w, "added %s to %s\n", strings.Join(added, ", "), path)
	return nil
}

func (c *command) ListRemove(names []string, w io.Writer) error {
	path, err := c.listPath()
	if err != nil {
		return err
	}
	n, err := servicelist.Remove(path, names...)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "removed %d line(s) from %s\n", n, path)
	return nil
}

func (c *command) ListInit(w io.Writer) error {
	path, err := c.listPath()
	if err != nil {
		return err
	}
	if err := servicelist.Ensure(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "service list ready at %s\n", path)
	return nil
}

func (c *command) ConfigInit(path string, w io.Writer) error {
	if err := svcmon.WriteSampleConfig(path); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "wrote %s\n", path)
	return nil
}
