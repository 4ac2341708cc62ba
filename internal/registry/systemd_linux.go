//go:build linux

package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

// dbusConn is the subset of *dbus.Conn used by Systemd.
type dbusConn interface {
	ListUnitsByPatternsContext(ctx context.Context, states []string, patterns []string) ([]dbus.UnitStatus, error)
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// dbusFactory opens a connection to the system manager.
type dbusFactory func(ctx context.Context) (dbusConn, error)

var newDBus dbusFactory = func(ctx context.Context) (dbusConn, error) {
	c, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Systemd adapts systemd service units. The system name is the unit name
// (e.g. "nginx.service") and the display name is the unit description.
type Systemd struct {
	connect dbusFactory
}

func newSystemd() (Adapter, error) { return &Systemd{connect: newDBus}, nil }

func (s *Systemd) List(ctx context.Context) ([]Service, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect systemd: %w", err)
	}
	defer conn.Close()
	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{"*.service"})
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	out := make([]Service, 0, len(units))
	for _, u := range units {
		display := u.Description
		if display == "" {
			display = u.Name
		}
		out = append(out, Service{DisplayName: display, Name: u.Name})
	}
	return out, nil
}

func (s *Systemd) Status(ctx context.Context, name string) (Status, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return StatusUnknown, fmt.Errorf("connect systemd: %w", err)
	}
	defer conn.Close()
	units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName(name)})
	if err != nil {
		return StatusUnknown, fmt.Errorf("query unit %s: %w", name, err)
	}
	if len(units) == 0 || units[0].LoadState == "not-found" {
		return StatusUnknown, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	switch units[0].ActiveState {
	case "active", "reloading":
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

func (s *Systemd) Start(ctx context.Context, name string) error {
	return s.job(ctx, "start", name, func(c dbusConn, ch chan<- string) (int, error) {
		return c.StartUnitContext(ctx, unitName(name), "replace", ch)
	})
}

func (s *Systemd) Stop(ctx context.Context, name string) error {
	return s.job(ctx, "stop", name, func(c dbusConn, ch chan<- string) (int, error) {
		return c.StopUnitContext(ctx, unitName(name), "replace", ch)
	})
}

// job submits a unit job and waits for its result. Any result other than
// "done" (failed, canceled, timeout, dependency, skipped) is a failure.
func (s *Systemd) job(ctx context.Context, op, name string, submit func(dbusConn, chan<- string) (int, error)) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect systemd: %w", err)
	}
	defer conn.Close()
	ch := make(chan string, 1)
	if _, err := submit(conn, ch); err != nil {
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("%s %s: job result %q", op, name, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func unitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}
