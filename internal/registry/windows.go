//go:build windows

package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/winservices"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// Windows reads services through gopsutil's winservices and controls them
// through the Service Control Manager. Handles are opened per call so a
// long-running monitor never holds a stale one.
type Windows struct{}

func newWindows() (Adapter, error) { return &Windows{}, nil }

// List enumerates every service. The display name comes from the service
// configuration; a service whose configuration cannot be read is listed
// under its system name.
func (w *Windows) List(ctx context.Context) ([]Service, error) {
	listed, err := winservices.ListServices()
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	out := make([]Service, 0, len(listed))
	for _, ls := range listed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out = append(out, Service{DisplayName: displayName(ctx, ls.Name), Name: ls.Name})
	}
	return out, nil
}

func displayName(ctx context.Context, name string) string {
	ws, err := winservices.NewService(name)
	if err != nil {
		return name
	}
	cfg, err := ws.QueryServiceConfigWithContext(ctx)
	if err != nil || cfg.DisplayName == "" {
		return name
	}
	return cfg.DisplayName
}

func (w *Windows) Status(ctx context.Context, name string) (Status, error) {
	ws, err := winservices.NewService(name)
	if err != nil {
		return StatusUnknown, fmt.Errorf("service %s: %w", name, err)
	}
	st, err := ws.QueryStatusWithContext(ctx)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return StatusUnknown, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return StatusUnknown, fmt.Errorf("query service %s: %w", name, err)
	}
	return stateStatus(st.State), nil
}

func stateStatus(s svc.State) Status {
	if s == svc.Running {
		return StatusRunning
	}
	return StatusStopped
}

func (w *Windows) Start(_ context.Context, name string) error {
	return w.withService(name, func(s *mgr.Service) error { return s.Start() })
}

func (w *Windows) Stop(_ context.Context, name string) error {
	return w.withService(name, func(s *mgr.Service) error {
		_, err := s.Control(svc.Stop)
		return err
	})
}

func (w *Windows) withService(name string, fn func(*mgr.Service) error) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect service manager: %w", err)
	}
	defer func() { _ = m.Disconnect() }()
	s, err := m.OpenService(name)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("open service %s: %w", name, err)
	}
	defer func() { _ = s.Close() }()
	if err := fn(s); err != nil {
		return fmt.Errorf("service %s: %w", name, err)
	}
	return nil
}
