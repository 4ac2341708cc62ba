package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status is the tri-state run status reported for a service.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusUnknown Status = "unknown"
)

// Valid reports whether s is one of the three known values.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusStopped, StatusUnknown:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when the registry has no service with the given name.
	ErrNotFound = errors.New("service not found")
	// ErrUnsupported is returned by New when a backend is not available on this platform.
	ErrUnsupported = errors.New("registry backend not supported on this platform")
)

// Service is one installed service as enumerated by the registry.
type Service struct {
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
}

// Adapter is the OS service-management facility.
// Status must return StatusUnknown together with an error whenever the
// service cannot be resolved or queried.
type Adapter interface {
	List(ctx context.Context) ([]Service, error)
	Status(ctx context.Context, name string) (Status, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// Backend kinds accepted by New.
const (
	KindAuto    = "auto"
	KindWindows = "windows"
	KindSystemd = "systemd"
	KindMemory  = "memory"
)

// Kinds lists every backend name understood by New.
func Kinds() []string { return []string{KindAuto, KindWindows, KindSystemd, KindMemory} }

// New builds the backend named by kind. "auto" selects the platform backend.
// The memory backend starts empty; callers seed it through the returned *Memory.
func New(kind string) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindAuto:
		return newPlatform()
	case KindWindows:
		return newWindows()
	case KindSystemd:
		return newSystemd()
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", kind)
	}
}

// Lookup builds the display name -> system name mapping for services.
// When two services share a display name the last one wins.
func Lookup(services []Service) map[string]string {
	m := make(map[string]string, len(services))
	for _, s := range services {
		m[s.DisplayName] = s.Name
	}
	return m
}
