//go:build windows

package registry

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/sys/windows/svc"
)

func TestStateStatus(t *testing.T) {
	cases := map[svc.State]Status{
		svc.Running:      StatusRunning,
		svc.Stopped:      StatusStopped,
		svc.StartPending: StatusStopped,
		svc.Paused:       StatusStopped,
	}
	for in, want := range cases {
		if got := stateStatus(in); got != want {
			t.Errorf("state %d: got %s want %s", in, got, want)
		}
	}
}

func TestWindowsListResolvesDisplayNames(t *testing.T) {
	w := &Windows{}
	svcs, err := w.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(svcs) == 0 {
		t.Fatal("expected at least one installed service")
	}
	resolved := 0
	for _, s := range svcs {
		if s.Name == "" || s.DisplayName == "" {
			t.Fatalf("incomplete entry %+v", s)
		}
		if s.DisplayName != s.Name {
			resolved++
		}
	}
	if resolved == 0 {
		t.Fatal("no display name was read from the service configuration")
	}
}

func TestWindowsStatusUnknownService(t *testing.T) {
	st, err := (&Windows{}).Status(context.Background(), "BogusService123")
	if !errors.Is(err, ErrNotFound) || st != StatusUnknown {
		t.Fatalf("got %s %v", st, err)
	}
}
