package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loykin/svcmon/internal/history"
	"github.com/loykin/svcmon/internal/reconcile"
	"github.com/loykin/svcmon/internal/registry"
)

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) byType(t history.EventType) []history.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []history.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	mon  *Monitor
	mem  *registry.Memory
	sink *recordingSink
	path string
	now  time.Time
}

func newFixture(t *testing.T, list string) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ServiceList.txt")
	if err := os.WriteFile(path, []byte(list), 0o600); err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{mem: registry.NewMemory(), sink: &recordingSink{}, path: path, now: time.Unix(1000, 0)}
	f.mon = New(reconcile.New(path, f.mem, log), Options{
		Interval: time.Hour,
		Sink:     f.sink,
		Logger:   log,
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) writeList(t *testing.T, list string) {
	t.Helper()
	if err := os.WriteFile(f.path, []byte(list), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRefreshBuildsView(t *testing.T) {
	f := newFixture(t, "Print Spooler\nBogusService123\n")
	f.mem.Add("Print Spooler", "Spooler", true)

	u := f.mon.Refresh(context.Background())
	if !u.StructureChanged {
		t.Fatalf("first refresh is a structure change")
	}
	if len(u.View) != 2 {
		t.Fatalf("view %v", u.View)
	}
	if h := u.View["Spooler"]; h.Status != registry.StatusRunning || h.DisplayName != "Print Spooler" {
		t.Fatalf("spooler handle %+v", h)
	}
	if h := u.View["BogusService123"]; h.Status != registry.StatusUnknown {
		t.Fatalf("bogus handle %+v", h)
	}
	hs := u.Handles()
	if len(hs) != 2 || hs[0].Service != "Spooler" || hs[1].Service != "BogusService123" {
		t.Fatalf("handles not in list order: %+v", hs)
	}
}

func TestRefreshPatchesChangedOnly(t *testing.T) {
	f := newFixture(t, "A\nB\n")
	f.mem.Add("A", "a", true)
	f.mem.Add("B", "b", true)
	ctx := context.Background()
	first := f.mon.Refresh(ctx)

	f.now = f.now.Add(time.Minute)
	f.mem.SetRunning("b", false)
	u := f.mon.Refresh(ctx)
	if u.StructureChanged {
		t.Fatalf("status change must not rebuild")
	}
	if len(u.Changed) != 1 || u.Changed[0] != "b" {
		t.Fatalf("changed %v", u.Changed)
	}
	if u.View["a"].Since != first.View["a"].Since {
		t.Fatalf("unchanged handle must keep its time")
	}
	if u.View["b"].Status != registry.StatusStopped || !u.View["b"].Since.Equal(f.now) {
		t.Fatalf("patched handle %+v", u.View["b"])
	}

	changes := f.sink.byType(history.EventStatusChange)
	if len(changes) != 1 || changes[0].Service != "b" || changes[0].From != "running" || changes[0].To != "stopped" || changes[0].DisplayName != "B" {
		t.Fatalf("status events %+v", changes)
	}
}

func TestRefreshRebuildsOnStructureChange(t *testing.T) {
	f := newFixture(t, "A\nB\n")
	f.mem.Add("A", "a", true)
	f.mem.Add("B", "b", true)
	ctx := context.Background()
	f.mon.Refresh(ctx)

	f.writeList(t, "A\n")
	u := f.mon.Refresh(ctx)
	if !u.StructureChanged {
		t.Fatalf("expected structure change")
	}
	if _, ok := u.View["b"]; ok || len(u.View) != 1 {
		t.Fatalf("stale handle survived rebuild: %v", u.View)
	}
}

func TestConfigErrorRecordedOnce(t *testing.T) {
	f := newFixture(t, "A\n")
	ctx := context.Background()
	f.mon.Refresh(ctx)
	if err := os.Remove(f.path); err != nil {
		t.Fatal(err)
	}
	u := f.mon.Refresh(ctx)
	if u.ConfigError == "" || len(u.View) != 0 {
		t.Fatalf("expected config error and empty view: %+v", u)
	}
	f.mon.Refresh(ctx)
	if n := len(f.sink.byType(history.EventConfigError)); n != 1 {
		t.Fatalf("config error should be recorded once per episode, got %d", n)
	}

	f.writeList(t, "A\n")
	if u := f.mon.Refresh(ctx); u.ConfigError != "" {
		t.Fatalf("config error should clear: %q", u.ConfigError)
	}
}

func TestToggleByDisplayName(t *testing.T) {
	f := newFixture(t, "Print Spooler\n")
	f.mem.Add("Print Spooler", "Spooler", true)
	ctx := context.Background()

	res, u, err := f.mon.Toggle(ctx, "Print Spooler")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if res.Name != "Spooler" || res.Action != reconcile.ActionStop || res.After != registry.StatusStopped {
		t.Fatalf("unexpected result %+v", res)
	}
	if u.View["Spooler"].Status != registry.StatusStopped {
		t.Fatalf("view not refreshed after toggle: %+v", u.View)
	}
	cmds := f.sink.byType(history.EventCommand)
	if len(cmds) != 1 || cmds[0].Action != "stop" || cmds[0].Error != "" {
		t.Fatalf("command events %+v", cmds)
	}
}

func TestToggleUntracked(t *testing.T) {
	f := newFixture(t, "A\n")
	f.mem.Add("Z", "z", true)
	_, _, err := f.mon.Toggle(context.Background(), "z")
	if !errors.Is(err, ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}
	if f.mem.Calls(registry.OpStop) != 0 {
		t.Fatalf("untracked service must not be touched")
	}
}

func TestToggleFailureReported(t *testing.T) {
	f := newFixture(t, "A\n")
	f.mem.Add("A", "a", false)
	f.mem.Fail("a", registry.OpStart, errors.New("access denied"))

	res, u, err := f.mon.Toggle(context.Background(), "a")
	if err != nil {
		t.Fatalf("command failures are not call errors: %v", err)
	}
	if res.Err == nil || res.After != registry.StatusStopped || u.View["a"].Status != registry.StatusStopped {
		t.Fatalf("unexpected %+v %+v", res, u.View)
	}
	cmds := f.sink.byType(history.EventCommand)
	if len(cmds) != 1 || cmds[0].Error != "access denied" {
		t.Fatalf("command events %+v", cmds)
	}
}

func TestStartAllStopAll(t *testing.T) {
	f := newFixture(t, "A\nB\nA\nGhost\n")
	f.mem.Add("A", "a", false)
	f.mem.Add("B", "b", false)
	ctx := context.Background()

	res, u := f.mon.StartAll(ctx)
	if len(res.Items) != 3 {
		t.Fatalf("duplicates are commanded once: %+v", res.Items)
	}
	if res.Succeeded != 2 {
		t.Fatalf("succeeded %d", res.Succeeded)
	}
	if u.View["a"].Status != registry.StatusRunning || u.View["b"].Status != registry.StatusRunning {
		t.Fatalf("view not refreshed: %+v", u.View)
	}

	res, u = f.mon.StopAll(ctx)
	if res.Succeeded != 2 || u.View["a"].Status != registry.StatusStopped {
		t.Fatalf("stop all %+v %+v", res, u.View)
	}
	if n := len(f.sink.byType(history.EventCommand)); n != 6 {
		t.Fatalf("expected 6 command events, got %d", n)
	}
}

func TestSinkFailureDoesNotBreakRefresh(t *testing.T) {
	f := newFixture(t, "A\n")
	f.sink.err = errors.New("db down")
	f.mem.Add("A", "a", true)
	ctx := context.Background()
	f.mon.Refresh(ctx)
	f.mem.SetRunning("a", false)
	if u := f.mon.Refresh(ctx); u.View["a"].Status != registry.StatusStopped {
		t.Fatalf("refresh must proceed despite sink errors")
	}
}

func TestCurrentPollsOnce(t *testing.T) {
	f := newFixture(t, "A\n")
	f.mem.Add("A", "a", true)
	ctx := context.Background()
	f.mon.Current(ctx)
	f.mon.Current(ctx)
	if n := f.mem.Calls(registry.OpList); n != 1 {
		t.Fatalf("Current should poll only before the first refresh, got %d polls", n)
	}
}

func TestSubscribeLatestWins(t *testing.T) {
	f := newFixture(t, "A\n")
	f.mem.Add("A", "a", true)
	ctx := context.Background()
	ch, cancel := f.mon.Subscribe()
	defer cancel()

	f.mon.Refresh(ctx)
	f.mem.SetRunning("a", false)
	f.mon.Refresh(ctx)

	u := <-ch
	if u.View["a"].Status != registry.StatusStopped {
		t.Fatalf("slow subscriber should see the latest update, got %+v", u.View)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected queued update %+v", extra)
	default:
	}
}

func TestPublishDropsOlderUpdate(t *testing.T) {
	f := newFixture(t, "")
	ch, cancel := f.mon.Subscribe()
	defer cancel()

	f.mon.publish(Update{Seq: 2})
	f.mon.publish(Update{Seq: 1})
	if u := <-ch; u.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", u.Seq)
	}
	select {
	case extra := <-ch:
		t.Fatalf("older update delivered after a newer one: %d", extra.Seq)
	default:
	}
}

func TestSubscribeOrderedUnderConcurrentCalls(t *testing.T) {
	f := newFixture(t, "A\nB\n")
	f.mem.Add("A", "a", true)
	f.mem.Add("B", "b", false)
	ctx := context.Background()
	ch, cancel := f.mon.Subscribe()

	var last uint64
	var outOfOrder []uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range ch {
			if u.Seq <= last {
				outOfOrder = append(outOfOrder, u.Seq)
			}
			last = u.Seq
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%2 == 0 {
					_, _, _ = f.mon.Toggle(ctx, "A")
				} else {
					f.mon.Refresh(ctx)
				}
			}
		}(i)
	}
	wg.Wait()
	final := f.mon.Current(ctx).Seq
	cancel()
	<-done

	if len(outOfOrder) > 0 {
		t.Fatalf("subscriber saw sequence go backwards at %v", outOfOrder)
	}
	if last != final {
		t.Fatalf("last delivered seq %d, want %d", last, final)
	}
}

func TestSubscribeCancelCloses(t *testing.T) {
	f := newFixture(t, "")
	ch, cancel := f.mon.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	f.mon.Refresh(context.Background())
}

func TestRunWatchNudge(t *testing.T) {
	f := newFixture(t, "A\n")
	f.mem.Add("A", "a", true)
	f.mem.Add("B", "b", true)
	f.mon.opts.Watch = true

	ch, cancel := f.mon.Subscribe()
	defer cancel()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.mon.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	wrote := false
	for {
		select {
		case u := <-ch:
			if len(u.View) == 2 {
				stop()
				if err := <-done; !errors.Is(err, context.Canceled) {
					t.Fatalf("run returned %v", err)
				}
				return
			}
			if !wrote {
				wrote = true
				f.writeList(t, "A\nB\n")
			}
		case <-deadline:
			stop()
			<-done
			t.Fatalf("file change did not trigger a refresh")
		}
	}
}
