// Package monitor is the presentation-side owner of reconciliation state. It
// drives periodic polls, keeps a per-service view that is rebuilt on structure
// changes and patched otherwise, and serializes every call into the
// reconciler so that only one logical actor touches the registry at a time.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/svcmon/internal/history"
	"github.com/loykin/svcmon/internal/metrics"
	"github.com/loykin/svcmon/internal/reconcile"
	"github.com/loykin/svcmon/internal/registry"
)

// DefaultInterval is the poll period when Options.Interval is zero.
const DefaultInterval = 10 * time.Second

const historyTimeout = 3 * time.Second

// ErrNotTracked is returned by Toggle for a name absent from the service list.
var ErrNotTracked = errors.New("service not tracked")

// Handle is the view of one tracked service.
type Handle struct {
	DisplayName string          `json:"display_name"`
	Service     string          `json:"service"`
	Status      registry.Status `json:"status"`
	Since       time.Time       `json:"since"`
}

// View maps system names to handles.
type View map[string]Handle

func (v View) clone() View {
	out := make(View, len(v))
	for k, h := range v {
		out[k] = h
	}
	return out
}

// Update is published after every poll. Seq increases by one per poll.
type Update struct {
	Seq              uint64            `json:"seq"`
	At               time.Time         `json:"at"`
	Entries          []reconcile.Entry `json:"entries"`
	View             View              `json:"view"`
	StructureChanged bool              `json:"structure_changed"`
	Changed          []string          `json:"changed,omitempty"`
	ConfigError      string            `json:"config_error,omitempty"`
}

// Handles returns the view in entry order, one handle per distinct service.
func (u Update) Handles() []Handle {
	out := make([]Handle, 0, len(u.View))
	for _, name := range reconcile.SystemNames(u.Entries) {
		if h, ok := u.View[name]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	// Watch triggers an extra poll when the service list file changes.
	Watch  bool
	Sink   history.Sink
	Logger *slog.Logger
	Now    func() time.Time
}

// Monitor owns the latest reconciliation result and its view.
type Monitor struct {
	rec  *reconcile.Reconciler
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	last      reconcile.Result
	view      View
	polledAt  time.Time
	polled    bool
	lastCfgEr string
	seq       uint64

	subMu     sync.Mutex
	subs      map[chan Update]struct{}
	published uint64
}

// New returns a Monitor around rec.
func New(rec *reconcile.Reconciler, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		rec:  rec,
		opts: opts,
		log:  opts.Logger.With("component", "monitor"),
		view: View{},
		subs: make(map[chan Update]struct{}),
	}
}

// Run polls immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	var nudge <-chan struct{}
	if m.opts.Watch {
		ch, stop, err := m.watchList(ctx)
		if err != nil {
			m.log.Warn("service list watch disabled", "path", m.rec.Path, "error", err)
		} else {
			defer stop()
			nudge = ch
		}
	}

	m.Refresh(ctx)
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	m.log.Info("monitor started", "interval", m.opts.Interval, "list", m.rec.Path, "watch", nudge != nil)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Refresh(ctx)
		case <-nudge:
			m.log.Debug("service list changed on disk")
			m.Refresh(ctx)
		}
	}
}

// watchList watches the list file's directory; editors often replace the
// file, which a watch on the file itself would lose.
func (m *Monitor) watchList(ctx context.Context) (<-chan struct{}, func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	dir := filepath.Dir(m.rec.Path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(m.rec.Path)
	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.Warn("service list watcher error", "error", err)
			}
		}
	}()
	stop := func() {
		_ = w.Close()
		<-done
	}
	return out, stop, nil
}

// Refresh polls now and returns the resulting update.
func (m *Monitor) Refresh(ctx context.Context) Update {
	m.mu.Lock()
	u := m.refreshLocked(ctx)
	m.mu.Unlock()
	m.publish(u)
	return u
}

// Current returns the latest state without polling. Before the first poll it
// polls once.
func (m *Monitor) Current(ctx context.Context) Update {
	m.mu.Lock()
	if !m.polled {
		u := m.refreshLocked(ctx)
		m.mu.Unlock()
		m.publish(u)
		return u
	}
	u := m.updateLocked(false, nil)
	m.mu.Unlock()
	return u
}

func (m *Monitor) refreshLocked(ctx context.Context) Update {
	prev := m.last
	res := m.rec.Poll(ctx, prev.Entries, prev.Snapshot)
	now := m.opts.Now()

	if res.StructureChanged || !m.polled {
		m.rebuildLocked(res, now)
	} else {
		for _, name := range res.Changed {
			h := m.view[name]
			h.Status = res.Snapshot[name]
			h.Since = now
			m.view[name] = h
		}
	}

	for _, name := range res.Changed {
		e, _ := reconcile.Find(res.Entries, name)
		m.record(ctx, history.Event{
			Type:        history.EventStatusChange,
			OccurredAt:  now,
			DisplayName: e.DisplayName,
			Service:     name,
			From:        string(prev.Snapshot[name]),
			To:          string(res.Snapshot[name]),
		})
		m.log.Info("service status changed", "service", name, "from", prev.Snapshot[name], "to", res.Snapshot[name])
	}

	cfgErr := ""
	if res.Err != nil {
		cfgErr = res.Err.Error()
		if cfgErr != m.lastCfgEr {
			m.record(ctx, history.Event{Type: history.EventConfigError, OccurredAt: now, Error: cfgErr})
		}
	}
	m.lastCfgEr = cfgErr

	metrics.SetTracked(len(res.Snapshot))
	for name, st := range res.Snapshot {
		metrics.SetServiceStatus(name, string(st))
	}
	for name := range prev.Snapshot {
		if _, ok := res.Snapshot[name]; !ok {
			metrics.ForgetService(name)
		}
	}

	m.last = res
	m.polled = true
	m.polledAt = now
	m.seq++
	return m.updateLocked(res.StructureChanged, res.Changed)
}

// rebuildLocked discards the view and creates a handle per distinct service.
// Handles whose status is unchanged keep their Since time.
func (m *Monitor) rebuildLocked(res reconcile.Result, now time.Time) {
	old := m.view
	m.view = make(View, len(res.Snapshot))
	for _, e := range res.Entries {
		if _, done := m.view[e.SystemName]; done {
			continue
		}
		st := res.Snapshot[e.SystemName]
		since := now
		if h, ok := old[e.SystemName]; ok && h.Status == st {
			since = h.Since
		}
		m.view[e.SystemName] = Handle{DisplayName: e.DisplayName, Service: e.SystemName, Status: st, Since: since}
	}
}

func (m *Monitor) updateLocked(structureChanged bool, changed []string) Update {
	entries := make([]reconcile.Entry, len(m.last.Entries))
	copy(entries, m.last.Entries)
	return Update{
		Seq:              m.seq,
		At:               m.polledAt,
		Entries:          entries,
		View:             m.view.clone(),
		StructureChanged: structureChanged,
		Changed:          changed,
		ConfigError:      m.lastCfgEr,
	}
}

// Toggle flips the tracked service identified by name (system or display
// name) and refreshes the view.
func (m *Monitor) Toggle(ctx context.Context, name string) (reconcile.ToggleResult, Update, error) {
	m.mu.Lock()
	if !m.polled {
		m.refreshLocked(ctx)
	}
	e, ok := reconcile.Find(m.last.Entries, name)
	if !ok {
		m.mu.Unlock()
		return reconcile.ToggleResult{}, Update{}, fmt.Errorf("%w: %s", ErrNotTracked, name)
	}
	res := m.rec.Toggle(ctx, e.SystemName)
	m.record(ctx, commandEvent(m.opts.Now(), e, res.Action, res.Err))
	u := m.refreshLocked(ctx)
	m.mu.Unlock()
	m.publish(u)
	return res, u, nil
}

// StartAll starts every tracked service and refreshes the view.
func (m *Monitor) StartAll(ctx context.Context) (reconcile.BulkResult, Update) {
	return m.bulk(ctx, reconcile.ActionStart)
}

// StopAll stops every tracked service and refreshes the view.
func (m *Monitor) StopAll(ctx context.Context) (reconcile.BulkResult, Update) {
	return m.bulk(ctx, reconcile.ActionStop)
}

func (m *Monitor) bulk(ctx context.Context, action reconcile.Action) (reconcile.BulkResult, Update) {
	m.mu.Lock()
	if !m.polled {
		m.refreshLocked(ctx)
	}
	entries := m.last.Entries
	res := m.rec.Bulk(ctx, reconcile.SystemNames(entries), action)
	now := m.opts.Now()
	for _, it := range res.Items {
		e, _ := reconcile.Find(entries, it.Name)
		m.record(ctx, commandEvent(now, e, action, it.Err))
	}
	u := m.refreshLocked(ctx)
	m.mu.Unlock()
	m.publish(u)
	return res, u
}

func commandEvent(at time.Time, e reconcile.Entry, action reconcile.Action, err error) history.Event {
	ev := history.Event{
		Type:        history.EventCommand,
		OccurredAt:  at,
		DisplayName: e.DisplayName,
		Service:     e.SystemName,
		Action:      string(action),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

// record sends e to the history sink. Failures are logged and dropped.
func (m *Monitor) record(ctx context.Context, e history.Event) {
	if m.opts.Sink == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if err := m.opts.Sink.Send(sctx, e); err != nil {
		m.log.Warn("history send failed", "type", e.Type, "service", e.Service, "error", err)
	}
}

// Subscribe returns a channel receiving every update published after the
// call. A slow subscriber only ever sees the latest update. cancel must be
// called to release the subscription.
func (m *Monitor) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish runs outside mu, so two polls can reach it in either order. An
// update older than the last one delivered is dropped.
func (m *Monitor) publish(u Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if u.Seq <= m.published {
		return
	}
	m.published = u.Seq
	for ch := range m.subs {
		select {
		case ch <- u:
			continue
		default:
		}
		// drop the stale update and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// ListPath returns the service list file being monitored.
func (m *Monitor) ListPath() string { return m.rec.Path }
