// Package reconcile keeps the desired service list and the live registry
// state in step. It never schedules anything itself and never owns display
// state: callers decide when to poll and what to do with the result.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loykin/svcmon/internal/metrics"
	"github.com/loykin/svcmon/internal/registry"
	"github.com/loykin/svcmon/internal/servicelist"
)

// Entry is one desired service: the display name from the list file and the
// system name it resolved to.
type Entry struct {
	DisplayName string `json:"display_name"`
	SystemName  string `json:"system_name"`
}

// Snapshot maps system names to their status.
type Snapshot map[string]registry.Status

// Result is the outcome of one Poll.
type Result struct {
	Entries          []Entry  `json:"entries"`
	Snapshot         Snapshot `json:"snapshot"`
	StructureChanged bool     `json:"structure_changed"`
	// Changed lists system names present in both the previous and the new
	// snapshot whose status differs, sorted.
	Changed []string `json:"changed,omitempty"`
	// Err is set when the service list could not be read; it wraps
	// servicelist.ErrUnavailable. Entries and Snapshot are empty in that case.
	Err error `json:"-"`
}

// Reconciler resolves the service list at Path against Registry.
type Reconciler struct {
	Path     string
	Registry registry.Adapter
	Logger   *slog.Logger
}

// New returns a Reconciler reading the list at path.
func New(path string, reg registry.Adapter, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Path: path, Registry: reg, Logger: logger}
}

// Poll re-reads the list file and the registry and returns fresh entries and
// a fresh snapshot. It never fails as a whole: a missing list yields an empty
// result with Err set, and any per-service query failure yields StatusUnknown.
func (r *Reconciler) Poll(ctx context.Context, prevEntries []Entry, prevSnapshot Snapshot) Result {
	began := time.Now()
	res := r.poll(ctx, prevEntries, prevSnapshot)
	metrics.ObservePoll(time.Since(began).Seconds(), res.StructureChanged)
	if res.Err != nil {
		metrics.IncConfigError()
	}
	return res
}

func (r *Reconciler) poll(ctx context.Context, prevEntries []Entry, prevSnapshot Snapshot) Result {
	names, err := servicelist.Load(r.Path)
	if err != nil {
		r.Logger.Warn("service list unavailable", "path", r.Path, "error", err)
		return Result{
			Entries:          []Entry{},
			Snapshot:         Snapshot{},
			StructureChanged: len(prevEntries) != 0,
			Err:              err,
		}
	}

	lookup := map[string]string{}
	if services, err := r.Registry.List(ctx); err != nil {
		r.Logger.Warn("registry enumeration failed, names pass through unresolved", "error", err)
	} else {
		lookup = registry.Lookup(services)
	}

	entries := Resolve(names, lookup)
	snap := make(Snapshot, len(entries))
	for _, e := range entries {
		if _, done := snap[e.SystemName]; done {
			continue
		}
		snap[e.SystemName] = r.status(ctx, e.SystemName)
	}

	return Result{
		Entries:          entries,
		Snapshot:         snap,
		StructureChanged: !SameEntries(prevEntries, entries),
		Changed:          changedStatuses(prevSnapshot, snap),
	}
}

// status queries one service, degrading any failure to StatusUnknown.
func (r *Reconciler) status(ctx context.Context, name string) registry.Status {
	st, err := r.Registry.Status(ctx, name)
	if err != nil {
		r.Logger.Debug("status query failed", "service", name, "error", err)
		return registry.StatusUnknown
	}
	if !st.Valid() {
		return registry.StatusUnknown
	}
	return st
}

// Resolve maps display names to entries. Names missing from lookup resolve
// to themselves.
func Resolve(names []string, lookup map[string]string) []Entry {
	entries := make([]Entry, 0, len(names))
	for _, n := range names {
		sys, ok := lookup[n]
		if !ok || sys == "" {
			sys = n
		}
		entries = append(entries, Entry{DisplayName: n, SystemName: sys})
	}
	return entries
}

// SameEntries compares two entry lists ignoring order.
func SameEntries(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[Entry]int, len(a))
	for _, e := range a {
		count[e]++
	}
	for _, e := range b {
		if count[e] == 0 {
			return false
		}
		count[e]--
	}
	return true
}

func changedStatuses(prev, next Snapshot) []string {
	var out []string
	for name, st := range next {
		if old, ok := prev[name]; ok && old != st {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SystemNames returns the distinct system names of entries, in entry order.
func SystemNames(entries []Entry) []string {
	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if seen[e.SystemName] {
			continue
		}
		seen[e.SystemName] = true
		out = append(out, e.SystemName)
	}
	return out
}

// Find returns the entry whose system name or display name equals name.
// System names take precedence; matching is case-insensitive as a fallback.
func Find(entries []Entry, name string) (Entry, bool) {
	for _, e := range entries {
		if e.SystemName == name {
			return e, true
		}
	}
	for _, e := range entries {
		if e.DisplayName == name {
			return e, true
		}
	}
	for _, e := range entries {
		if strings.EqualFold(e.SystemName, name) || strings.EqualFold(e.DisplayName, name) {
			return e, true
		}
	}
	return Entry{}, false
}

// String renders a snapshot deterministically, mostly for logs.
func (s Snapshot) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", k, s[k])
	}
	b.WriteByte('}')
	return b.String()
}
