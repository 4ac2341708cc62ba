package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/loykin/svcmon/internal/metrics"
	"github.com/loykin/svcmon/internal/registry"
)

// Action is a service control command.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// ParseAction accepts "start" or "stop" in any case.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionStart:
		return ActionStart, nil
	case ActionStop:
		return ActionStop, nil
	}
	return "", fmt.Errorf("unknown action %q (want start or stop)", s)
}

// ToggleResult reports a best-effort toggle. After is always a fresh query;
// when the command failed it normally equals Before.
type ToggleResult struct {
	Name   string          `json:"name"`
	Action Action          `json:"action"`
	Before registry.Status `json:"before"`
	After  registry.Status `json:"after"`
	Err    error           `json:"-"`
}

// ErrorMessage returns the command error text, or "" on success.
func (t ToggleResult) ErrorMessage() string {
	if t.Err == nil {
		return ""
	}
	return t.Err.Error()
}

// Toggle stops a running service and starts a stopped or unknown one. A
// failed command is reported in the result, never retried.
func (r *Reconciler) Toggle(ctx context.Context, name string) ToggleResult {
	res := ToggleResult{Name: name, Before: r.status(ctx, name)}
	if res.Before == registry.StatusRunning {
		res.Action = ActionStop
	} else {
		res.Action = ActionStart
	}
	res.Err = r.apply(ctx, name, res.Action)
	metrics.IncCommand(string(res.Action), res.Err == nil)
	if res.Err != nil {
		r.Logger.Error("failed to control service", "service", name, "action", res.Action, "error", res.Err)
	} else {
		r.Logger.Info("service command issued", "service", name, "action", res.Action)
	}
	res.After = r.status(ctx, name)
	return res
}

// ItemResult is the outcome of one command in a bulk run.
type ItemResult struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// ErrorMessage returns the command error text, or "" on success.
func (i ItemResult) ErrorMessage() string {
	if i.Err == nil {
		return ""
	}
	return i.Err.Error()
}

// BulkResult aggregates a bulk run. Succeeded counts items whose command was
// accepted by the registry; the resulting service state is not verified.
type BulkResult struct {
	Action    Action       `json:"action"`
	Items     []ItemResult `json:"items"`
	Succeeded int          `json:"succeeded"`
}

// Failed returns the items whose command failed.
func (b BulkResult) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range b.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// Bulk applies action to every name. Each failure is recorded and the run
// moves on to the next name.
func (r *Reconciler) Bulk(ctx context.Context, names []string, action Action) BulkResult {
	res := BulkResult{Action: action, Items: make([]ItemResult, 0, len(names))}
	for _, n := range names {
		err := r.apply(ctx, n, action)
		metrics.IncCommand(string(action), err == nil)
		if err != nil {
			r.Logger.Debug("bulk command failed", "service", n, "action", action, "error", err)
		} else {
			res.Succeeded++
		}
		res.Items = append(res.Items, ItemResult{Name: n, Err: err})
	}
	r.Logger.Info("bulk command finished", "action", action, "total", len(names), "succeeded", res.Succeeded)
	return res
}

func (r *Reconciler) apply(ctx context.Context, name string, action Action) error {
	switch action {
	case ActionStart:
		return r.Registry.Start(ctx, name)
	case ActionStop:
		return r.Registry.Stop(ctx, name)
	}
	return fmt.Errorf("unknown action %q", action)
}
