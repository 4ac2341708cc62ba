package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	basePolls := testutil.ToFloat64(polls)
	baseChanges := testutil.ToFloat64(structureChanges)

	ObservePoll(0.01, true)
	ObservePoll(0.02, false)
	IncConfigError()
	IncCommand("start", true)
	IncCommand("stop", false)
	SetTracked(2)
	SetServiceStatus("Spooler", "running")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"svcmon_reconcile_poll_total":              false,
		"svcmon_reconcile_poll_duration_seconds":   false,
		"svcmon_reconcile_structure_changes_total": false,
		"svcmon_reconcile_config_errors_total":     false,
		"svcmon_service_commands_total":            false,
		"svcmon_service_tracked":                   false,
		"svcmon_service_status":                    false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
	if got := testutil.ToFloat64(polls) - basePolls; got != 2 {
		t.Fatalf("poll_total delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(structureChanges) - baseChanges; got != 1 {
		t.Fatalf("structure_changes_total delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(trackedServices); got != 2 {
		t.Fatalf("tracked = %v, want 2", got)
	}
}

func TestServiceStatusIsOneHot(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	SetServiceStatus("web", "running")
	SetServiceStatus("web", "stopped")

	for _, st := range statuses {
		want := 0.0
		if st == "stopped" {
			want = 1
		}
		if got := testutil.ToFloat64(serviceStatus.WithLabelValues("web", st)); got != want {
			t.Fatalf("status %s = %v, want %v", st, got, want)
		}
	}

	before := testutil.CollectAndCount(serviceStatus)
	ForgetService("web")
	if after := testutil.CollectAndCount(serviceStatus); before-after != 3 {
		t.Fatalf("expected 3 series removed, before=%d after=%d", before, after)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncCommand("start", true)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "svcmon_service_commands_total") {
		t.Fatalf("metrics output missing commands_total")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ObservePoll(0.001, false)
			IncCommand("stop", true)
			SetServiceStatus("c", "unknown")
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestHelpersBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	ObservePoll(1, true)
	IncConfigError()
	IncCommand("start", false)
	SetTracked(3)
	SetServiceStatus("x", "running")
	ForgetService("x")
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil || err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
