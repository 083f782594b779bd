package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/breeze-rmm/swtrack/internal/health"
	"github.com/breeze-rmm/swtrack/internal/inventory"
	"github.com/breeze-rmm/swtrack/internal/scanner"
	"github.com/breeze-rmm/swtrack/internal/tracker"
)

type memPersister struct {
	mu      sync.Mutex
	records []inventory.Record
	saveErr error
}

func (p *memPersister) Load() ([]inventory.Record, error) {
	return append([]inventory.Record(nil), p.records...), nil
}

func (p *memPersister) Save(records []inventory.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.records = append([]inventory.Record(nil), records...)
	return nil
}

// stubStrategy offers fixed candidates, optionally waiting on gate first.
type stubStrategy struct {
	name  string
	cands []inventory.Candidate
	gate  chan struct{}
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Collect(ctx context.Context, sink scanner.Sink) scanner.Outcome {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return scanner.Outcome{Err: ctx.Err()}
		}
	}
	out := scanner.Outcome{Candidates: len(s.cands)}
	for _, c := range s.cands {
		if sink.Offer(c) {
			out.Added++
		}
	}
	return out
}

type testEnv struct {
	server    *Server
	persister *memPersister
	rich      *stubStrategy
	monitor   *health.Monitor
}

func newTestEnv(t *testing.T, existing ...inventory.Record) *testEnv {
	t.Helper()
	p := &memPersister{records: existing}
	store, err := inventory.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	monitor := health.NewMonitor(scanner.Components...)
	rich := &stubStrategy{name: scanner.StrategyRichQuery}
	raw := &stubStrategy{name: scanner.StrategyRawEnum}
	sc := scanner.New(store, rich, raw, scanner.WithHealth(monitor), scanner.WithMetrics(scanner.NewMetrics(reg)))
	srv := NewServer(tracker.New(store, sc), Options{Health: monitor, Gatherer: reg})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.scans.Shutdown(ctx)
	})
	return &testEnv{server: srv, persister: p, rich: rich, monitor: monitor}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func zoom() inventory.Record {
	return inventory.NewRecord("Zoom", "5.0", time.Date(2023, 4, 15, 0, 0, 0, 0, time.UTC), inventory.StatusInstalled)
}

func TestListSoftware(t *testing.T) {
	env := newTestEnv(t, zoom())
	rec := env.do(t, http.MethodGet, "/api/v1/software", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[listResponse](t, rec)
	if resp.Count != 1 || resp.Software[0].Name != "Zoom" || resp.Software[0].InstalledOn != "2023-04-15" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAddSoftware(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/software", `{"name":"Git","version":"2.44","installedOn":"2024-01-02","status":"Trial"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[mutationResponse](t, rec)
	if resp.Record == nil || resp.Record.Name != "Git" || resp.Record.Status != "Trial" || resp.Warning != "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(env.persister.records) != 1 {
		t.Fatal("record was not persisted")
	}
}

func TestConcurrentAddsReportTheirOwnIndex(t *testing.T) {
	env := newTestEnv(t, zoom())

	const adds = 16
	views := make([]*recordView, adds)
	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := env.do(t, http.MethodPost, "/api/v1/software", fmt.Sprintf(`{"name":"App %d"}`, i))
			if rec.Code != http.StatusCreated {
				t.Errorf("add %d status = %d", i, rec.Code)
				return
			}
			var resp mutationResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Errorf("add %d: %v", i, err)
				return
			}
			views[i] = resp.Record
		}(i)
	}
	wg.Wait()

	list := env.server.svc.ListAll()
	for i, v := range views {
		if v == nil {
			t.Fatalf("add %d returned no record", i)
		}
		if v.Index < 0 || v.Index >= len(list) || list[v.Index].Name != v.Name {
			t.Errorf("add %d reported index %d for %q", i, v.Index, v.Name)
		}
	}
}

func TestAddSoftwareValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"empty name", `{"name":""}`, "name"},
		{"bad date", `{"name":"A","installedOn":"01/02/2024"}`, "installedOn"},
		{"bad status", `{"name":"A","status":"Pirated"}`, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/software", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := decode[map[string]string](t, rec)["field"]; got != tt.field {
				t.Fatalf("field = %q, want %q", got, tt.field)
			}
		})
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/software", `{"name":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/software", `{"name":"A","vendor":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", rec.Code)
	}
}

func TestAddSoftwarePersistWarning(t *testing.T) {
	env := newTestEnv(t)
	env.persister.saveErr = errors.New("read-only file system")

	rec := env.do(t, http.MethodPost, "/api/v1/software", `{"name":"Git"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode[mutationResponse](t, rec); !strings.Contains(resp.Warning, "read-only") {
		t.Fatalf("warning = %q", resp.Warning)
	}
}

func TestUpdateAndRemove(t *testing.T) {
	env := newTestEnv(t, zoom())

	rec := env.do(t, http.MethodPut, "/api/v1/software/0", `{"name":"Zoom Workplace","version":"6.0","installedOn":"2024-02-02","status":"Installed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}
	if resp := decode[mutationResponse](t, rec); resp.Record.Name != "Zoom Workplace" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if rec := env.do(t, http.MethodPut, "/api/v1/software/5", `{"name":"X"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("out-of-range update status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/software/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad index status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/v1/software/1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("out-of-range delete status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/software/0", "")
	if rec.Code != http.StatusOK || !decode[mutationResponse](t, rec).Removed {
		t.Fatalf("delete status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(env.persister.records) != 0 {
		t.Fatal("delete was not persisted")
	}
}

func TestSyncScan(t *testing.T) {
	env := newTestEnv(t, zoom())
	env.rich.cands = []inventory.Candidate{
		{Name: "ZOOM", Version: "9"},
		{Name: "Slack", Version: "4.36", RawDate: "20230101"},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[scanResponse](t, rec)
	if resp.Added != 1 || resp.Total != 2 || resp.Strategy != scanner.StrategyRichQuery {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAsyncScanRejectsWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	env.rich.cands = []inventory.Candidate{{Name: "Slack"}}
	env.rich.gate = make(chan struct{})

	if rec := env.do(t, http.MethodPost, "/api/v1/scan?async=true", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("first async scan status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/scan?async=true", ""); rec.Code != http.StatusConflict {
		t.Fatalf("second async scan status = %d, want 409", rec.Code)
	}
	if got := decode[map[string]bool](t, env.do(t, http.MethodGet, "/api/v1/scan", "")); !got["inProgress"] {
		t.Fatal("scan status should report in progress")
	}

	close(env.rich.gate)
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := decode[map[string]bool](t, env.do(t, http.MethodGet, "/api/v1/scan", ""))
		if !got["inProgress"] {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background scan did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := decode[listResponse](t, env.do(t, http.MethodGet, "/api/v1/software", ""))
	if resp.Count != 1 || resp.Software[0].Name != "Slack" {
		t.Fatalf("unexpected inventory %+v", resp)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if r := decode[health.Report](t, rec); r.Status != health.Unknown || len(r.Components) != 3 {
		t.Fatalf("unexpected report %+v", r)
	}

	env.monitor.Update(scanner.ComponentStorage, health.Unhealthy, "disk full")
	if rec := env.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status with failing storage = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/scan", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `swtrack_scans_total{outcome="ok"} 1`) {
		t.Fatalf("scan counter missing from metrics:\n%s", rec.Body.String())
	}
}
