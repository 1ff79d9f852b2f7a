package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"daoforge/pkg/domain"
)

type captureAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAudit) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

type observation struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu  sync.Mutex
	obs []observation
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs = append(c.obs, observation{op: op, success: success})
}

func TestServiceReportsToObservabilitySinks(t *testing.T) {
	ctx := context.Background()
	audit := &captureAudit{}
	metrics := &captureMetrics{}
	tracer := NewJSONTracer(nil)
	logger := &captureLogger{}
	svc, _ := newTestService(t, WithAuditRecorder(audit), WithMetricsRecorder(metrics), WithTracer(tracer), WithLogger(logger))
	asset := mustRegisterAsset(t, svc, "X")
	prep := mustPrepare(t, svc, owner, asset)
	if _, err := svc.Finalize(ctx, owner, finalizeRequest("")); err == nil {
		t.Fatalf("expected finalize failure")
	}

	if len(audit.entries) != 3 {
		t.Fatalf("audit entries = %d", len(audit.entries))
	}
	prepared := audit.entries[1]
	if prepared.Operation != OpPrepareInstance || prepared.Status != AuditStatusSuccess ||
		prepared.EntityID != prep.Org.Hex() || prepared.Principal != owner || prepared.Entity != EntityOrganization {
		t.Fatalf("prepare audit = %+v", prepared)
	}
	failed := audit.entries[2]
	if failed.Status != AuditStatusError || failed.Error != domain.ErrMissingCouncilMembers.Error() || failed.Action != ActionUpdate {
		t.Fatalf("finalize audit = %+v", failed)
	}

	want := []observation{{OpRegisterAsset, true}, {OpPrepareInstance, true}, {OpFinalizeInstance, false}}
	if len(metrics.obs) != len(want) {
		t.Fatalf("observations = %+v", metrics.obs)
	}
	for i := range want {
		if metrics.obs[i] != want[i] {
			t.Fatalf("observation %d = %+v, want %+v", i, metrics.obs[i], want[i])
		}
	}

	spans := tracer.Entries()
	if len(spans) != 3 || spans[1].Principal != owner.Hex() || spans[2].Status != "error" {
		t.Fatalf("spans = %+v", spans)
	}
	if logger.count("info", "operation committed") != 2 || logger.count("error", "operation failed") != 1 {
		t.Fatalf("log entries = %+v", logger.entries)
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	ctx := withPrincipal(context.Background(), owner)
	_, span := tracer.Start(ctx, "op")
	span.End(errors.New("boom"))

	var entry JSONTraceEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Operation != "op" || entry.Status != "error" || entry.Error != "boom" || entry.Principal != owner.Hex() {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), OpPrepareInstance, true, 2*time.Millisecond)
	rec.Observe(context.Background(), OpPrepareInstance, false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond)

	snap := rec.Snapshot()
	if snap.Results[OpPrepareInstance]["success"] != 1 || snap.Results[OpPrepareInstance]["error"] != 1 {
		t.Fatalf("results = %+v", snap.Results)
	}
	if snap.DurationsMS[OpPrepareInstance] != 3 {
		t.Fatalf("durations = %+v", snap.DurationsMS)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("empty operation recorded: %+v", snap.Results)
	}
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("%s not published", rec.Name())
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc, _ := newTestService(t, WithMetricsRecorder(rec))
	asset := mustRegisterAsset(t, svc, "X")
	mustPrepare(t, svc, owner, asset)
	mustPrepare(t, svc, owner, asset)

	if got := promtestutil.ToFloat64(rec.operations.WithLabelValues(OpPrepareInstance, "success")); got != 2 {
		t.Fatalf("prepare successes = %v", got)
	}
	if got := promtestutil.ToFloat64(rec.operations.WithLabelValues(OpRegisterAsset, "success")); got != 1 {
		t.Fatalf("register successes = %v", got)
	}

	// A second recorder on the same registry shares the collectors.
	again, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("second recorder: %v", err)
	}
	again.Observe(context.Background(), OpPrepareInstance, true, time.Millisecond)
	if got := promtestutil.ToFloat64(rec.operations.WithLabelValues(OpPrepareInstance, "success")); got != 3 {
		t.Fatalf("shared counter = %v", got)
	}
}
