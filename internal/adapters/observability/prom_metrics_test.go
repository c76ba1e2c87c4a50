package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	obs.IncCounter("aegis_inspection_collections_total", 5)
	if got := testutil.ToFloat64(obs.counters["aegis_inspection_collections_total"]); got != 5 {
		t.Fatalf("expected collections counter 5, got %f", got)
	}

	obs.IncCounter("aegis_inspection_output_dropped_total", 2)
	if got := testutil.ToFloat64(obs.counters["aegis_inspection_output_dropped_total"]); got != 2 {
		t.Fatalf("expected output drop counter 2, got %f", got)
	}

	obs.SetGauge("aegis_wal_size_bytes", 42)
	if got := testutil.ToFloat64(obs.gauges["aegis_wal_size_bytes"]); got != 42 {
		t.Fatalf("expected wal gauge 42, got %f", got)
	}

	obs.ObserveLatency("aegis_inspection_pass_seconds", 0.0005)
	hCollector := obs.histos["aegis_inspection_pass_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected pass histogram to record 1 sample, got %d", samples)
	}

	obs.RecordDLQ(1, nil, nil)
	if got := testutil.ToFloat64(obs.counters["aegis_dlq_total"]); got != 1 {
		t.Fatalf("expected dlq counter 1, got %f", got)
	}

	// Unknown names are ignored.
	obs.IncCounter("not_registered", 1)
	obs.SetGauge("not_registered", 1)

	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("gather: n=%d err=%v", n, err)
	}
}

func TestPromObsLogsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	obs := NewPromObs(prometheus.NewRegistry(), slog.New(slog.NewTextHandler(&buf, nil)))

	obs.LogError("sink write failed", errors.New("boom"), ports.Field{Key: "sink", Value: "timescaledb"})
	obs.RecordDLQ(7, &domain.TriggeredCollectionSchemeData{
		EventID:  3,
		Metadata: domain.PassThroughMetadata{CollectionSchemeID: "brake"},
	}, errors.New("rejected"))

	out := buf.String()
	for _, want := range []string{"sink=timescaledb", "err=boom", "wal_id=7", "scheme=brake", "event_id=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}
