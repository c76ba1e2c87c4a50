package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

type metricDef struct {
	name string
	help string
}

var counterDefs = []metricDef{
	{"aegis_inspection_triggers_total", "Condition firings, before data reduction and output."},
	{"aegis_inspection_collections_total", "Triggered collections pushed to the output queue."},
	{"aegis_inspection_output_dropped_total", "Triggered collections lost because the output queue was full."},
	{"aegis_inspection_reduced_total", "Firings skipped by probabilistic data reduction."},
	{"aegis_inspection_conditions_ignored_total", "Conditions beyond the active condition limit."},
	{"aegis_inspection_signals_ignored_total", "Signal collection infos beyond the distinct signal limit."},
	{"aegis_inspection_signals_unreferenced_total", "Signal samples not referenced by the active matrix."},
	{"aegis_inspection_frames_unreferenced_total", "Raw frames not referenced by the active matrix."},
	{"aegis_inspection_samples_downsampled_total", "Samples discarded by minimum sample interval."},
	{"aegis_input_dropped_total", "Samples lost because an input queue was full."},
	{"aegis_collections_published_total", "Triggered collections successfully written to the sink."},
	{"aegis_dlq_total", "Collections sent to DLQ after sink failures."},
	{"aegis_wal_replayed_total", "Spooled collections replayed to the sink."},
	{"aegis_sender_payloads_total", "Payloads handed to the transport."},
	{"aegis_sender_bytes_total", "Bytes handed to the transport after compression."},
	{"aegis_matrix_reloads_total", "Inspection matrices activated from policy documents."},
	{"aegis_matrix_reload_errors_total", "Policy documents rejected during reload."},
	{"aegis_opcua_unsupported_total", "OPC UA values skipped because their variant type has no signal mapping."},
}

var gaugeDefs = []metricDef{
	{"aegis_inspection_active_conditions", "Conditions in the active inspection matrix."},
	{"aegis_inspection_tracked_signals", "Distinct signal ids with rolling buffers."},
	{"aegis_queue_length", "Signals buffered in the input queue."},
	{"aegis_output_queue_length", "Triggered collections waiting to be published."},
	{"aegis_wal_size_bytes", "Size of the spool on disk."},
	{"aegis_cpu_user_seconds", "User CPU time consumed by the agent."},
	{"aegis_cpu_system_seconds", "System CPU time consumed by the agent."},
	{"aegis_cpu_usage_ratio", "CPU share used by the agent over the last sampling period."},
}

var histogramDefs = []metricDef{
	{"aegis_inspection_pass_seconds", "Duration of one inspection pass."},
	{"aegis_publish_latency_seconds", "Latency from dequeued collection to sink commit."},
}

// PromObs implements ports.Observability on Prometheus and slog.
type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the agent metrics on reg. A nil reg uses the default
// registerer and a nil logger uses slog.Default.
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &PromObs{
		log:      logger,
		counters: make(map[string]prometheus.Counter, len(counterDefs)),
		gauges:   make(map[string]prometheus.Gauge, len(gaugeDefs)),
		histos:   make(map[string]prometheus.Observer, len(histogramDefs)),
	}

	collectors := make([]prometheus.Collector, 0, len(counterDefs)+len(gaugeDefs)+len(histogramDefs))
	for _, d := range counterDefs {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: d.name, Help: d.help})
		p.counters[d.name] = c
		collectors = append(collectors, c)
	}
	for _, d := range gaugeDefs {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: d.name, Help: d.help})
		p.gauges[d.name] = g
		collectors = append(collectors, g)
	}
	for _, d := range histogramDefs {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    d.name,
			Help:    d.help,
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		})
		p.histos[d.name] = h
		collectors = append(collectors, h)
	}
	reg.MustRegister(collectors...)
	return p
}

func attrs(fields []ports.Field, extra int) []any {
	out := make([]any, 0, len(fields)+extra)
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields, 0)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	a := attrs(fields, 1)
	if err != nil {
		a = append(a, slog.Any("err", err))
	}
	p.log.Error(msg, a...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	a := attrs(fields, 2)
	a = append(a, slog.Bool("critical", true))
	if err != nil {
		a = append(a, slog.Any("err", err))
	}
	p.log.Error(msg, a...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, data *domain.TriggeredCollectionSchemeData, err error) {
	p.IncCounter("aegis_dlq_total", 1)
	if err == nil {
		return
	}
	a := []any{slog.Uint64("wal_id", uint64(id)), slog.Any("err", err)}
	if data != nil {
		a = append(a,
			slog.String("scheme", data.Metadata.CollectionSchemeID),
			slog.Uint64("event_id", uint64(data.EventID)))
	}
	p.log.Error("collection sent to DLQ", a...)
}

var _ ports.Observability = (*PromObs)(nil)
