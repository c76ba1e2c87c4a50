package aegisfleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/AegisFleet/internal/adapters/matrixdoc"
	"github.com/ghalamif/AegisFleet/internal/adapters/observability"
	"github.com/ghalamif/AegisFleet/internal/adapters/opcua"
	"github.com/ghalamif/AegisFleet/internal/adapters/queue"
	"github.com/ghalamif/AegisFleet/internal/adapters/sender"
	"github.com/ghalamif/AegisFleet/internal/adapters/sink"
	"github.com/ghalamif/AegisFleet/internal/adapters/wal"
	"github.com/ghalamif/AegisFleet/internal/app/inspection"
	"github.com/ghalamif/AegisFleet/internal/app/pipeline"
	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

// ErrQueueFull indicates an inspection input queue rejected a pushed item.
var ErrQueueFull = errors.New("aegisfleet: queue full")

// ErrWALFull is attached to DLQ records of collections the spool had no room for.
var ErrWALFull = pipeline.ErrWALFull

// AgentRuntimeOption customizes the dependencies used by AgentRuntime.
type AgentRuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collector     Collector
	sink          Sink
	transport     Transport
	wal           WAL
	observability Observability
	registry      *prometheus.Registry
	matrix        *InspectionMatrix
	listeners     []InspectionEventListener
}

// WithCollector injects a custom collector implementation (CAN decoders, simulators, etc.).
func WithCollector(col Collector) AgentRuntimeOption {
	return func(o *runtimeOverrides) {
		o.collector = col
	}
}

// WithSink injects a custom sink so collections can be sent to any backend.
func WithSink(s Sink) AgentRuntimeOption {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithTransport replaces the file transport used by the sender sink.
func WithTransport(t Transport) AgentRuntimeOption {
	return func(o *runtimeOverrides) {
		o.transport = t
	}
}

// WithWAL lets callers bring their own spool implementation.
func WithWAL(w WAL) AgentRuntimeOption {
	return func(o *runtimeOverrides) {
		o.wal = w
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) AgentRuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithRegistry registers the default metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) AgentRuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithMatrix activates m as soon as the runtime is built.
func WithMatrix(m *InspectionMatrix) AgentRuntimeOption {
	return func(o *runtimeOverrides) {
		o.matrix = m
	}
}

// WithListener subscribes l to inspection events.
func WithListener(l InspectionEventListener) AgentRuntimeOption {
	return func(o *runtimeOverrides) {
		o.listeners = append(o.listeners, l)
	}
}

// AgentRuntime wires collector → inspection worker → publisher → sink and
// exposes lifecycle hooks for embedding the agent inside any Go service.
type AgentRuntime struct {
	cfg      *Config
	obs      ports.Observability
	registry *prometheus.Registry

	signals *queue.LockedQueue[domain.CollectedSignal]
	frames  *queue.LockedQueue[*domain.CollectedCANRawFrame]
	dtcs    *queue.LockedQueue[*domain.DTCInfo]
	output  *queue.LockedQueue[*domain.TriggeredCollectionSchemeData]
	worker  *inspection.Worker

	wal       ports.WAL
	ownedWAL  *wal.FileWAL
	collector ports.Collector
	sink      ports.Sink
	watcher   *matrixdoc.Watcher
	db        *sql.DB

	metricsSrv  *http.Server
	cancel      context.CancelFunc
	collectDone <-chan struct{}
	publishDone chan struct{}
	gaugeDone   chan struct{}
}

// NewAgentRuntime bootstraps the default adapters (OPC UA collector when an
// endpoint is configured, file WAL, in-memory queues, Timescale or sender
// sink, Prometheus observability). AgentRuntimeOption values override any of
// them.
func NewAgentRuntime(cfg *Config, opts ...AgentRuntimeOption) (*AgentRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	reg := overrides.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	obs := overrides.observability
	if obs == nil {
		logger, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		obs = observability.NewPromObs(reg, logger)
	}

	e := &AgentRuntime{
		cfg:      cfg,
		obs:      obs,
		registry: reg,
		signals:  queue.NewLockedQueue[domain.CollectedSignal](orDefault(cfg.Inspection.SignalQueueLen, 10_000)),
		frames:   queue.NewLockedQueue[*domain.CollectedCANRawFrame](orDefault(cfg.Inspection.FrameQueueLen, 1_000)),
		dtcs:     queue.NewLockedQueue[*domain.DTCInfo](orDefault(cfg.Inspection.DTCQueueLen, 16)),
		output:   queue.NewLockedQueue[*domain.TriggeredCollectionSchemeData](orDefault(cfg.Inspection.OutputQueueLen, 256)),
	}

	worker, err := inspection.NewWorker(
		inspection.Inputs{Signals: e.signals, Frames: e.frames, DTCs: e.dtcs},
		e.output,
		inspection.WorkerConfig{
			Engine: inspection.EngineConfig{
				DataReduction:       cfg.Inspection.DataReduction,
				MaxActiveConditions: cfg.Inspection.MaxActiveConditions,
				MaxSignals:          cfg.Inspection.MaxSignals,
			},
			IdleTime:    cfg.Inspection.IdleTime,
			AliveWindow: cfg.Inspection.AliveWindow,
		},
		obs,
	)
	if err != nil {
		return nil, err
	}
	for _, l := range overrides.listeners {
		worker.Engine().Subscribe(l)
	}
	if overrides.matrix != nil {
		worker.OnChangeInspectionMatrix(overrides.matrix)
	}
	e.worker = worker

	if overrides.wal != nil {
		e.wal = overrides.wal
	} else {
		fw, err := wal.NewFileWAL(cfg.WAL.Dir)
		if err != nil {
			return nil, err
		}
		e.wal = fw
		e.ownedWAL = fw
	}

	if err := e.buildSink(overrides); err != nil {
		_ = e.closeOwned()
		return nil, err
	}

	e.collector = overrides.collector
	if e.collector == nil && cfg.OPCUA.Endpoint != "" {
		col, err := opcua.NewCollector(cfg.OPCUA, obs)
		if err != nil {
			_ = e.closeOwned()
			return nil, err
		}
		e.collector = col
	}

	if cfg.Matrix.Path != "" {
		e.watcher = matrixdoc.NewWatcher(cfg.Matrix.Path, worker, obs)
	}
	return e, nil
}

func (e *AgentRuntime) buildSink(o runtimeOverrides) error {
	if o.sink != nil {
		e.sink = o.sink
		return nil
	}
	switch e.cfg.Publish.Sink {
	case "timescale":
		db, err := sql.Open("postgres", e.cfg.Timescale.ConnString)
		if err != nil {
			return err
		}
		e.db = db
		table := e.cfg.Timescale.Table
		if table == "" {
			table = "collections"
		}
		e.sink = sink.NewTimescaleSink(db, table)
		return nil
	case "", "sender":
		tr := o.transport
		if tr == nil {
			dir := e.cfg.Publish.PayloadDir
			if dir == "" {
				dir = "./data/outbox"
			}
			ft, err := sender.NewFileTransport(dir)
			if err != nil {
				return err
			}
			tr = ft
		}
		s, err := sender.New(tr, sender.Config{
			MaxMessagesPerPayload: e.cfg.Publish.MaxMessagesPerPayload,
			Codec:                 sender.Codec(e.cfg.Publish.Codec),
			Format:                sender.Format(e.cfg.Publish.Format),
		}, e.obs)
		if err != nil {
			return err
		}
		e.sink = s
		return nil
	default:
		return fmt.Errorf("publish.sink %q is not supported", e.cfg.Publish.Sink)
	}
}

// Start launches the inspection worker, the collect and publish pipelines and
// the observability stack. It returns immediately; call Run to block on a
// context instead.
func (e *AgentRuntime) Start() error {
	if e == nil {
		return fmt.Errorf("agent runtime is nil")
	}
	if err := e.worker.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())

	if e.watcher != nil {
		var err error
		if e.cfg.Matrix.Watch {
			err = e.watcher.Start(ctx)
		} else {
			err = e.watcher.Reload()
		}
		if err != nil {
			cancel()
			return errors.Join(err, e.worker.Stop())
		}
	}

	if e.collector != nil {
		done, err := pipeline.RunCollectPipeline(ctx, e.collector, e.signals, e.worker, e.cfg.Publish.Policy, e.obs)
		if err != nil {
			cancel()
			return errors.Join(err, e.worker.Stop())
		}
		e.collectDone = done
	}

	e.publishDone = make(chan struct{})
	go func() {
		pipeline.RunPublishPipeline(ctx, e.output, e.wal, e.sink, e.cfg.Publish.Policy, e.obs)
		close(e.publishDone)
	}()

	e.cancel = cancel
	e.startMetrics(ctx)
	return nil
}

// Run starts the runtime and blocks until the provided context is cancelled.
// Upon cancellation it attempts a graceful shutdown.
func (e *AgentRuntime) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// Shutdown stops the worker first so no new collections are produced, then
// the collector, the publisher (which drains the output queue), the metrics
// server and the owned WAL and DB connection.
func (e *AgentRuntime) Shutdown(ctx context.Context) error {
	var errs []error

	if err := e.worker.Stop(); err != nil {
		errs = append(errs, err)
	}
	if e.cancel != nil {
		e.cancel()
	}
	for _, done := range []<-chan struct{}{e.collectDone, e.publishDone, e.gaugeDone} {
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if e.metricsSrv != nil {
		if err := e.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if err := e.closeOwned(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *AgentRuntime) closeOwned() error {
	var errs []error
	if e.ownedWAL != nil {
		if err := e.ownedWAL.Close(); err != nil {
			errs = append(errs, err)
		}
		e.ownedWAL = nil
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
		e.db = nil
	}
	return errors.Join(errs...)
}

// PushSignal hands a decoded signal to the inspection worker.
func (e *AgentRuntime) PushSignal(s CollectedSignal) error {
	if !e.signals.Push(s) {
		e.obs.IncCounter("aegis_input_dropped_total", 1)
		return ErrQueueFull
	}
	e.worker.NotifyNewData()
	return nil
}

// PushCANFrame hands a raw CAN frame to the inspection worker.
func (e *AgentRuntime) PushCANFrame(f *CollectedCANRawFrame) error {
	if !e.frames.Push(f) {
		e.obs.IncCounter("aegis_input_dropped_total", 1)
		return ErrQueueFull
	}
	e.worker.NotifyNewData()
	return nil
}

// PushDTC replaces the set of active diagnostic trouble codes.
func (e *AgentRuntime) PushDTC(d *DTCInfo) error {
	if !e.dtcs.Push(d) {
		e.obs.IncCounter("aegis_input_dropped_total", 1)
		return ErrQueueFull
	}
	e.worker.NotifyNewData()
	return nil
}

// OnChangeInspectionMatrix stages m for the next inspection pass; nil
// deactivates every condition.
func (e *AgentRuntime) OnChangeInspectionMatrix(m *InspectionMatrix) {
	e.worker.OnChangeInspectionMatrix(m)
}

// Subscribe registers l for inspection events.
func (e *AgentRuntime) Subscribe(l InspectionEventListener) {
	e.worker.Engine().Subscribe(l)
}

// IsAlive reports whether the inspection worker is running and recently
// completed a pass.
func (e *AgentRuntime) IsAlive() bool {
	return e.worker.IsAlive()
}

// Registry exposes the Prometheus registry the default metrics live on.
func (e *AgentRuntime) Registry() *prometheus.Registry { return e.registry }

func (e *AgentRuntime) startMetrics(ctx context.Context) {
	e.gaugeDone = make(chan struct{})
	go e.recordResourceGauges(ctx, time.Second)

	if e.cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", e.healthz)

	e.metricsSrv = &http.Server{
		Addr:              e.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := e.metricsSrv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.obs.LogError("metrics server exited", err)
		}
	}()
}

func (e *AgentRuntime) healthz(w http.ResponseWriter, _ *http.Request) {
	if !e.IsAlive() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("inspection worker stalled"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e *AgentRuntime) recordResourceGauges(ctx context.Context, interval time.Duration) {
	defer close(e.gaugeDone)

	cpuDone := make(chan struct{})
	go func() {
		defer close(cpuDone)
		observability.NewCPUReporter(e.obs).Run(ctx, interval)
	}()
	defer func() { <-cpuDone }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.obs.SetGauge("aegis_wal_size_bytes", float64(e.wal.Stats().SizeBytes))
			e.obs.SetGauge("aegis_queue_length", float64(e.signals.Len()))
			e.obs.SetGauge("aegis_output_queue_length", float64(e.output.Len()))
		}
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
