package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

const defaultRetryInterval = time.Second

// ErrWALFull is recorded with collections that could not be spooled because
// the WAL reached its size limit.
var ErrWALFull = errors.New("pipeline: wal full")

var errBatchFull = errors.New("batch full")

// Publisher moves triggered collections from the inspection output queue to
// a sink. Collections the sink rejects are spooled to the WAL when their
// scheme asks for persistence and replayed once the sink recovers; the rest
// go to the DLQ.
type Publisher struct {
	out  ports.Queue[*domain.TriggeredCollectionSchemeData]
	wal  ports.WAL
	sink ports.Sink
	pol  ports.Policy
	obs  ports.Observability

	nextReplay time.Time
}

// NewPublisher builds a publisher. wal may be nil, in which case failed
// collections are never spooled.
func NewPublisher(out ports.Queue[*domain.TriggeredCollectionSchemeData], wal ports.WAL, sink ports.Sink, pol ports.Policy, obs ports.Observability) *Publisher {
	if pol.IdleSleep <= 0 {
		pol.IdleSleep = defaultIdleSleep
	}
	if pol.RetryInterval <= 0 {
		pol.RetryInterval = defaultRetryInterval
	}
	return &Publisher{out: out, wal: wal, sink: sink, pol: pol, obs: obs}
}

// RunPublishPipeline publishes until ctx is done and then drains whatever is
// left in the output queue.
func RunPublishPipeline(ctx context.Context, out ports.Queue[*domain.TriggeredCollectionSchemeData], wal ports.WAL, sink ports.Sink, pol ports.Policy, obs ports.Observability) {
	NewPublisher(out, wal, sink, pol, obs).Run(ctx)
}

func (p *Publisher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			for p.PublishOnce(ctx) > 0 {
			}
			return
		}
		if n := p.PublishOnce(ctx); n > 0 {
			continue
		}
		if _, err := p.Replay(); err != nil {
			p.obs.LogError("wal_replay_failed", err)
		}
		sleepCtx(ctx, p.pol.IdleSleep)
	}
}

// PublishOnce writes one batch from the output queue and returns how many
// collections it took off the queue.
func (p *Publisher) PublishOnce(ctx context.Context) int {
	batch := p.dequeue()
	p.obs.SetGauge("aegis_output_queue_length", float64(p.out.Len()))
	if len(batch) == 0 {
		return 0
	}

	start := time.Now()
	if err := p.sink.WriteBatch(batch); err != nil {
		p.obs.LogError("sink_write_failed", err,
			ports.Field{Key: "sink", Value: p.sink.Name()},
			ports.Field{Key: "batch", Value: len(batch)},
		)
		p.nextReplay = time.Now().Add(p.pol.RetryInterval)
		failed := failedItems(batch, err)
		if n := len(batch) - len(failed); n > 0 {
			p.obs.IncCounter("aegis_collections_published_total", float64(n))
		}
		p.spool(ctx, failed, err)
		return len(batch)
	}
	p.obs.ObserveLatency("aegis_publish_latency_seconds", time.Since(start).Seconds())
	p.obs.IncCounter("aegis_collections_published_total", float64(len(batch)))
	return len(batch)
}

// failedItems returns the collections of batch that err reports as not
// delivered: the listed ones for a *ports.BatchError, all of them otherwise.
func failedItems(batch []*domain.TriggeredCollectionSchemeData, err error) []*domain.TriggeredCollectionSchemeData {
	var be *ports.BatchError
	if !errors.As(err, &be) {
		return batch
	}
	out := make([]*domain.TriggeredCollectionSchemeData, 0, len(be.Failed))
	for _, i := range be.Failed {
		if i >= 0 && i < len(batch) {
			out = append(out, batch[i])
		}
	}
	return out
}

type batchQueue interface {
	DequeueBatch(max int) []*domain.TriggeredCollectionSchemeData
}

func (p *Publisher) dequeue() []*domain.TriggeredCollectionSchemeData {
	if bq, ok := p.out.(batchQueue); ok {
		return bq.DequeueBatch(p.pol.MaxBatchSize)
	}
	var batch []*domain.TriggeredCollectionSchemeData
	for p.pol.MaxBatchSize <= 0 || len(batch) < p.pol.MaxBatchSize {
		d, ok := p.out.Pop()
		if !ok {
			break
		}
		batch = append(batch, d)
	}
	return batch
}

func (p *Publisher) spool(ctx context.Context, batch []*domain.TriggeredCollectionSchemeData, cause error) {
	for _, d := range batch {
		if p.wal == nil || !d.Metadata.Persist {
			p.obs.RecordDLQ(0, d, cause)
			continue
		}
		if !waitForWALCapacity(ctx, p.wal, p.pol, p.obs) {
			p.obs.RecordDLQ(0, d, errors.Join(cause, ErrWALFull))
			continue
		}
		id, err := p.wal.Append(d)
		if err != nil {
			p.obs.LogCritical("wal_append_failed", err)
			p.obs.RecordDLQ(0, d, errors.Join(cause, err))
			continue
		}
		p.obs.LogInfo("collection spooled",
			ports.Field{Key: "wal_id", Value: uint64(id)},
			ports.Field{Key: "event_id", Value: uint32(d.EventID)},
		)
	}
	if p.wal != nil {
		p.obs.SetGauge("aegis_wal_size_bytes", float64(p.wal.Stats().SizeBytes))
	}
}

// Replay resends one batch of spooled collections, oldest first, and commits
// them on success. It is a no-op while the retry interval after a failure
// has not elapsed.
func (p *Publisher) Replay() (int, error) {
	if p.wal == nil {
		return 0, nil
	}
	stats := p.wal.Stats()
	p.obs.SetGauge("aegis_wal_size_bytes", float64(stats.SizeBytes))
	if stats.LatestAppended < stats.OldestUncommitted || time.Now().Before(p.nextReplay) {
		return 0, nil
	}

	var (
		batch []*domain.TriggeredCollectionSchemeData
		ids   []ports.WALEntryID
	)
	err := p.wal.Iterate(stats.OldestUncommitted, func(id ports.WALEntryID, d *domain.TriggeredCollectionSchemeData) error {
		batch = append(batch, d)
		ids = append(ids, id)
		if p.pol.MaxBatchSize > 0 && len(batch) >= p.pol.MaxBatchSize {
			return errBatchFull
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := p.sink.WriteBatch(batch); err != nil {
		p.nextReplay = time.Now().Add(p.pol.RetryInterval)
		// Commits are a prefix, so only entries before the first failure
		// can be released.
		var be *ports.BatchError
		if errors.As(err, &be) && len(be.Failed) > 0 && be.Failed[0] > 0 && be.Failed[0] <= len(ids) {
			return p.commitReplayed(ids[be.Failed[0]-1], be.Failed[0], err)
		}
		return 0, err
	}
	return p.commitReplayed(ids[len(ids)-1], len(batch), nil)
}

func (p *Publisher) commitReplayed(last ports.WALEntryID, n int, cause error) (int, error) {
	if err := p.wal.Commit(last); err != nil {
		return n, err
	}
	if err := p.wal.TruncateCommitted(); err != nil {
		return n, err
	}
	p.obs.IncCounter("aegis_wal_replayed_total", float64(n))
	p.obs.SetGauge("aegis_wal_size_bytes", float64(p.wal.Stats().SizeBytes))
	return n, cause
}
