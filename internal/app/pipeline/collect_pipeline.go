package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

const defaultIdleSleep = 5 * time.Millisecond

// RunCollectPipeline starts col and forwards its signals into the inspection
// input queue, waking the worker after every push. The collector is stopped
// when ctx is done; the returned channel is closed once it has stopped.
func RunCollectPipeline(ctx context.Context, col ports.Collector, in ports.Queue[domain.CollectedSignal], wake ports.DataAvailableNotifier, pol ports.Policy, obs ports.Observability) (<-chan struct{}, error) {
	ch := make(chan domain.CollectedSignal, pol.MaxQueueLen)

	if err := col.Start(ch); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				if err := col.Stop(); err != nil {
					obs.LogError("collector_stop_failed", err)
				}
				return
			case s := <-ch:
				if !enqueueWithPolicy(ctx, in, s, wake, pol, obs) {
					obs.IncCounter("aegis_input_dropped_total", 1)
				}
				wake.NotifyNewData()
				obs.SetGauge("aegis_queue_length", float64(in.Len()))
			}
		}
	}()

	return done, nil
}

func waitForWALCapacity(ctx context.Context, wal ports.WAL, pol ports.Policy, obs ports.Observability) bool {
	if pol.MaxWALSizeBytes <= 0 {
		return true
	}
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdleSleep
	}

	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return true
		}

		switch pol.OnWALFull {
		case "block":
			if !sleepCtx(ctx, sleep) {
				return false
			}
		case "drop":
			obs.LogError("wal_full_drop", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, pol.MaxWALSizeBytes))
			return false
		default:
			obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", pol.OnWALFull))
			return false
		}
	}
}

// enqueueWithPolicy pushes s into q. Under the "block" policy it keeps
// waking the consumer and retrying until there is room or ctx is done.
func enqueueWithPolicy[T any](ctx context.Context, q ports.Queue[T], s T, wake ports.DataAvailableNotifier, pol ports.Policy, obs ports.Observability) bool {
	sleep := pol.IdleSleep
	if sleep <= 0 {
		sleep = defaultIdleSleep
	}

	for {
		if ok := q.Push(s); ok {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			if wake != nil {
				wake.NotifyNewData()
			}
			if !sleepCtx(ctx, sleep) {
				return false
			}
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length exceeded capacity %d", pol.MaxQueueLen))
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
