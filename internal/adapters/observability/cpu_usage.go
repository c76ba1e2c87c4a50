package observability

import (
	"context"
	"time"

	"github.com/ghalamif/AegisFleet/internal/ports"
)

// CPUTimes is the cumulative CPU time the process has consumed.
type CPUTimes struct {
	User   time.Duration
	System time.Duration
}

// CPUReporter publishes the agent's CPU consumption as gauges.
type CPUReporter struct {
	obs    ports.Observability
	read   func() (CPUTimes, error)
	last   CPUTimes
	lastAt time.Time
}

// NewCPUReporter reads process CPU times with the platform reader.
func NewCPUReporter(obs ports.Observability) *CPUReporter {
	return &CPUReporter{obs: obs, read: readProcessCPUTimes}
}

// Report samples CPU times at now. The usage ratio covers the period since
// the previous report and may exceed 1 on multi-core machines.
func (r *CPUReporter) Report(now time.Time) error {
	cur, err := r.read()
	if err != nil {
		return err
	}
	r.obs.SetGauge("aegis_cpu_user_seconds", cur.User.Seconds())
	r.obs.SetGauge("aegis_cpu_system_seconds", cur.System.Seconds())
	if !r.lastAt.IsZero() {
		if wall := now.Sub(r.lastAt); wall > 0 {
			used := (cur.User - r.last.User) + (cur.System - r.last.System)
			r.obs.SetGauge("aegis_cpu_usage_ratio", used.Seconds()/wall.Seconds())
		}
	}
	r.last, r.lastAt = cur, now
	return nil
}

// Run reports every interval until ctx is cancelled.
func (r *CPUReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := r.Report(now); err != nil {
				r.obs.LogError("cpu usage report failed", err)
				return
			}
		}
	}
}
