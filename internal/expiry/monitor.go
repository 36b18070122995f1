// Package expiry reaps activities whose timeout has passed. It runs on a
// fixed-period ticker and reuses the lifecycle teardown path, so expiry and
// host-initiated end behave identically for every member.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/tagalong/internal/events"
	"github.com/example/tagalong/internal/models"
	"github.com/example/tagalong/internal/observability"
)

// Scanner is the slice of the store the monitor reads.
type Scanner interface {
	ExpiredActivities(ctx context.Context, now time.Time) ([]models.Activity, error)
}

// Reaper is the teardown entry point, satisfied by lifecycle.Service.
type Reaper interface {
	Teardown(ctx context.Context, activityID, reason string) error
}

type Monitor struct {
	scan     Scanner
	reaper   Reaper
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func New(scan Scanner, reaper Reaper, interval time.Duration, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{scan: scan, reaper: reaper, interval: interval, log: log, now: time.Now}
}

// Start launches the periodic sweep and returns a stop handle. The caller
// owns the handle and must invoke it on teardown; it blocks until the loop
// has exited, so no timer leaks past it.
func (m *Monitor) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(m.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Sweep(ctx)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Sweep runs one scan-and-reap pass. Failures are counted and logged, never
// fatal: whatever could not be deleted this cycle is retried on the next.
func (m *Monitor) Sweep(ctx context.Context) {
	expired, err := m.scan.ExpiredActivities(ctx, m.now())
	if err != nil {
		observability.ExpirySweepErrors.Inc()
		m.log.Error("expiry scan failed", "error", err)
		return
	}
	for _, a := range expired {
		// Teardown treats an activity deleted by another path between
		// scan and delete as a no-op.
		if err := m.reaper.Teardown(ctx, a.ID, events.ReasonExpired); err != nil {
			observability.ExpirySweepErrors.Inc()
			m.log.Error("expiry teardown failed", "activity_id", a.ID, "error", err)
			continue
		}
		m.log.Info("activity expired", "activity_id", a.ID, "timeout", a.Timeout)
	}
}
