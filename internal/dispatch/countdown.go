package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/tagalong/internal/models"
	"github.com/example/tagalong/internal/timeutil"
)

// ActivityLister is the slice of the store the countdown reads each tick.
type ActivityLister interface {
	ListActivities(ctx context.Context) ([]models.Activity, error)
}

// CountdownMessage is pushed to every connected member once per tick so
// clients can render the remaining time without their own clock math.
type CountdownMessage struct {
	Type             string `json:"type"`
	ActivityID       string `json:"activity_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Remaining        string `json:"remaining"`
}

// Countdown broadcasts per-activity time-remaining updates at a fixed period
// (default one second).
type Countdown struct {
	reg      *Registry
	acts     ActivityLister
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewCountdown(reg *Registry, acts ActivityLister, interval time.Duration, log *slog.Logger) *Countdown {
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{reg: reg, acts: acts, interval: interval, log: log, now: time.Now}
}

// Start launches the broadcast loop and returns a stop handle that blocks
// until the loop has exited.
func (c *Countdown) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.tick(ctx)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (c *Countdown) tick(ctx context.Context) {
	activities, err := c.acts.ListActivities(ctx)
	if err != nil {
		c.log.Error("countdown list failed", "error", err)
		return
	}
	now := c.now()
	for _, a := range activities {
		msg := CountdownMessage{
			Type:             "countdown",
			ActivityID:       a.ID,
			RemainingSeconds: int(timeutil.Remaining(now, a.Timeout) / time.Second),
			Remaining:        timeutil.FormatRemaining(now, a.Timeout),
		}
		for _, id := range a.ParticipantIDs {
			_ = c.reg.Send(id, msg)
		}
	}
}
