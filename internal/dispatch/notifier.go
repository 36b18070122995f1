package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/tagalong/internal/events"
	"github.com/example/tagalong/internal/models"
)

// ActivityGetter is the slice of the store the notifier needs to resolve
// recipients when an event does not carry its member list.
type ActivityGetter interface {
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
}

// Notifier fans lifecycle events out to every member: websocket first, push
// gateway as fallback for users without a session.
type Notifier struct {
	reg  *Registry
	acts ActivityGetter
	push *Push // optional
	log  *slog.Logger
}

func NewNotifier(reg *Registry, acts ActivityGetter, push *Push, log *slog.Logger) *Notifier {
	return &Notifier{reg: reg, acts: acts, push: push, log: log}
}

// Watch subscribes the notifier to the bus; callers own the unsubscribe.
func (n *Notifier) Watch(bus *events.Bus) func() {
	return bus.SubscribeAll(n.fanOut)
}

func (n *Notifier) fanOut(e events.Event) {
	members := e.Members
	if len(members) == 0 && e.ActivityID != "" {
		// Teardown events carry the cleared set; everything else is
		// resolved against the live record.
		a, err := n.acts.GetActivity(context.Background(), e.ActivityID)
		if err != nil {
			return
		}
		members = a.ParticipantIDs
	}
	for _, id := range members {
		if err := n.reg.Send(id, e); err == nil {
			continue
		}
		if n.push != nil {
			if err := n.push.Notify(id, e); err != nil {
				n.log.Debug("push notify failed", "user_id", id, "error", err)
			}
		}
	}
}
