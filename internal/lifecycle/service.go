// Package lifecycle implements the activity membership protocol: create,
// join, leave, end, and the shared teardown path that expiry and checkout
// completion also run through.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/tagalong/internal/events"
	"github.com/example/tagalong/internal/models"
	"github.com/example/tagalong/internal/observability"
	"github.com/example/tagalong/internal/store"
	"github.com/example/tagalong/internal/timeutil"
)

var (
	ErrValidation      = errors.New("title, limit and duration must be set")
	ErrAlreadyInGroup  = errors.New("you're already in a group")
	ErrActivityFull    = errors.New("activity is full")
	ErrNotFound        = errors.New("activity not found")
	ErrNotHost         = errors.New("only the host can end the activity")
	ErrHostCannotLeave = errors.New("hosts end the activity instead of leaving")
	ErrUnknownUser     = errors.New("unknown user")
)

type Service struct {
	store store.Store
	bus   *events.Bus
	log   *slog.Logger
	now   func() time.Time
}

func New(st store.Store, bus *events.Bus, log *slog.Logger) *Service {
	return &Service{store: st, bus: bus, log: log, now: time.Now}
}

// CreateInput carries the host's form fields. VerifiedExit opts the activity
// into the checkout sub-protocol.
type CreateInput struct {
	Title           string       `json:"title"`
	Limit           int          `json:"limit"`
	DurationMinutes int          `json:"duration_minutes"`
	MeetingPoint    models.Coord `json:"meeting_point"`
	VerifiedExit    bool         `json:"verified_exit"`
}

// Create allocates a fresh activity with the host as its only participant.
// The activity record is persisted before the host's membership pointers so
// no reader can observe a pointer at a nonexistent record.
func (s *Service) Create(ctx context.Context, hostID string, in CreateInput) (*models.Activity, error) {
	if in.Title == "" || in.Limit <= 0 || in.DurationMinutes <= 0 {
		return nil, ErrValidation
	}
	host, err := s.store.GetUser(ctx, hostID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("load host: %w", err)
	}
	if host.InGroup() {
		return nil, ErrAlreadyInGroup
	}

	now := s.now()
	a := &models.Activity{
		ID:             uuid.NewString(),
		Title:          in.Title,
		HostUserID:     hostID,
		ParticipantIDs: []string{hostID},
		Limit:          in.Limit,
		Timeout:        now.Add(time.Duration(in.DurationMinutes) * time.Minute),
		MeetingPoint:   in.MeetingPoint,
		CreatedAt:      now,
	}
	if in.VerifiedExit {
		a.CheckedOut = map[string]bool{}
	}

	if err := s.store.CreateActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("persist activity: %w", err)
	}
	if err := s.store.SetUserGroup(ctx, hostID, a.ID, true); err != nil {
		// The activity exists but the host pointer write failed. Log for
		// reconciliation; the expiry monitor will reap the orphan.
		s.log.Error("host pointer update failed after create",
			"activity_id", a.ID, "host_id", hostID, "error", err)
		return nil, fmt.Errorf("update host membership: %w", err)
	}

	observability.ActivitiesCreated.Inc()
	s.bus.Publish(events.Event{
		Type:       events.ActivityCreated,
		ActivityID: a.ID,
		UserID:     hostID,
		Members:    append([]string(nil), a.ParticipantIDs...),
	})
	s.log.Info("activity created", "activity_id", a.ID, "host_id", hostID,
		"limit", a.Limit, "timeout", a.Timeout)
	return a, nil
}

// Join adds the user to the activity's participant set. Capacity and the
// single-group invariant are both enforced inside the store's atomic join.
func (s *Service) Join(ctx context.Context, userID, activityID string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownUser
		}
		return fmt.Errorf("load user: %w", err)
	}
	if u.InGroup() {
		return ErrAlreadyInGroup
	}

	if err := s.store.Join(ctx, activityID, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return ErrNotFound
		case errors.Is(err, store.ErrActivityFull):
			return ErrActivityFull
		case errors.Is(err, store.ErrAlreadyInGroup):
			return ErrAlreadyInGroup
		}
		return fmt.Errorf("join activity: %w", err)
	}

	observability.JoinsTotal.Inc()
	s.bus.Publish(events.Event{
		Type:       events.ParticipantJoined,
		ActivityID: activityID,
		UserID:     userID,
	})
	s.log.Info("participant joined", "activity_id", activityID, "user_id", userID)
	return nil
}

// Leave removes a non-host participant. Leaving an activity you are not a
// member of, or one that is already gone, is a no-op success.
func (s *Service) Leave(ctx context.Context, userID, activityID string) error {
	a, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The record is gone; make sure the user is not left
			// pointing at it.
			if err := s.store.ClearUserGroup(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("clear membership: %w", err)
			}
			return nil
		}
		return fmt.Errorf("load activity: %w", err)
	}
	if a.HostUserID == userID {
		return ErrHostCannotLeave
	}

	if err := s.store.Leave(ctx, activityID, userID); err != nil {
		return fmt.Errorf("leave activity: %w", err)
	}

	observability.LeavesTotal.Inc()
	s.bus.Publish(events.Event{
		Type:       events.ParticipantLeft,
		ActivityID: activityID,
		UserID:     userID,
	})
	s.log.Info("participant left", "activity_id", activityID, "user_id", userID)
	return nil
}

// End is the host-authoritative termination. Unlike the mobile reference,
// host identity is verified here, not just gated in the UI.
func (s *Service) End(ctx context.Context, callerID, activityID string) error {
	a, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load activity: %w", err)
	}
	if a.HostUserID != callerID {
		return ErrNotHost
	}
	return s.Teardown(ctx, activityID, events.ReasonHostEnded)
}

// Teardown is the canonical termination path: clear every member's pointers,
// delete the record, announce the end. Expiry and checkout completion call it
// directly, bypassing host authorization. An already-deleted activity is
// benign.
func (s *Service) Teardown(ctx context.Context, activityID, reason string) error {
	cleared, err := s.store.Teardown(ctx, activityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("teardown %s: %w", activityID, err)
	}

	observability.ActivitiesEnded.WithLabelValues(reason).Inc()
	s.bus.Publish(events.Event{
		Type:       events.ActivityEnded,
		ActivityID: activityID,
		Members:    cleared,
		Reason:     reason,
	})
	s.log.Info("activity ended", "activity_id", activityID, "reason", reason,
		"members_cleared", len(cleared))
	return nil
}

// Remaining is the derived countdown value shown next to an activity.
func (s *Service) Remaining(a *models.Activity) (time.Duration, string) {
	now := s.now()
	return timeutil.Remaining(now, a.Timeout), timeutil.FormatRemaining(now, a.Timeout)
}
