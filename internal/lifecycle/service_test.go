package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/tagalong/internal/events"
	"github.com/example/tagalong/internal/models"
	"github.com/example/tagalong/internal/store"
)

var fixedNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *events.Bus) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := events.NewBus()
	svc := New(st, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return fixedNow }
	return svc, st, bus
}

func putUser(t *testing.T, st *store.MemoryStore, id string) {
	t.Helper()
	require.NoError(t, st.PutUser(context.Background(), &models.User{ID: id, Name: id}))
}

func TestCreateValidation(t *testing.T) {
	svc, st, _ := newTestService(t)
	putUser(t, st, "h")
	ctx := context.Background()

	cases := []CreateInput{
		{Title: "", Limit: 3, DurationMinutes: 20},
		{Title: "Study", Limit: 0, DurationMinutes: 20},
		{Title: "Study", Limit: -1, DurationMinutes: 20},
		{Title: "Study", Limit: 3, DurationMinutes: 0},
	}
	for _, in := range cases {
		_, err := svc.Create(ctx, "h", in)
		require.ErrorIs(t, err, ErrValidation)
	}

	// nothing was persisted and the host is untouched
	u, err := st.GetUser(ctx, "h")
	require.NoError(t, err)
	require.False(t, u.InGroup())
}

func TestCreateSetsHostMembership(t *testing.T) {
	svc, st, _ := newTestService(t)
	putUser(t, st, "h")
	ctx := context.Background()

	a, err := svc.Create(ctx, "h", CreateInput{
		Title:           "Grocery Run",
		Limit:           5,
		DurationMinutes: 30,
		MeetingPoint:    models.Coord{Lat: 33.6419, Lon: -117.9195},
	})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.Equal(t, []string{"h"}, a.ParticipantIDs)
	require.Equal(t, fixedNow.Add(30*time.Minute), a.Timeout)
	require.Nil(t, a.CheckedOut)

	u, err := st.GetUser(ctx, "h")
	require.NoError(t, err)
	require.NotNil(t, u.ActiveActivityID)
	require.NotNil(t, u.JoinedGroupID)
	require.Equal(t, *u.ActiveActivityID, *u.JoinedGroupID)
	require.Equal(t, a.ID, *u.JoinedGroupID)
}

func TestCreateVerifiedExitEnablesCheckout(t *testing.T) {
	svc, st, _ := newTestService(t)
	putUser(t, st, "h")

	a, err := svc.Create(context.Background(), "h", CreateInput{
		Title: "Hike", Limit: 4, DurationMinutes: 60, VerifiedExit: true,
	})
	require.NoError(t, err)
	require.NotNil(t, a.CheckedOut)
	require.Empty(t, a.CheckedOut)
}

func TestCreateWhileInGroupFails(t *testing.T) {
	svc, st, _ := newTestService(t)
	putUser(t, st, "h")
	ctx := context.Background()

	_, err := svc.Create(ctx, "h", CreateInput{Title: "First", Limit: 3, DurationMinutes: 20})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "h", CreateInput{Title: "Second", Limit: 3, DurationMinutes: 20})
	require.ErrorIs(t, err, ErrAlreadyInGroup)
}

func TestStudyScenario(t *testing.T) {
	// H creates "Study" (limit 2), A joins, A leaves, H ends.
	svc, st, _ := newTestService(t)
	putUser(t, st, "H")
	putUser(t, st, "A")
	ctx := context.Background()

	a, err := svc.Create(ctx, "H", CreateInput{Title: "Study", Limit: 2, DurationMinutes: 20})
	require.NoError(t, err)

	require.NoError(t, svc.Join(ctx, "A", a.ID))
	got, err := st.GetActivity(ctx, a.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"H", "A"}, got.ParticipantIDs)
	uA, _ := st.GetUser(ctx, "A")
	require.NotNil(t, uA.JoinedGroupID)
	require.Equal(t, a.ID, *uA.JoinedGroupID)

	require.NoError(t, svc.Leave(ctx, "A", a.ID))
	got, err = st.GetActivity(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"H"}, got.ParticipantIDs)
	uA, _ = st.GetUser(ctx, "A")
	require.Nil(t, uA.JoinedGroupID)

	require.NoError(t, svc.End(ctx, "H", a.ID))
	_, err = st.GetActivity(ctx, a.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	uH, _ := st.GetUser(ctx, "H")
	require.Nil(t, uH.ActiveActivityID)
	require.Nil(t, uH.JoinedGroupID)
}

func TestJoinPreconditions(t *testing.T) {
	svc, st, _ := newTestService(t)
	putUser(t, st, "H")
	putUser(t, st, "A")
	putUser(t, st, "B")
	ctx := context.Background()

	a, err := svc.Create(ctx, "H", CreateInput{Title: "Lunch", Limit: 2, DurationMinutes: 20})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Join(ctx, "A", "no-such-activity"), ErrNotFound)

	require.NoError(t, svc.Join(ctx, "A", a.ID))
	require.ErrorIs(t, svc.Join(ctx, "A", a.ID), ErrAlreadyInGroup)

	// limit 2 is exhausted by H+A
	require.ErrorIs(t, svc.Join(ctx, "B", a.ID), ErrActivityFull)

	// a host cannot join someone else's activity either
	_, err = svc.Create(ctx, "B", CreateInput{Title: "Other", Limit: 3, DurationMinutes: 20})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Join(ctx, "B", a.ID), ErrAlreadyInGroup)

	require.ErrorIs(t, svc.Join(ctx, "nobody", a.ID), ErrUnknownUser)
}

func TestLeaveRules(t *testing.T) {
	svc, st, _ := newTestService(t)
	putUser(t, st, "H")
	putUser(t, st, "A")
	ctx := context.Background()

	a, err := svc.Create(ctx, "H", CreateInput{Title: "Walk", Limit: 3, DurationMinutes: 20})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Leave(ctx, "H", a.ID), ErrHostCannotLeave)

	// leaving without being a member is a no-op success
	require.NoError(t, svc.Leave(ctx, "A", a.ID))
	got, err := st.GetActivity(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"H"}, got.ParticipantIDs)
}

func TestLeaveClearsDanglingPointer(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	ghost := "ghost-activity"
	require.NoError(t, st.PutUser(ctx, &models.User{ID: "A", JoinedGroupID: &ghost}))

	require.NoError(t, svc.Leave(ctx, "A", ghost))
	u, err := st.GetUser(ctx, "A")
	require.NoError(t, err)
	require.Nil(t, u.JoinedGroupID)
}

func TestEndAuthorization(t *testing.T) {
	svc, st, _ := newTestService(t)
	putUser(t, st, "H")
	putUser(t, st, "A")
	ctx := context.Background()

	a, err := svc.Create(ctx, "H", CreateInput{Title: "Game", Limit: 3, DurationMinutes: 20})
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, "A", a.ID))

	require.ErrorIs(t, svc.End(ctx, "A", a.ID), ErrNotHost)
	require.ErrorIs(t, svc.End(ctx, "H", "missing"), ErrNotFound)
	require.NoError(t, svc.End(ctx, "H", a.ID))
}

func TestTeardownPublishesEndedEvent(t *testing.T) {
	svc, st, bus := newTestService(t)
	putUser(t, st, "H")
	putUser(t, st, "A")
	ctx := context.Background()

	var got []events.Event
	unsub := bus.Subscribe(events.ActivityEnded, func(e events.Event) { got = append(got, e) })
	defer unsub()

	a, err := svc.Create(ctx, "H", CreateInput{Title: "Game", Limit: 3, DurationMinutes: 20})
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, "A", a.ID))
	require.NoError(t, svc.End(ctx, "H", a.ID))

	require.Len(t, got, 1)
	require.Equal(t, a.ID, got[0].ActivityID)
	require.Equal(t, events.ReasonHostEnded, got[0].Reason)
	require.ElementsMatch(t, []string{"H", "A"}, got[0].Members)

	// tearing down an already-deleted activity is benign
	require.NoError(t, svc.Teardown(ctx, a.ID, events.ReasonExpired))
	require.Len(t, got, 1)
}
