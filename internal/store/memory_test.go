package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/tagalong/internal/models"
)

func seedUsers(t *testing.T, m *MemoryStore, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		if err := m.PutUser(ctx, &models.User{ID: id, Name: id}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

func seedActivity(t *testing.T, m *MemoryStore, id, host string, limit int) {
	t.Helper()
	a := &models.Activity{
		ID:             id,
		Title:          "test",
		HostUserID:     host,
		ParticipantIDs: []string{host},
		Limit:          limit,
		Timeout:        time.Now().Add(time.Hour),
	}
	if err := m.CreateActivity(context.Background(), a); err != nil {
		t.Fatalf("seed activity: %v", err)
	}
	if err := m.SetUserGroup(context.Background(), host, id, true); err != nil {
		t.Fatalf("seed host pointers: %v", err)
	}
}

func TestJoinEnforcesCapacityUnderConcurrency(t *testing.T) {
	m := NewMemoryStore()
	seedUsers(t, m, "h")
	seedActivity(t, m, "a1", "h", 3)

	const joiners = 20
	ids := make([]string, joiners)
	for i := range ids {
		ids[i] = string(rune('A' + i))
		seedUsers(t, m, ids[i])
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.Join(context.Background(), "a1", id)
		}(id)
	}
	wg.Wait()

	a, err := m.GetActivity(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.ParticipantIDs) != 3 {
		t.Fatalf("capacity breached: %d participants for limit 3", len(a.ParticipantIDs))
	}
	// everyone not in the set must have a clear pointer
	for _, id := range ids {
		u, err := m.GetUser(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if a.HasParticipant(id) != (u.JoinedGroupID != nil) {
			t.Fatalf("user %s pointer inconsistent with participant set", id)
		}
	}
}

func TestJoinErrors(t *testing.T) {
	m := NewMemoryStore()
	seedUsers(t, m, "h", "u1")
	seedActivity(t, m, "a1", "h", 5)
	ctx := context.Background()

	if err := m.Join(ctx, "missing", "u1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Join(ctx, "a1", "u1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := m.Join(ctx, "a1", "u1"); err != nil {
		t.Fatalf("rejoin by member should be a no-op, got %v", err)
	}
	if err := m.Join(ctx, "a1", "h"); err != nil {
		t.Fatalf("host is already a member, expected no-op, got %v", err)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	seedUsers(t, m, "h", "u1")
	seedActivity(t, m, "a1", "h", 5)
	ctx := context.Background()

	if err := m.Leave(ctx, "a1", "u1"); err != nil {
		t.Fatalf("leave by non-member: %v", err)
	}
	if err := m.Join(ctx, "a1", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Leave(ctx, "a1", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Leave(ctx, "a1", "u1"); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	u, _ := m.GetUser(ctx, "u1")
	if u.JoinedGroupID != nil {
		t.Fatal("pointer not cleared after leave")
	}
}

func TestTeardownClearsEveryPointer(t *testing.T) {
	m := NewMemoryStore()
	seedUsers(t, m, "h", "u1", "u2")
	seedActivity(t, m, "a1", "h", 5)
	ctx := context.Background()
	if err := m.Join(ctx, "a1", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Join(ctx, "a1", "u2"); err != nil {
		t.Fatal(err)
	}

	cleared, err := m.Teardown(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cleared) != 3 {
		t.Fatalf("expected 3 cleared members, got %v", cleared)
	}
	if _, err := m.GetActivity(ctx, "a1"); err != ErrNotFound {
		t.Fatalf("activity should be gone, got %v", err)
	}
	for _, id := range []string{"h", "u1", "u2"} {
		u, _ := m.GetUser(ctx, id)
		if u.JoinedGroupID != nil || u.ActiveActivityID != nil {
			t.Fatalf("user %s still points at torn-down activity", id)
		}
	}

	if _, err := m.Teardown(ctx, "a1"); err != ErrNotFound {
		t.Fatalf("second teardown should report ErrNotFound, got %v", err)
	}
}

func TestSetCheckedOut(t *testing.T) {
	m := NewMemoryStore()
	seedUsers(t, m, "h", "u1")
	seedActivity(t, m, "a1", "h", 5)
	ctx := context.Background()
	if err := m.Join(ctx, "a1", "u1"); err != nil {
		t.Fatal(err)
	}

	a, err := m.SetCheckedOut(ctx, "a1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !a.CheckedOut["u1"] {
		t.Fatal("flag not set")
	}
	if _, err := m.SetCheckedOut(ctx, "missing", "u1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
