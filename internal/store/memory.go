package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/tagalong/internal/models"
)

// MemoryStore keeps both collections behind one mutex, so every composite
// operation is fully atomic. Used for local runs and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	activities map[string]*models.Activity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*models.User),
		activities: make(map[string]*models.Activity),
	}
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *MemoryStore) PutUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := copyUser(u)
	cp.Updated = time.Now()
	m.users[u.ID] = cp
	return nil
}

func (m *MemoryStore) SetUserGroup(ctx context.Context, userID, activityID string, hosting bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	id := activityID
	u.JoinedGroupID = &id
	if hosting {
		u.ActiveActivityID = &id
	}
	return nil
}

func (m *MemoryStore) ClearUserGroup(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.JoinedGroupID = nil
	return nil
}

func (m *MemoryStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities[a.ID] = copyActivity(a)
	return nil
}

func (m *MemoryStore) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyActivity(a), nil
}

func (m *MemoryStore) ListActivities(ctx context.Context) ([]models.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Activity, 0, len(m.activities))
	for _, a := range m.activities {
		out = append(out, *copyActivity(a))
	}
	return out, nil
}

func (m *MemoryStore) ExpiredActivities(ctx context.Context, now time.Time) ([]models.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Activity
	for _, a := range m.activities {
		if a.Expired(now) {
			out = append(out, *copyActivity(a))
		}
	}
	return out, nil
}

func (m *MemoryStore) Join(ctx context.Context, activityID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[activityID]
	if !ok {
		return ErrNotFound
	}
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if a.HasParticipant(userID) {
		if u.JoinedGroupID == nil {
			id := activityID
			u.JoinedGroupID = &id
		}
		return nil
	}
	if u.JoinedGroupID != nil || u.ActiveActivityID != nil {
		return ErrAlreadyInGroup
	}
	if len(a.ParticipantIDs) >= a.Limit {
		return ErrActivityFull
	}
	a.ParticipantIDs = append(a.ParticipantIDs, userID)
	id := activityID
	u.JoinedGroupID = &id
	return nil
}

func (m *MemoryStore) Leave(ctx context.Context, activityID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.activities[activityID]; ok {
		for i, p := range a.ParticipantIDs {
			if p == userID {
				a.ParticipantIDs = append(a.ParticipantIDs[:i], a.ParticipantIDs[i+1:]...)
				break
			}
		}
		delete(a.CheckedOut, userID)
	}
	if u, ok := m.users[userID]; ok {
		if u.JoinedGroupID != nil && *u.JoinedGroupID == activityID {
			u.JoinedGroupID = nil
		}
	}
	return nil
}

func (m *MemoryStore) SetCheckedOut(ctx context.Context, activityID, userID string) (*models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[activityID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.CheckedOut == nil {
		a.CheckedOut = make(map[string]bool)
	}
	a.CheckedOut[userID] = true
	return copyActivity(a), nil
}

func (m *MemoryStore) Teardown(ctx context.Context, activityID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[activityID]
	if !ok {
		return nil, ErrNotFound
	}
	cleared := make([]string, 0, len(a.ParticipantIDs))
	for _, id := range a.ParticipantIDs {
		cleared = append(cleared, id)
	}
	// Sweep stragglers whose pointers reference this activity but who are
	// missing from the participant set; nobody may keep pointing at a
	// deleted record.
	for id, u := range m.users {
		pointsHere := (u.JoinedGroupID != nil && *u.JoinedGroupID == activityID) ||
			(u.ActiveActivityID != nil && *u.ActiveActivityID == activityID)
		if !pointsHere {
			continue
		}
		u.JoinedGroupID = nil
		u.ActiveActivityID = nil
		if !a.HasParticipant(id) {
			cleared = append(cleared, id)
		}
	}
	for _, id := range a.ParticipantIDs {
		if u, ok := m.users[id]; ok {
			u.JoinedGroupID = nil
			u.ActiveActivityID = nil
		}
	}
	delete(m.activities, activityID)
	return cleared, nil
}

func copyUser(u *models.User) *models.User {
	cp := *u
	if u.JoinedGroupID != nil {
		id := *u.JoinedGroupID
		cp.JoinedGroupID = &id
	}
	if u.ActiveActivityID != nil {
		id := *u.ActiveActivityID
		cp.ActiveActivityID = &id
	}
	cp.Hobbies = append([]string(nil), u.Hobbies...)
	return &cp
}

func copyActivity(a *models.Activity) *models.Activity {
	cp := *a
	cp.ParticipantIDs = append([]string(nil), a.ParticipantIDs...)
	if a.CheckedOut != nil {
		cp.CheckedOut = make(map[string]bool, len(a.CheckedOut))
		for k, v := range a.CheckedOut {
			cp.CheckedOut[k] = v
		}
	}
	return &cp
}
