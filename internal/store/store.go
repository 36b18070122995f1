package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/tagalong/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrActivityFull   = errors.New("activity full")
	ErrAlreadyInGroup = errors.New("already in a group")
)

// UserStore holds registry records and their membership pointers.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	PutUser(ctx context.Context, u *models.User) error
	// SetUserGroup points the user at an activity. Hosts get both pointers.
	SetUserGroup(ctx context.Context, userID, activityID string, hosting bool) error
	// ClearUserGroup clears the joined pointer only (the leave path).
	ClearUserGroup(ctx context.Context, userID string) error
}

// ActivityStore holds activity records. The composite operations mutate the
// participant set and the corresponding user pointer as one unit; backends
// make that as atomic as their substrate allows (the memory store under one
// lock, Postgres in one transaction).
type ActivityStore interface {
	CreateActivity(ctx context.Context, a *models.Activity) error
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
	ListActivities(ctx context.Context) ([]models.Activity, error)
	ExpiredActivities(ctx context.Context, now time.Time) ([]models.Activity, error)

	// Join adds userID to the participant set and sets their joined pointer.
	// Capacity is checked under the same lock/transaction as the append.
	Join(ctx context.Context, activityID, userID string) error
	// Leave removes userID and clears their joined pointer. Removing a
	// non-member is a no-op.
	Leave(ctx context.Context, activityID, userID string) error
	// SetCheckedOut flips one participant's flag and returns the updated
	// record so callers can re-evaluate the dissolution predicate.
	SetCheckedOut(ctx context.Context, activityID, userID string) (*models.Activity, error)
	// Teardown clears every member's pointers and deletes the activity,
	// returning the ids whose pointers were cleared.
	Teardown(ctx context.Context, activityID string) ([]string, error)
}

// Store is the document store the protocol runs against.
type Store interface {
	UserStore
	ActivityStore
}
