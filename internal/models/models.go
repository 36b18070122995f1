package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// User is a registry record. Location is owned by the position feed and is
// read-only here; the membership pointers are the fields the protocol mutates.
type User struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Major            string    `json:"major,omitempty"`
	Nationality      string    `json:"nationality,omitempty"`
	Hobbies          []string  `json:"hobbies,omitempty"`
	RadiusM          float64   `json:"radius_m,omitempty"`
	Location         Coord     `json:"location"`
	ActiveActivityID *string   `json:"active_activity_id"`
	JoinedGroupID    *string   `json:"joined_group_id"`
	Updated          time.Time `json:"updated"`
}

// InGroup reports whether the user is hosting or has joined an activity.
// Either pointer being set blocks create and join.
func (u *User) InGroup() bool {
	return u.JoinedGroupID != nil || u.ActiveActivityID != nil
}

// Activity is a hosted, time-boxed meetup. The host is always present in
// ParticipantIDs. CheckedOut is nil unless the host opted into verified exit.
type Activity struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	HostUserID     string          `json:"host_user_id"`
	ParticipantIDs []string        `json:"participant_ids"`
	Limit          int             `json:"limit"`
	Timeout        time.Time       `json:"timeout"`
	MeetingPoint   Coord           `json:"meeting_point"`
	CheckedOut     map[string]bool `json:"checked_out,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (a *Activity) HasParticipant(id string) bool {
	for _, p := range a.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (a *Activity) Expired(now time.Time) bool {
	return !now.Before(a.Timeout)
}

// Position is one entry of the live position feed, keyed by user id.
type Position struct {
	UserID    string    `json:"user_id"`
	Loc       Coord     `json:"loc"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationPing is the wire shape published by location trackers.
type LocationPing struct {
	UserID    string  `json:"user_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Timestamp int64   `json:"timestamp"` // unix millis
}
