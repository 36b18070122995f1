package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/tagalong/internal/models"
)

// PostgresStore persists both collections in Postgres. Participant sets are
// text[] columns mutated with array_append/array_remove, and every composite
// operation runs in a single transaction, so the paired writes the protocol
// needs cannot partially fail.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, major, nationality, hobbies, radius_m, lat, lon,
		       active_activity_id, joined_group_id, updated_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (p *PostgresStore) PutUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, name, major, nationality, hobbies, radius_m, lat, lon,
		                   active_activity_id, joined_group_id, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			major = EXCLUDED.major,
			nationality = EXCLUDED.nationality,
			hobbies = EXCLUDED.hobbies,
			radius_m = EXCLUDED.radius_m,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			updated_at = now()`,
		u.ID, u.Name, u.Major, u.Nationality, pq.Array(u.Hobbies), u.RadiusM,
		u.Location.Lat, u.Location.Lon, u.ActiveActivityID, u.JoinedGroupID)
	return err
}

func (p *PostgresStore) SetUserGroup(ctx context.Context, userID, activityID string, hosting bool) error {
	var res sql.Result
	var err error
	if hosting {
		res, err = p.db.ExecContext(ctx,
			`UPDATE users SET joined_group_id=$1, active_activity_id=$1, updated_at=now() WHERE id=$2`,
			activityID, userID)
	} else {
		res, err = p.db.ExecContext(ctx,
			`UPDATE users SET joined_group_id=$1, updated_at=now() WHERE id=$2`,
			activityID, userID)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ClearUserGroup(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET joined_group_id=NULL, updated_at=now() WHERE id=$1`, userID)
	return err
}

func (p *PostgresStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	checked, err := marshalCheckedOut(a.CheckedOut)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO activities (id, title, host_user_id, participant_ids, member_limit,
		                        timeout, meeting_lat, meeting_lon, checked_out, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.Title, a.HostUserID, pq.Array(a.ParticipantIDs), a.Limit,
		a.Timeout, a.MeetingPoint.Lat, a.MeetingPoint.Lon, checked, a.CreatedAt)
	return err
}

func (p *PostgresStore) GetActivity(ctx context.Context, id string) (*models.Activity, error) {
	row := p.db.QueryRowContext(ctx, activitySelect+` WHERE id = $1`, id)
	return scanActivity(row)
}

func (p *PostgresStore) ListActivities(ctx context.Context) ([]models.Activity, error) {
	return p.queryActivities(ctx, activitySelect+` ORDER BY created_at`)
}

func (p *PostgresStore) ExpiredActivities(ctx context.Context, now time.Time) ([]models.Activity, error) {
	return p.queryActivities(ctx, activitySelect+` WHERE timeout <= $1`, now)
}

func (p *PostgresStore) Join(ctx context.Context, activityID, userID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var parts pq.StringArray
	var limit int
	err = tx.QueryRowContext(ctx,
		`SELECT participant_ids, member_limit FROM activities WHERE id=$1 FOR UPDATE`,
		activityID).Scan(&parts, &limit)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	for _, id := range parts {
		if id == userID {
			return tx.Commit() // already a member
		}
	}
	if len(parts) >= limit {
		return ErrActivityFull
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET joined_group_id=$1, updated_at=now()
		WHERE id=$2 AND joined_group_id IS NULL AND active_activity_id IS NULL`,
		activityID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrAlreadyInGroup
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE activities SET participant_ids = array_append(participant_ids, $2) WHERE id=$1`,
		activityID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Leave(ctx context.Context, activityID, userID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE activities
		SET participant_ids = array_remove(participant_ids, $2),
		    checked_out = checked_out - $2
		WHERE id=$1 AND host_user_id <> $2`,
		activityID, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET joined_group_id=NULL, updated_at=now()
		WHERE id=$2 AND joined_group_id=$1`,
		activityID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) SetCheckedOut(ctx context.Context, activityID, userID string) (*models.Activity, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE activities
		SET checked_out = jsonb_set(COALESCE(checked_out, '{}'::jsonb), ARRAY[$2], 'true'::jsonb, true)
		WHERE id=$1
		RETURNING id, title, host_user_id, participant_ids, member_limit,
		          timeout, meeting_lat, meeting_lon, checked_out, created_at`,
		activityID, userID)
	return scanActivity(row)
}

func (p *PostgresStore) Teardown(ctx context.Context, activityID string) ([]string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var parts pq.StringArray
	err = tx.QueryRowContext(ctx,
		`SELECT participant_ids FROM activities WHERE id=$1 FOR UPDATE`, activityID).Scan(&parts)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Clear members plus anyone else still pointing at this activity.
	rows, err := tx.QueryContext(ctx, `
		UPDATE users SET joined_group_id=NULL, active_activity_id=NULL, updated_at=now()
		WHERE id = ANY($1) OR joined_group_id=$2 OR active_activity_id=$2
		RETURNING id`,
		pq.Array([]string(parts)), activityID)
	if err != nil {
		return nil, err
	}
	var cleared []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		cleared = append(cleared, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id=$1`, activityID); err != nil {
		return nil, err
	}
	return cleared, tx.Commit()
}

const activitySelect = `
	SELECT id, title, host_user_id, participant_ids, member_limit,
	       timeout, meeting_lat, meeting_lon, checked_out, created_at
	FROM activities`

func (p *PostgresStore) queryActivities(ctx context.Context, query string, args ...any) ([]models.Activity, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*models.Activity, error) {
	var a models.Activity
	var parts pq.StringArray
	var checked []byte
	err := row.Scan(&a.ID, &a.Title, &a.HostUserID, &parts, &a.Limit,
		&a.Timeout, &a.MeetingPoint.Lat, &a.MeetingPoint.Lon, &checked, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.ParticipantIDs = []string(parts)
	if checked != nil {
		if err := json.Unmarshal(checked, &a.CheckedOut); err != nil {
			return nil, fmt.Errorf("decode checked_out: %w", err)
		}
	}
	return &a, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var hobbies pq.StringArray
	var active, joined sql.NullString
	err := row.Scan(&u.ID, &u.Name, &u.Major, &u.Nationality, &hobbies, &u.RadiusM,
		&u.Location.Lat, &u.Location.Lon, &active, &joined, &u.Updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Hobbies = []string(hobbies)
	if active.Valid {
		u.ActiveActivityID = &active.String
	}
	if joined.Valid {
		u.JoinedGroupID = &joined.String
	}
	return &u, nil
}

func marshalCheckedOut(m map[string]bool) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
