package db

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID          string `json:"id"`
	Timezone    string `json:"timezone"`
	MorningTime string `json:"morning_time"`
	EveningTime string `json:"evening_time"`
	Active      bool   `json:"active"`
	Hint        string `json:"hint,omitempty"`
	HintDay     string `json:"hint_day,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Location returns the user's zone, or fallback if the stored name is unknown.
func (u *User) Location(fallback *time.Location) *time.Location {
	if u.Timezone != "" {
		if loc, err := time.LoadLocation(u.Timezone); err == nil {
			return loc
		}
	}
	return fallback
}

// UserDefaults are applied when a user is first seen.
type UserDefaults struct {
	Timezone    string
	MorningTime string
	EveningTime string
}

const userColumns = "id, timezone, morning_time, evening_time, active, COALESCE(hint,''), COALESCE(hint_day,''), created_at"

// EnsureUser returns the user, registering it with defaults on first contact.
func (d *DB) EnsureUser(id string, defaults UserDefaults) (*User, error) {
	_, err := d.conn.Exec(
		"INSERT INTO users (id, timezone, morning_time, evening_time) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
		id, defaults.Timezone, defaults.MorningTime, defaults.EveningTime,
	)
	if err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}
	u, err := d.GetUser(id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s missing after insert", id)
	}
	return u, nil
}

// GetUser returns nil, nil when the user does not exist.
func (d *DB) GetUser(id string) (*User, error) {
	row := d.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// ListActiveUsers returns users that still want scheduled prompts.
func (d *DB) ListActiveUsers() ([]User, error) {
	rows, err := d.conn.Query("SELECT " + userColumns + " FROM users WHERE active = 1 ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (d *DB) SetUserActive(id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	return d.updateUser(id, "active = ?", v)
}

func (d *DB) SetUserTimezone(id, tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	return d.updateUser(id, "timezone = ?", tz)
}

// SetHint stores a suggested task for the day after day.
func (d *DB) SetHint(id, hint, day string) error {
	return d.updateUser(id, "hint = ?, hint_day = ?", nullStr(hint), nullStr(day))
}

func (d *DB) updateUser(id, set string, args ...any) error {
	args = append(args, id)
	res, err := d.conn.Exec("UPDATE users SET "+set+", updated_at = datetime('now') WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*User, error) {
	var u User
	var active int
	if err := r.Scan(&u.ID, &u.Timezone, &u.MorningTime, &u.EveningTime, &active, &u.Hint, &u.HintDay, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Active = active == 1
	return &u, nil
}
