package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Prompt run statuses.
const (
	RunPending = "pending"
	RunSent    = "sent"
	RunFailed  = "failed"
)

// ClaimPromptRun records that a scheduled flow is being sent to a user for
// a local day. It returns false if the run was already claimed.
func (d *DB) ClaimPromptRun(userID, flow, day string) (bool, error) {
	res, err := d.conn.Exec(
		"INSERT INTO prompt_runs (user_id, flow, day) VALUES (?, ?, ?) ON CONFLICT(user_id, flow, day) DO NOTHING",
		userID, flow, day,
	)
	if err != nil {
		return false, fmt.Errorf("claiming prompt run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming prompt run: %w", err)
	}
	return n == 1, nil
}

// FinishPromptRun records the outcome of a claimed run.
func (d *DB) FinishPromptRun(userID, flow, day, status string, attempts int) error {
	_, err := d.conn.Exec(
		"UPDATE prompt_runs SET status = ?, attempts = ?, updated_at = datetime('now') WHERE user_id = ? AND flow = ? AND day = ?",
		status, attempts, userID, flow, day,
	)
	if err != nil {
		return fmt.Errorf("recording prompt run: %w", err)
	}
	return nil
}

// PromptRunStatus returns "" if no run exists.
func (d *DB) PromptRunStatus(userID, flow, day string) (string, error) {
	var status string
	err := d.conn.QueryRow(
		"SELECT status FROM prompt_runs WHERE user_id = ? AND flow = ? AND day = ?",
		userID, flow, day,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("getting prompt run: %w", err)
	}
	return status, nil
}

// PrunePromptRuns deletes runs for days before the cutoff (YYYYMMDD).
func (d *DB) PrunePromptRuns(beforeDay string) (int64, error) {
	res, err := d.conn.Exec("DELETE FROM prompt_runs WHERE day < ?", beforeDay)
	if err != nil {
		return 0, fmt.Errorf("pruning prompt runs: %w", err)
	}
	return res.RowsAffected()
}
