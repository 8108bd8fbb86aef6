package jobstore

import (
	"context"
	"fmt"
	"time"
)

// JobState is the last polled status of one native job identity.
type JobState struct {
	Position int       `json:"position"`
	JobID    string    `json:"job_id"`
	Status   Status    `json:"status"`
	PolledAt time.Time `json:"polled_at"`
}

// ReplaceJobStates swaps the per-identity breakdown of a record.
func (s *Store) ReplaceJobStates(ctx context.Context, table string, id int64, states []JobState) error {
	if err := validateTable(table); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_states WHERE table_name = ? AND record_id = ?`, table, id); err != nil {
		return fmt.Errorf("clear job states: %w", err)
	}

	polledAt := s.now()
	for i, st := range states {
		if !st.Status.Valid() {
			return &FieldError{Field: "status", Value: st.Status, Err: ErrInvalidStatus}
		}
		at := st.PolledAt
		if at.IsZero() {
			at = polledAt
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_states (table_name, record_id, position, jobid, status, polled_at) VALUES (?, ?, ?, ?, ?, ?)`,
			table, id, i, st.JobID, string(st.Status), formatTime(at)); err != nil {
			return fmt.Errorf("insert job state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job states: %w", err)
	}
	return nil
}

// JobStates returns the breakdown written by the last ReplaceJobStates.
func (s *Store) JobStates(ctx context.Context, table string, id int64) ([]JobState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, jobid, status, polled_at FROM job_states
		 WHERE table_name = ? AND record_id = ? ORDER BY position ASC`, table, id)
	if err != nil {
		return nil, fmt.Errorf("query job states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobState
	for rows.Next() {
		var (
			st       JobState
			status   string
			polledAt string
		)
		if err := rows.Scan(&st.Position, &st.JobID, &status, &polledAt); err != nil {
			return nil, fmt.Errorf("scan job state: %w", err)
		}
		st.Status = Status(status)
		st.PolledAt = parseTime(polledAt)
		out = append(out, st)
	}
	return out, rows.Err()
}
