package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record is one logical submission.
type Record struct {
	ID         int64     `json:"id"`
	JobIDs     []string  `json:"job_ids"`
	Date       time.Time `json:"date"`
	Runcard    string    `json:"runcard"`
	RunFolder  string    `json:"runfolder"`
	PathFolder string    `json:"pathfolder,omitempty"`
	Status     Status    `json:"status"`
	JobType    JobType   `json:"jobtype"`
	Seed       int       `json:"iseed,omitempty"`
	SubStatus  string    `json:"sub_status,omitempty"`
	Queue      string    `json:"queue,omitempty"`
	NoRuns     int       `json:"no_runs,omitempty"`
	Active     bool      `json:"active"`
}

// Identity is the run identity shared by warmup and production records.
func (r Record) Identity() string {
	return r.Runcard + "/" + r.RunFolder
}

// ListFilter narrows List results. The zero value lists active records.
type ListFilter struct {
	IncludeInactive bool
	JobType         JobType
	Runcard         string
	RunFolder       string
}

const recordColumns = `id, jobid, date, runcard, runfolder, pathfolder, status, jobtype, iseed, sub_status, queue, no_runs, active`

// mutableFields maps Update field names to their column names.
var mutableFields = map[string]string{
	"jobid":      "jobid",
	"date":       "date",
	"runcard":    "runcard",
	"runfolder":  "runfolder",
	"pathfolder": "pathfolder",
	"status":     "status",
	"jobtype":    "jobtype",
	"iseed":      "iseed",
	"sub_status": "sub_status",
	"queue":      "queue",
	"no_runs":    "no_runs",
}

// Create inserts rec and returns its row id. ID and Active on rec are
// ignored; new records are always active. An empty status becomes unknown.
func (s *Store) Create(ctx context.Context, table string, rec Record) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	if strings.TrimSpace(rec.Runcard) == "" {
		return 0, &FieldError{Field: "runcard", Value: rec.Runcard, Err: ErrInvalidField}
	}
	if !rec.JobType.Valid() {
		return 0, &FieldError{Field: "jobtype", Value: rec.JobType, Err: ErrInvalidField}
	}
	if rec.Status == "" {
		rec.Status = StatusUnknown
	}
	if !rec.Status.Valid() {
		return 0, &FieldError{Field: "status", Value: rec.Status, Err: ErrInvalidStatus}
	}
	if rec.Date.IsZero() {
		rec.Date = s.now()
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (jobid, date, runcard, runfolder, pathfolder, status, jobtype, iseed, sub_status, queue, no_runs, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`, table),
		joinJobIDs(rec.JobIDs), formatTime(rec.Date), rec.Runcard, rec.RunFolder, rec.PathFolder,
		string(rec.Status), string(rec.JobType), rec.Seed, rec.SubStatus, rec.Queue, rec.NoRuns)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Get returns one record regardless of its active flag.
func (s *Store) Get(ctx context.Context, table string, id int64) (*Record, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, recordColumns, table), id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s id %d: %w", table, id, ErrNotFound)
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// List returns records in insertion order.
func (s *Store) List(ctx context.Context, table string, filter ListFilter) ([]Record, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if !filter.IncludeInactive {
		where = append(where, "active = 1")
	}
	if filter.JobType != "" {
		where = append(where, "jobtype = ?")
		args = append(args, string(filter.JobType))
	}
	if filter.Runcard != "" {
		where = append(where, "runcard = ?")
		args = append(args, filter.Runcard)
	}
	if filter.RunFolder != "" {
		where = append(where, "runfolder = ?")
		args = append(args, filter.RunFolder)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, recordColumns, table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// Update overwrites a single column of one record. Last writer wins.
func (s *Store) Update(ctx context.Context, table string, id int64, field string, value any) error {
	if err := validateTable(table); err != nil {
		return err
	}
	column, ok := mutableFields[field]
	if !ok {
		return &FieldError{Field: field, Value: value, Err: ErrInvalidField}
	}

	arg, err := normalizeValue(field, value)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = ? WHERE id = ?`, table, column), arg, id)
	if err != nil {
		return fmt.Errorf("update %s: %w", field, err)
	}
	return requireAffected(res, table, id)
}

// SetJobIDs records the native identities returned by a scheduler.
func (s *Store) SetJobIDs(ctx context.Context, table string, id int64, jobIDs []string) error {
	return s.Update(ctx, table, id, "jobid", jobIDs)
}

// SetStatus writes the status and the tally it was derived from.
func (s *Store) SetStatus(ctx context.Context, table string, id int64, status Status, counts Counts) error {
	if err := validateTable(table); err != nil {
		return err
	}
	if !status.Valid() {
		return &FieldError{Field: "status", Value: status, Err: ErrInvalidStatus}
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, sub_status = ? WHERE id = ?`, table),
		string(status), counts.String(), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireAffected(res, table, id)
}

// Deactivate hides a record from default listings, or restores it when
// revert is set. Job identities are kept for later cancel or clean.
func (s *Store) Deactivate(ctx context.Context, table string, id int64, revert bool) error {
	if err := validateTable(table); err != nil {
		return err
	}
	active := 0
	if revert {
		active = 1
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET active = ? WHERE id = ?`, table), active, id)
	if err != nil {
		return fmt.Errorf("deactivate record: %w", err)
	}
	return requireAffected(res, table, id)
}

// NextSeed returns the first seed after every production record already
// submitted for the run identity, or base when there is none.
func (s *Store) NextSeed(ctx context.Context, table, runcard, runfolder string, base int) (int, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT MAX(iseed + no_runs) FROM %s WHERE runcard = ? AND runfolder = ? AND jobtype = ?`, table),
		runcard, runfolder, string(JobTypeProduction)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next seed: %w", err)
	}
	if !next.Valid || int(next.Int64) < base {
		return base, nil
	}
	return int(next.Int64), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec     Record
		jobIDs  string
		date    string
		status  string
		jobType string
		active  int
	)
	if err := row.Scan(&rec.ID, &jobIDs, &date, &rec.Runcard, &rec.RunFolder, &rec.PathFolder,
		&status, &jobType, &rec.Seed, &rec.SubStatus, &rec.Queue, &rec.NoRuns, &active); err != nil {
		return nil, err
	}
	rec.JobIDs = splitJobIDs(jobIDs)
	rec.Date = parseTime(date)
	rec.Status = Status(status)
	if !rec.Status.Valid() {
		rec.Status = StatusUnknown
	}
	rec.JobType = JobType(jobType)
	rec.Active = active != 0
	return &rec, nil
}

func normalizeValue(field string, value any) (any, error) {
	switch field {
	case "status":
		switch v := value.(type) {
		case Status:
			if !v.Valid() {
				return nil, &FieldError{Field: field, Value: value, Err: ErrInvalidStatus}
			}
			return string(v), nil
		case string:
			st, err := ParseStatus(v)
			if err != nil {
				return nil, err
			}
			return string(st), nil
		}
		return nil, &FieldError{Field: field, Value: value, Err: ErrInvalidStatus}
	case "jobid":
		switch v := value.(type) {
		case []string:
			return joinJobIDs(v), nil
		case string:
			return joinJobIDs(strings.Fields(v)), nil
		}
	case "jobtype":
		var jt JobType
		switch v := value.(type) {
		case JobType:
			jt = v
		case string:
			jt = JobType(v)
		}
		if !jt.Valid() {
			return nil, &FieldError{Field: field, Value: value, Err: ErrInvalidField}
		}
		return string(jt), nil
	case "date":
		switch v := value.(type) {
		case time.Time:
			return formatTime(v), nil
		case string:
			return v, nil
		}
	case "iseed", "no_runs":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return v, nil
		}
	default:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}
	return nil, &FieldError{Field: field, Value: value, Err: ErrInvalidField}
}

func requireAffected(res sql.Result, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s id %d: %w", table, id, ErrNotFound)
	}
	return nil
}

func joinJobIDs(ids []string) string {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	return strings.Join(clean, " ")
}

func splitJobIDs(raw string) []string {
	return strings.Fields(raw)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(raw string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04:05.999999"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
