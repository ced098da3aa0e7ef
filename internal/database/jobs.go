package database

import (
	"database/sql"
	"fmt"
	"time"
)

// JobRecord is a persisted unit of deferred work. Details holds the
// variant-specific payload as JSON.
type JobRecord struct {
	ID           string
	Variant      string
	ThreadID     string
	Details      []byte
	NextRunTs    int64
	FailureCount int
	CreatedAt    int64
}

const jobColumns = `id, variant, thread_id, details, next_run_ts, failure_count, created_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*JobRecord, error) {
	var j JobRecord
	var threadID sql.NullString
	if err := row.Scan(&j.ID, &j.Variant, &threadID, &j.Details, &j.NextRunTs, &j.FailureCount, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.ThreadID = scanNullableString(threadID)
	return &j, nil
}

// InsertJob persists a job
func (tx *Tx) InsertJob(j *JobRecord) error {
	if j.CreatedAt == 0 {
		j.CreatedAt = time.Now().UnixMilli()
	}
	_, err := tx.exec(`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Variant, nullString(j.ThreadID), j.Details, j.NextRunTs, j.FailureCount, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %v", err)
	}
	return nil
}

// FetchJob returns the job or nil
func (tx *Tx) FetchJob(id string) (*JobRecord, error) {
	job, err := queryRowSingle(tx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`,
		func(row *sql.Row) (*JobRecord, error) { return scanJob(row) }, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %v", err)
	}
	return job, nil
}

// ListJobs returns jobs of a variant, all variants when variant is ""
func (tx *Tx) ListJobs(variant string) ([]*JobRecord, error) {
	if variant == "" {
		return queryRows(tx, `SELECT `+jobColumns+` FROM jobs ORDER BY next_run_ts, created_at`,
			func(rows *sql.Rows) (*JobRecord, error) { return scanJob(rows) })
	}
	return queryRows(tx, `SELECT `+jobColumns+` FROM jobs WHERE variant = ? ORDER BY next_run_ts, created_at`,
		func(rows *sql.Rows) (*JobRecord, error) { return scanJob(rows) }, variant)
}

// DueJobs returns up to limit jobs whose next run is at or before nowMs
func (tx *Tx) DueJobs(nowMs int64, limit int) ([]*JobRecord, error) {
	jobs, err := queryRows(tx, `SELECT `+jobColumns+` FROM jobs WHERE next_run_ts <= ? ORDER BY next_run_ts, created_at LIMIT ?`,
		func(rows *sql.Rows) (*JobRecord, error) { return scanJob(rows) }, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %v", err)
	}
	return jobs, nil
}

// RescheduleJob bumps the failure count and moves the next run
func (tx *Tx) RescheduleJob(id string, failureCount int, nextRunTs int64) error {
	_, err := tx.exec(`UPDATE jobs SET failure_count = ?, next_run_ts = ? WHERE id = ?`, failureCount, nextRunTs, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %v", err)
	}
	return nil
}

// DeleteJob removes a finished or abandoned job
func (tx *Tx) DeleteJob(id string) error {
	if _, err := tx.exec(`DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job: %v", err)
	}
	return nil
}
