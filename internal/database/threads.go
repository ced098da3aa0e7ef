package database

import (
	"database/sql"
	"fmt"
)

func scanThread(row interface{ Scan(...interface{}) error }) (*SessionThread, error) {
	var t SessionThread
	var visible, enabled int
	err := row.Scan(&t.ID, &t.Variant, &t.CreationDate, &visible, &enabled, &t.DisappearingType, &t.DisappearingDuration)
	if err != nil {
		return nil, err
	}
	t.ShouldBeVisible = visible != 0
	t.DisappearingEnabled = enabled != 0
	return &t, nil
}

const threadColumns = `id, variant, creation_date, should_be_visible, disappearing_enabled, disappearing_type, disappearing_duration`

// FetchThread returns the thread or nil when it does not exist
func (tx *Tx) FetchThread(id string) (*SessionThread, error) {
	thread, err := queryRowSingle(tx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`,
		func(row *sql.Row) (*SessionThread, error) { return scanThread(row) }, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %v", err)
	}
	return thread, nil
}

// ThreadExists reports whether a thread row exists
func (tx *Tx) ThreadExists(id string) (bool, error) {
	var count int
	if err := tx.queryRow(`SELECT COUNT(*) FROM threads WHERE id = ?`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check thread: %v", err)
	}
	return count > 0, nil
}

// InsertThreadIfMissing creates the thread and reports whether it was created
func (tx *Tx) InsertThreadIfMissing(t *SessionThread) (bool, error) {
	affected, err := execAffected(tx, `
	INSERT INTO threads (`+threadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Variant, t.CreationDate, boolToInt(t.ShouldBeVisible),
		boolToInt(t.DisappearingEnabled), t.DisappearingType, t.DisappearingDuration)
	if err != nil {
		return false, fmt.Errorf("failed to insert thread: %v", err)
	}
	return affected > 0, nil
}

// UpdateDisappearingConfig replaces the thread's expiration settings
func (tx *Tx) UpdateDisappearingConfig(threadID string, enabled bool, kind DisappearingType, durationSeconds int64) error {
	_, err := tx.exec(`
	UPDATE threads SET disappearing_enabled = ?, disappearing_type = ?, disappearing_duration = ?
	WHERE id = ?`, boolToInt(enabled), kind, durationSeconds, threadID)
	if err != nil {
		return fmt.Errorf("failed to update disappearing config: %v", err)
	}
	return nil
}

// DeleteThread removes the thread; closed_groups and interactions cascade
func (tx *Tx) DeleteThread(id string) error {
	if _, err := tx.exec(`DELETE FROM threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete thread: %v", err)
	}
	return nil
}

// ListThreads returns all threads of a variant
func (tx *Tx) ListThreads(variant ThreadVariant) ([]*SessionThread, error) {
	return queryRows(tx, `SELECT `+threadColumns+` FROM threads WHERE variant = ? ORDER BY creation_date`,
		func(rows *sql.Rows) (*SessionThread, error) { return scanThread(rows) }, variant)
}

// CountThreads returns the number of thread rows
func (tx *Tx) CountThreads() (int, error) {
	var count int
	err := tx.queryRow(`SELECT COUNT(*) FROM threads`).Scan(&count)
	return count, err
}
