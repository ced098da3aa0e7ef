package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const interactionColumns = `id, thread_id, author_id, variant, body, timestamp_ms, server_hash, received_at`

func scanInteraction(row interface{ Scan(...interface{}) error }) (*Interaction, error) {
	var i Interaction
	var body, hash sql.NullString
	if err := row.Scan(&i.ID, &i.ThreadID, &i.AuthorID, &i.Variant, &body, &i.TimestampMs, &hash, &i.ReceivedAt); err != nil {
		return nil, err
	}
	i.Body = scanNullableString(body)
	i.ServerHash = scanNullableString(hash)
	return &i, nil
}

// InsertInteraction stores an interaction and sets its ID
func (tx *Tx) InsertInteraction(i *Interaction) error {
	if i.ReceivedAt == 0 {
		i.ReceivedAt = time.Now().UnixMilli()
	}

	result, err := tx.exec(`
	INSERT INTO interactions (thread_id, author_id, variant, body, timestamp_ms, server_hash, received_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.ThreadID, i.AuthorID, i.Variant, nullString(i.Body), i.TimestampMs, nullString(i.ServerHash), i.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %v", err)
	}

	i.ID, err = result.LastInsertId()
	return err
}

// ListInteractions returns a thread's interactions ordered by timestamp
func (tx *Tx) ListInteractions(threadID string) ([]*Interaction, error) {
	interactions, err := queryRows(tx, `
	SELECT `+interactionColumns+` FROM interactions WHERE thread_id = ? ORDER BY timestamp_ms, id`,
		func(rows *sql.Rows) (*Interaction, error) { return scanInteraction(rows) }, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %v", err)
	}
	return interactions, nil
}

// CountInteractions counts a thread's interactions of the given variant
func (tx *Tx) CountInteractions(threadID string, variant InteractionVariant) (int, error) {
	var count int
	err := tx.queryRow(`SELECT COUNT(*) FROM interactions WHERE thread_id = ? AND variant = ?`, threadID, variant).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %v", err)
	}
	return count, nil
}

// InteractionFilter selects interactions by author or server hash. Rows
// timestamped after MaxTimestampMs are never matched. When RestrictAuthor is
// set, only rows by that author can match at all.
type InteractionFilter struct {
	ThreadID       string
	AuthorIDs      []string
	ServerHashes   []string
	MaxTimestampMs int64
	RestrictAuthor string
}

func (f InteractionFilter) where() (string, []interface{}) {
	var matchers []string
	args := []interface{}{f.ThreadID, f.MaxTimestampMs}

	if len(f.AuthorIDs) > 0 {
		matchers = append(matchers, `author_id IN (`+placeholders(len(f.AuthorIDs))+`)`)
		for _, id := range f.AuthorIDs {
			args = append(args, id)
		}
	}
	if len(f.ServerHashes) > 0 {
		matchers = append(matchers, `server_hash IN (`+placeholders(len(f.ServerHashes))+`)`)
		for _, h := range f.ServerHashes {
			args = append(args, h)
		}
	}

	clause := `thread_id = ? AND timestamp_ms <= ?`
	if len(matchers) == 0 {
		clause += ` AND 0`
	} else {
		clause += ` AND (` + strings.Join(matchers, ` OR `) + `)`
	}
	if f.RestrictAuthor != "" {
		clause += ` AND author_id = ?`
		args = append(args, f.RestrictAuthor)
	}
	return clause, args
}

// FindInteractions returns the rows DeleteInteractions would remove
func (tx *Tx) FindInteractions(f InteractionFilter) ([]*Interaction, error) {
	clause, args := f.where()
	return queryRows(tx, `SELECT `+interactionColumns+` FROM interactions WHERE `+clause+` ORDER BY timestamp_ms, id`,
		func(rows *sql.Rows) (*Interaction, error) { return scanInteraction(rows) }, args...)
}

// DeleteInteractions removes matching rows and returns the count
func (tx *Tx) DeleteInteractions(f InteractionFilter) (int64, error) {
	clause, args := f.where()
	affected, err := execAffected(tx, `DELETE FROM interactions WHERE `+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete interactions: %v", err)
	}
	return affected, nil
}

// DeleteAllInteractions wipes a thread's interactions
func (tx *Tx) DeleteAllInteractions(threadID string) error {
	if _, err := tx.exec(`DELETE FROM interactions WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete interactions: %v", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
