package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ConfigDump is the serialized form of one replicated sub-state
type ConfigDump struct {
	Variant   string
	SessionID string
	Data      []byte
	UpdatedAt int64
}

// FetchConfigDump returns the dump or nil
func (tx *Tx) FetchConfigDump(variant, sessionID string) (*ConfigDump, error) {
	dump, err := queryRowSingle(tx, `SELECT variant, session_id, data, updated_at FROM config_dumps WHERE variant = ? AND session_id = ?`,
		func(row *sql.Row) (*ConfigDump, error) {
			var d ConfigDump
			if err := row.Scan(&d.Variant, &d.SessionID, &d.Data, &d.UpdatedAt); err != nil {
				return nil, err
			}
			return &d, nil
		}, variant, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get config dump: %v", err)
	}
	return dump, nil
}

// SaveConfigDump writes or replaces a dump
func (tx *Tx) SaveConfigDump(variant, sessionID string, data []byte) error {
	_, err := tx.exec(`
	INSERT INTO config_dumps (variant, session_id, data, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(variant, session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		variant, sessionID, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save config dump: %v", err)
	}
	return nil
}

// DeleteConfigDumps removes every dump of a session
func (tx *Tx) DeleteConfigDumps(sessionID string) error {
	if _, err := tx.exec(`DELETE FROM config_dumps WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete config dumps: %v", err)
	}
	return nil
}

// ListConfigDumpSessions returns the session ids with a dump of variant
func (tx *Tx) ListConfigDumpSessions(variant string) ([]string, error) {
	rows, err := tx.query(`SELECT session_id FROM config_dumps WHERE variant = ? ORDER BY session_id`, variant)
	if err != nil {
		return nil, fmt.Errorf("failed to list config dumps: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
