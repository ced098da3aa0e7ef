package database

import (
	"database/sql"
	"fmt"
)

const closedGroupColumns = `thread_id, name, group_description, formation_timestamp, display_picture_url,
	should_poll, group_identity_private_key, auth_data, invited`

func scanClosedGroup(row interface{ Scan(...interface{}) error }) (*ClosedGroup, error) {
	var g ClosedGroup
	var description, picture sql.NullString
	var shouldPoll, invited int
	err := row.Scan(&g.ThreadID, &g.Name, &description, &g.FormationTimestamp, &picture,
		&shouldPoll, &g.GroupIdentityPrivateKey, &g.AuthData, &invited)
	if err != nil {
		return nil, err
	}
	g.Description = scanNullableString(description)
	g.DisplayPictureURL = scanNullableString(picture)
	g.ShouldPoll = shouldPoll != 0
	g.Invited = invited != 0
	return &g, nil
}

// FetchClosedGroup returns the group or nil
func (tx *Tx) FetchClosedGroup(threadID string) (*ClosedGroup, error) {
	group, err := queryRowSingle(tx, `SELECT `+closedGroupColumns+` FROM closed_groups WHERE thread_id = ?`,
		func(row *sql.Row) (*ClosedGroup, error) { return scanClosedGroup(row) }, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get closed group: %v", err)
	}
	return group, nil
}

// UpsertClosedGroup inserts or replaces a closed group row
func (tx *Tx) UpsertClosedGroup(g *ClosedGroup) error {
	_, err := tx.exec(`
	INSERT INTO closed_groups (`+closedGroupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(thread_id) DO UPDATE SET
		name = excluded.name,
		group_description = excluded.group_description,
		formation_timestamp = excluded.formation_timestamp,
		display_picture_url = excluded.display_picture_url,
		should_poll = excluded.should_poll,
		group_identity_private_key = excluded.group_identity_private_key,
		auth_data = excluded.auth_data,
		invited = excluded.invited`,
		g.ThreadID, g.Name, nullString(g.Description), g.FormationTimestamp, nullString(g.DisplayPictureURL),
		boolToInt(g.ShouldPoll), g.GroupIdentityPrivateKey, g.AuthData, boolToInt(g.Invited))
	if err != nil {
		return fmt.Errorf("failed to upsert closed group: %v", err)
	}
	return nil
}

// SetGroupCredentials stores the admin key and clears auth data, or the reverse
func (tx *Tx) SetGroupCredentials(threadID string, privateKey, authData []byte) error {
	_, err := tx.exec(`UPDATE closed_groups SET group_identity_private_key = ?, auth_data = ? WHERE thread_id = ?`,
		privateKey, authData, threadID)
	if err != nil {
		return fmt.Errorf("failed to update group credentials: %v", err)
	}
	return nil
}

// SetShouldPoll toggles background polling for the group
func (tx *Tx) SetShouldPoll(threadID string, shouldPoll bool) error {
	if _, err := tx.exec(`UPDATE closed_groups SET should_poll = ? WHERE thread_id = ?`, boolToInt(shouldPoll), threadID); err != nil {
		return fmt.Errorf("failed to update should_poll: %v", err)
	}
	return nil
}

// UpdateGroupInfo applies a name/description/picture change
func (tx *Tx) UpdateGroupInfo(threadID, name, description, pictureURL string) error {
	_, err := tx.exec(`UPDATE closed_groups SET name = ?, group_description = ?, display_picture_url = ? WHERE thread_id = ?`,
		name, nullString(description), nullString(pictureURL), threadID)
	if err != nil {
		return fmt.Errorf("failed to update group info: %v", err)
	}
	return nil
}

// DeleteClosedGroup removes the closed group row only
func (tx *Tx) DeleteClosedGroup(threadID string) error {
	if _, err := tx.exec(`DELETE FROM closed_groups WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete closed group: %v", err)
	}
	return nil
}

// ListClosedGroups returns every closed group
func (tx *Tx) ListClosedGroups() ([]*ClosedGroup, error) {
	return queryRows(tx, `SELECT `+closedGroupColumns+` FROM closed_groups ORDER BY formation_timestamp`,
		func(rows *sql.Rows) (*ClosedGroup, error) { return scanClosedGroup(rows) })
}
