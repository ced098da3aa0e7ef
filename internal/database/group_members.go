package database

import (
	"database/sql"
	"fmt"
)

func scanGroupMember(row interface{ Scan(...interface{}) error }) (*GroupMember, error) {
	var m GroupMember
	var hidden int
	if err := row.Scan(&m.GroupID, &m.ProfileID, &m.Role, &m.RoleStatus, &hidden); err != nil {
		return nil, err
	}
	m.IsHidden = hidden != 0
	return &m, nil
}

// FetchGroupMember returns the member row or nil
func (tx *Tx) FetchGroupMember(groupID, profileID string) (*GroupMember, error) {
	member, err := queryRowSingle(tx, `
	SELECT group_id, profile_id, role, role_status, is_hidden
	FROM group_members WHERE group_id = ? AND profile_id = ?`,
		func(row *sql.Row) (*GroupMember, error) { return scanGroupMember(row) }, groupID, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group member: %v", err)
	}
	return member, nil
}

// GetGroupMembers retrieves all members of a group
func (tx *Tx) GetGroupMembers(groupID string) ([]*GroupMember, error) {
	members, err := queryRows(tx, `
	SELECT group_id, profile_id, role, role_status, is_hidden
	FROM group_members WHERE group_id = ? ORDER BY profile_id`,
		func(rows *sql.Rows) (*GroupMember, error) { return scanGroupMember(rows) }, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %v", err)
	}
	return members, nil
}

// UpsertGroupMember inserts the member or overwrites role and status
func (tx *Tx) UpsertGroupMember(m *GroupMember) error {
	_, err := tx.exec(`
	INSERT INTO group_members (group_id, profile_id, role, role_status, is_hidden)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(group_id, profile_id) DO UPDATE SET
		role = excluded.role,
		role_status = excluded.role_status,
		is_hidden = excluded.is_hidden`,
		m.GroupID, m.ProfileID, m.Role, m.RoleStatus, boolToInt(m.IsHidden))
	if err != nil {
		return fmt.Errorf("failed to upsert group member: %v", err)
	}
	return nil
}

// UpdateMemberRoleStatus rewrites role and status only for rows currently in
// one of fromStatuses, returning the number of rows changed
func (tx *Tx) UpdateMemberRoleStatus(groupID, profileID string, role GroupRole, status RoleStatus, fromStatuses ...RoleStatus) (int64, error) {
	query := `UPDATE group_members SET role = ?, role_status = ? WHERE group_id = ? AND profile_id = ?`
	args := []interface{}{role, status, groupID, profileID}
	if len(fromStatuses) > 0 {
		query += ` AND role_status IN (`
		for i, s := range fromStatuses {
			if i > 0 {
				query += `, `
			}
			query += `?`
			args = append(args, s)
		}
		query += `)`
	}

	affected, err := execAffected(tx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update group member: %v", err)
	}
	return affected, nil
}

// DeleteGroupMember removes a single member row
func (tx *Tx) DeleteGroupMember(groupID, profileID string) error {
	if _, err := tx.exec(`DELETE FROM group_members WHERE group_id = ? AND profile_id = ?`, groupID, profileID); err != nil {
		return fmt.Errorf("failed to delete group member: %v", err)
	}
	return nil
}

// DeleteGroupMembers removes every member row of a group
func (tx *Tx) DeleteGroupMembers(groupID string) error {
	if _, err := tx.exec(`DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to delete group members: %v", err)
	}
	return nil
}
