package database

import (
	"database/sql"
	"fmt"
	"time"
)

// FetchProfile returns the profile or nil
func (tx *Tx) FetchProfile(id string) (*Profile, error) {
	profile, err := queryRowSingle(tx, `SELECT id, name, display_picture_url, last_updated FROM profiles WHERE id = ?`,
		func(row *sql.Row) (*Profile, error) {
			var p Profile
			var picture sql.NullString
			if err := row.Scan(&p.ID, &p.Name, &picture, &p.LastUpdated); err != nil {
				return nil, err
			}
			p.DisplayPictureURL = scanNullableString(picture)
			return &p, nil
		}, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %v", err)
	}
	return profile, nil
}

// UpsertProfile stores the profile. An update older than the stored one is
// ignored so a replayed message cannot roll a name back.
func (tx *Tx) UpsertProfile(p *Profile) error {
	if p.LastUpdated == 0 {
		p.LastUpdated = time.Now().UnixMilli()
	}

	_, err := tx.exec(`
	INSERT INTO profiles (id, name, display_picture_url, last_updated)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		display_picture_url = excluded.display_picture_url,
		last_updated = excluded.last_updated
	WHERE excluded.last_updated >= profiles.last_updated`,
		p.ID, p.Name, nullString(p.DisplayPictureURL), p.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %v", err)
	}
	return nil
}

// ProfileNames returns id->name for the ids that have a non-empty name
func (tx *Tx) ProfileNames(ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := tx.query(`SELECT id, name FROM profiles WHERE name != '' AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile names: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// FetchContact returns the contact or nil
func (tx *Tx) FetchContact(id string) (*Contact, error) {
	contact, err := queryRowSingle(tx, `SELECT id, is_approved, is_blocked FROM contacts WHERE id = ?`,
		func(row *sql.Row) (*Contact, error) {
			var c Contact
			var approved, blocked int
			if err := row.Scan(&c.ID, &approved, &blocked); err != nil {
				return nil, err
			}
			c.IsApproved = approved != 0
			c.IsBlocked = blocked != 0
			return &c, nil
		}, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %v", err)
	}
	return contact, nil
}

// UpsertContact stores the contact's trust flags
func (tx *Tx) UpsertContact(c *Contact) error {
	_, err := tx.exec(`
	INSERT INTO contacts (id, is_approved, is_blocked) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET is_approved = excluded.is_approved, is_blocked = excluded.is_blocked`,
		c.ID, boolToInt(c.IsApproved), boolToInt(c.IsBlocked))
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %v", err)
	}
	return nil
}

// IsApprovedContact reports whether id is an approved, unblocked contact
func (tx *Tx) IsApprovedContact(id string) (bool, error) {
	c, err := tx.FetchContact(id)
	if err != nil || c == nil {
		return false, err
	}
	return c.IsApproved && !c.IsBlocked, nil
}
