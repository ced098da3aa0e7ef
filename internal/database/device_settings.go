package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// Device setting keys
const (
	SettingPushToken     = "push_token"
	SettingLocalUserID   = "local_user_session_id"
	SettingPushServerURL = "push_server_url"
)

// GetSetting retrieves a setting value by key
func (tx *Tx) GetSetting(key string) (string, error) {
	var value string
	err := tx.queryRow("SELECT value FROM device_settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil // Setting doesn't exist, return empty string
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %v", key, err)
	}
	return value, nil
}

// SetSetting sets a setting value (inserts or updates)
func (tx *Tx) SetSetting(key string, value string) error {
	_, err := tx.exec(`
		INSERT INTO device_settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %v", key, err)
	}
	return nil
}

// DeleteSetting removes a setting
func (tx *Tx) DeleteSetting(key string) error {
	if _, err := tx.exec("DELETE FROM device_settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %v", key, err)
	}
	return nil
}

// GetPushToken returns the registered device token, "" when none
func (tx *Tx) GetPushToken() (string, error) {
	return tx.GetSetting(SettingPushToken)
}

// SetPushToken registers the device token
func (tx *Tx) SetPushToken(token string) error {
	return tx.SetSetting(SettingPushToken, token)
}

// GetLocalUserID returns the local user's session id
func (tx *Tx) GetLocalUserID() (string, error) {
	return tx.GetSetting(SettingLocalUserID)
}
