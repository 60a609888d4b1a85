package store

import (
	"database/sql"
	"errors"
	"time"
)

// UpsertCredential stores the encrypted session and identity for a phone
// number, replacing any previous credential for it.
func (db *DB) UpsertCredential(c *Credential) error {
	_, err := db.Exec(`
		INSERT INTO credentials (phone, session_cipher, user_id, first_name, last_name, username, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			session_cipher = excluded.session_cipher,
			user_id = excluded.user_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			username = excluded.username,
			updated_at = excluded.updated_at`,
		c.Phone, c.SessionCipher, c.UserID, c.FirstName, c.LastName, c.Username, time.Now().UnixMilli())
	return err
}

// LatestCredential returns the most recently updated credential, or nil
// when no account has signed in yet.
func (db *DB) LatestCredential() (*Credential, error) {
	row := db.QueryRow(`
		SELECT phone, session_cipher, user_id, first_name, last_name, username, updated_at
		FROM credentials
		ORDER BY updated_at DESC
		LIMIT 1`)

	var c Credential
	err := row.Scan(&c.Phone, &c.SessionCipher, &c.UserID, &c.FirstName, &c.LastName, &c.Username, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCredential removes the stored credential for a phone number.
func (db *DB) DeleteCredential(phone string) error {
	_, err := db.Exec(`DELETE FROM credentials WHERE phone = ?`, phone)
	return err
}
