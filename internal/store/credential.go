package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetCredential returns the blob stored under key, or nil if there is none.
func (db *DB) GetCredential(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := db.GetContext(ctx, &blob, db.Rebind(`SELECT blob FROM credentials WHERE cred_key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return blob, err
}

// PutCredential stores blob under key, replacing any previous value.
func (db *DB) PutCredential(ctx context.Context, key string, blob []byte) error {
	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO credentials (cred_key, blob, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (cred_key) DO UPDATE SET
			blob = excluded.blob,
			updated_at = excluded.updated_at`),
		key, blob, time.Now().UnixMilli())
	return err
}

// DeleteCredential removes key. Removing a missing key is not an error.
func (db *DB) DeleteCredential(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM credentials WHERE cred_key = ?`), key)
	return err
}
