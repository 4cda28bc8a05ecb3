package db

import (
	"context"
	"database/sql"
)

// KVWrite is one change applied by ApplyKV
type KVWrite struct {
	Key   string
	Value string
}

// GetKV returns the stored value for key or ErrNotFound
func (db *DB) GetKV(ctx context.Context, key string) (string, error) {
	var value string

	err := db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	return value, nil
}

// ApplyKV writes all changes in a single transaction
func (db *DB) ApplyKV(ctx context.Context, updatedAt int64, writes []KVWrite) error {
	return db.WithTransaction(ctx, func(tx *Tx) error {
		return upsertKV(ctx, tx, updatedAt, writes)
	})
}

// ApplyKVIf writes all changes in a single transaction when the stored value
// of cond.Key equals cond.Value. It reports whether anything was written.
func (db *DB) ApplyKVIf(ctx context.Context, updatedAt int64, cond KVWrite, writes []KVWrite) (bool, error) {
	applied := false

	err := db.WithTransaction(ctx, func(tx *Tx) error {
		// A no-op update takes the write lock and checks the condition in one
		// statement, so nothing can change the key before the writes below.
		res, err := tx.ExecContext(ctx,
			`UPDATE kv_entries SET updated_at = updated_at WHERE key = ? AND value = ?`,
			cond.Key, cond.Value)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		applied = true
		return upsertKV(ctx, tx, updatedAt, writes)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func upsertKV(ctx context.Context, tx *Tx, updatedAt int64, writes []KVWrite) error {
	query := `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	for _, w := range writes {
		if _, err := tx.ExecContext(ctx, query, w.Key, w.Value, updatedAt); err != nil {
			return err
		}
	}
	return nil
}
