package postgres

import (
	"context"
	"fmt"

	"token-stream-lab/internal/storage"
)

// KVStore implements storage.KVStore on the preferences table.
type KVStore struct {
	pool *Pool
}

// NewKVStore creates a new KVStore.
func NewKVStore(pool *Pool) *KVStore {
	return &KVStore{pool: pool}
}

var _ storage.KVStore = (*KVStore)(nil)

// Get returns ErrNotFound if key is not set.
func (s *KVStore) Get(ctx context.Context, key string) (value []byte, err error) {
	q := track("preference_get")
	defer func() { q.done(err) }()

	err = s.pool.QueryRow(ctx, `SELECT value FROM preferences WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, nil
}

// Put sets key, replacing any previous value.
func (s *KVStore) Put(ctx context.Context, key string, value []byte) (err error) {
	if key == "" {
		return storage.ErrInvalidInput
	}
	if value == nil {
		value = []byte{}
	}
	q := track("preference_put")
	defer func() { q.done(err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO preferences (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("put preference %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *KVStore) Delete(ctx context.Context, key string) (err error) {
	q := track("preference_delete")
	defer func() { q.done(err) }()

	if _, err = s.pool.Exec(ctx, `DELETE FROM preferences WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}
