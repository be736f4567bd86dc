package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyclops-relay/cyclops/internal/core"
)

// ListProjectKeys returns every stored project key ordered by project id.
func (s *Store) ListProjectKeys(ctx context.Context) ([]core.ProjectKey, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT project_id, public_key, secret_key, updated_at
		FROM project_keys
		ORDER BY project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list project keys: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	keys := []core.ProjectKey{}
	for rows.Next() {
		var (
			key       core.ProjectKey
			updatedAt int64
		)
		if err := rows.Scan(&key.ProjectID, &key.PublicKey, &key.SecretKey, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan project keys: %w", err)
		}
		if updatedAt > 0 {
			key.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list project keys: %w", err)
	}

	return keys, nil
}

// UpsertProjectKeys inserts or replaces keys in one transaction.
func (s *Store) UpsertProjectKeys(ctx context.Context, keys []core.ProjectKey) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for i, key := range keys {
		if strings.TrimSpace(key.ProjectID) == "" {
			return 0, fmt.Errorf("key %d: project id is required", i)
		}
		if strings.TrimSpace(key.PublicKey) == "" {
			return 0, fmt.Errorf("key %d (%s): public key is required", i, key.ProjectID)
		}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin project key upsert: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	now := time.Now().UTC().Unix()
	for _, key := range keys {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO project_keys (project_id, public_key, secret_key, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(project_id) DO UPDATE SET
				public_key = excluded.public_key,
				secret_key = excluded.secret_key,
				updated_at = excluded.updated_at
		`, strings.TrimSpace(key.ProjectID), strings.TrimSpace(key.PublicKey), strings.TrimSpace(key.SecretKey), now)
		if err != nil {
			return 0, fmt.Errorf("store project key %s: %w", key.ProjectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit project key upsert: %w", err)
	}
	return len(keys), nil
}

// CountProjectKeys returns the number of stored project keys.
func (s *Store) CountProjectKeys(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_keys`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count project keys: %w", err)
	}
	return count, nil
}
