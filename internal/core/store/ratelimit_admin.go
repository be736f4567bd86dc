package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyclops-relay/cyclops/internal/core"
)

// RateLimitEntry is one project's stored ingest rate limit state.
type RateLimitEntry struct {
	ProjectID string              `json:"project_id"`
	State     core.RateLimitState `json:"state"`
}

// RateLimitQuery selects rate limit rows for the admin commands. Selectors
// combine with AND; BackoffOnly narrows any of them to projects whose
// upstream backoff has not yet expired at Now.
type RateLimitQuery struct {
	All         bool
	ProjectID   string
	Prefix      string
	BackoffOnly bool
	Now         time.Time
}

// Validate rejects a query with no selector.
func (q RateLimitQuery) Validate() error {
	if q.All || q.BackoffOnly {
		return nil
	}
	if strings.TrimSpace(q.ProjectID) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --project, --prefix, or --backoff")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var (
		conds []string
		args  []any
	)
	if projectID := strings.TrimSpace(q.ProjectID); projectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, projectID)
	} else if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		conds = append(conds, `project_id LIKE ? ESCAPE '\'`)
		args = append(args, likeEscaper.Replace(prefix)+"%")
	}
	if q.BackoffOnly {
		now := q.Now
		if now.IsZero() {
			now = time.Now().UTC()
		}
		conds = append(conds, "backoff_until IS NOT NULL AND backoff_until > ?")
		args = append(args, now.Unix())
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

// ListRateLimits returns matching rows ordered by project id.
func (s *Store) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT project_id, request_count, window_start, backoff_until, last_429_at
		FROM rate_limits
		%s
		ORDER BY project_id
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RateLimitEntry{}
	for rows.Next() {
		var projectID string
		state, err := scanRateLimitState(rows.Scan, &projectID)
		if err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entries = append(entries, RateLimitEntry{ProjectID: projectID, State: state})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}

	return entries, nil
}

// CountRateLimits reports how many rows match q.
func (s *Store) CountRateLimits(ctx context.Context, q RateLimitQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM rate_limits
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes matching rows and reports how many were removed.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM rate_limits
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return affected, nil
}
