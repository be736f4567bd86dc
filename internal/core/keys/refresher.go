package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/core"
	"github.com/cyclops-relay/cyclops/internal/metrics"
)

// DefaultPeriod is the refresh cadence when none is configured.
const DefaultPeriod = 60 * time.Second

// Source performs the bulk credential read.
type Source interface {
	ListProjectKeys(ctx context.Context) ([]core.ProjectKey, error)
}

// Refresher copies credentials from Source into Cache on a fixed period.
type Refresher struct {
	Source Source
	Cache  *Cache
	Period time.Duration
	Logger *logging.Logger
	Clock  func() time.Time
}

// Refresh performs one bulk read and upserts every row. On failure the cache
// is left untouched.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	if r == nil || r.Source == nil || r.Cache == nil {
		return 0, errors.New("refresher requires a source and a cache")
	}

	rows, err := r.Source.ListProjectKeys(ctx)
	if err != nil {
		metrics.RecordKeysRefresh(false)
		if r.Logger != nil {
			r.Logger.Warn("Project key refresh failed", zap.Error(err))
		}
		return 0, fmt.Errorf("list project keys: %w", err)
	}

	applied := r.Cache.Upsert(rows)
	r.Cache.MarkRefreshed(r.now())

	metrics.RecordKeysRefresh(true)
	metrics.SetKeysCached(r.Cache.Len())
	if r.Logger != nil {
		r.Logger.Debug("Project keys refreshed",
			zap.Int("rows", len(rows)),
			zap.Int("applied", applied),
			zap.Int("cached", r.Cache.Len()))
	}
	return applied, nil
}

// Run refreshes immediately and then every Period until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	period := r.Period
	if period <= 0 {
		period = DefaultPeriod
	}

	_, _ = r.Refresh(ctx)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = r.Refresh(ctx)
		}
	}
}

func (r *Refresher) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
