package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cyclops-relay/cyclops/internal/core"
)

// RateLimiter enforces per-project ingest limits in front of the pending queue.
type RateLimiter struct {
	Store   RateLimitStore
	Limits  map[string]RateLimit
	Default RateLimit
	Clock   func() time.Time
	Margin  float64

	// mu serializes read-modify-write cycles against Store.
	mu sync.Mutex
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// RateLimitStore stores rate limit state.
type RateLimitStore interface {
	GetRateLimit(ctx context.Context, projectID string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, projectID string, state *core.RateLimitState) error
}

// DefaultLimit applies to projects without an explicit override.
var DefaultLimit = RateLimit{RequestsPerWindow: 600, WindowDuration: time.Minute}

// Allow reports whether projectID may send now, and how long to wait if not.
// It does not consume quota; ingest should use Reserve.
func (r *RateLimiter) Allow(ctx context.Context, projectID string) (bool, time.Duration, error) {
	if r == nil || r.Store == nil {
		return true, 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load(ctx, projectID)
	if err != nil {
		return true, 0, err
	}
	allowed, wait := r.admit(projectID, state)
	return allowed, wait, nil
}

// Reserve checks the limit and counts the request in one step, so
// concurrent callers cannot all pass before any of them is recorded.
// A lookup error admits the request without counting it.
func (r *RateLimiter) Reserve(ctx context.Context, projectID string) (bool, time.Duration, error) {
	if r == nil || r.Store == nil {
		return true, 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load(ctx, projectID)
	if err != nil {
		return true, 0, err
	}
	if allowed, wait := r.admit(projectID, state); !allowed {
		return false, wait, nil
	}

	state.RequestCount++
	return true, 0, r.Store.UpdateRateLimit(ctx, projectID, state)
}

// Record increments the accepted request count for a project.
func (r *RateLimiter) Record(ctx context.Context, projectID string) error {
	if r == nil || r.Store == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load(ctx, projectID)
	if err != nil {
		return err
	}
	r.rollWindow(projectID, state)
	state.RequestCount++
	return r.Store.UpdateRateLimit(ctx, projectID, state)
}

func (r *RateLimiter) load(ctx context.Context, projectID string) (*core.RateLimitState, error) {
	state, err := r.Store.GetRateLimit(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &core.RateLimitState{WindowStart: r.now()}
	}
	if state.WindowStart.IsZero() {
		state.WindowStart = r.now()
	}
	return state, nil
}

// rollWindow starts a fresh window once the current one has expired.
func (r *RateLimiter) rollWindow(projectID string, state *core.RateLimitState) {
	limit := r.getLimit(projectID)
	if r.now().After(state.WindowStart.Add(limit.WindowDuration)) {
		state.RequestCount = 0
		state.WindowStart = r.now()
	}
}

// admit applies backoff and window rules to state. Callers hold r.mu.
func (r *RateLimiter) admit(projectID string, state *core.RateLimitState) (bool, time.Duration) {
	now := r.now()
	if state.BackoffUntil != nil && now.Before(*state.BackoffUntil) {
		return false, state.BackoffUntil.Sub(now)
	}

	r.rollWindow(projectID, state)
	limit := r.getLimit(projectID)
	if state.RequestCount >= limit.RequestsPerWindow {
		return false, state.WindowStart.Add(limit.WindowDuration).Sub(now)
	}
	return true, 0
}

// Record429 applies a backoff window after upstream rejected a project's report.
func (r *RateLimiter) Record429(ctx context.Context, projectID string, retryAfter time.Duration) error {
	if r == nil || r.Store == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.load(ctx, projectID)
	if err != nil {
		return err
	}

	now := r.now()
	state.Last429At = &now
	if retryAfter > 0 {
		until := now.Add(retryAfter)
		state.BackoffUntil = &until
	}

	return r.Store.UpdateRateLimit(ctx, projectID, state)
}

// ApplyOverrides merges per-project request overrides (per minute).
func (r *RateLimiter) ApplyOverrides(overrides map[string]int) {
	if r == nil || len(overrides) == 0 {
		return
	}

	if r.Limits == nil {
		r.Limits = make(map[string]RateLimit, len(overrides))
	}

	for projectID, value := range overrides {
		projectID = strings.TrimSpace(projectID)
		if projectID == "" || value <= 0 {
			continue
		}
		r.Limits[projectID] = RateLimit{
			RequestsPerWindow: value,
			WindowDuration:    time.Minute,
		}
	}
}

// ApplySafetyMargin adjusts the effective request limits by a ratio (0-1].
func (r *RateLimiter) ApplySafetyMargin(margin float64) {
	if r == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	r.Margin = margin
}

func (r *RateLimiter) getLimit(projectID string) RateLimit {
	if r == nil {
		return RateLimit{RequestsPerWindow: 1, WindowDuration: time.Minute}
	}

	if limit, ok := r.Limits[projectID]; ok {
		return r.applyMargin(limit)
	}

	if r.Default.RequestsPerWindow > 0 && r.Default.WindowDuration > 0 {
		return r.applyMargin(r.Default)
	}

	return r.applyMargin(DefaultLimit)
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *RateLimiter) applyMargin(limit RateLimit) RateLimit {
	if r == nil || r.Margin <= 0 || r.Margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit.RequestsPerWindow) * r.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	limit.RequestsPerWindow = adjusted
	return limit
}
