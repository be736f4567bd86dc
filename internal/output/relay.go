package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cyclops-relay/cyclops/internal/core"
)

// ProjectKeysTable lists cached or stored project credentials. Secrets are
// masked unless reveal is set, in both the table and the JSON payload.
func ProjectKeysTable(keys []core.ProjectKey, reveal bool) Table {
	payload := make([]core.ProjectKey, len(keys))
	rows := make([][]string, 0, len(keys))
	for i, key := range keys {
		if !reveal {
			key.SecretKey = MaskSecret(key.SecretKey)
		}
		payload[i] = key

		updated := "-"
		if !key.UpdatedAt.IsZero() {
			updated = key.UpdatedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{key.ProjectID, key.PublicKey, key.SecretKey, updated})
	}

	return Table{
		Title:   "Project Keys",
		Header:  []string{"Project", "Public Key", "Secret Key", "Updated"},
		Rows:    rows,
		Footer:  fmt.Sprintf("%d project(s)", len(keys)),
		Empty:   "(no project keys stored)",
		Payload: payload,
	}
}

// RateLimitRow is one persisted per-project window.
type RateLimitRow struct {
	ProjectID string
	State     core.RateLimitState
}

// RateLimitsTable lists persisted ingest rate limit state.
func RateLimitsTable(entries []RateLimitRow, payload any) Table {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		backoff := "-"
		if entry.State.BackoffUntil != nil {
			backoff = entry.State.BackoffUntil.UTC().Format(time.RFC3339)
		}
		window := "-"
		if !entry.State.WindowStart.IsZero() {
			window = entry.State.WindowStart.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			entry.ProjectID,
			strconv.Itoa(entry.State.RequestCount),
			window,
			backoff,
		})
	}

	return Table{
		Title:   "Rate Limits",
		Header:  []string{"Project", "Count", "Window Start", "Backoff Until"},
		Rows:    rows,
		Empty:   "(no stored rate limit state)",
		Payload: payload,
	}
}

// MaskSecret keeps the last four characters of a secret.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
