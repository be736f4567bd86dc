package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclops-relay/cyclops/internal/core"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestFormatExtension(t *testing.T) {
	assert.Equal(t, "json", FormatJSON.Extension())
	assert.Equal(t, "md", FormatMarkdown.Extension())
	assert.Equal(t, "txt", FormatTable.Extension())
}

func sampleKeys() []core.ProjectKey {
	return []core.ProjectKey{
		{ProjectID: "42", PublicKey: "pub42", SecretKey: "supersecret"},
		{ProjectID: "7", PublicKey: "pub|7", SecretKey: "abc", UpdatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func TestProjectKeysTableMasksSecrets(t *testing.T) {
	rendered, err := Render(FormatTable, ProjectKeysTable(sampleKeys(), false))
	require.NoError(t, err)

	assert.Contains(t, rendered, "Project Keys")
	assert.Contains(t, rendered, "pub42")
	assert.Contains(t, rendered, "*******cret")
	assert.NotContains(t, rendered, "supersecret")
	assert.Contains(t, rendered, "2026-02-01T00:00:00Z")
	assert.Contains(t, rendered, "2 project(s)")
	assert.NotContains(t, rendered, "<NIL>")
}

func TestRenderTableFooterWithoutHeader(t *testing.T) {
	rendered := renderTable(Table{Rows: [][]string{{"a"}}, Footer: "1 row(s)"})
	assert.Contains(t, rendered, "1 row(s)")
	assert.NotContains(t, rendered, "<NIL>")
}

func TestProjectKeysJSON(t *testing.T) {
	rendered, err := Render(FormatJSON, ProjectKeysTable(sampleKeys(), true))
	require.NoError(t, err)

	var decoded []core.ProjectKey
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "supersecret", decoded[0].SecretKey)

	rendered, err = Render(FormatJSON, ProjectKeysTable(sampleKeys(), false))
	require.NoError(t, err)
	assert.NotContains(t, rendered, "supersecret")
}

func TestMarkdownEscaping(t *testing.T) {
	rendered, err := Render(FormatMarkdown, ProjectKeysTable(sampleKeys(), false))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rendered, "## Project Keys"))
	assert.Contains(t, rendered, "| Project | Public Key | Secret Key | Updated |")
	assert.Contains(t, rendered, `pub\|7`)
}

func TestRenderEmpty(t *testing.T) {
	rendered, err := Render(FormatTable, RateLimitsTable(nil, []string{}))
	require.NoError(t, err)
	assert.Contains(t, rendered, "(no stored rate limit state)")

	rendered, err = Render(FormatMarkdown, RateLimitsTable(nil, nil))
	require.NoError(t, err)
	assert.Contains(t, rendered, "(no stored rate limit state)")

	rendered, err = Render(FormatJSON, RateLimitsTable(nil, []string{}))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", rendered)
}

func TestRateLimitsTable(t *testing.T) {
	backoff := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	rows := []RateLimitRow{{
		ProjectID: "42",
		State: core.RateLimitState{
			RequestCount: 17,
			WindowStart:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			BackoffUntil: &backoff,
		},
	}}

	rendered, err := Render(FormatTable, RateLimitsTable(rows, rows))
	require.NoError(t, err)
	assert.Contains(t, rendered, "17")
	assert.Contains(t, rendered, "2026-03-01T12:00:30Z")
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := Render(Format("xml"), Table{})
	require.Error(t, err)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("abc"))
	assert.Equal(t, "****5678", MaskSecret("12345678"))
}
