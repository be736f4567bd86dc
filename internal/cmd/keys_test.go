package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestParseProjectKeysMapping(t *testing.T) {
	parsed, err := parseProjectKeys([]byte(`
keys:
  - project_id: "42"
    public_key: " pub42 "
    secret_key: sec42
  - project_id: "7"
    public_key: pub7
`))
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "42", parsed[0].ProjectID)
	assert.Equal(t, "pub42", parsed[0].PublicKey)
	assert.Equal(t, "sec42", parsed[0].SecretKey)
	assert.Equal(t, "7", parsed[1].ProjectID)
	assert.Empty(t, parsed[1].SecretKey)
}

func TestParseProjectKeysList(t *testing.T) {
	parsed, err := parseProjectKeys([]byte(`
- project_id: "1"
  public_key: a
`))
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "1", parsed[0].ProjectID)
}

func TestParseProjectKeysReportsEveryProblem(t *testing.T) {
	_, err := parseProjectKeys([]byte(`
- project_id: ""
  public_key: a
- project_id: "2"
- project_id: "3"
  public_key: c
- project_id: "3"
  public_key: d
`))
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0].Error(), "entry 1: project_id is required")
	assert.Contains(t, errs[1].Error(), "entry 2 (2): public_key is required")
	assert.Contains(t, errs[2].Error(), "entry 4 (3): duplicate of entry 3")
}

func TestParseProjectKeysRejectsEmptyAndScalar(t *testing.T) {
	for _, input := range []string{"", "   \n", "keys: []", "just a string"} {
		_, err := parseProjectKeys([]byte(input))
		assert.Error(t, err, "input %q", input)
	}
}

func TestRateLimitResetTable(t *testing.T) {
	table := rateLimitResetTable(rateLimitResetResult{Matched: 3, DryRun: true})
	assert.Equal(t, "Would delete 3 rate limit entr(ies)", table.Footer)

	table = rateLimitResetTable(rateLimitResetResult{Matched: 3, Deleted: 2})
	assert.Equal(t, "Deleted 2/3 rate limit entr(ies)", table.Footer)
	assert.Equal(t, [][]string{{"3", "2", "false"}}, table.Rows)
}
