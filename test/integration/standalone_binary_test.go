package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles cmd/cyclops with a pinned version and copies it out of
// the module so it cannot pick up repo-relative config.
func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("binary build skipped in -short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}

	goModPath, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err)
	repoRoot := filepath.Dir(strings.TrimSpace(string(goModPath)))
	require.NotEqual(t, ".", repoRoot, "go env GOMOD returned empty")

	binaryPath := filepath.Join(t.TempDir(), "cyclops")
	build := exec.Command("go", "build", "-ldflags", "-X main.version=9.9.9-test", "-o", binaryPath, "./cmd/cyclops")
	build.Dir = repoRoot
	build.Env = os.Environ()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build: %s", out)

	data, err := os.ReadFile(binaryPath)
	require.NoError(t, err)
	copied := filepath.Join(t.TempDir(), "cyclops")
	require.NoError(t, os.WriteFile(copied, data, 0o755))
	return copied
}

func TestStandaloneBinaryWorksOutsideRepo(t *testing.T) {
	binary := buildBinary(t)
	outside := filepath.Dir(binary)

	version := exec.Command(binary, "version")
	version.Dir = outside
	out, err := version.Output()
	require.NoError(t, err)
	assert.Equal(t, "cyclops 9.9.9-test", strings.TrimSpace(string(out)))

	help := exec.Command(binary, "--help")
	help.Dir = outside
	out, err = help.CombinedOutput()
	require.NoError(t, err, "--help: %s", out)
	for _, sub := range []string{"serve", "keys", "rate-limit", "health"} {
		assert.Contains(t, string(out), sub)
	}
}
