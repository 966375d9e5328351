package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/antigravity-pool/internal/version"
)

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeAccountsFixture(home string) error {
	configDir := filepath.Join(home, ".antigravity")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return err
	}

	accounts := `version = 2
cursor = 0

[[accounts]]
email = "a@example.com"
refresh_token = "1//a"
project_id = "proj-a"
added_at = "2026-08-01T12:00:00Z"
last_used = "2026-08-01T12:00:00Z"

[[accounts]]
email = "b@example.com"
refresh_token = "1//b"
added_at = "2026-08-01T12:00:00Z"
last_used = "2026-08-01T12:00:00Z"
`
	return os.WriteFile(filepath.Join(configDir, "accounts.toml"), []byte(accounts), 0o600)
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, version.Version)
}

func TestAccountsListShowsPool(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeAccountsFixture(home))

	stdout, _, err := executeCLI(t, home, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "accounts: 2")
	assert.Contains(t, stdout, "a@example.com")
	assert.Contains(t, stdout, "proj-a")
	assert.Contains(t, stdout, "b@example.com")
}

func TestAccountsListEmptyPool(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "accounts: 0")
	assert.Contains(t, stdout, "agp login")
}

func TestAccountsRemove(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeAccountsFixture(home))

	stdout, _, err := executeCLI(t, home, "accounts", "remove", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed a@example.com")

	stdout, _, err = executeCLI(t, home, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "accounts: 1")
	assert.NotContains(t, stdout, "a@example.com")
}

func TestAccountsRemoveUnknownEmailFails(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeAccountsFixture(home))

	_, _, err := executeCLI(t, home, "accounts", "remove", "missing@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing@example.com")
}
