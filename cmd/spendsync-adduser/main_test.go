package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendsync/cmd/internal/auth/session/sessiontest"
)

const testPassword = "correct-horse-battery"

func setup(t *testing.T) string {
	t.Helper()
	sessiontest.CheapArgon(t)
	t.Setenv("SPENDSYNC_DATABASE_URL", "")
	t.Setenv("SPENDSYNC_SQLITE_PATH", "")
	return filepath.Join(t.TempDir(), "users.db")
}

func TestRun_Success(t *testing.T) {
	dbPath := setup(t)
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	args := []string{"-email", "ana@example.com", "-role", "manager", "-password", testPassword, "-db", dbPath}
	require.NoError(t, run(args, stdin, stdout, stderr))

	out := stdout.String()
	assert.Contains(t, out, "User ana@example.com created successfully")
	assert.Contains(t, out, "(role manager)")
}

func TestRun_DuplicateUser(t *testing.T) {
	dbPath := setup(t)
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	args := []string{"-email", "ana@example.com", "-password", testPassword, "-db", dbPath}
	require.NoError(t, run(args, stdin, stdout, stderr), "first run should succeed")

	err := run(args, stdin, stdout, stderr)
	require.Error(t, err, "expected error on duplicate user")
	assert.Contains(t, err.Error(), "already exists")
}

func TestRun_MissingEmailFlag(t *testing.T) {
	setup(t)
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	err := run([]string{"-password", testPassword}, stdin, stdout, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required flags: email")
	assert.Contains(t, stdout.String(), "Usage:")
}

func TestRun_InvalidRole(t *testing.T) {
	dbPath := setup(t)
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	err := run([]string{"-email", "ana@example.com", "-role", "owner", "-password", testPassword, "-db", dbPath}, stdin, stdout, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role")
}

func TestRun_InteractivePassword(t *testing.T) {
	dbPath := setup(t)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	stdin := bytes.NewBufferString(testPassword + "\n")

	require.NoError(t, run([]string{"-email", "bo@example.com", "-db", dbPath}, stdin, stdout, stderr))

	out := stdout.String()
	assert.Contains(t, out, "Password: ")
	assert.Contains(t, out, "User bo@example.com created successfully")
}

func TestRun_InteractivePassword_Empty(t *testing.T) {
	dbPath := setup(t)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	stdin := bytes.NewBufferString("\n")

	err := run([]string{"-email", "bo@example.com", "-db", dbPath}, stdin, stdout, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password cannot be empty")
}

func TestRun_WeakPasswordRejected(t *testing.T) {
	dbPath := setup(t)
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	err := run([]string{"-email", "bo@example.com", "-password", "short", "-db", dbPath}, stdin, stdout, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create user")
}

func TestRun_PasswordWithAccountNameRejected(t *testing.T) {
	dbPath := setup(t)
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	args := []string{"-email", "marianne@example.com", "-name", "Marianne", "-password", "marianne-budget-2026", "-db", dbPath}
	err := run(args, stdin, stdout, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains the account email or name")

	args = []string{"-email", "marianne@example.com", "-password", "Expenses2026!!", "-db", dbPath}
	err = run(args, stdin, stdout, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too easy to guess")
}

func TestRun_EnvVarDBPath(t *testing.T) {
	dbPath := setup(t)
	t.Setenv("SPENDSYNC_SQLITE_PATH", dbPath)
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	require.NoError(t, run([]string{"-email", "env@example.com", "-password", testPassword}, stdin, stdout, stderr))
	assert.FileExists(t, dbPath)
}

func TestRun_InvalidDBPath(t *testing.T) {
	setup(t)
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	err := run([]string{"-email", "x@example.com", "-password", testPassword, "-db", t.TempDir()}, stdin, stdout, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open database")
}

func TestRun_InvalidFlag(t *testing.T) {
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	err := run([]string{"-invalid"}, stdin, stdout, stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag provided but not defined")
}

func TestRun_GenKey(t *testing.T) {
	stdout, stderr, stdin := new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)

	require.NoError(t, run([]string{"genkey"}, stdin, stdout, stderr))

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)

	paseto, ok := strings.CutPrefix(lines[0], "SPENDSYNC_PASETO_V4_SECRET_KEY_HEX=")
	require.True(t, ok, lines[0])
	assert.Len(t, paseto, 128)

	hmac, ok := strings.CutPrefix(lines[1], "SPENDSYNC_TOKEN_HMAC_KEY=")
	require.True(t, ok, lines[1])
	assert.Len(t, hmac, 64)
}
