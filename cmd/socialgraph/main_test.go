package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestListOnEmptyMemoryBackend(t *testing.T) {
	out, err := run(t, "list", "followers", "u1", "--viewer", "u2", "--all")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestListRejectsUnknownKind(t *testing.T) {
	_, err := run(t, "list", "friends", "u1")
	assert.Error(t, err)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	_, err := run(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND=postgres")
}

func TestWatchUnreadRequiresSupabase(t *testing.T) {
	_, err := run(t, "watch-unread", "--token", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND=supabase")
}
