package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/monitoring"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "ROVER_MODE", envKey("mode"))
	assert.Equal(t, "ROVER_HEALTH_LISTEN", envKey("health-listen"))
}

func TestParseArgs_Precedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "rover.env")
	require.NoError(t, os.WriteFile(envFile, []byte("ROVER_MODE=bridge\nROVER_PORT=/dev/ttyACM0\nROVER_RETENTION=24h\n"), 0o600))

	o, rest, err := parseArgs(
		[]string{"-env", envFile, "-port", "/dev/ttyS9", "migrate", "status"},
		lookupFrom(map[string]string{"ROVER_RETENTION": "1h", "ROVER_AUTOSTART": "true"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "bridge", o.mode, "from env file")
	assert.Equal(t, "/dev/ttyS9", o.port, "flag beats env file")
	assert.Equal(t, time.Hour, o.retention, "environment beats env file")
	assert.True(t, o.autostart)
	assert.Equal(t, []string{"migrate", "status"}, rest)
}

func TestParseArgs_Defaults(t *testing.T) {
	o, rest, err := parseArgs([]string{"-env", filepath.Join(t.TempDir(), "missing.env")}, lookupFrom(nil))
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, "sim", o.mode)
	assert.Equal(t, "rover.db", o.dbPath)
	assert.Equal(t, ":8080", o.listen)
	assert.Equal(t, 7*24*time.Hour, o.retention)
	assert.True(t, o.console)
}

func TestParseArgs_Errors(t *testing.T) {
	noEnv := []string{"-env", ""}
	_, _, err := parseArgs(append(noEnv, "-mode", "hover"), lookupFrom(nil))
	assert.ErrorContains(t, err, "unknown mode")

	_, _, err = parseArgs(noEnv, lookupFrom(map[string]string{"ROVER_RETENTION": "forever"}))
	assert.ErrorContains(t, err, "ROVER_RETENTION")

	_, _, err = parseArgs([]string{"-nope"}, lookupFrom(nil))
	assert.Error(t, err)
}

func TestRun_SimRecordsTicks(t *testing.T) {
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	dbPath := filepath.Join(t.TempDir(), "rover.db")
	o := &options{
		mode:      "sim",
		dbPath:    dbPath,
		autostart: true,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	require.NoError(t, run(ctx, o))

	store, err := db.OpenDB(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "sim", runs[0].Mode)
	assert.Equal(t, "signal", runs[0].EndReason)
	assert.NotNil(t, runs[0].EndedAt)
	assert.Greater(t, runs[0].Ticks, int64(0))

	events, err := store.Events(context.Background(), runs[0].ID, "state", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, events, "autostart records a state change")
}
