package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "1m", cfg.Scheduler.PublishTick)
	assert.Equal(t, 30, cfg.Scheduler.SyncIntervalMinutes)
	assert.Equal(t, "/login", cfg.Remote.LoginPath)
	assert.Equal(t, "/index", cfg.Remote.HomePath)
	assert.Equal(t, "cascade", cfg.Events.SubjectPrefix)
	assert.Equal(t, 20, cfg.Feed.PageSize)
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "remote:\n  timings:\n    step: soon\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.timings.step")
}

func TestLoadConfigRejectsNegativeSyncInterval(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  sync_interval_minutes: -5\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestValidateRejectsUnusableHomePath(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)

	for _, home := range []string{"", "index", "/login"} {
		cfg.Remote.HomePath = home
		err := cfg.Validate()
		require.Error(t, err, home)
		assert.Contains(t, err.Error(), "remote.home_path")
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
}
