package config

import (
	"testing"
	"time"

	"collabcanvas/internal/lock"
	"collabcanvas/internal/smoothing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, lock.DefaultStaleAfter, cfg.Canvas.LockStaleAfter)
	assert.Equal(t, smoothing.DefaultFactor, cfg.Smoothing.Factor)
	assert.Equal(t, 60*time.Second, cfg.Presence.InactiveAfter)
	assert.Equal(t, 5*time.Minute, cfg.Presence.RemoveAfter)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("EPHEMERAL_DRIVER", "memory")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("DRAG_EVENTS_PER_SECOND", "12.5")
	t.Setenv("CLEANUP_ENABLED", "false")
	t.Setenv("LOCK_STALE_AFTER", "90s")
	t.Setenv("MAX_SELECTION", "not-a-number")

	cfg := Load()

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, DriverMemory, cfg.Redis.Driver)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 12.5, cfg.Presence.DragEventsPerSecond)
	assert.False(t, cfg.Presence.CleanupEnabled)
	assert.Equal(t, 90*time.Second, cfg.Canvas.LockStaleAfter)
	assert.Equal(t, 50, cfg.Canvas.MaxSelection, "invalid values fall back to the default")
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", Name: "canvas", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/canvas?sslmode=disable", db.DSN())

	db.URL = "postgres://elsewhere/db"
	assert.Equal(t, "postgres://elsewhere/db", db.DSN())
}
