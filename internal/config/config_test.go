package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.DB.Driver)
		assert.Equal(t, "coachflow.db", cfg.DatabaseDSN())
		assert.Equal(t, ":8080", cfg.HTTPAddr())
		assert.Equal(t, "America/New_York", cfg.DefaultTimezone)
		assert.Equal(t, "record", cfg.CadenceMode)
		assert.Equal(t, 2*time.Minute, cfg.LockTTL)
		assert.Empty(t, cfg.StructuralWorkflowTypes)
	})

	t.Run("Environment overrides", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("DB_DRIVER", "postgres")
		t.Setenv("DB_USERNAME", "coach")
		t.Setenv("DB_PASSWORD", "secret")
		t.Setenv("DB_HOST", "db")
		t.Setenv("DB_PORT", "6543")
		t.Setenv("DB_NAME", "programs")
		t.Setenv("HTTP_PORT", "9090")
		t.Setenv("CADENCE_MODE", "Calendar")
		t.Setenv("LOCK_TTL", "30s")
		t.Setenv("STRUCTURAL_WORKFLOW_TYPES", "annual_planning, offboarding")
		t.Setenv("REDIS_ADDR", "localhost:6379")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "postgres://coach:secret@db:6543/programs?sslmode=disable", cfg.DatabaseDSN())
		assert.Equal(t, ":9090", cfg.HTTPAddr())
		assert.Equal(t, "calendar", cfg.CadenceMode)
		assert.Equal(t, 30*time.Second, cfg.LockTTL)
		assert.Equal(t, []string{"annual_planning", "offboarding"}, cfg.StructuralWorkflowTypes)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	})

	t.Run("Config file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		path := filepath.Join(dir, "coachflow.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
db:
  driver: sqlite
  dsn: /var/lib/coachflow/data.db
default_timezone: Europe/Berlin
structural_workflow_types: [offboarding]
`), 0o600))

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/coachflow/data.db", cfg.DatabaseDSN())
		assert.Equal(t, "Europe/Berlin", cfg.DefaultTimezone)
		assert.Equal(t, []string{"offboarding"}, cfg.StructuralWorkflowTypes)
	})

	t.Run("Invalid values", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("CADENCE_MODE", "cron")
		_, err := Load("")
		assert.ErrorContains(t, err, "CADENCE_MODE")
	})

	t.Run("Missing explicit file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		_, err := Load("nope.yaml")
		assert.Error(t, err)
	})
}
