package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 1000, cfg.Cache.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "15432")
	t.Setenv("CACHE_MAX_SIZE", "50")
	t.Setenv("CACHE_DEFAULT_TTL", "30s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadYAMLFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
database:
  host: yaml-host
  name: yaml-db
api:
  port: 9090
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DB_HOST", "env-host")

	cfg, err := Load()
	require.NoError(t, err)

	// 環境変数がファイルより優先される
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, "yaml-db", cfg.Database.Name)
	assert.Equal(t, 9090, cfg.API.Port)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	require.NoError(t, cfg.Validate())

	cfg.Database.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Cache.MaxSize = -1
	assert.Error(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "app", Password: "secret",
		Name: "uriage", SSLMode: "disable",
	}
	assert.Equal(t, "host=localhost port=5432 user=app password=secret dbname=uriage sslmode=disable", cfg.DSN())
}
