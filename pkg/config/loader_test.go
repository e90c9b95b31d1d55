package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfig_MergesEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  port: "8080"
db:
  host: localhost
  port: 5432
  password: ${TRIAGE_TEST_DB_PASSWORD}
`)
	writeFile(t, dir, "production.yaml", `
db:
  host: db.internal
`)
	writeFile(t, dir, "secrets.env", "TRIAGE_TEST_DB_PASSWORD=from-secrets\n")

	m, err := LoadConfig("production", dir)
	require.NoError(t, err)

	var out struct {
		Server ServerConfig `yaml:"server"`
		DB     DBConfig     `yaml:"db"`
	}
	require.NoError(t, Decode(m, &out))
	assert.Equal(t, "8080", out.Server.Port)
	assert.Equal(t, "db.internal", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port)
	assert.Equal(t, "from-secrets", out.DB.Password)

	// 系统环境变量优先于 secrets.env
	t.Setenv("TRIAGE_TEST_DB_PASSWORD", "from-env")
	m, err = LoadConfig("production", dir)
	require.NoError(t, err)
	require.NoError(t, Decode(m, &out))
	assert.Equal(t, "from-env", out.DB.Password)
}

func TestLoadConfig_MissingEnvFileUsesBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: \"9000\"\n")

	m, err := LoadConfig("staging", dir)
	require.NoError(t, err)
	assert.Equal(t, "9000", m["server"].(map[string]interface{})["port"])
}

func TestLoadConfig_MissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestDecode_Durations(t *testing.T) {
	var out struct {
		Server ServerConfig `yaml:"server"`
	}
	require.NoError(t, Decode(map[string]interface{}{
		"server": map[string]interface{}{"shutdown_timeout": "15s"},
	}, &out))
	assert.Equal(t, 15*time.Second, out.Server.ShutdownTimeout)
}

func TestDBConfig(t *testing.T) {
	c := DBConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "triage"}
	assert.Equal(t, "postgres://u:p@h:5432/triage?sslmode=disable", c.DSN())
	assert.True(t, c.Enabled())
	assert.False(t, DBConfig{}.Enabled())
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "envhost")
	t.Setenv("DB_PORT", "6543")
	cfg := DBConfig{Host: "filehost", Port: 5432}
	OverrideDBFromEnv(&cfg)
	assert.Equal(t, "envhost", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
}
