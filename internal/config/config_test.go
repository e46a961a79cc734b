package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeFile — утилита записи временного файла конфигурации.
func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	return p
}

// chdir — смена текущего рабочего каталога с авто-возвратом.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

const sampleYAML = `
env: "prod"
http:
  host: "0.0.0.0"
  port: "9000"
api:
  base_url: "https://api.example.org/"
  timeout: "3s"
  auth_prefix: "/auth"
  profile_path: "/auth/me"
  retry_max: 4
storage:
  driver: "memory"
session:
  watch_interval: "10s"
  refresh_window: "1m"
health:
  enabled: false
  max_retries: 5
dev:
  enabled: true
  port: "8100"
`

const brokenYAML = `
env: [unclosed
`

func TestHTTPConfig_Addr(t *testing.T) {
	t.Parallel()
	require.Equal(t, "0.0.0.0:8080", HTTPConfig{Host: "0.0.0.0", Port: "8080"}.Addr())
	require.Equal(t, "127.0.0.1:8000", DevConfig{Host: "127.0.0.1", Port: "8000"}.Addr())
}

func TestLoad_WithExplicitPath_OK(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", sampleYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr())
	require.Equal(t, "https://api.example.org", cfg.API.BaseURL, "trailing slash trimmed")
	require.Equal(t, 3*time.Second, cfg.API.Timeout)
	require.Equal(t, "/auth", cfg.API.AuthPrefix)
	require.Equal(t, "/auth/me", cfg.API.ProfilePath)
	require.Equal(t, uint64(4), cfg.API.RetryMax)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, 10*time.Second, cfg.Session.WatchInterval)
	require.Equal(t, time.Minute, cfg.Session.RefreshWindow)
	require.False(t, cfg.Health.Enabled)
	require.Equal(t, 5, cfg.Health.MaxRetries)
	require.True(t, cfg.Dev.Enabled)
	require.Equal(t, "8100", cfg.Dev.Port)

	// Дефолты для незаданных полей.
	require.Equal(t, "/api/health", cfg.Health.Path)
	require.Equal(t, 5*time.Second, cfg.Health.RetryDelay)
	require.Equal(t, 24*time.Hour, cfg.Dev.TokenTTL)
}

func TestLoad_ExplicitZeroValuesKept(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "api:\n  retry_max: 0\nhealth:\n  enabled: false\n")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cfg.API.RetryMax)
	require.False(t, cfg.Health.Enabled)
}

func TestLoad_UnsetKeysGetDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "api:\n  timeout: \"2s\"\nhealth:\n  path: \"/health\"\n")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, DefaultRetryMax, cfg.API.RetryMax)
	require.True(t, cfg.Health.Enabled)
	require.Equal(t, "/health", cfg.Health.Path)
}

func TestLoad_EnvZeroValuesKept(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("API_RETRY_MAX", "0")
	t.Setenv("HEALTH_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, uint64(0), cfg.API.RetryMax)
	require.False(t, cfg.Health.Enabled)
}

func TestLoad_EnvOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", sampleYAML)

	t.Setenv("API_TIMEOUT", "7s")
	t.Setenv("HTTP_PORT", "9999")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 7*time.Second, cfg.API.Timeout)
	require.Equal(t, "9999", cfg.HTTP.Port)
}

func TestLoad_ConfigPathEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "other.yaml", sampleYAML)
	t.Setenv("CONFIG_PATH", cfgPath)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "prod", cfg.Env)
}

func TestLoad_LocalYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "local.yaml", "env: \"dev\"\n")
	chdir(t, dir)
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, 10*time.Second, cfg.API.Timeout)
	require.Equal(t, "file", cfg.Storage.Driver)
}

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	require.Equal(t, "/api/v1/auth", cfg.API.AuthPrefix)
	require.Equal(t, 5*time.Minute, cfg.Session.RefreshWindow)
	require.Equal(t, 30*time.Second, cfg.Health.Interval)
	require.Equal(t, 3, cfg.Health.MaxRetries)
	require.Equal(t, DefaultRetryMax, cfg.API.RetryMax)
	require.True(t, cfg.Health.Enabled)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "API_USER_AGENT=classbook-test\n")
	chdir(t, dir)
	t.Setenv("CONFIG_PATH", "")
	t.Cleanup(func() { _ = os.Unsetenv("API_USER_AGENT") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "classbook-test", cfg.API.UserAgent)
}

func TestLoad_DotEnvPathMissing(t *testing.T) {
	t.Setenv("DOTENV_PATH", filepath.Join(t.TempDir(), "nope.env"))

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load dotenv")
}

func TestLoad_UnknownStorageDriver(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "storage:\n  driver: \"sqlite\"\n")

	_, err := Load(cfgPath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown driver")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "stat failed")

	broken := writeFile(t, dir, "broken.yaml", brokenYAML)
	_, err = Load(broken)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config")
}

func TestMustLoad_Panics(t *testing.T) {
	require.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}
