package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlstream/internal/scripts"
)

// chdir moves into a fresh directory so a stray .env is never picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "sqlite", cfg.Dialect)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Notifier.PollInterval)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "sqlstream.yaml")
	writeFile(t, path, `
dialect: postgres
connection_string: postgres://localhost/app
schema: orders
command_timeout: 5s
notifier:
  kind: listen
metrics_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Dialect)
	assert.Equal(t, "postgres://localhost/app", cfg.ConnectionString)
	assert.Equal(t, "orders", cfg.Schema)
	assert.Equal(t, 5*time.Second, cfg.CommandTimeout)
	assert.Equal(t, NotifierListen, cfg.Notifier.Kind)
	// Absent keys keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Notifier.PollInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "other.yaml")
	writeFile(t, path, "connection_string: from-env-path.db\n")
	t.Setenv(EnvConfig, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env-path.db", cfg.ConnectionString)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "sqlstream.yaml")
	writeFile(t, path, "connection_string: file.db\nlog_level: warn\n")

	t.Setenv(EnvConnection, "env.db")
	t.Setenv(EnvPollInterval, "2s")
	t.Setenv(EnvNotifier, NotifierPoll)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.ConnectionString)
	assert.Equal(t, 2*time.Second, cfg.Notifier.PollInterval)
	assert.Equal(t, NotifierPoll, cfg.Notifier.Kind)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdir(t)
	writeFile(t, filepath.Join(dir, ".env"), "SQLSTREAM_SCHEMA=fromdotenv\n")
	t.Cleanup(func() { os.Unsetenv(EnvSchema) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fromdotenv", cfg.Schema)
}

func TestLoad_Errors(t *testing.T) {
	dir := chdir(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "dialect: [unterminated\n")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parse config")

	t.Setenv(EnvCommandTimeout, "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, EnvCommandTimeout)
}

func validConfig() Config {
	cfg := Default()
	cfg.ConnectionString = "store.db"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{"defaults with connection", func(c *Config) {}, true},
		{"postgres listen", func(c *Config) { c.Dialect = "postgres"; c.Notifier.Kind = NotifierListen }, true},
		{"negative timeout disables", func(c *Config) { c.CommandTimeout = -1 }, true},
		{"explicit schema", func(c *Config) { c.Schema = "tenant_1" }, true},
		{"unknown dialect", func(c *Config) { c.Dialect = "mysql" }, false},
		{"missing connection", func(c *Config) { c.ConnectionString = "" }, false},
		{"unsafe schema", func(c *Config) { c.Schema = "x; DROP" }, false},
		{"zero timeout", func(c *Config) { c.CommandTimeout = 0 }, false},
		{"zero poll interval", func(c *Config) { c.Notifier.PollInterval = 0 }, false},
		{"unknown notifier", func(c *Config) { c.Notifier.Kind = "carrier-pigeon" }, false},
		{"listen on sqlite", func(c *Config) { c.Notifier.Kind = NotifierListen }, false},
		{"watch on postgres", func(c *Config) { c.Dialect = "postgres"; c.Notifier.Kind = NotifierWatch }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Problems)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		assert.Equal(t, want, Config{LogLevel: level}.SlogLevel(), level)
	}
}

func TestStoreSettings(t *testing.T) {
	cfg := validConfig()
	cfg.Schema = "tenant"
	cfg.CommandTimeout = 3 * time.Second

	settings, err := cfg.StoreSettings(slog.Default())
	require.NoError(t, err)
	assert.Equal(t, scripts.SQLite, settings.Dialect)
	assert.Equal(t, "store.db", settings.ConnectionString)
	assert.Equal(t, "tenant", settings.Schema)
	assert.Equal(t, 3*time.Second, settings.CommandTimeout)
	assert.NotNil(t, settings.NotifierFactory)
	assert.NotNil(t, settings.Logger)
}

func TestNotifierFactory(t *testing.T) {
	for _, kind := range []string{NotifierInProcess, NotifierPoll, NotifierWatch, NotifierListen} {
		cfg := validConfig()
		cfg.Notifier.Kind = kind
		f, err := cfg.NotifierFactory()
		require.NoError(t, err, kind)
		assert.NotNil(t, f, kind)
	}

	cfg := validConfig()
	cfg.Notifier.Kind = NotifierNone
	f, err := cfg.NotifierFactory()
	require.NoError(t, err)
	assert.Nil(t, f)

	cfg.Notifier.Kind = "bogus"
	_, err = cfg.NotifierFactory()
	assert.Error(t, err)

	cfg.Notifier.Kind = NotifierInProcess
	cfg.Dialect = "mysql"
	_, err = cfg.StoreSettings(nil)
	assert.Error(t, err)
}
