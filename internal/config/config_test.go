package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/schema-guard/internal/connector"
)

func withFs(t *testing.T, fs afero.Fs) {
	t.Helper()
	old := AppFs
	AppFs = fs
	t.Cleanup(func() { AppFs = old })
}

func TestLoadDefaults(t *testing.T) {
	withFs(t, afero.NewMemMapFs())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SCHEMA_GUARD_DATABASE_URL", "")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, time.Minute, cfg.UnitTimeout)
	assert.Equal(t, 5, cfg.MaxOpenConns)
	assert.False(t, cfg.DryRun)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadEnvironment(t *testing.T) {
	withFs(t, afero.NewMemMapFs())
	t.Setenv("SCHEMA_GUARD_DATABASE_URL", "postgres://app@db/app")
	t.Setenv("SCHEMA_GUARD_WORKERS", "8")
	t.Setenv("SCHEMA_GUARD_UNIT_TIMEOUT", "30s")
	t.Setenv("SCHEMA_GUARD_EXCLUDE_TRIGGERS", "true")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://app@db/app", cfg.DatabaseURL)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 9, cfg.MaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.UnitTimeout)
	assert.True(t, cfg.ExcludeTriggers)
}

func TestLoadDatabaseURLFallback(t *testing.T) {
	withFs(t, afero.NewMemMapFs())
	t.Setenv("SCHEMA_GUARD_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "mysql://root@localhost/app")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "mysql://root@localhost/app", cfg.DatabaseURL)
}

func TestLoadConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	withFs(t, fs)
	t.Setenv("SCHEMA_GUARD_WORKERS", "")
	require.NoError(t, afero.WriteFile(fs, "/etc/guard.yaml", []byte(
		"schema: crm.yaml\nworkers: 2\nmax-open-conns: 10\ndriver: mysql\n"), 0644))

	cfg, err := Load(viper.New(), "/etc/guard.yaml")
	require.NoError(t, err)
	assert.Equal(t, "crm.yaml", cfg.SchemaPath)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, "mysql", cfg.Driver)
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	withFs(t, afero.NewMemMapFs())
	_, err := Load(viper.New(), "/missing.yaml")
	assert.Error(t, err)
}

func TestLoadFlagsWin(t *testing.T) {
	withFs(t, afero.NewMemMapFs())
	t.Setenv("SCHEMA_GUARD_WORKERS", "8")

	v := viper.New()
	v.Set("workers", 3)
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
}

func TestValidate(t *testing.T) {
	valid := Config{
		DatabaseURL: "postgres://app@db/app",
		SchemaPath:  "crm.yaml",
		Workers:     4,
		UnitTimeout: time.Minute,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"missing schema", func(c *Config) { c.SchemaPath = "" }},
		{"missing url", func(c *Config) { c.DatabaseURL = "" }},
		{"unknown scheme", func(c *Config) { c.DatabaseURL = "sqlite:///tmp/x.db" }},
		{"unknown driver", func(c *Config) { c.Driver = "oracle" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative timeout", func(c *Config) { c.UnitTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestResolveDriver(t *testing.T) {
	c := Config{DatabaseURL: "postgres://app@db/app"}
	d, err := c.ResolveDriver()
	require.NoError(t, err)
	assert.Equal(t, connector.DriverPostgres, d)

	c.Driver = "MySQL"
	d, err = c.ResolveDriver()
	require.NoError(t, err)
	assert.Equal(t, connector.DriverMySQL, d)
}
