package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/vitebski/schema-guard/internal/connector"
)

// EnvPrefix prefixes every setting read from the environment
const EnvPrefix = "SCHEMA_GUARD"

// DefaultUnitTimeout bounds a table transaction when nothing else is configured
const DefaultUnitTimeout = time.Minute

// AppFs is the filesystem config files are read from
var AppFs = afero.NewOsFs()

// Config holds the settings of one run
type Config struct {
	DatabaseURL     string
	Driver          string
	SchemaPath      string
	Workers         int
	UnitTimeout     time.Duration
	MaxOpenConns    int
	LogLevel        string
	DryRun          bool
	ExcludeTriggers bool
	NoColor         bool
}

// SetDefaults registers the default value of every setting
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers", 4)
	v.SetDefault("unit-timeout", DefaultUnitTimeout)
	v.SetDefault("max-open-conns", 0)
	v.SetDefault("log-level", "")
	v.SetDefault("dry-run", false)
	v.SetDefault("exclude-triggers", false)
	v.SetDefault("no-color", false)
}

// Load resolves the configuration from flags already bound to v, the
// environment and an optional config file. An explicit configFile must
// exist; otherwise .schema-guard.yaml is looked up in the working directory.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database-url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}

	v.SetFs(AppFs)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".schema-guard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:     v.GetString("database-url"),
		Driver:          v.GetString("driver"),
		SchemaPath:      v.GetString("schema"),
		Workers:         v.GetInt("workers"),
		UnitTimeout:     v.GetDuration("unit-timeout"),
		MaxOpenConns:    v.GetInt("max-open-conns"),
		LogLevel:        v.GetString("log-level"),
		DryRun:          v.GetBool("dry-run"),
		ExcludeTriggers: v.GetBool("exclude-triggers"),
		NoColor:         v.GetBool("no-color"),
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = cfg.Workers + 1
	}
	return cfg, nil
}

// Validate checks the settings needed to migrate. A document alone can be
// validated without a database, see ValidateDocumentOnly.
func (c *Config) Validate() error {
	if err := c.ValidateDocumentOnly(); err != nil {
		return err
	}
	if c.DatabaseURL == "" {
		return errors.New("database url is required (--database-url, SCHEMA_GUARD_DATABASE_URL or DATABASE_URL)")
	}
	if _, err := c.ResolveDriver(); err != nil {
		return err
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.UnitTimeout <= 0 {
		return fmt.Errorf("unit timeout must be positive, got %s", c.UnitTimeout)
	}
	return nil
}

// ValidateDocumentOnly checks the settings needed to load a document
func (c *Config) ValidateDocumentOnly() error {
	if c.SchemaPath == "" {
		return errors.New("schema document path is required (--schema)")
	}
	return nil
}

// ResolveDriver returns the configured driver or infers it from the URL
func (c *Config) ResolveDriver() (connector.Driver, error) {
	switch connector.Driver(strings.ToLower(c.Driver)) {
	case connector.DriverPostgres:
		return connector.DriverPostgres, nil
	case connector.DriverMySQL:
		return connector.DriverMySQL, nil
	case "":
		return connector.DetectDriver(c.DatabaseURL)
	}
	return "", fmt.Errorf("unsupported driver %q, use postgres or mysql", c.Driver)
}
