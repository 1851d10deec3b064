package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "tablescan.db")

	v.SetDefault("metastore.address", "sqlite://tablescan.db")
	v.SetDefault("metastore.principal", "")
	v.SetDefault("metastore.max_partitions", -1)
	v.SetDefault("metastore.requests_per_second", 0.0)
	v.SetDefault("metastore.burst", 1)

	v.SetDefault("planner.default_namespace", "default")

	v.SetDefault("dispatch.workers", 1)
	v.SetDefault("dispatch.poll_interval_ms", 1000)
	v.SetDefault("dispatch.max_retries", 2)
	v.SetDefault("dispatch.lease_ms", 30000)

	v.SetDefault("splits.reader", ReaderStat)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars binds values commonly injected by deployment tooling
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "TABLESCAN_DATABASE_PATH")
	v.BindEnv("metastore.address", "TABLESCAN_METASTORE_ADDRESS")
	v.BindEnv("metastore.principal", "TABLESCAN_METASTORE_PRINCIPAL")
}

// Defaults returns the configuration with every default applied
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		panic(fmt.Sprintf("defaults do not decode: %v", err))
	}
	return cfg
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "tablescan.db"
	}
	return c.Database.Path
}

// PollInterval returns the worker poll period (default 1s)
func (c *Config) PollInterval() time.Duration {
	if c.Dispatch.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.Dispatch.PollIntervalMS) * time.Millisecond
}

// LeaseDuration returns how long a worker's claim on a job holds (default 30s)
func (c *Config) LeaseDuration() time.Duration {
	if c.Dispatch.LeaseMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Dispatch.LeaseMS) * time.Millisecond
}

// MetastorePrincipal returns the principal, or nil when authentication is off
func (c *Config) MetastorePrincipal() *string {
	if c.Metastore.Principal == "" {
		return nil
	}
	p := c.Metastore.Principal
	return &p
}

// String returns a short representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Metastore: %s, Dispatch: {Workers: %d}, Reader: %s}",
		c.Database.Path, c.Metastore.Address, c.Dispatch.Workers, c.Splits.Reader)
}
