// Package am loads tablescan configuration from am.toml files and
// TABLESCAN_* environment variables.
package am

// Config represents the tablescan configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database" yaml:"database"`
	Metastore MetastoreConfig `mapstructure:"metastore" toml:"metastore" yaml:"metastore"`
	Planner   PlannerConfig   `mapstructure:"planner" toml:"planner" yaml:"planner"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch" toml:"dispatch" yaml:"dispatch"`
	Splits    SplitsConfig    `mapstructure:"splits" toml:"splits" yaml:"splits"`
	Log       LogConfig       `mapstructure:"log" toml:"log" yaml:"log"`
}

// DatabaseConfig configures the SQLite database holding the catalog and job queue
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" yaml:"path"`
}

// MetastoreConfig configures how descriptors reach the metadata service
type MetastoreConfig struct {
	Address           string  `mapstructure:"address" toml:"address" yaml:"address"`                                     // URI recorded on every descriptor
	Principal         string  `mapstructure:"principal" toml:"principal" yaml:"principal"`                               // empty = no authentication
	MaxPartitions     int     `mapstructure:"max_partitions" toml:"max_partitions" yaml:"max_partitions"`                // -1 = unlimited
	RequestsPerSecond float64 `mapstructure:"requests_per_second" toml:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
	Burst             int     `mapstructure:"burst" toml:"burst" yaml:"burst"`
}

// PlannerConfig configures request defaults
type PlannerConfig struct {
	DefaultNamespace string `mapstructure:"default_namespace" toml:"default_namespace" yaml:"default_namespace"`
}

// DispatchConfig configures the worker pool
type DispatchConfig struct {
	Workers        int `mapstructure:"workers" toml:"workers" yaml:"workers"`                            // 0 = no background workers
	PollIntervalMS int `mapstructure:"poll_interval_ms" toml:"poll_interval_ms" yaml:"poll_interval_ms"` // queue poll period
	MaxRetries     int `mapstructure:"max_retries" toml:"max_retries" yaml:"max_retries"`
	LeaseMS        int `mapstructure:"lease_ms" toml:"lease_ms" yaml:"lease_ms"` // claim held without renewal before other workers re-queue the job
}

// SplitsConfig selects the partition reader used by workers
type SplitsConfig struct {
	Reader string `mapstructure:"reader" toml:"reader" yaml:"reader"` // "stat" or "noop"
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" yaml:"json"`
}

// Split readers
const (
	ReaderStat = "stat"
	ReaderNoop = "noop"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// DefaultConfigFile is the project config file name searched for upwards from the working directory
const DefaultConfigFile = "am.toml"
