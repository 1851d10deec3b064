package am

import "github.com/teranos/tablescan/errors"

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	if c.Metastore.Address == "" {
		return errors.WithHint(errors.New("metastore.address cannot be empty"),
			"every descriptor records the metadata service address; set it in am.toml or TABLESCAN_METASTORE_ADDRESS")
	}
	// -1 = unlimited, 0 = resolve to no partitions
	if c.Metastore.MaxPartitions < -1 {
		return errors.Newf("metastore.max_partitions must be >= -1, got %d", c.Metastore.MaxPartitions)
	}
	if c.Metastore.RequestsPerSecond < 0 {
		return errors.Newf("metastore.requests_per_second must be >= 0, got %f", c.Metastore.RequestsPerSecond)
	}
	if c.Metastore.Burst < 0 {
		return errors.Newf("metastore.burst must be >= 0, got %d", c.Metastore.Burst)
	}

	if c.Dispatch.Workers < 0 {
		return errors.Newf("dispatch.workers must be >= 0, got %d", c.Dispatch.Workers)
	}
	if c.Dispatch.PollIntervalMS < 0 {
		return errors.Newf("dispatch.poll_interval_ms must be >= 0, got %d", c.Dispatch.PollIntervalMS)
	}
	if c.Dispatch.MaxRetries < 0 {
		return errors.Newf("dispatch.max_retries must be >= 0, got %d", c.Dispatch.MaxRetries)
	}
	if c.Dispatch.LeaseMS < 0 {
		return errors.Newf("dispatch.lease_ms must be >= 0, got %d", c.Dispatch.LeaseMS)
	}

	switch c.Splits.Reader {
	case ReaderStat, ReaderNoop:
	default:
		return errors.WithHintf(errors.Newf("splits.reader %q is not supported", c.Splits.Reader),
			"use %q or %q", ReaderStat, ReaderNoop)
	}

	return nil
}
