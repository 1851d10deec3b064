package metastore

import (
	"context"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/inputjob"
	"github.com/teranos/tablescan/logger"
)

// Seed is a catalog described in a TOML file:
//
//	[[namespaces]]
//	name = "sales_db"
//
//	[[tables]]
//	namespace = "sales_db"
//	name = "orders"
//	location = "file:///warehouse/sales_db/orders"
//	partition_keys = [{ name = "region", type = "string" }]
//	storage_format = { input_format = "parquet", storage_driver = "parquet" }
//
//	  [[tables.partitions]]
//	  values = { region = "US" }
type Seed struct {
	Namespaces []Namespace `toml:"namespaces"`
	Tables     []SeedTable `toml:"tables"`
}

// SeedTable is a table and its partitions in a seed file
type SeedTable struct {
	Namespace     string                 `toml:"namespace"`
	Name          string                 `toml:"name"`
	Columns       []inputjob.Column      `toml:"columns"`
	PartitionKeys []inputjob.Column      `toml:"partition_keys"`
	Location      string                 `toml:"location"`
	StorageFormat inputjob.StorageFormat `toml:"storage_format"`
	Parameters    map[string]string      `toml:"parameters"`
	Partitions    []SeedPartition        `toml:"partitions"`
}

// SeedPartition is one partition in a seed file
type SeedPartition struct {
	Values        map[string]string      `toml:"values"`
	Location      string                 `toml:"location"`
	StorageFormat inputjob.StorageFormat `toml:"storage_format"`
	Properties    map[string]string      `toml:"properties"`
}

// SeedStats counts what ApplySeed created
type SeedStats struct {
	Namespaces int
	Tables     int
	Partitions int
}

// LoadSeed decodes a seed file. Unknown keys are rejected so typos in a
// seed do not silently drop metadata.
func LoadSeed(path string) (*Seed, error) {
	var seed Seed
	md, err := toml.DecodeFile(path, &seed)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode seed file %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("seed file %s has unknown keys: %s", path, strings.Join(keys, ", ")),
			"tables take namespace, name, columns, partition_keys, location, storage_format, parameters, partitions")
	}
	return &seed, nil
}

// ApplySeed creates the namespaces, tables and partitions in seed. Existing
// namespaces are reused, including ones only named by a table; an existing
// table is a conflict.
func (c *Catalog) ApplySeed(ctx context.Context, seed *Seed) (SeedStats, error) {
	var stats SeedStats

	ensure := func(ns Namespace) error {
		err := c.CreateNamespace(ctx, ns)
		switch {
		case err == nil:
			stats.Namespaces++
		case errors.IsConflictError(err):
		default:
			return err
		}
		return nil
	}

	for _, ns := range seed.Namespaces {
		if err := ensure(ns); err != nil {
			return stats, err
		}
	}

	for _, st := range seed.Tables {
		if err := ensure(Namespace{Name: st.Namespace}); err != nil {
			return stats, err
		}
		table := &inputjob.TableInfo{
			Namespace:     inputjob.NormalizeNamespace(st.Namespace),
			Name:          st.Name,
			Columns:       st.Columns,
			PartitionKeys: st.PartitionKeys,
			Location:      st.Location,
			StorageFormat: st.StorageFormat,
			Parameters:    st.Parameters,
		}
		if err := c.CreateTable(ctx, table); err != nil {
			return stats, err
		}
		stats.Tables++

		for _, sp := range st.Partitions {
			part := &inputjob.PartInfo{
				Values:        sp.Values,
				Location:      sp.Location,
				StorageFormat: sp.StorageFormat,
				Properties:    sp.Properties,
			}
			if err := c.AddPartition(ctx, table.Namespace, table.Name, part); err != nil {
				return stats, err
			}
			stats.Partitions++
		}
	}

	c.logger.Infow("Applied catalog seed",
		"namespaces", stats.Namespaces,
		"tables", stats.Tables,
		logger.FieldPartitionCount, stats.Partitions,
	)
	return stats, nil
}
