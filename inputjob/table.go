package inputjob

import "maps"

// Column describes one table or partition-key column
type Column struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Type    string `json:"type" yaml:"type" toml:"type"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty" toml:"comment,omitempty"`
}

// StorageFormat names how the bytes at a location are laid out and which
// driver reads them. Workers pick a reader from StorageDriver.
type StorageFormat struct {
	InputFormat   string `json:"input_format,omitempty" yaml:"input_format,omitempty" toml:"input_format,omitempty"`
	OutputFormat  string `json:"output_format,omitempty" yaml:"output_format,omitempty" toml:"output_format,omitempty"`
	SerDe         string `json:"serde,omitempty" yaml:"serde,omitempty" toml:"serde,omitempty"`
	StorageDriver string `json:"storage_driver,omitempty" yaml:"storage_driver,omitempty" toml:"storage_driver,omitempty"`
}

// TableInfo is the table metadata bound onto a descriptor at resolution:
// schema, partition keys, storage format and location.
type TableInfo struct {
	Namespace     string            `json:"namespace" yaml:"namespace"`
	Name          string            `json:"name" yaml:"name"`
	Columns       []Column          `json:"columns,omitempty" yaml:"columns,omitempty"`
	PartitionKeys []Column          `json:"partition_keys,omitempty" yaml:"partition_keys,omitempty"`
	Location      string            `json:"location,omitempty" yaml:"location,omitempty"`
	StorageFormat StorageFormat     `json:"storage_format" yaml:"storage_format"`
	Parameters    map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// QualifiedName returns "namespace.name"
func (t *TableInfo) QualifiedName() string {
	return t.Namespace + "." + t.Name
}

// IsPartitioned reports whether the table declares partition keys
func (t *TableInfo) IsPartitioned() bool {
	return len(t.PartitionKeys) > 0
}

// PartitionKeyNames returns partition key names in declaration order
func (t *TableInfo) PartitionKeyNames() []string {
	names := make([]string, len(t.PartitionKeys))
	for i, k := range t.PartitionKeys {
		names[i] = k.Name
	}
	return names
}

// Clone returns a deep copy
func (t *TableInfo) Clone() *TableInfo {
	if t == nil {
		return nil
	}
	c := *t
	if t.Columns != nil {
		c.Columns = append([]Column(nil), t.Columns...)
	}
	if t.PartitionKeys != nil {
		c.PartitionKeys = append([]Column(nil), t.PartitionKeys...)
	}
	c.Parameters = maps.Clone(t.Parameters)
	return &c
}
