package inputjob

import (
	"maps"
	"strings"
)

// PartInfo is one partition selected by the descriptor's filter. For an
// unpartitioned table the resolver produces a single PartInfo covering the
// table location, with no Values.
type PartInfo struct {
	Values        map[string]string `json:"values,omitempty" yaml:"values,omitempty"`
	Location      string            `json:"location" yaml:"location"`
	StorageFormat StorageFormat     `json:"storage_format" yaml:"storage_format"`
	Properties    map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Spec renders the partition as "k1=v1/k2=v2" following keys' order.
// Keys without a value are skipped.
func (p *PartInfo) Spec(keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := p.Values[k]; ok {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "/")
}

// Clone returns a deep copy
func (p *PartInfo) Clone() *PartInfo {
	if p == nil {
		return nil
	}
	c := *p
	c.Values = maps.Clone(p.Values)
	c.Properties = maps.Clone(p.Properties)
	return &c
}

func clonePartitions(parts []*PartInfo) []*PartInfo {
	if parts == nil {
		return nil
	}
	out := make([]*PartInfo, len(parts))
	for i, p := range parts {
		out[i] = p.Clone()
	}
	return out
}
