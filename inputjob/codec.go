package inputjob

import (
	"encoding/json"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/teranos/tablescan/errors"
)

// FormatVersion is written into every encoded descriptor. Bump the minor
// version for additive fields and the major version for anything an older
// worker would misread.
const FormatVersion = "1.0.0"

// formatConstraint lists the encoded versions this build can decode
const formatConstraint = "^1"

var (
	// ErrIncompatibleFormat is returned when decoding a descriptor written
	// with a format version this build does not understand.
	ErrIncompatibleFormat = errors.New("incompatible descriptor format")

	// ErrPartialResolution is returned when an encoded descriptor carries
	// table info without partitions or the reverse.
	ErrPartialResolution = errors.New("descriptor is partially resolved")
)

// wireDescriptor is the flat record workers receive
type wireDescriptor struct {
	FormatVersion string            `json:"format_version" yaml:"format_version"`
	Namespace     string            `json:"namespace" yaml:"namespace"`
	EntityName    string            `json:"entity_name" yaml:"entity_name"`
	Filter        string            `json:"filter" yaml:"filter"`
	Address       string            `json:"metadata_service_address" yaml:"metadata_service_address"`
	Principal     *string           `json:"metadata_service_principal,omitempty" yaml:"metadata_service_principal,omitempty"`
	TableInfo     *TableInfo        `json:"table_info,omitempty" yaml:"table_info,omitempty"`
	Partitions    []*PartInfo       `json:"partitions" yaml:"partitions"`
	Properties    map[string]string `json:"properties" yaml:"properties"`
}

func (d *Descriptor) toWire() wireDescriptor {
	props := map[string]string(d.properties)
	if props == nil {
		props = map[string]string{}
	}
	return wireDescriptor{
		FormatVersion: FormatVersion,
		Namespace:     d.namespace,
		EntityName:    d.entityName,
		Filter:        d.filter,
		Address:       d.address,
		Principal:     d.principal,
		TableInfo:     d.table,
		Partitions:    d.partitions,
		Properties:    props,
	}
}

func fromWire(w wireDescriptor) (*Descriptor, error) {
	if err := checkFormatVersion(w.FormatVersion); err != nil {
		return nil, err
	}

	d := Create(w.Namespace, w.EntityName, w.Filter, w.Address, w.Principal)
	for k, v := range w.Properties {
		d.properties[k] = v
	}

	switch {
	case w.TableInfo == nil && w.Partitions == nil:
		return d, nil
	case w.TableInfo == nil || w.Partitions == nil:
		return nil, errors.WithDetailf(ErrPartialResolution,
			"table_info present: %t, partitions present: %t", w.TableInfo != nil, w.Partitions != nil)
	}

	for i, p := range w.Partitions {
		if p == nil {
			return nil, errors.WithDetailf(ErrPartialResolution, "partition %d is null", i)
		}
	}

	if err := d.commit(w.TableInfo, w.Partitions); err != nil {
		return nil, err
	}
	return d, nil
}

func checkFormatVersion(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return errors.Wrapf(ErrIncompatibleFormat, "invalid format version %q", raw)
	}
	constraint, err := semver.NewConstraint(formatConstraint)
	if err != nil {
		return errors.AssertionFailedf("bad format constraint %q: %v", formatConstraint, err)
	}
	if !constraint.Check(v) {
		return errors.WithHintf(
			errors.Wrapf(ErrIncompatibleFormat, "format %s does not satisfy %s", raw, formatConstraint),
			"the descriptor was written by a newer planner; upgrade the workers to read format %s", raw)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.toWire())
}

// UnmarshalJSON implements json.Unmarshaler. The receiver is replaced
// wholesale; decoding into an already resolved descriptor is allowed because
// the result is a new value, not a second resolution.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "failed to decode descriptor")
	}
	decoded, err := fromWire(w)
	if err != nil {
		return err
	}
	*d = *decoded
	return nil
}

// MarshalYAML implements yaml.Marshaler using the same record as JSON
func (d *Descriptor) MarshalYAML() (interface{}, error) {
	return d.toWire(), nil
}

// Marshal encodes d for distribution to workers
func Marshal(d *Descriptor) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode descriptor %s.%s", d.namespace, d.entityName)
	}
	return data, nil
}

// Unmarshal decodes a descriptor produced by Marshal
func Unmarshal(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// EncodeYAML renders d as YAML for people reading a plan
func EncodeYAML(d *Descriptor) ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render descriptor as YAML")
	}
	return data, nil
}
