package inputjob

import (
	"maps"

	"github.com/teranos/tablescan/errors"
)

var (
	// ErrAlreadyResolved is returned when resolving a descriptor a second time
	ErrAlreadyResolved = errors.New("descriptor already resolved")

	// ErrNotResolved is returned by operations that need table info and partitions
	ErrNotResolved = errors.New("descriptor not resolved")

	// ErrNilTable is returned when a resolution commit carries no table info
	ErrNilTable = errors.New("resolution requires table info")
)

// Properties is the descriptor's open-ended string bag for storage-driver
// settings that have no field of their own. It is the one part of a
// descriptor that stays mutable after resolution, and it is not synchronized.
type Properties map[string]string

// Get returns the value for key and whether it was present
func (p Properties) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Set stores value under key
func (p Properties) Set(key, value string) {
	p[key] = value
}

// Delete removes key
func (p Properties) Delete(key string) {
	delete(p, key)
}

// Descriptor describes the input of one job: which table, under which
// partition filter, from which metadata service, and (once resolved) the
// table metadata and partitions that satisfy the filter.
//
// Create a Descriptor with Create and resolve it with a Resolver. The
// zero value is not usable.
type Descriptor struct {
	namespace  string
	entityName string
	filter     string
	address    string
	principal  *string

	table      *TableInfo
	partitions []*PartInfo

	properties Properties
}

// Create returns an unresolved descriptor with empty properties.
//
// An empty namespace becomes DefaultNamespace. entityName and address are
// stored as given; rejecting empty values is the planner's job. An empty
// filter selects every partition. A nil principal means the metadata service
// runs without mutual authentication; a principal may contain the "_HOST"
// placeholder, which is substituted when connecting.
func Create(namespace, entityName, filter, address string, principal *string) *Descriptor {
	return &Descriptor{
		namespace:  NormalizeNamespace(namespace),
		entityName: entityName,
		filter:     filter,
		address:    address,
		principal:  clonePrincipal(principal),
		properties: make(Properties),
	}
}

// Namespace returns the namespace (database) holding the table
func (d *Descriptor) Namespace() string { return d.namespace }

// EntityName returns the table name
func (d *Descriptor) EntityName() string { return d.entityName }

// Filter returns the partition filter expression; empty means all partitions
func (d *Descriptor) Filter() string { return d.filter }

// MetadataServiceAddress returns the URI of the metadata service
func (d *Descriptor) MetadataServiceAddress() string { return d.address }

// MetadataServicePrincipal returns the service principal, or nil when the
// metadata service is not configured for authentication.
func (d *Descriptor) MetadataServicePrincipal() *string { return clonePrincipal(d.principal) }

// TableInfo returns the resolved table metadata, or nil before resolution.
// Callers must treat the result as read-only.
func (d *Descriptor) TableInfo() *TableInfo { return d.table }

// Partitions returns the resolved partitions in resolution order, or nil
// before resolution. A resolved descriptor whose filter matched nothing
// returns an empty, non-nil slice. The slice is a copy; the elements are
// shared and must be treated as read-only.
func (d *Descriptor) Partitions() []*PartInfo {
	if d.partitions == nil {
		return nil
	}
	return append([]*PartInfo{}, d.partitions...)
}

// IsResolved reports whether table info and partitions have been committed
func (d *Descriptor) IsResolved() bool { return d.table != nil }

// Properties returns the live property bag. Changes are visible to every
// holder of this descriptor and to anything serialized afterwards.
func (d *Descriptor) Properties() Properties { return d.properties }

// Clone returns a deep copy that shares nothing with d
func (d *Descriptor) Clone() *Descriptor {
	return &Descriptor{
		namespace:  d.namespace,
		entityName: d.entityName,
		filter:     d.filter,
		address:    d.address,
		principal:  clonePrincipal(d.principal),
		table:      d.table.Clone(),
		partitions: clonePartitions(d.partitions),
		properties: Properties(maps.Clone(map[string]string(d.properties))),
	}
}

// commit binds table info and partitions in one step. Only the Resolver
// and the decoder call it.
func (d *Descriptor) commit(table *TableInfo, partitions []*PartInfo) error {
	if d.IsResolved() {
		return errors.Wrapf(ErrAlreadyResolved, "%s.%s", d.namespace, d.entityName)
	}
	if table == nil {
		return ErrNilTable
	}
	if partitions == nil {
		partitions = []*PartInfo{}
	}
	d.table = table
	d.partitions = partitions
	return nil
}

func clonePrincipal(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
