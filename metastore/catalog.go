// Package metastore is the local metadata service: a SQLite-backed catalog of
// namespaces, tables and partitions that answers the resolver's lookups.
package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"maps"
	"slices"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/tablescan/db"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/inputjob"
	"github.com/teranos/tablescan/logger"
)

var _ inputjob.MetadataClient = (*Catalog)(nil)

// Namespace is a catalog namespace (database)
type Namespace struct {
	Name        string `json:"name" toml:"name"`
	Description string `json:"description,omitempty" toml:"description"`
	Location    string `json:"location,omitempty" toml:"location"`
}

// Catalog stores table and partition metadata
type Catalog struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewCatalog returns a catalog over a migrated database
func NewCatalog(conn *sql.DB, log *zap.SugaredLogger) *Catalog {
	return &Catalog{
		db:     conn,
		logger: logger.OrNop(log).Named("metastore"),
	}
}

// CreateNamespace registers a namespace. An empty name means the default namespace.
func (c *Catalog) CreateNamespace(ctx context.Context, ns Namespace) error {
	name := inputjob.NormalizeNamespace(ns.Name)
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO catalog_namespaces (name, description, location) VALUES (?, ?, ?)`,
		name, ns.Description, ns.Location)
	if isConstraintViolation(err) {
		return errors.NewConflictError("namespace %s already exists", name)
	}
	if err != nil {
		return storageError(err, "failed to create namespace %s", name)
	}
	c.logger.Infow("Created namespace", logger.FieldNamespace, name)
	return nil
}

// ListNamespaces returns every namespace ordered by name
func (c *Catalog) ListNamespaces(ctx context.Context) ([]Namespace, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, description, location FROM catalog_namespaces ORDER BY name`)
	if err != nil {
		return nil, storageError(err, "failed to list namespaces")
	}
	defer rows.Close()

	var out []Namespace
	for rows.Next() {
		var ns Namespace
		if err := rows.Scan(&ns.Name, &ns.Description, &ns.Location); err != nil {
			return nil, errors.Wrap(err, "failed to scan namespace")
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating namespaces")
	}
	return out, nil
}

// CreateTable registers t under its namespace, which must already exist
func (c *Catalog) CreateTable(ctx context.Context, t *inputjob.TableInfo) error {
	if t == nil || t.Name == "" {
		return errors.NewInvalidRequestError("table name is required")
	}
	ns := inputjob.NormalizeNamespace(t.Namespace)
	if err := c.requireNamespace(ctx, ns); err != nil {
		return err
	}

	columns, err := json.Marshal(nonNilColumns(t.Columns))
	if err != nil {
		return errors.Wrap(err, "failed to encode columns")
	}
	keys, err := json.Marshal(nonNilColumns(t.PartitionKeys))
	if err != nil {
		return errors.Wrap(err, "failed to encode partition keys")
	}
	params, err := json.Marshal(nonNilMap(t.Parameters))
	if err != nil {
		return errors.Wrap(err, "failed to encode table parameters")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO catalog_tables (
			namespace, name, columns, partition_keys, location,
			input_format, output_format, serde, storage_driver, parameters
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ns, t.Name, string(columns), string(keys), t.Location,
		t.StorageFormat.InputFormat, t.StorageFormat.OutputFormat,
		t.StorageFormat.SerDe, t.StorageFormat.StorageDriver, string(params),
	)
	if isConstraintViolation(err) {
		return errors.NewConflictError("table %s.%s already exists", ns, t.Name)
	}
	if err != nil {
		return storageError(err, "failed to create table %s.%s", ns, t.Name)
	}

	c.logger.Infow("Created table",
		logger.FieldNamespace, ns,
		logger.FieldTable, t.Name,
		"partition_keys", len(t.PartitionKeys),
	)
	return nil
}

// GetTable returns table metadata or an error wrapping errors.ErrNotFound
func (c *Catalog) GetTable(ctx context.Context, namespace, table string) (*inputjob.TableInfo, error) {
	_, t, err := c.lookupTable(ctx, inputjob.NormalizeNamespace(namespace), table)
	return t, err
}

// ListTables returns the tables of namespace ordered by name
func (c *Catalog) ListTables(ctx context.Context, namespace string) ([]*inputjob.TableInfo, error) {
	ns := inputjob.NormalizeNamespace(namespace)
	if err := c.requireNamespace(ctx, ns); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+tableSelectColumns+` FROM catalog_tables WHERE namespace = ? ORDER BY name`, ns)
	if err != nil {
		return nil, storageError(err, "failed to list tables in %s", ns)
	}
	defer rows.Close()

	var out []*inputjob.TableInfo
	for rows.Next() {
		_, t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating tables")
	}
	return out, nil
}

// DropTable removes a table and its partitions
func (c *Catalog) DropTable(ctx context.Context, namespace, table string) error {
	ns := inputjob.NormalizeNamespace(namespace)
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM catalog_tables WHERE namespace = ? AND name = ?`, ns, table)
	if err != nil {
		return storageError(err, "failed to drop table %s.%s", ns, table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("table %s.%s", ns, table)
	}
	c.logger.Infow("Dropped table", logger.FieldNamespace, ns, logger.FieldTable, table)
	return nil
}

// AddPartition registers a partition of a partitioned table. p.Values must
// name every partition key and nothing else. An empty location defaults to
// the partition spec below the table location; an empty storage format is
// inherited from the table.
func (c *Catalog) AddPartition(ctx context.Context, namespace, table string, p *inputjob.PartInfo) error {
	ns := inputjob.NormalizeNamespace(namespace)
	id, t, err := c.lookupTable(ctx, ns, table)
	if err != nil {
		return err
	}
	if !t.IsPartitioned() {
		return errors.NewInvalidRequestError("table %s is not partitioned", t.QualifiedName())
	}

	keys := t.PartitionKeyNames()
	if len(p.Values) != len(keys) {
		return errors.WithHintf(
			errors.NewInvalidRequestError("partition of %s has %d values, want %d", t.QualifiedName(), len(p.Values), len(keys)),
			"partition keys are: %v", keys)
	}
	for _, k := range keys {
		if _, ok := p.Values[k]; !ok {
			return errors.NewInvalidRequestError("partition of %s is missing key %q", t.QualifiedName(), k)
		}
	}

	spec := p.Spec(keys)
	location := p.Location
	if location == "" && t.Location != "" {
		location = t.Location + "/" + spec
	}
	format := p.StorageFormat
	if format == (inputjob.StorageFormat{}) {
		format = t.StorageFormat
	}

	values, err := json.Marshal(p.Values)
	if err != nil {
		return errors.Wrap(err, "failed to encode partition values")
	}
	props, err := json.Marshal(nonNilMap(p.Properties))
	if err != nil {
		return errors.Wrap(err, "failed to encode partition properties")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO catalog_partitions (
			table_id, spec, partition_values, location,
			input_format, output_format, serde, storage_driver, properties
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, spec, string(values), location,
		format.InputFormat, format.OutputFormat, format.SerDe, format.StorageDriver, string(props),
	)
	if isConstraintViolation(err) {
		return errors.NewConflictError("partition %s of %s already exists", spec, t.QualifiedName())
	}
	if err != nil {
		return storageError(err, "failed to add partition %s to %s", spec, t.QualifiedName())
	}

	c.logger.Debugw("Added partition", logger.FieldTable, t.QualifiedName(), logger.FieldPartition, spec)
	return nil
}

// ListPartitions returns the partitions of a table that match filter, in
// the order they were added. max < 0 returns every match; otherwise at most
// max partitions are returned. An unpartitioned table has no partitions.
func (c *Catalog) ListPartitions(ctx context.Context, namespace, table, filter string, max int) ([]*inputjob.PartInfo, error) {
	ns := inputjob.NormalizeNamespace(namespace)
	id, t, err := c.lookupTable(ctx, ns, table)
	if err != nil {
		return nil, err
	}

	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	if err := f.CheckKeys(t.PartitionKeyNames()); err != nil {
		return nil, err
	}

	out := []*inputjob.PartInfo{}
	if max == 0 {
		return out, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT partition_values, location, input_format, output_format, serde, storage_driver, properties
		FROM catalog_partitions
		WHERE table_id = ?
		ORDER BY id`, id)
	if err != nil {
		return nil, storageError(err, "failed to list partitions of %s", t.QualifiedName())
	}
	defer rows.Close()

	for rows.Next() {
		var valuesJSON, propsJSON string
		var p inputjob.PartInfo
		if err := rows.Scan(&valuesJSON, &p.Location,
			&p.StorageFormat.InputFormat, &p.StorageFormat.OutputFormat,
			&p.StorageFormat.SerDe, &p.StorageFormat.StorageDriver, &propsJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan partition")
		}
		if err := json.Unmarshal([]byte(valuesJSON), &p.Values); err != nil {
			return nil, errors.Wrapf(err, "corrupt partition values in %s", t.QualifiedName())
		}
		if !f.Match(p.Values) {
			continue
		}
		if err := json.Unmarshal([]byte(propsJSON), &p.Properties); err != nil {
			return nil, errors.Wrapf(err, "corrupt partition properties in %s", t.QualifiedName())
		}
		if len(p.Properties) == 0 {
			p.Properties = nil
		}
		out = append(out, &p)
		if max > 0 && len(out) >= max {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating partitions")
	}

	c.logger.Debugw("Listed partitions",
		logger.FieldTable, t.QualifiedName(),
		logger.FieldFilter, filter,
		logger.FieldPartitionCount, len(out),
	)
	return out, nil
}

const tableSelectColumns = `id, namespace, name, columns, partition_keys, location,
	input_format, output_format, serde, storage_driver, parameters`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTable(row rowScanner) (int64, *inputjob.TableInfo, error) {
	var id int64
	var columns, keys, parameters string
	var t inputjob.TableInfo
	err := row.Scan(&id, &t.Namespace, &t.Name, &columns, &keys, &t.Location,
		&t.StorageFormat.InputFormat, &t.StorageFormat.OutputFormat,
		&t.StorageFormat.SerDe, &t.StorageFormat.StorageDriver, &parameters)
	if err != nil {
		return 0, nil, err
	}
	if err := json.Unmarshal([]byte(columns), &t.Columns); err != nil {
		return 0, nil, errors.Wrapf(err, "corrupt columns for %s", t.QualifiedName())
	}
	if err := json.Unmarshal([]byte(keys), &t.PartitionKeys); err != nil {
		return 0, nil, errors.Wrapf(err, "corrupt partition keys for %s", t.QualifiedName())
	}
	if err := json.Unmarshal([]byte(parameters), &t.Parameters); err != nil {
		return 0, nil, errors.Wrapf(err, "corrupt parameters for %s", t.QualifiedName())
	}
	if len(t.Columns) == 0 {
		t.Columns = nil
	}
	if len(t.PartitionKeys) == 0 {
		t.PartitionKeys = nil
	}
	if len(t.Parameters) == 0 {
		t.Parameters = nil
	}
	return id, &t, nil
}

func (c *Catalog) lookupTable(ctx context.Context, ns, table string) (int64, *inputjob.TableInfo, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+tableSelectColumns+` FROM catalog_tables WHERE namespace = ? AND name = ?`, ns, table)
	id, t, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, errors.NewNotFoundError("table %s.%s", ns, table)
	}
	if err != nil {
		return 0, nil, storageError(err, "failed to get table %s.%s", ns, table)
	}
	return id, t, nil
}

func (c *Catalog) requireNamespace(ctx context.Context, ns string) error {
	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM catalog_namespaces WHERE name = ?)`, ns).Scan(&exists)
	if err != nil {
		return storageError(err, "failed to look up namespace %s", ns)
	}
	if !exists {
		return errors.NewNotFoundError("namespace %s", ns)
	}
	return nil
}

// storageError marks a closed database as an unavailable metadata service
func storageError(err error, format string, args ...interface{}) error {
	err = errors.Wrapf(err, format, args...)
	if db.IsDatabaseClosed(err) {
		return errors.WithSecondaryError(errors.Wrapf(errors.ErrServiceUnavailable, format, args...), err)
	}
	return err
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func nonNilColumns(cols []inputjob.Column) []inputjob.Column {
	if cols == nil {
		return []inputjob.Column{}
	}
	return slices.Clone(cols)
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
