package inputjob

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/logger"
)

// PropertyStorageDriver is set by the resolver from the table's storage
// format unless the planner already put a value there.
const PropertyStorageDriver = "inputjob.storage_driver"

// UnlimitedPartitions asks the metadata service for every matching partition
const UnlimitedPartitions = -1

// MetadataClient is the view of the metadata service the resolver needs
type MetadataClient interface {
	// GetTable returns table metadata or an error wrapping errors.ErrNotFound
	GetTable(ctx context.Context, namespace, table string) (*TableInfo, error)

	// ListPartitions returns partitions of a partitioned table matching
	// filter, in the service's stable order. max < 0 means no limit.
	ListPartitions(ctx context.Context, namespace, table, filter string, max int) ([]*PartInfo, error)
}

// ErrAddressMismatch is returned when a descriptor names a metadata service
// other than the one the resolver is bound to
var ErrAddressMismatch = errors.New("metadata service address mismatch")

// Resolver binds table metadata and matching partitions onto descriptors
type Resolver struct {
	client        MetadataClient
	address       string
	limiter       *rate.Limiter
	maxPartitions int
	logger        *zap.SugaredLogger
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger
func WithLogger(l *zap.SugaredLogger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithRateLimit bounds calls to the metadata service. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) ResolverOption {
	return func(r *Resolver) { r.SetRateLimit(rps, burst) }
}

// WithMaxPartitions caps how many partitions one descriptor may resolve to
func WithMaxPartitions(n int) ResolverOption {
	return func(r *Resolver) { r.maxPartitions = n }
}

// WithAddress binds the resolver to the metadata service at address, which
// client must be connected to. Descriptors naming another address are
// rejected before the service is contacted.
func WithAddress(address string) ResolverOption {
	return func(r *Resolver) { r.address = address }
}

// NewResolver returns a resolver backed by client
func NewResolver(client MetadataClient, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:        client,
		limiter:       rate.NewLimiter(rate.Inf, 1),
		maxPartitions: UnlimitedPartitions,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrNop(r.logger).Named("resolver")
	return r
}

// SetRateLimit changes the metadata service rate limit. Safe to call while
// resolutions are in flight.
func (r *Resolver) SetRateLimit(rps float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	r.limiter.SetLimit(limit)
	r.limiter.SetBurst(burst)
}

// Resolve looks up d's table and the partitions matching d's filter and
// commits both onto d. When more partitions match than the resolver's cap,
// the first ones up to the cap are kept and a warning is logged. On any
// error d is left unresolved. Resolving an
// already resolved descriptor fails with ErrAlreadyResolved before the
// metadata service is contacted.
//
// For a table without partition keys the filter is not evaluated and the
// result is a single partition covering the table location.
func (r *Resolver) Resolve(ctx context.Context, d *Descriptor) error {
	if d.IsResolved() {
		return errors.Wrapf(ErrAlreadyResolved, "%s.%s", d.Namespace(), d.EntityName())
	}
	if r.address != "" && d.MetadataServiceAddress() != r.address {
		return errors.WithHintf(
			errors.Wrapf(ErrAddressMismatch, "descriptor names %q, resolver serves %q",
				d.MetadataServiceAddress(), r.address),
			"resolve the descriptor with a resolver connected to %s", d.MetadataServiceAddress())
	}

	start := time.Now()
	log := logger.FromContext(ctx, r.logger).With(
		logger.FieldNamespace, d.Namespace(),
		logger.FieldTable, d.EntityName(),
	)

	if err := r.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "waiting for metadata service rate limit")
	}
	table, err := r.client.GetTable(ctx, d.Namespace(), d.EntityName())
	if err != nil {
		return errors.Wrapf(err, "failed to resolve table %s.%s", d.Namespace(), d.EntityName())
	}
	if table == nil {
		return errors.Wrapf(ErrNilTable, "metadata service returned no table for %s.%s", d.Namespace(), d.EntityName())
	}

	var partitions []*PartInfo
	if table.IsPartitioned() {
		if err := r.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "waiting for metadata service rate limit")
		}
		// one past the cap tells a capped listing from an exact fit
		limit := r.maxPartitions
		if limit >= 0 {
			limit++
		}
		partitions, err = r.client.ListPartitions(ctx, d.Namespace(), d.EntityName(), d.Filter(), limit)
		if err != nil {
			err = errors.Wrapf(err, "failed to list partitions of %s", table.QualifiedName())
			return errors.WithDetailf(err, "filter: %q", d.Filter())
		}
		if r.maxPartitions >= 0 && len(partitions) > r.maxPartitions {
			log.Warnw("More partitions match than the cap, descriptor truncated",
				"max_partitions", r.maxPartitions,
				logger.FieldFilter, d.Filter())
			partitions = partitions[:r.maxPartitions]
		}
	} else {
		if d.Filter() != "" {
			log.Debugw("Ignoring partition filter on unpartitioned table", logger.FieldFilter, d.Filter())
		}
		partitions = []*PartInfo{wholeTable(table)}
	}

	if err := d.commit(table, partitions); err != nil {
		return err
	}

	if driver := table.StorageFormat.StorageDriver; driver != "" {
		if _, ok := d.Properties().Get(PropertyStorageDriver); !ok {
			d.Properties().Set(PropertyStorageDriver, driver)
		}
	}

	log.Infow("Resolved input descriptor",
		logger.FieldPartitionCount, len(partitions),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return nil
}

func wholeTable(t *TableInfo) *PartInfo {
	var props map[string]string
	if len(t.Parameters) > 0 {
		props = make(map[string]string, len(t.Parameters))
		for k, v := range t.Parameters {
			props[k] = v
		}
	}
	return &PartInfo{
		Location:      t.Location,
		StorageFormat: t.StorageFormat,
		Properties:    props,
	}
}
