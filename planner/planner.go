// Package planner turns a scan request into a resolved input descriptor and
// hands it to the dispatch queue for the workers.
package planner

import (
	"context"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/tablescan/dispatch"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/inputjob"
	"github.com/teranos/tablescan/logger"
	"github.com/teranos/tablescan/metastore"
	"github.com/teranos/tablescan/splits"
)

// Request names the table to scan and where its metadata lives
type Request struct {
	Namespace          string
	Table              string
	Filter             string
	MetastoreAddress   string
	MetastorePrincipal *string
	Properties         map[string]string
}

// Validate checks the fields Create cannot do without
func (r Request) Validate() error {
	if strings.TrimSpace(r.Table) == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("table name is required"),
			"pass --table <name>")
	}
	if strings.TrimSpace(r.MetastoreAddress) == "" {
		return errors.WithHint(
			errors.NewInvalidRequestError("metastore address is required"),
			"pass --address or set metastore.address in am.toml")
	}
	return nil
}

// Resolver fills in table and partition metadata on a descriptor
type Resolver interface {
	Resolve(ctx context.Context, d *inputjob.Descriptor) error
}

// Submitter enqueues a job unless an equivalent one is already active
type Submitter interface {
	EnqueueUnique(ctx context.Context, job *dispatch.Job) (*dispatch.Job, error)
}

// Planner builds descriptors and submits them for distributed reading
type Planner struct {
	resolver  Resolver
	submitter Submitter
	logger    *zap.SugaredLogger
}

// New creates a planner. submitter may be nil when descriptors are only
// planned and printed.
func New(resolver Resolver, submitter Submitter, log *zap.SugaredLogger) *Planner {
	return &Planner{
		resolver:  resolver,
		submitter: submitter,
		logger:    logger.OrNop(log).Named("planner"),
	}
}

// Plan creates a descriptor for req and resolves it against the metadata
// service. Request properties are set before resolution, so a caller-chosen
// storage driver wins over the table's.
//
// The principal is recorded unexpanded. Plan only checks that a _HOST
// placeholder can be expanded against the address.
func (p *Planner) Plan(ctx context.Context, req Request) (*inputjob.Descriptor, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.MetastorePrincipal != nil {
		server, err := metastore.ServerPrincipal(*req.MetastorePrincipal, req.MetastoreAddress)
		if err != nil {
			return nil, err
		}
		p.logger.Debugw("Metastore principal", logger.FieldPrincipal, server, logger.FieldAddress, req.MetastoreAddress)
	}

	d := inputjob.Create(req.Namespace, req.Table, req.Filter, req.MetastoreAddress, req.MetastorePrincipal)
	for k, v := range req.Properties {
		d.Properties().Set(k, v)
	}

	if err := p.resolver.Resolve(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Submit enqueues a split planning job for d and returns its id. When a job
// for the same descriptor is still queued or running, that job's id is
// returned instead.
func (p *Planner) Submit(ctx context.Context, d *inputjob.Descriptor) (string, error) {
	if p.submitter == nil {
		return "", errors.AssertionFailedf("planner has no submitter")
	}
	if !d.IsResolved() {
		return "", errors.WithHint(
			errors.Wrapf(inputjob.ErrNotResolved, "cannot submit %s.%s", d.Namespace(), d.EntityName()),
			"plan the descriptor before submitting it")
	}

	fingerprint, err := inputjob.Fingerprint(d)
	if err != nil {
		return "", err
	}
	payload, err := inputjob.Marshal(d)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode descriptor")
	}

	job, err := dispatch.NewJob(splits.PlanHandlerName, fingerprint, payload, len(d.Partitions()))
	if err != nil {
		return "", err
	}
	got, err := p.submitter.EnqueueUnique(ctx, job)
	if err != nil {
		return "", errors.Wrapf(err, "failed to submit %s.%s", d.Namespace(), d.EntityName())
	}

	log := p.logger.With(
		logger.FieldJobID, got.ID,
		logger.FieldFingerprint, fingerprint,
		logger.FieldPartitionCount, len(d.Partitions()),
	)
	if got.ID != job.ID {
		log.Infow("Descriptor already submitted", logger.FieldStatus, got.Status)
	} else {
		log.Infow("Submitted descriptor")
	}
	return got.ID, nil
}

// ParseProperties reads shell-style key=value words, so values may be
// quoted: `format=parquet comment="nightly run"`.
func ParseProperties(s string) (map[string]string, error) {
	words, err := shellquote.Split(s)
	if err != nil {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("invalid properties %q: %v", s, err),
			"check for an unterminated quote")
	}
	props := make(map[string]string, len(words))
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok || k == "" {
			return nil, errors.WithHint(
				errors.NewInvalidRequestError("invalid property %q", w),
				"properties are key=value pairs")
		}
		props[k] = v
	}
	return props, nil
}
