// Package splits turns a resolved descriptor into per-partition work.
//
// The planning job (PlanHandlerName) carries the encoded descriptor and
// enqueues one read job (ReadHandlerName) per partition, in partition
// order. Each read job carries its own copy of the descriptor and the index
// of its partition, so workers never share descriptor state.
package splits

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/tablescan/dispatch"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/inputjob"
	"github.com/teranos/tablescan/logger"
)

// Handler names
const (
	PlanHandlerName = "inputjob.plan-splits"
	ReadHandlerName = "inputjob.read-partition"
)

// TaskPayload is the payload of a read job
type TaskPayload struct {
	Descriptor *inputjob.Descriptor `json:"descriptor"`
	Index      int                  `json:"index"`
}

// RegisterHandlers registers the planning and read handlers
func RegisterHandlers(registry *dispatch.HandlerRegistry, queue *dispatch.Queue, reader Reader, log *zap.SugaredLogger) {
	registry.Register(NewPlanHandler(queue, log))
	registry.Register(NewReadHandler(reader, log))
}

// PlanHandler fans a descriptor out into read jobs
type PlanHandler struct {
	queue  *dispatch.Queue
	logger *zap.SugaredLogger
}

// NewPlanHandler creates a PlanHandler enqueueing onto queue
func NewPlanHandler(queue *dispatch.Queue, log *zap.SugaredLogger) *PlanHandler {
	return &PlanHandler{queue: queue, logger: logger.OrNop(log).Named("splits")}
}

// Name implements dispatch.JobHandler
func (h *PlanHandler) Name() string { return PlanHandlerName }

// Execute enqueues one read job per partition. A retried planning job
// resumes after the read jobs it already enqueued.
func (h *PlanHandler) Execute(ctx context.Context, job *dispatch.Job) error {
	d, err := decodeResolved(job.Payload)
	if err != nil {
		return err
	}

	parts := d.Partitions()
	log := logger.FromContext(ctx, h.logger).With(
		logger.FieldNamespace, d.Namespace(),
		logger.FieldTable, d.EntityName(),
		logger.FieldPartitionCount, len(parts),
	)

	existing, err := h.queue.ListTasksByParent(ctx, job.ID)
	if err != nil {
		return dispatch.MarkRetryable(errors.Wrap(err, "failed to list existing read jobs"))
	}

	job.Progress.Total = len(parts)
	for i := len(existing); i < len(parts); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := json.Marshal(TaskPayload{Descriptor: d.Clone(), Index: i})
		if err != nil {
			return errors.Wrapf(err, "failed to encode read job for partition %d", i)
		}
		child, err := dispatch.NewChildJob(ReadHandlerName, job.Source, payload, 1, job.ID)
		if err != nil {
			return err
		}
		if err := h.queue.Enqueue(ctx, child); err != nil {
			return dispatch.MarkRetryable(errors.Wrapf(err, "failed to enqueue read job for partition %d", i))
		}
		job.UpdateProgress(i + 1)
	}
	job.UpdateProgress(len(parts))

	log.Infow("Planned partition reads", "enqueued", len(parts)-len(existing))
	return nil
}

// ReadHandler reads one partition
type ReadHandler struct {
	reader Reader
	logger *zap.SugaredLogger
}

// NewReadHandler creates a ReadHandler using reader
func NewReadHandler(reader Reader, log *zap.SugaredLogger) *ReadHandler {
	return &ReadHandler{reader: reader, logger: logger.OrNop(log).Named("splits")}
}

// Name implements dispatch.JobHandler
func (h *ReadHandler) Name() string { return ReadHandlerName }

// Execute implements dispatch.JobHandler
func (h *ReadHandler) Execute(ctx context.Context, job *dispatch.Job) error {
	var task TaskPayload
	if err := json.Unmarshal(job.Payload, &task); err != nil {
		return errors.Wrap(err, "failed to decode read job payload")
	}
	d := task.Descriptor
	if d == nil || !d.IsResolved() {
		return errors.Wrap(inputjob.ErrNotResolved, "read job carries no resolved descriptor")
	}

	parts := d.Partitions()
	if task.Index < 0 || task.Index >= len(parts) {
		return errors.AssertionFailedf("partition index %d out of range [0,%d)", task.Index, len(parts))
	}
	part := parts[task.Index]
	table := d.TableInfo()

	stats, err := h.reader.Read(ctx, table, part, d.Properties())
	if err != nil {
		return errors.WithDetailf(err, "Partition: %s", part.Spec(table.PartitionKeyNames()))
	}

	job.UpdateProgress(1)
	logger.FromContext(ctx, h.logger).Infow("Read partition",
		logger.FieldTable, table.QualifiedName(),
		logger.FieldPartition, part.Spec(table.PartitionKeyNames()),
		logger.FieldLocation, stats.Location,
		logger.FieldCount, stats.Files,
		logger.FieldSize, stats.Bytes,
	)
	return nil
}

func decodeResolved(payload []byte) (*inputjob.Descriptor, error) {
	d, err := inputjob.Unmarshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode descriptor")
	}
	if !d.IsResolved() {
		return nil, errors.WithHint(
			errors.Wrapf(inputjob.ErrNotResolved, "descriptor for %s.%s", d.Namespace(), d.EntityName()),
			"resolve the descriptor against the metadata service before submitting it")
	}
	return d, nil
}
