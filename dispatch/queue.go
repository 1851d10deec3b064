package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/tablescan/errors"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// Queue wraps a Store with locking and change notification
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

func withJobDetails(err error, job *Job) error {
	err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
	err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", job.HandlerName))
	if job.Source != "" {
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
	}
	return err
}

// Enqueue adds a new job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateJob(ctx, job); err != nil {
		return withJobDetails(errors.Wrap(err, "failed to enqueue job"), job)
	}

	q.notifySubscribers(job)
	return nil
}

// EnqueueUnique adds job unless a queued or running job with the same
// source and handler exists, in which case that job is returned and
// nothing is enqueued.
func (q *Queue) EnqueueUnique(ctx context.Context, job *Job) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.Source != "" {
		existing, err := q.store.FindActiveJobBySourceAndHandler(ctx, job.Source, job.HandlerName)
		if err != nil {
			return nil, withJobDetails(errors.Wrap(err, "failed to check for duplicate job"), job)
		}
		if existing != nil {
			return existing, nil
		}
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		return nil, withJobDetails(errors.Wrap(err, "failed to enqueue job"), job)
	}

	q.notifySubscribers(job)
	return job, nil
}

// Dequeue claims the oldest queued job for owner and marks it as running
// under a lease. It returns nil when nothing is queued.
func (q *Queue) Dequeue(ctx context.Context, owner string, lease time.Duration) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		job, err := q.store.NextQueued(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get queued job")
		}
		if job == nil {
			return nil, nil
		}

		claimed, err := q.store.ClaimJob(ctx, job, owner, lease)
		if err != nil {
			return nil, withJobDetails(errors.Wrap(err, "failed to mark job as running"), job)
		}
		if !claimed {
			// another process took it between the select and the update
			continue
		}

		q.notifySubscribers(job)
		return job, nil
	}
}

// RenewLease extends owner's lease on a running job until until
func (q *Queue) RenewLease(ctx context.Context, id, owner string, until time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ok, err := q.store.RenewLease(ctx, id, owner, until)
	if err != nil {
		return false, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}
	return ok, nil
}

// RecoverExpired re-queues up to limit running jobs whose lease lapsed
// before now. Jobs held by a live owner keep running.
func (q *Queue) RecoverExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	expired, err := q.store.ListExpiredLeases(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range expired {
		ok, err := q.store.RequeueExpired(ctx, job, now)
		if err != nil {
			return recovered, withJobDetails(err, job)
		}
		if !ok {
			continue
		}
		recovered++
		q.notifySubscribers(job)
	}
	return recovered, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(ctx, id)
}

// UpdateJob updates a job's state
func (q *Queue) UpdateJob(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateJob(ctx, job); err != nil {
		err = withJobDetails(errors.Wrap(err, "failed to update job"), job)
		return errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
	}

	q.notifySubscribers(job)
	return nil
}

// CompleteJob marks job as completed. Children are left running: they are
// the output of the parent.
func (q *Queue) CompleteJob(ctx context.Context, job *Job) error {
	job.Complete()
	return q.UpdateJob(ctx, job)
}

// FailJob marks job as failed with jobErr
func (q *Queue) FailJob(ctx context.Context, job *Job, jobErr error) error {
	job.Fail(jobErr)
	if err := q.UpdateJob(ctx, job); err != nil {
		return errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
	}
	return nil
}

// CancelJob cancels a job and every child that has not finished
func (q *Queue) CancelJob(ctx context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %s", id)
	}
	if job.Status.IsTerminal() {
		return errors.WithDetail(
			errors.NewConflictError("job %s already %s", id, job.Status),
			fmt.Sprintf("Handler: %s", job.HandlerName))
	}

	if err := q.cancelChildren(ctx, id, "parent job cancelled"); err != nil {
		return err
	}

	job.Cancel(reason)
	if err := q.store.UpdateJob(ctx, job); err != nil {
		return withJobDetails(errors.Wrap(err, "failed to cancel job"), job)
	}
	q.notifySubscribers(job)
	return nil
}

// DeleteJobWithChildren deletes a job after cancelling its unfinished children
func (q *Queue) DeleteJobWithChildren(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.cancelChildren(ctx, jobID, "parent job deleted"); err != nil {
		return err
	}

	if err := q.store.DeleteJob(ctx, jobID); err != nil {
		return errors.WithDetail(errors.Wrapf(err, "failed to delete parent job %s", jobID),
			fmt.Sprintf("Job ID: %s", jobID))
	}
	return nil
}

// cancelChildren REQUIRES: q.mu held for writing.
func (q *Queue) cancelChildren(ctx context.Context, parentID, reason string) error {
	children, err := q.store.ListTasksByParent(ctx, parentID)
	if err != nil {
		return errors.WithDetail(errors.Wrapf(err, "failed to list child tasks for job %s", parentID),
			fmt.Sprintf("Parent job ID: %s", parentID))
	}

	for _, child := range children {
		if child.Status.IsTerminal() {
			continue
		}
		child.Cancel(reason)
		if err := q.store.UpdateJob(ctx, child); err != nil {
			err = withJobDetails(errors.Wrapf(err, "failed to cancel child task %s", child.ID), child)
			return errors.WithDetail(err, fmt.Sprintf("Parent job ID: %s", parentID))
		}
		q.notifySubscribers(child)
	}
	return nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (q *Queue) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(ctx, status, limit)
}

// ListTasksByParent returns all tasks for a given parent job
func (q *Queue) ListTasksByParent(ctx context.Context, parentJobID string) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListTasksByParent(ctx, parentJobID)
}

// Cleanup removes finished jobs older than olderThan
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldJobs(ctx, olderThan)
}

// QueueStats counts jobs by status
type QueueStats struct {
	Queued    int `json:"queued" yaml:"queued"`
	Running   int `json:"running" yaml:"running"`
	Completed int `json:"completed" yaml:"completed"`
	Failed    int `json:"failed" yaml:"failed"`
	Cancelled int `json:"cancelled" yaml:"cancelled"`
	Total     int `json:"total" yaml:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}

	stats := &QueueStats{
		Queued:    counts[JobStatusQueued],
		Running:   counts[JobStatusRunning],
		Completed: counts[JobStatusCompleted],
		Failed:    counts[JobStatusFailed],
		Cancelled: counts[JobStatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// Subscribe returns a buffered channel that receives job updates. Call
// Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a copy of job to every subscriber, dropping the
// update for subscribers whose buffer is full.
// REQUIRES: q.mu held.
func (q *Queue) notifySubscribers(job *Job) {
	if len(q.subscribers) == 0 {
		return
	}
	snapshot := *job
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
		}
	}
}
