// Package dispatch runs descriptor work as persistent jobs.
//
// Jobs live in the dispatch_jobs table. A WorkerPool polls the Queue and
// routes each job to the JobHandler registered under its HandlerName; the
// handler owns the payload format. Parent jobs fan out into child jobs, and
// children of a failed or cancelled parent are cancelled before they run.
package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/tablescan/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a job in this status will never run again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress represents job progress information
type Progress struct {
	Current int `json:"current,omitempty" yaml:"current,omitempty"`
	Total   int `json:"total,omitempty" yaml:"total,omitempty"`
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job is one unit of queued work
type Job struct {
	ID          string          `json:"id" yaml:"id"`
	HandlerName string          `json:"handler_name" yaml:"handler_name"`
	Payload     json.RawMessage `json:"payload,omitempty" yaml:"-"`
	Source      string          `json:"source" yaml:"source"` // descriptor fingerprint for planning jobs
	Status      JobStatus       `json:"status" yaml:"status"`
	Progress    Progress        `json:"progress,omitempty" yaml:"progress,omitempty"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	ParentJobID string          `json:"parent_job_id,omitempty" yaml:"parent_job_id,omitempty"`
	RetryCount  int             `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"updated_at"`

	// Set while running: the pool that claimed the job and until when the
	// claim holds without a renewal.
	ClaimedBy      string     `json:"claimed_by,omitempty" yaml:"claimed_by,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" yaml:"lease_expires_at,omitempty"`
}

// NewJob creates a queued job for handlerName.
//
// Example:
//
//	payload, _ := inputjob.Marshal(d)
//	fingerprint, _ := inputjob.Fingerprint(d)
//	job, _ := dispatch.NewJob(splits.PlanHandlerName, fingerprint, payload, len(d.Partitions()))
func NewJob(handlerName, source string, payload json.RawMessage, totalOps int) (*Job, error) {
	return NewChildJob(handlerName, source, payload, totalOps, "")
}

// NewChildJob creates a queued job grouped under parentJobID
func NewChildJob(handlerName, source string, payload json.RawMessage, totalOps int, parentJobID string) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}

	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		Status:      JobStatusQueued,
		Progress:    Progress{Total: totalOps},
		ParentJobID: parentJobID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Claim marks the job as running on behalf of owner until the lease expires
func (j *Job) Claim(owner string, leaseExpiresAt time.Time) {
	j.Start()
	j.ClaimedBy = owner
	j.LeaseExpiresAt = &leaseExpiresAt
}

// LeaseExpired reports whether a running job's claim has lapsed at now. A
// running job without a lease counts as expired.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.LeaseExpiresAt == nil || j.LeaseExpiresAt.Before(now)
}

func (j *Job) release() {
	j.ClaimedBy = ""
	j.LeaseExpiresAt = nil
}

// Requeue puts the job back in the queue, keeping its progress
func (j *Job) Requeue() {
	j.Status = JobStatusQueued
	j.release()
	j.UpdatedAt = time.Now()
}

// Complete marks the job as completed
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.release()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.release()
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.release()
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// UpdateProgress updates the job's progress
func (j *Job) UpdateProgress(current int) {
	j.Progress.Current = current
	j.UpdatedAt = time.Now()
}
