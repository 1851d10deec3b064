package dispatch

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/tablescan/errors"
)

// Store handles persistence of dispatch jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Timestamps are stored in UTC so that text ordering in SQLite matches
// time ordering.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// CreateJob inserts a new job
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO dispatch_jobs (
			id, handler_name, source, status,
			progress_current, progress_total,
			error, payload,
			parent_job_id, retry_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.HandlerName,
		job.Source,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		nullString(job.Error),
		nullString(string(job.Payload)),
		nullString(job.ParentJobID),
		job.RetryCount,
		utc(job.CreatedAt),
		utc(job.UpdatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM dispatch_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// UpdateJob writes every mutable field of job
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	query := `
		UPDATE dispatch_jobs
		SET status = ?,
		    progress_current = ?,
		    progress_total = ?,
		    error = ?,
		    retry_count = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?,
		    claimed_by = ?,
		    lease_expires_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		nullString(job.Error),
		job.RetryCount,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		utc(job.UpdatedAt),
		nullString(job.ClaimedBy),
		nullTime(job.LeaseExpiresAt),
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job not found: %s", job.ID)
	}
	return nil
}

// NextQueued returns the oldest queued job, or nil when the queue is empty
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM dispatch_jobs
		WHERE status = 'queued'
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find next queued job")
	}
	return job, nil
}

// ClaimJob moves a queued job to running on behalf of owner, holding it for
// lease. It returns false when another worker claimed the job first.
func (s *Store) ClaimJob(ctx context.Context, job *Job, owner string, lease time.Duration) (bool, error) {
	job.Claim(owner, time.Now().Add(lease))

	result, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET status = ?, started_at = ?, updated_at = ?,
		    claimed_by = ?, lease_expires_at = ?
		WHERE id = ? AND status = 'queued'`,
		job.Status, nullTime(job.StartedAt), utc(job.UpdatedAt),
		nullString(job.ClaimedBy), nullTime(job.LeaseExpiresAt), job.ID)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}

// RenewLease extends owner's claim on a running job. It returns false when
// the job is no longer running under owner.
func (s *Store) RenewLease(ctx context.Context, id, owner string, until time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET lease_expires_at = ?
		WHERE id = ? AND status = 'running' AND claimed_by = ?`,
		until.UTC(), id, owner)
	if err != nil {
		return false, errors.Wrap(err, "failed to renew lease")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}

// ListExpiredLeases returns running jobs whose lease lapsed before now,
// oldest first. Running jobs without a lease are included.
func (s *Store) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM dispatch_jobs
		WHERE status = 'running'
		  AND (lease_expires_at IS NULL OR lease_expires_at < ?)
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expired leases")
	}
	defer rows.Close()

	return scanJobs(rows, "expired leases")
}

// RequeueExpired puts a running job back in the queue if its lease is still
// lapsed at now. It returns false when the owner renewed in the meantime.
func (s *Store) RequeueExpired(ctx context.Context, job *Job, now time.Time) (bool, error) {
	job.Requeue()
	job.Error = ""

	result, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET status = ?, error = NULL, updated_at = ?,
		    claimed_by = NULL, lease_expires_at = NULL
		WHERE id = ? AND status = 'running'
		  AND (lease_expires_at IS NULL OR lease_expires_at < ?)`,
		job.Status, utc(job.UpdatedAt), job.ID, now.UTC())
	if err != nil {
		return false, errors.Wrap(err, "failed to re-queue expired job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + jobSelectColumns + ` FROM dispatch_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListTasksByParent returns the children of parentJobID in creation order
func (s *Store) ListTasksByParent(ctx context.Context, parentJobID string) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM dispatch_jobs
		WHERE parent_job_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, parentJobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks by parent")
	}
	defer rows.Close()

	return scanJobs(rows, "tasks")
}

func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in each status
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM dispatch_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

// DeleteJob removes a job
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM dispatch_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job not found: %s", id)
	}
	return nil
}

// CleanupOldJobs removes finished jobs last updated before now-olderThan
func (s *Store) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC()

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM dispatch_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// FindActiveJobBySourceAndHandler returns a queued or running job with the
// given source and handler, or nil if there is none.
func (s *Store) FindActiveJobBySourceAndHandler(ctx context.Context, source, handlerName string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM dispatch_jobs
		WHERE source = ?
		  AND handler_name = ?
		  AND status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, source, handlerName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active job by source and handler")
	}
	return job, nil
}
