package dispatch

import (
	"database/sql"
)

// jobScanArgs holds the nullable columns of a job row
type jobScanArgs struct {
	ErrorMsg    sql.NullString
	Payload     sql.NullString
	ParentJobID sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
	ClaimedBy   sql.NullString
	LeaseExpiry sql.NullTime
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// jobScanTargets returns scan destinations in jobSelectColumns order
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.HandlerName,
		&job.Source,
		&job.Status,
		&job.Progress.Current,
		&job.Progress.Total,
		&args.ErrorMsg,
		&args.Payload,
		&args.ParentJobID,
		&job.RetryCount,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
		&args.ClaimedBy,
		&args.LeaseExpiry,
	}
}

func (args *jobScanArgs) apply(job *Job) {
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.Payload.Valid {
		job.Payload = []byte(args.Payload.String)
	}
	if args.ParentJobID.Valid {
		job.ParentJobID = args.ParentJobID.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
	if args.ClaimedBy.Valid {
		job.ClaimedBy = args.ClaimedBy.String
	}
	if args.LeaseExpiry.Valid {
		t := args.LeaseExpiry.Time
		job.LeaseExpiresAt = &t
	}
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args jobScanArgs
	if err := row.Scan(jobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	args.apply(&job)
	return &job, nil
}

const jobSelectColumns = `id, handler_name, source, status,
		progress_current, progress_total,
		error, payload,
		parent_job_id, retry_count,
		created_at, started_at, completed_at, updated_at,
		claimed_by, lease_expires_at`
