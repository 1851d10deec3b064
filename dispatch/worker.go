package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/tablescan/db"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/logger"
)

// MaxOrphanedJobsToRecover limits how many expired jobs are re-queued per sweep
const MaxOrphanedJobsToRecover = 1000

// DefaultLeaseDuration is how long a claim holds without a renewal. A
// running job renews its lease every third of this.
const DefaultLeaseDuration = 30 * time.Second

// PoolConfig configures a WorkerPool
type PoolConfig struct {
	Workers       int           `json:"workers"`
	PollInterval  time.Duration `json:"poll_interval"`
	MaxRetries    int           `json:"max_retries"`
	LeaseDuration time.Duration `json:"lease_duration"`
}

// DefaultPoolConfig returns the pool defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:       1,
		PollInterval:  time.Second,
		MaxRetries:    2,
		LeaseDuration: DefaultLeaseDuration,
	}
}

// WorkerPool polls the queue and executes jobs through its registry
type WorkerPool struct {
	owner     string
	queue     *Queue
	registry  *HandlerRegistry
	config    PoolConfig
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	activeWorkers int
	jobsProcessed int
}

// NewWorkerPool creates a pool with an empty handler registry. Register
// handlers before calling Start. Cancelling ctx stops the workers.
func NewWorkerPool(ctx context.Context, conn *sql.DB, cfg PoolConfig, log *zap.SugaredLogger) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPoolConfig().PollInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}

	return &WorkerPool{
		owner:     newOwnerID(),
		queue:     NewQueue(conn),
		registry:  NewHandlerRegistry(),
		config:    cfg,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    logger.OrNop(log).Named("dispatch"),
	}
}

// newOwnerID names a pool in claimed_by: host, pid and a random suffix
func newOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Owner returns the id this pool records on the jobs it claims
func (wp *WorkerPool) Owner() string {
	return wp.owner
}

// Queue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

// Registry returns the handler registry
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// Workers returns the number of configured workers
func (wp *WorkerPool) Workers() int {
	return wp.config.Workers
}

// Start re-queues running jobs whose lease expired, which is what a crashed
// worker leaves behind, and starts the workers. Jobs held by live pools in
// other processes are left alone. While running, the pool keeps sweeping
// for expired leases. A pool may be restarted after Stop.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
	default:
	}
	ctx := wp.ctx
	wp.mu.Unlock()

	if n, err := wp.recoverOrphanedJobs(ctx); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", logger.FieldError, err)
	} else if n > 0 {
		logger.AddWorkerOpenSymbol(wp.logger).Infow("Re-queued jobs with expired leases", logger.FieldCount, n)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.config.Workers)
	}

	logger.AddWorkerOpenSymbol(wp.logger).Infow("Worker pool started",
		"workers", wp.config.Workers,
		"poll_interval", wp.config.PollInterval,
		"lease", wp.config.LeaseDuration,
		"owner", wp.owner,
		"handlers", wp.registry.Names(),
	)
	for i := 0; i < wp.config.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
	wp.wg.Add(1)
	go wp.sweepExpiredLeases(ctx)
}

// Stop cancels the workers and waits up to 30 seconds for running jobs to
// re-queue themselves.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	const timeout = 30 * time.Second
	select {
	case <-done:
		logger.AddWorkerCloseSymbol(wp.logger).Infow("Worker pool stopped")
	case <-time.After(timeout):
		wp.logger.Warnw("Worker pool stop timed out, jobs may still be running", "timeout", timeout)
	}
}

// Drain processes queued jobs on the calling goroutine until the queue is
// empty or ctx is done. It returns the number of jobs executed, including
// jobs enqueued by the handlers themselves.
func (wp *WorkerPool) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		ran, err := wp.processNextJob(ctx)
		if err != nil {
			return processed, err
		}
		if !ran {
			return processed, nil
		}
		processed++
	}
}

func (wp *WorkerPool) recoverOrphanedJobs(ctx context.Context) (int, error) {
	n, err := wp.queue.RecoverExpired(ctx, time.Now(), MaxOrphanedJobsToRecover)
	if err != nil {
		return n, errors.Wrap(err, "failed to recover jobs with expired leases")
	}
	return n, nil
}

// sweepExpiredLeases re-queues jobs of crashed owners once per lease period
func (wp *WorkerPool) sweepExpiredLeases(ctx context.Context) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.config.LeaseDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := wp.recoverOrphanedJobs(ctx)
		if err != nil {
			if ctx.Err() != nil || db.IsDatabaseClosed(err) {
				return
			}
			wp.logger.Warnw("Lease sweep failed", logger.FieldError, err)
			continue
		}
		if n > 0 {
			wp.logger.Infow("Re-queued jobs with expired leases", logger.FieldCount, n)
		}
	}
}

// holdLease renews the pool's lease on job until the returned stop func is
// called. stop waits for an in-flight renewal to finish.
func (wp *WorkerPool) holdLease(ctx context.Context, job *Job, log *zap.SugaredLogger) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	renewCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(finished)
		ticker := time.NewTicker(wp.config.LeaseDuration / 3)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			ok, err := wp.queue.RenewLease(renewCtx, job.ID, wp.owner, time.Now().Add(wp.config.LeaseDuration))
			if err != nil {
				log.Warnw("Failed to renew lease", logger.FieldError, err)
				continue
			}
			if !ok {
				log.Warnw("Lease lost, job is no longer held by this worker", "owner", wp.owner)
				return
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// keep going while there is work, then wait for the next tick
		for {
			ran, err := wp.processNextJob(ctx)
			if err == nil {
				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors",
						logger.FieldWorkerID, id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoff = time.Second
				if ran && ctx.Err() == nil {
					continue
				}
				break
			}

			if ctx.Err() != nil || db.IsDatabaseClosed(err) {
				return
			}

			errorCount++
			wp.logger.Errorw("Worker error processing job",
				logger.FieldWorkerID, id,
				logger.FieldError, err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					logger.FieldWorkerID, id,
					"backoff", backoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
			}
			break
		}
	}
}

// processNextJob runs one job. It reports false when nothing was queued.
func (wp *WorkerPool) processNextJob(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	job, err := wp.queue.Dequeue(ctx, wp.owner, wp.config.LeaseDuration)
	if err != nil {
		return false, errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return false, nil
	}

	log := wp.logger.With(logger.FieldJobID, job.ID, logger.FieldHandler, job.HandlerName)

	if job.ParentJobID != "" {
		if reason, cancel, err := wp.parentCancellation(ctx, job); err != nil {
			return true, err
		} else if cancel {
			log.Infow("Cancelling task", "reason", reason, logger.FieldParentJobID, job.ParentJobID)
			job.Cancel(reason)
			return true, wp.queue.UpdateJob(ctx, job)
		}
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.jobsProcessed++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	start := time.Now()
	jobCtx := logger.WithJobID(ctx, job.ID)
	stopLease := wp.holdLease(ctx, job, log)
	execErr := wp.registry.Execute(jobCtx, job)
	stopLease()

	// the store write below must survive shutdown
	writeCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		if ctx.Err() != nil {
			log.Infow("Job interrupted by shutdown, re-queuing")
			job.Requeue()
			if err := wp.queue.UpdateJob(writeCtx, job); err != nil {
				log.Errorw("Failed to re-queue interrupted job", logger.FieldError, err)
			}
			return true, nil
		}

		log.Warnw("Job failed",
			logger.FieldError, execErr,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
		return true, retryOrFail(writeCtx, wp.queue, job, execErr, wp.config.MaxRetries, log)
	}

	log.Debugw("Job completed", logger.FieldDurationMS, time.Since(start).Milliseconds())
	return true, wp.queue.CompleteJob(writeCtx, job)
}

// parentCancellation reports whether job must be cancelled because its
// parent is gone, failed or cancelled.
func (wp *WorkerPool) parentCancellation(ctx context.Context, job *Job) (string, bool, error) {
	parent, err := wp.queue.GetJob(ctx, job.ParentJobID)
	if errors.IsNotFoundError(err) {
		return "parent job deleted", true, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to load parent of job %s", job.ID)
	}
	if parent.Status == JobStatusFailed || parent.Status == JobStatusCancelled {
		return fmt.Sprintf("parent job %s", parent.Status), true, nil
	}
	return "", false, nil
}
