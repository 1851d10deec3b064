package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/logger"
)

// ErrRetryable marks handler errors worth another attempt
var ErrRetryable = errors.New("retryable")

// MarkRetryable marks err so the worker pool re-queues the job instead of
// failing it, until the retry budget is spent.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrRetryable)
}

// IsRetryable reports whether err is worth another attempt. An unreachable
// metadata service is always retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.IsAny(err, ErrRetryable, errors.ErrServiceUnavailable, context.DeadlineExceeded)
}

// retryOrFail re-queues job when err is retryable and retries remain,
// otherwise marks it failed.
func retryOrFail(ctx context.Context, queue *Queue, job *Job, err error, maxRetries int, log *zap.SugaredLogger) error {
	if IsRetryable(err) && job.RetryCount < maxRetries {
		job.RetryCount++
		job.Error = fmt.Sprintf("retry %d/%d: %v", job.RetryCount, maxRetries, err)
		job.Requeue()
		if updateErr := queue.UpdateJob(ctx, job); updateErr != nil {
			return errors.Wrap(updateErr, "failed to re-queue job for retry")
		}
		log.Infow("Retry scheduled",
			"retry_count", job.RetryCount,
			"max_retries", maxRetries,
			logger.FieldError, err,
		)
		return nil
	}

	if IsRetryable(err) {
		log.Warnw("Max retries exceeded",
			"max_retries", maxRetries,
			logger.FieldError, err,
		)
		err = errors.Wrapf(err, "giving up after %d retries", maxRetries)
	}
	return queue.FailJob(ctx, job, err)
}
