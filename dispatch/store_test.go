package dispatch

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tablescan/errors"
	tablescantest "github.com/teranos/tablescan/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(tablescantest.CreateTestDB(t))
}

// mustJob creates a queued job whose CreatedAt is offset from a fixed base
// so ordering does not depend on the clock.
func mustJob(t *testing.T, handler, source string, offset time.Duration) *Job {
	t.Helper()
	job, err := NewJob(handler, source, []byte(`{"n":1}`), 1)
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	job.CreatedAt = base.Add(offset)
	job.UpdatedAt = job.CreatedAt
	return job
}

func TestStoreCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustJob(t, "inputjob.plan-splits", "fp1", 0)
	job.ParentJobID = "parent"
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "inputjob.plan-splits", got.HandlerName)
	assert.Equal(t, "fp1", got.Source)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.Equal(t, Progress{Total: 1}, got.Progress)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
	assert.Equal(t, "parent", got.ParentJobID)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Error)

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetJob(ctx, "nope")
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("duplicate id", func(t *testing.T) {
		assert.Error(t, s.CreateJob(ctx, job))
	})
}

func TestStoreUpdateJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustJob(t, "test.handler", "", 0)
	require.NoError(t, s.CreateJob(ctx, job))

	job.Start()
	job.UpdateProgress(1)
	job.RetryCount = 1
	job.Fail(errors.New("boom"))
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 1, got.Progress.Current)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	ghost := mustJob(t, "test.handler", "", 0)
	assert.True(t, errors.IsNotFoundError(s.UpdateJob(ctx, ghost)))
}

func TestStoreNextQueuedAndClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next, err := s.NextQueued(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	second := mustJob(t, "test.handler", "second", time.Minute)
	first := mustJob(t, "test.handler", "first", 0)
	require.NoError(t, s.CreateJob(ctx, second))
	require.NoError(t, s.CreateJob(ctx, first))

	next, err = s.NextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "first", next.Source)

	claimed, err := s.ClaimJob(ctx, next, "kirby", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, JobStatusRunning, next.Status)

	running, err := s.GetJob(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, "kirby", running.ClaimedBy)
	require.NotNil(t, running.LeaseExpiresAt)
	assert.False(t, running.LeaseExpired(time.Now()))

	stale := *first
	claimed, err = s.ClaimJob(ctx, &stale, "meta-knight", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "a running job cannot be claimed again")

	next, err = s.NextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", next.Source)
}

func TestStoreLeases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live := mustJob(t, "test.handler", "live", 0)
	dead := mustJob(t, "test.handler", "dead", time.Second)
	require.NoError(t, s.CreateJob(ctx, live))
	require.NoError(t, s.CreateJob(ctx, dead))

	claimed, err := s.ClaimJob(ctx, live, "kirby", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = s.ClaimJob(ctx, dead, "crashed", -time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	now := time.Now()
	expired, err := s.ListExpiredLeases(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, dead.ID, expired[0].ID)

	t.Run("renew only by owner", func(t *testing.T) {
		ok, err := s.RenewLease(ctx, live.ID, "meta-knight", now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.RenewLease(ctx, live.ID, "kirby", now.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("renewed lease is not re-queued", func(t *testing.T) {
		ok, err := s.RenewLease(ctx, dead.ID, "crashed", now.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)

		requeued, err := s.RequeueExpired(ctx, expired[0], now)
		require.NoError(t, err)
		assert.False(t, requeued)
		assert.Equal(t, JobStatusRunning, mustGet(t, s, dead.ID).Status)
	})

	t.Run("expired lease is re-queued", func(t *testing.T) {
		ok, err := s.RenewLease(ctx, dead.ID, "crashed", now.Add(-time.Second))
		require.NoError(t, err)
		require.True(t, ok)

		requeued, err := s.RequeueExpired(ctx, expired[0], now)
		require.NoError(t, err)
		assert.True(t, requeued)

		got := mustGet(t, s, dead.ID)
		assert.Equal(t, JobStatusQueued, got.Status)
		assert.Empty(t, got.ClaimedBy)
		assert.Nil(t, got.LeaseExpiresAt)
	})
}

func mustGet(t *testing.T, s *Store, id string) *Job {
	t.Helper()
	job, err := s.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestStoreListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, src := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateJob(ctx, mustJob(t, "test.handler", src, time.Duration(i)*time.Second)))
	}
	done := mustJob(t, "test.handler", "d", 10*time.Second)
	done.Complete()
	require.NoError(t, s.CreateJob(ctx, done))

	all, err := s.ListJobs(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].Source, "newest first")

	queued := JobStatusQueued
	jobs, err := s.ListJobs(ctx, &queued, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "c", jobs[0].Source)
	assert.Equal(t, "b", jobs[1].Source)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[JobStatus]int{JobStatusQueued: 3, JobStatusCompleted: 1}, counts)
}

func TestStoreListTasksByParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// same timestamp: insertion order breaks the tie
	for _, src := range []string{"p0", "p1", "p2"} {
		child := mustJob(t, "inputjob.read-partition", src, 0)
		child.ParentJobID = "parent"
		require.NoError(t, s.CreateJob(ctx, child))
	}
	require.NoError(t, s.CreateJob(ctx, mustJob(t, "inputjob.read-partition", "other", 0)))

	tasks, err := s.ListTasksByParent(ctx, "parent")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, []string{"p0", "p1", "p2"}[i], task.Source)
	}

	none, err := s.ListTasksByParent(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreDeleteAndCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := mustJob(t, "test.handler", "", 0)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.DeleteJob(ctx, job.ID))
	assert.True(t, errors.IsNotFoundError(s.DeleteJob(ctx, job.ID)))

	old := mustJob(t, "test.handler", "old", 0)
	old.Complete()
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.CreateJob(ctx, old))

	fresh := mustJob(t, "test.handler", "fresh", 0)
	fresh.Complete()
	require.NoError(t, s.CreateJob(ctx, fresh))

	stillQueued := mustJob(t, "test.handler", "queued", 0)
	stillQueued.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.CreateJob(ctx, stillQueued))

	n, err := s.CleanupOldJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetJob(ctx, old.ID)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = s.GetJob(ctx, stillQueued.ID)
	assert.NoError(t, err)
}

func TestStoreFindActiveJobBySourceAndHandler(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	found, err := s.FindActiveJobBySourceAndHandler(ctx, "fp1", "inputjob.plan-splits")
	require.NoError(t, err)
	assert.Nil(t, found)

	job := mustJob(t, "inputjob.plan-splits", "fp1", 0)
	require.NoError(t, s.CreateJob(ctx, job))

	found, err = s.FindActiveJobBySourceAndHandler(ctx, "fp1", "inputjob.plan-splits")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, job.ID, found.ID)

	found, err = s.FindActiveJobBySourceAndHandler(ctx, "fp1", "inputjob.read-partition")
	require.NoError(t, err)
	assert.Nil(t, found)

	job.Complete()
	require.NoError(t, s.UpdateJob(ctx, job))
	found, err = s.FindActiveJobBySourceAndHandler(ctx, "fp1", "inputjob.plan-splits")
	require.NoError(t, err)
	assert.Nil(t, found)
}

// sqlmock checks that driver failures keep their cause and gain context

func TestStoreCreateJob_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cause := errors.New("disk I/O error")
	mock.ExpectExec("INSERT INTO dispatch_jobs").WillReturnError(cause)

	err = NewStore(db).CreateJob(context.Background(), mustJob(t, "test.handler", "", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job")
	assert.True(t, errors.Is(err, cause))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetJob_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM dispatch_jobs WHERE id = \?`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM dispatch_jobs WHERE id = \?`).
		WithArgs("broken").
		WillReturnError(sql.ErrConnDone)

	s := NewStore(db)
	_, err = s.GetJob(context.Background(), "missing")
	assert.True(t, errors.IsNotFoundError(err))

	_, err = s.GetJob(context.Background(), "broken")
	require.Error(t, err)
	assert.False(t, errors.IsNotFoundError(err))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreClaimJob_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE dispatch_jobs").WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := NewStore(db).ClaimJob(context.Background(), mustJob(t, "test.handler", "", 0), "kirby", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
