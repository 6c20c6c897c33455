package batch

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/batchcore/errors"
	dbtest "github.com/finledger/batchcore/internal/testing"
)

func mustCreateJob(t *testing.T, store *Store, taskName, key string, inputs []json.RawMessage) *Job {
	t.Helper()
	job, items, err := NewJob(taskName, key, inputs, DefaultMaxAttempts, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.CreateJobWithItems(job, items))
	return job
}

func rawInputs(n int) []json.RawMessage {
	inputs := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
	}
	return inputs
}

func TestStoreCreateAndGetJob(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	created := mustCreateJob(t, store, "payments.payment-run", "run-2026-08", rawInputs(2))

	job, err := store.GetJob(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, job.ID)
	assert.Equal(t, "payments.payment-run", job.TaskName)
	assert.Equal(t, JobStatusCreated, job.Status)
	assert.Equal(t, 2, job.TotalItems)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)

	items, err := store.ListItems(job.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Seq)
	assert.Equal(t, 2, items[1].Seq)
	assert.Equal(t, ItemStatusPending, items[0].Status)
}

func TestStoreGetJobNotFound(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	_, err := store.GetJob("BJ_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))
}

func TestStoreDuplicateIdempotencyKey(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	mustCreateJob(t, store, "payments.payment-run", "same-key", nil)

	job, items, err := NewJob("payments.payment-run", "same-key", nil, DefaultMaxAttempts, time.Now())
	require.NoError(t, err)
	err = store.CreateJobWithItems(job, items)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateJob))
}

func TestStoreFailedJobReleasesIdempotencyKey(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	first := mustCreateJob(t, store, "payments.payment-run", "retry-key", nil)
	require.NoError(t, store.FinalizeJob(first.ID, JobStatusFailed, 0, 0, 0, time.Now()))

	// The key is free again once its holder failed.
	found, err := store.FindJobByIdempotencyKey("retry-key")
	require.NoError(t, err)
	assert.Nil(t, found)

	second := mustCreateJob(t, store, "payments.payment-run", "retry-key", nil)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStoreFindJobByIdempotencyKey(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	created := mustCreateJob(t, store, "tax.vat-return-prep", "vat-q2", nil)

	found, err := store.FindJobByIdempotencyKey("vat-q2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := store.FindJobByIdempotencyKey("vat-q3")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreMarkJobRunningKeepsFirstStart(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	job := mustCreateJob(t, store, "payroll.calculation-pass", "payroll-aug", nil)

	first := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkJobRunning(job.ID, first))

	later := first.Add(time.Hour)
	require.NoError(t, store.MarkJobRunning(job.ID, later))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, first, got.StartedAt.UTC())
	assert.Equal(t, JobStatusRunning, got.Status)
}

func TestStoreMarkItemRunningIncrementsAttempts(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	job := mustCreateJob(t, store, "payments.payment-run", "attempts", rawInputs(1))

	require.NoError(t, store.MarkItemRunning(job.ID, 1, time.Now()))
	require.NoError(t, store.MarkItemRunning(job.ID, 1, time.Now()))

	item, err := store.GetItem(job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, ItemStatusRunning, item.Status)
}

func TestStoreResetRunningItemsPreservesAttempts(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	job := mustCreateJob(t, store, "payments.payment-run", "reset", rawInputs(2))
	require.NoError(t, store.MarkItemRunning(job.ID, 1, time.Now()))

	count, err := store.ResetRunningItems(job.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	item, err := store.GetItem(job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, ItemStatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
}

func TestStoreUpdateItemOutcome(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	job := mustCreateJob(t, store, "invoices.batch-posting", "post-1", rawInputs(1))

	result := json.RawMessage(`{"posted":true}`)
	require.NoError(t, store.UpdateItemOutcome(conn, job.ID, 1, ItemStatusSucceeded, "", "", false, result, time.Now()))

	item, err := store.GetItem(job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, ItemStatusSucceeded, item.Status)
	assert.JSONEq(t, `{"posted":true}`, string(item.Result))
	assert.Empty(t, item.ErrorKind)
}

func TestStoreCountItemStatuses(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	job := mustCreateJob(t, store, "payments.payment-run", "counts", rawInputs(4))
	now := time.Now()
	require.NoError(t, store.UpdateItemOutcome(conn, job.ID, 1, ItemStatusSucceeded, "", "", false, nil, now))
	require.NoError(t, store.UpdateItemOutcome(conn, job.ID, 2, ItemStatusFailed, "validation", "bad input", false, nil, now))
	require.NoError(t, store.UpdateItemOutcome(conn, job.ID, 3, ItemStatusSkipped, "", "", false, nil, now))

	pending, succeeded, failed, skipped, err := store.CountItemStatuses(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)
}

func TestStoreRequeueRetryableFailed(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	job := mustCreateJob(t, store, "banking.statement-import", "stmt-1", rawInputs(3))
	now := time.Now()

	// Item 1: retryable failure, attempts exhausted. Item 2: non-retryable.
	// Item 3: succeeded.
	for i := 0; i < DefaultMaxAttempts; i++ {
		require.NoError(t, store.MarkItemRunning(job.ID, 1, now))
	}
	require.NoError(t, store.UpdateItemOutcome(conn, job.ID, 1, ItemStatusFailed, "io", "timeout", true, nil, now))
	require.NoError(t, store.UpdateItemOutcome(conn, job.ID, 2, ItemStatusFailed, "validation", "bad row", false, nil, now))
	require.NoError(t, store.UpdateItemOutcome(conn, job.ID, 3, ItemStatusSucceeded, "", "", false, nil, now))

	count, err := store.RequeueRetryableFailed(job.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The re-queued item gets a fresh attempt budget.
	item, err := store.GetItem(job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, ItemStatusPending, item.Status)
	assert.Zero(t, item.Attempts)

	nonRetryable, err := store.GetItem(job.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, ItemStatusFailed, nonRetryable.Status)
}

func TestStoreDeleteJobCascadesItems(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	store := NewStore(conn)

	job := mustCreateJob(t, store, "payments.payment-run", "cascade", rawInputs(2))

	_, err := conn.Exec("DELETE FROM batch_jobs WHERE id = ?", job.ID)
	require.NoError(t, err)

	items, err := store.ListItems(job.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}
