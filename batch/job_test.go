package batch

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	inputs := []json.RawMessage{
		json.RawMessage(`{"asset_id":"A-1"}`),
		json.RawMessage(`{"asset_id":"A-2"}`),
		json.RawMessage(`{"asset_id":"A-3"}`),
	}

	job, items, err := NewJob("assets.mass-depreciation", "depr-2026-03", inputs, 5, now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(job.ID, "BJ_"))
	assert.Equal(t, JobStatusCreated, job.Status)
	assert.Equal(t, 3, job.TotalItems)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, now, job.CreatedAt)
	assert.Nil(t, job.StartedAt)

	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, job.ID, item.JobID)
		assert.Equal(t, i+1, item.Seq)
		assert.Equal(t, ItemStatusPending, item.Status)
		assert.Zero(t, item.Attempts)
	}
}

func TestNewJobDefaultsMaxAttempts(t *testing.T) {
	job, _, err := NewJob("payments.payment-run", "run-1", nil, 0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	assert.Zero(t, job.TotalItems)
}

func TestNewJobValidation(t *testing.T) {
	_, _, err := NewJob("", "key", nil, 1, time.Now())
	require.Error(t, err)

	_, _, err = NewJob("payments.payment-run", "", nil, 1, time.Now())
	require.Error(t, err)
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, JobStatusCreated.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusCompletedWithErrors.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestItemStatusIsTerminal(t *testing.T) {
	assert.False(t, ItemStatusPending.IsTerminal())
	assert.False(t, ItemStatusRunning.IsTerminal())
	assert.True(t, ItemStatusSucceeded.IsTerminal())
	assert.True(t, ItemStatusFailed.IsTerminal())
	assert.True(t, ItemStatusSkipped.IsTerminal())
}
