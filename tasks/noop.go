package tasks

import (
	"context"

	"github.com/finledger/batchcore/batch"
)

// NoopTask succeeds without doing anything. Used for smoke tests and for
// exercising the executor end to end.
type NoopTask struct{}

func (NoopTask) Name() string { return "noop" }

func (NoopTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	return batch.Success(nil)
}
