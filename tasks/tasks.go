// Package tasks contains the reference batch tasks for the financial
// modules: depreciation, payment runs, dunning, payroll, invoicing, tax,
// banking, and period close. Each task parses its item input, validates it,
// and posts resulting ledger entries through the Poster interface inside the
// item's transaction scope.
package tasks

import (
	"context"
	"encoding/json"

	"github.com/finledger/batchcore/batch"
)

// Entry is one ledger posting produced by a task.
type Entry struct {
	Account  string `json:"account"`
	AmountCt int64  `json:"amount_ct"` // amount in cents, negative for credit
	Currency string `json:"currency"`
	Memo     string `json:"memo"`
}

// Poster posts ledger entries into the ledger pipeline. Implementations
// write through item.Tx so postings join the item's isolation scope and
// roll back with it.
type Poster interface {
	Post(ctx context.Context, item *batch.ItemContext, entries []Entry) error
}

// PosterFunc adapts a function to the Poster interface.
type PosterFunc func(ctx context.Context, item *batch.ItemContext, entries []Entry) error

func (f PosterFunc) Post(ctx context.Context, item *batch.ItemContext, entries []Entry) error {
	return f(ctx, item, entries)
}

// RegisterAll registers every reference task plus the noop task.
// Panics on duplicate names; call once at process initialization.
func RegisterAll(reg *batch.Registry, poster Poster) {
	reg.MustRegister(NoopTask{})
	reg.MustRegister(&MassDepreciationTask{poster: poster})
	reg.MustRegister(&AssetRevaluationTask{poster: poster})
	reg.MustRegister(&PaymentRunTask{poster: poster})
	reg.MustRegister(&DunningCycleTask{poster: poster})
	reg.MustRegister(&InterestChargesTask{poster: poster})
	reg.MustRegister(&PayrollCalculationTask{poster: poster})
	reg.MustRegister(&InvoiceBatchPostingTask{poster: poster})
	reg.MustRegister(&VATReturnPrepTask{poster: poster})
	reg.MustRegister(&StatementImportTask{poster: poster})
	reg.MustRegister(&PeriodCloseCheckTask{})
}

// decodeInput unmarshals an item's input, reporting a non-retryable
// validation failure on malformed JSON.
func decodeInput(item *batch.ItemContext, dst any) (ok bool, outcome batch.Outcome) {
	if err := json.Unmarshal(item.Input, dst); err != nil {
		return false, batch.Fail("validation", "malformed item input: "+err.Error(), false)
	}
	return true, batch.Outcome{}
}

// postEntries posts through the poster, classifying failures as retryable:
// the ledger pipeline's errors are transient from this side.
func postEntries(ctx context.Context, poster Poster, item *batch.ItemContext, entries []Entry) (ok bool, outcome batch.Outcome) {
	if err := poster.Post(ctx, item, entries); err != nil {
		return false, batch.Fail("posting", err.Error(), true)
	}
	return true, batch.Outcome{}
}

func successResult(v any) batch.Outcome {
	data, err := json.Marshal(v)
	if err != nil {
		return batch.Fail("internal", "failed to encode result: "+err.Error(), false)
	}
	return batch.Success(data)
}
