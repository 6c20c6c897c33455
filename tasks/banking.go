package tasks

import (
	"context"
	"fmt"

	"github.com/finledger/batchcore/batch"
)

// StatementImportTask books one bank statement line per item against the
// clearing account. Matching against open items happens downstream.
type StatementImportTask struct {
	poster Poster
}

func (*StatementImportTask) Name() string { return "banking.statement-import" }

type statementLineInput struct {
	LineID          string `json:"line_id"`
	BankAccount     string `json:"bank_account"`
	ClearingAccount string `json:"clearing_account"`
	AmountCt        int64  `json:"amount_ct"` // signed: inflow positive
	Currency        string `json:"currency"`
	ValueDate       string `json:"value_date"`
	Reference       string `json:"reference"`
}

func (t *StatementImportTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in statementLineInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.LineID == "" {
		return batch.Fail("validation", "line_id is required", false)
	}
	if in.AmountCt == 0 {
		return batch.Skip(fmt.Sprintf("line %s: zero amount", in.LineID))
	}

	memo := fmt.Sprintf("statement line %s (%s)", in.LineID, in.Reference)
	if ok, out := postEntries(ctx, t.poster, item, []Entry{
		{Account: in.BankAccount, AmountCt: in.AmountCt, Currency: in.Currency, Memo: memo},
		{Account: in.ClearingAccount, AmountCt: -in.AmountCt, Currency: in.Currency, Memo: memo},
	}); !ok {
		return out
	}

	return successResult(map[string]any{
		"line_id":   in.LineID,
		"booked_ct": in.AmountCt,
	})
}
