package tasks

import (
	"context"
	"fmt"

	"github.com/finledger/batchcore/batch"
)

// PeriodCloseCheckTask verifies one ledger account balances to its expected
// control total per item. Pure check: no postings, just a pass/fail verdict.
type PeriodCloseCheckTask struct{}

func (*PeriodCloseCheckTask) Name() string { return "gl.period-close-check" }

type closeCheckInput struct {
	Account    string `json:"account"`
	Period     string `json:"period"`
	BalanceCt  int64  `json:"balance_ct"`
	ExpectedCt int64  `json:"expected_ct"`
}

func (*PeriodCloseCheckTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in closeCheckInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.Account == "" || in.Period == "" {
		return batch.Fail("validation", "account and period are required", false)
	}

	if in.BalanceCt != in.ExpectedCt {
		return batch.Fail("imbalance",
			fmt.Sprintf("account %s period %s: balance %d, expected %d",
				in.Account, in.Period, in.BalanceCt, in.ExpectedCt),
			false)
	}

	return successResult(map[string]any{
		"account": in.Account,
		"period":  in.Period,
	})
}
