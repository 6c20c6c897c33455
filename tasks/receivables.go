package tasks

import (
	"context"
	"fmt"

	"github.com/finledger/batchcore/batch"
)

// DunningCycleTask escalates one overdue receivable per item: raises the
// dunning level and posts the dunning fee.
type DunningCycleTask struct {
	poster Poster
}

func (*DunningCycleTask) Name() string { return "receivables.dunning-cycle" }

type dunningInput struct {
	ReceivableID string `json:"receivable_id"`
	CustomerID   string `json:"customer_id"`
	OverdueDays  int    `json:"overdue_days"`
	DunningLevel int    `json:"dunning_level"`
	FeeCt        int64  `json:"fee_ct"`
	FeeAccount   string `json:"fee_account"`
	ARAccount    string `json:"ar_account"`
	Currency     string `json:"currency"`
}

const maxDunningLevel = 3

func (t *DunningCycleTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in dunningInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.ReceivableID == "" {
		return batch.Fail("validation", "receivable_id is required", false)
	}
	if in.OverdueDays <= 0 {
		return batch.Skip(fmt.Sprintf("receivable %s: not overdue", in.ReceivableID))
	}
	if in.DunningLevel >= maxDunningLevel {
		return batch.Skip(fmt.Sprintf("receivable %s: already at final dunning level", in.ReceivableID))
	}

	level := in.DunningLevel + 1
	if in.FeeCt > 0 {
		memo := fmt.Sprintf("dunning level %d for %s", level, in.ReceivableID)
		if ok, out := postEntries(ctx, t.poster, item, []Entry{
			{Account: in.ARAccount, AmountCt: in.FeeCt, Currency: in.Currency, Memo: memo},
			{Account: in.FeeAccount, AmountCt: -in.FeeCt, Currency: in.Currency, Memo: memo},
		}); !ok {
			return out
		}
	}

	return successResult(map[string]any{
		"receivable_id": in.ReceivableID,
		"dunning_level": level,
		"fee_ct":        in.FeeCt,
	})
}

// InterestChargesTask posts late-payment interest on one overdue receivable
// per item.
type InterestChargesTask struct {
	poster Poster
}

func (*InterestChargesTask) Name() string { return "receivables.interest-charges" }

type interestInput struct {
	ReceivableID    string  `json:"receivable_id"`
	PrincipalCt     int64   `json:"principal_ct"`
	AnnualRatePct   float64 `json:"annual_rate_pct"`
	OverdueDays     int     `json:"overdue_days"`
	InterestAccount string  `json:"interest_account"`
	ARAccount       string  `json:"ar_account"`
	Currency        string  `json:"currency"`
}

func (t *InterestChargesTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in interestInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.ReceivableID == "" {
		return batch.Fail("validation", "receivable_id is required", false)
	}
	if in.AnnualRatePct < 0 {
		return batch.Fail("validation", fmt.Sprintf("receivable %s: negative interest rate", in.ReceivableID), false)
	}
	if in.OverdueDays <= 0 {
		return batch.Skip(fmt.Sprintf("receivable %s: not overdue", in.ReceivableID))
	}

	// Simple interest, actual/365.
	interest := int64(float64(in.PrincipalCt) * in.AnnualRatePct / 100 * float64(in.OverdueDays) / 365)
	if interest == 0 {
		return batch.Skip(fmt.Sprintf("receivable %s: interest rounds to zero", in.ReceivableID))
	}

	memo := fmt.Sprintf("late interest %s, %d days", in.ReceivableID, in.OverdueDays)
	if ok, out := postEntries(ctx, t.poster, item, []Entry{
		{Account: in.ARAccount, AmountCt: interest, Currency: in.Currency, Memo: memo},
		{Account: in.InterestAccount, AmountCt: -interest, Currency: in.Currency, Memo: memo},
	}); !ok {
		return out
	}

	return successResult(map[string]any{
		"receivable_id": in.ReceivableID,
		"interest_ct":   interest,
	})
}
