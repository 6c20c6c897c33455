package tasks

import (
	"context"
	"fmt"

	"github.com/finledger/batchcore/batch"
)

// MassDepreciationTask posts one month of straight-line depreciation for a
// single asset per item.
type MassDepreciationTask struct {
	poster Poster
}

func (*MassDepreciationTask) Name() string { return "assets.mass-depreciation" }

type depreciationInput struct {
	AssetID        string `json:"asset_id"`
	CostCt         int64  `json:"cost_ct"`
	ResidualCt     int64  `json:"residual_ct"`
	UsefulMonths   int    `json:"useful_months"`
	ExpenseAccount string `json:"expense_account"`
	ContraAccount  string `json:"contra_account"`
	Currency       string `json:"currency"`
	Period         string `json:"period"` // e.g. "2026-08"
}

func (t *MassDepreciationTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in depreciationInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.AssetID == "" {
		return batch.Fail("validation", "asset_id is required", false)
	}
	if in.UsefulMonths <= 0 {
		return batch.Fail("validation", fmt.Sprintf("asset %s: useful_months must be positive", in.AssetID), false)
	}
	if in.ResidualCt > in.CostCt {
		return batch.Fail("validation", fmt.Sprintf("asset %s: residual exceeds cost", in.AssetID), false)
	}

	monthly := (in.CostCt - in.ResidualCt) / int64(in.UsefulMonths)
	if monthly == 0 {
		return batch.Skip(fmt.Sprintf("asset %s: fully depreciated", in.AssetID))
	}

	memo := fmt.Sprintf("depreciation %s %s", in.AssetID, in.Period)
	if ok, out := postEntries(ctx, t.poster, item, []Entry{
		{Account: in.ExpenseAccount, AmountCt: monthly, Currency: in.Currency, Memo: memo},
		{Account: in.ContraAccount, AmountCt: -monthly, Currency: in.Currency, Memo: memo},
	}); !ok {
		return out
	}

	return successResult(map[string]any{
		"asset_id":  in.AssetID,
		"period":    in.Period,
		"posted_ct": monthly,
	})
}

// AssetRevaluationTask adjusts an asset's book value to a new appraisal and
// posts the delta.
type AssetRevaluationTask struct {
	poster Poster
}

func (*AssetRevaluationTask) Name() string { return "assets.revaluation" }

type revaluationInput struct {
	AssetID        string `json:"asset_id"`
	BookValueCt    int64  `json:"book_value_ct"`
	AppraisedCt    int64  `json:"appraised_ct"`
	AssetAccount   string `json:"asset_account"`
	ReserveAccount string `json:"reserve_account"`
	Currency       string `json:"currency"`
	AppraisalRef   string `json:"appraisal_ref"`
}

func (t *AssetRevaluationTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in revaluationInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.AssetID == "" {
		return batch.Fail("validation", "asset_id is required", false)
	}
	if in.AppraisalRef == "" {
		return batch.Fail("validation", fmt.Sprintf("asset %s: appraisal_ref is required", in.AssetID), false)
	}

	delta := in.AppraisedCt - in.BookValueCt
	if delta == 0 {
		return batch.Skip(fmt.Sprintf("asset %s: book value matches appraisal", in.AssetID))
	}

	memo := fmt.Sprintf("revaluation %s per %s", in.AssetID, in.AppraisalRef)
	if ok, out := postEntries(ctx, t.poster, item, []Entry{
		{Account: in.AssetAccount, AmountCt: delta, Currency: in.Currency, Memo: memo},
		{Account: in.ReserveAccount, AmountCt: -delta, Currency: in.Currency, Memo: memo},
	}); !ok {
		return out
	}

	return successResult(map[string]any{
		"asset_id": in.AssetID,
		"delta_ct": delta,
	})
}
