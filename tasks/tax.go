package tasks

import (
	"context"
	"fmt"

	"github.com/finledger/batchcore/batch"
)

// VATReturnPrepTask nets one VAT account pair per item into the settlement
// account in preparation for a VAT return.
type VATReturnPrepTask struct {
	poster Poster
}

func (*VATReturnPrepTask) Name() string { return "tax.vat-return-prep" }

type vatReturnInput struct {
	Period            string `json:"period"` // e.g. "2026-Q2"
	OutputVATCt       int64  `json:"output_vat_ct"`
	InputVATCt        int64  `json:"input_vat_ct"`
	OutputVATAccount  string `json:"output_vat_account"`
	InputVATAccount   string `json:"input_vat_account"`
	SettlementAccount string `json:"settlement_account"`
	Currency          string `json:"currency"`
}

func (t *VATReturnPrepTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in vatReturnInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.Period == "" {
		return batch.Fail("validation", "period is required", false)
	}
	if in.OutputVATCt < 0 || in.InputVATCt < 0 {
		return batch.Fail("validation", fmt.Sprintf("period %s: VAT balances cannot be negative", in.Period), false)
	}

	payable := in.OutputVATCt - in.InputVATCt
	if payable == 0 && in.OutputVATCt == 0 {
		return batch.Skip(fmt.Sprintf("period %s: no VAT activity", in.Period))
	}

	memo := fmt.Sprintf("VAT return prep %s", in.Period)
	if ok, out := postEntries(ctx, t.poster, item, []Entry{
		{Account: in.OutputVATAccount, AmountCt: in.OutputVATCt, Currency: in.Currency, Memo: memo},
		{Account: in.InputVATAccount, AmountCt: -in.InputVATCt, Currency: in.Currency, Memo: memo},
		{Account: in.SettlementAccount, AmountCt: -payable, Currency: in.Currency, Memo: memo},
	}); !ok {
		return out
	}

	return successResult(map[string]any{
		"period":     in.Period,
		"payable_ct": payable,
	})
}
