package tasks

import (
	"context"
	"fmt"

	"github.com/finledger/batchcore/batch"
)

// PaymentRunTask settles one open payable per item: posts the payment and
// clears the payable.
type PaymentRunTask struct {
	poster Poster
}

func (*PaymentRunTask) Name() string { return "payments.payment-run" }

type paymentInput struct {
	PayableID      string `json:"payable_id"`
	VendorID       string `json:"vendor_id"`
	AmountCt       int64  `json:"amount_ct"`
	Currency       string `json:"currency"`
	BankAccount    string `json:"bank_account"`
	PayableAccount string `json:"payable_account"`
	DueDate        string `json:"due_date"`
}

func (t *PaymentRunTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in paymentInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.PayableID == "" || in.VendorID == "" {
		return batch.Fail("validation", "payable_id and vendor_id are required", false)
	}
	if in.AmountCt <= 0 {
		return batch.Fail("validation", fmt.Sprintf("payable %s: amount must be positive", in.PayableID), false)
	}

	memo := fmt.Sprintf("payment %s to %s", in.PayableID, in.VendorID)
	if ok, out := postEntries(ctx, t.poster, item, []Entry{
		{Account: in.PayableAccount, AmountCt: in.AmountCt, Currency: in.Currency, Memo: memo},
		{Account: in.BankAccount, AmountCt: -in.AmountCt, Currency: in.Currency, Memo: memo},
	}); !ok {
		return out
	}

	return successResult(map[string]any{
		"payable_id": in.PayableID,
		"paid_ct":    in.AmountCt,
	})
}
