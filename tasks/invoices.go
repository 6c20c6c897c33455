package tasks

import (
	"context"
	"fmt"

	"github.com/finledger/batchcore/batch"
)

// InvoiceBatchPostingTask posts one finalized invoice per item: revenue,
// VAT liability, and the receivable.
type InvoiceBatchPostingTask struct {
	poster Poster
}

func (*InvoiceBatchPostingTask) Name() string { return "invoices.batch-posting" }

type invoiceInput struct {
	InvoiceID      string  `json:"invoice_id"`
	CustomerID     string  `json:"customer_id"`
	NetCt          int64   `json:"net_ct"`
	VATRatePct     float64 `json:"vat_rate_pct"`
	RevenueAccount string  `json:"revenue_account"`
	VATAccount     string  `json:"vat_account"`
	ARAccount      string  `json:"ar_account"`
	Currency       string  `json:"currency"`
	Finalized      bool    `json:"finalized"`
}

func (t *InvoiceBatchPostingTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in invoiceInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.InvoiceID == "" {
		return batch.Fail("validation", "invoice_id is required", false)
	}
	if !in.Finalized {
		return batch.Skip(fmt.Sprintf("invoice %s: still in draft", in.InvoiceID))
	}
	if in.NetCt <= 0 {
		return batch.Fail("validation", fmt.Sprintf("invoice %s: net must be positive", in.InvoiceID), false)
	}
	if in.VATRatePct < 0 {
		return batch.Fail("validation", fmt.Sprintf("invoice %s: negative VAT rate", in.InvoiceID), false)
	}

	vat := int64(float64(in.NetCt) * in.VATRatePct / 100)
	gross := in.NetCt + vat

	memo := fmt.Sprintf("invoice %s for %s", in.InvoiceID, in.CustomerID)
	if ok, out := postEntries(ctx, t.poster, item, []Entry{
		{Account: in.ARAccount, AmountCt: gross, Currency: in.Currency, Memo: memo},
		{Account: in.RevenueAccount, AmountCt: -in.NetCt, Currency: in.Currency, Memo: memo},
		{Account: in.VATAccount, AmountCt: -vat, Currency: in.Currency, Memo: memo},
	}); !ok {
		return out
	}

	return successResult(map[string]any{
		"invoice_id": in.InvoiceID,
		"gross_ct":   gross,
		"vat_ct":     vat,
	})
}
