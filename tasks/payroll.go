package tasks

import (
	"context"
	"fmt"

	"github.com/finledger/batchcore/batch"
)

// PayrollCalculationTask computes one employee's net pay per item and posts
// gross wages, withholdings, and the net payable.
type PayrollCalculationTask struct {
	poster Poster
}

func (*PayrollCalculationTask) Name() string { return "payroll.calculation-pass" }

type payrollInput struct {
	EmployeeID        string  `json:"employee_id"`
	GrossCt           int64   `json:"gross_ct"`
	TaxRatePct        float64 `json:"tax_rate_pct"`
	SocialRatePct     float64 `json:"social_rate_pct"`
	WageAccount       string  `json:"wage_account"`
	TaxAccount        string  `json:"tax_account"`
	SocialAccount     string  `json:"social_account"`
	NetPayableAccount string  `json:"net_payable_account"`
	Currency          string  `json:"currency"`
	Period            string  `json:"period"`
}

func (t *PayrollCalculationTask) Execute(ctx context.Context, item *batch.ItemContext) batch.Outcome {
	var in payrollInput
	if ok, out := decodeInput(item, &in); !ok {
		return out
	}

	if in.EmployeeID == "" {
		return batch.Fail("validation", "employee_id is required", false)
	}
	if in.GrossCt <= 0 {
		return batch.Fail("validation", fmt.Sprintf("employee %s: gross must be positive", in.EmployeeID), false)
	}
	if in.TaxRatePct < 0 || in.TaxRatePct > 100 || in.SocialRatePct < 0 || in.SocialRatePct > 100 {
		return batch.Fail("validation", fmt.Sprintf("employee %s: rates must be within 0-100", in.EmployeeID), false)
	}

	tax := int64(float64(in.GrossCt) * in.TaxRatePct / 100)
	social := int64(float64(in.GrossCt) * in.SocialRatePct / 100)
	net := in.GrossCt - tax - social
	if net < 0 {
		return batch.Fail("validation", fmt.Sprintf("employee %s: withholdings exceed gross", in.EmployeeID), false)
	}

	memo := fmt.Sprintf("payroll %s %s", in.EmployeeID, in.Period)
	if ok, out := postEntries(ctx, t.poster, item, []Entry{
		{Account: in.WageAccount, AmountCt: in.GrossCt, Currency: in.Currency, Memo: memo},
		{Account: in.TaxAccount, AmountCt: -tax, Currency: in.Currency, Memo: memo},
		{Account: in.SocialAccount, AmountCt: -social, Currency: in.Currency, Memo: memo},
		{Account: in.NetPayableAccount, AmountCt: -net, Currency: in.Currency, Memo: memo},
	}); !ok {
		return out
	}

	return successResult(map[string]any{
		"employee_id": in.EmployeeID,
		"period":      in.Period,
		"net_ct":      net,
		"tax_ct":      tax,
		"social_ct":   social,
	})
}
