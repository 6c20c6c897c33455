package tasks

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/batchcore/audit"
	"github.com/finledger/batchcore/batch"
	"github.com/finledger/batchcore/errors"
	dbtest "github.com/finledger/batchcore/internal/testing"
	"github.com/finledger/batchcore/logger"
)

type capturePoster struct {
	entries []Entry
	err     error
}

func (p *capturePoster) Post(ctx context.Context, item *batch.ItemContext, entries []Entry) error {
	if p.err != nil {
		return p.err
	}
	p.entries = append(p.entries, entries...)
	return nil
}

func itemWithInput(t *testing.T, v any) *batch.ItemContext {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return &batch.ItemContext{JobID: "BJ_test", Seq: 1, Attempt: 1, Input: data}
}

func TestRegisterAll(t *testing.T) {
	reg := batch.NewRegistry()
	RegisterAll(reg, &capturePoster{})

	assert.Equal(t, []string{
		"assets.mass-depreciation",
		"assets.revaluation",
		"banking.statement-import",
		"gl.period-close-check",
		"invoices.batch-posting",
		"noop",
		"payments.payment-run",
		"payroll.calculation-pass",
		"receivables.dunning-cycle",
		"receivables.interest-charges",
		"tax.vat-return-prep",
	}, reg.Names())
}

func TestMassDepreciation(t *testing.T) {
	poster := &capturePoster{}
	task := &MassDepreciationTask{poster: poster}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"asset_id":        "A-100",
		"cost_ct":         1_200_000,
		"residual_ct":     0,
		"useful_months":   60,
		"expense_account": "6200",
		"contra_account":  "0300",
		"currency":        "EUR",
		"period":          "2026-08",
	}))

	require.Equal(t, batch.OutcomeSuccess, out.Kind)
	require.Len(t, poster.entries, 2)
	assert.Equal(t, int64(20_000), poster.entries[0].AmountCt)
	assert.Equal(t, int64(-20_000), poster.entries[1].AmountCt)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Result, &result))
	assert.Equal(t, float64(20_000), result["posted_ct"])
}

func TestMassDepreciationFullyDepreciatedSkips(t *testing.T) {
	task := &MassDepreciationTask{poster: &capturePoster{}}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"asset_id":      "A-101",
		"cost_ct":       100,
		"residual_ct":   100,
		"useful_months": 60,
	}))

	assert.Equal(t, batch.OutcomeSkip, out.Kind)
}

func TestMassDepreciationValidation(t *testing.T) {
	task := &MassDepreciationTask{poster: &capturePoster{}}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"asset_id":      "A-102",
		"cost_ct":       100,
		"residual_ct":   200,
		"useful_months": 12,
	}))

	assert.Equal(t, batch.OutcomeFailure, out.Kind)
	assert.Equal(t, "validation", out.ErrorKind)
	assert.False(t, out.Retryable)
}

func TestMalformedInputIsNonRetryable(t *testing.T) {
	task := &PaymentRunTask{poster: &capturePoster{}}

	out := task.Execute(context.Background(), &batch.ItemContext{
		Input: json.RawMessage(`{not json`),
	})

	assert.Equal(t, batch.OutcomeFailure, out.Kind)
	assert.Equal(t, "validation", out.ErrorKind)
	assert.False(t, out.Retryable)
}

func TestPosterErrorIsRetryable(t *testing.T) {
	task := &PaymentRunTask{poster: &capturePoster{err: errors.New("ledger pipeline unavailable")}}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"payable_id":      "P-1",
		"vendor_id":       "V-1",
		"amount_ct":       5000,
		"bank_account":    "1000",
		"payable_account": "2000",
	}))

	assert.Equal(t, batch.OutcomeFailure, out.Kind)
	assert.Equal(t, "posting", out.ErrorKind)
	assert.True(t, out.Retryable)
}

func TestPayrollCalculation(t *testing.T) {
	poster := &capturePoster{}
	task := &PayrollCalculationTask{poster: poster}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"employee_id":         "E-7",
		"gross_ct":            400_000,
		"tax_rate_pct":        20,
		"social_rate_pct":     10,
		"wage_account":        "6000",
		"tax_account":         "2100",
		"social_account":      "2200",
		"net_payable_account": "2300",
		"currency":            "EUR",
		"period":              "2026-08",
	}))

	require.Equal(t, batch.OutcomeSuccess, out.Kind)
	require.Len(t, poster.entries, 4)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Result, &result))
	assert.Equal(t, float64(280_000), result["net_ct"])
	assert.Equal(t, float64(80_000), result["tax_ct"])
	assert.Equal(t, float64(40_000), result["social_ct"])

	// Postings balance to zero.
	var sum int64
	for _, entry := range poster.entries {
		sum += entry.AmountCt
	}
	assert.Zero(t, sum)
}

func TestDunningEscalation(t *testing.T) {
	poster := &capturePoster{}
	task := &DunningCycleTask{poster: poster}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"receivable_id": "R-1",
		"customer_id":   "C-1",
		"overdue_days":  30,
		"dunning_level": 1,
		"fee_ct":        500,
		"fee_account":   "4800",
		"ar_account":    "1400",
	}))

	require.Equal(t, batch.OutcomeSuccess, out.Kind)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Result, &result))
	assert.Equal(t, float64(2), result["dunning_level"])
}

func TestDunningAtFinalLevelSkips(t *testing.T) {
	task := &DunningCycleTask{poster: &capturePoster{}}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"receivable_id": "R-2",
		"overdue_days":  90,
		"dunning_level": 3,
	}))

	assert.Equal(t, batch.OutcomeSkip, out.Kind)
}

func TestInvoiceDraftSkips(t *testing.T) {
	task := &InvoiceBatchPostingTask{poster: &capturePoster{}}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"invoice_id": "I-1",
		"net_ct":     10_000,
		"finalized":  false,
	}))

	assert.Equal(t, batch.OutcomeSkip, out.Kind)
}

func TestInvoicePostingBalances(t *testing.T) {
	poster := &capturePoster{}
	task := &InvoiceBatchPostingTask{poster: poster}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"invoice_id":      "I-2",
		"customer_id":     "C-9",
		"net_ct":          10_000,
		"vat_rate_pct":    19,
		"revenue_account": "8000",
		"vat_account":     "1770",
		"ar_account":      "1400",
		"currency":        "EUR",
		"finalized":       true,
	}))

	require.Equal(t, batch.OutcomeSuccess, out.Kind)
	require.Len(t, poster.entries, 3)

	var sum int64
	for _, entry := range poster.entries {
		sum += entry.AmountCt
	}
	assert.Zero(t, sum)
	assert.Equal(t, int64(11_900), poster.entries[0].AmountCt)
}

func TestPeriodCloseCheck(t *testing.T) {
	task := &PeriodCloseCheckTask{}

	out := task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"account":     "1400",
		"period":      "2026-07",
		"balance_ct":  5000,
		"expected_ct": 5000,
	}))
	assert.Equal(t, batch.OutcomeSuccess, out.Kind)

	out = task.Execute(context.Background(), itemWithInput(t, map[string]any{
		"account":     "1400",
		"period":      "2026-07",
		"balance_ct":  5000,
		"expected_ct": 4000,
	}))
	assert.Equal(t, batch.OutcomeFailure, out.Kind)
	assert.Equal(t, "imbalance", out.ErrorKind)
	assert.False(t, out.Retryable)
}

// End to end: a poster writing real rows through the item transaction, so a
// failed item's postings roll back while successes commit.
func TestTasksThroughExecutor(t *testing.T) {
	conn := dbtest.CreateTestDB(t)
	_, err := conn.Exec(`CREATE TABLE postings (account TEXT, amount_ct INTEGER, memo TEXT)`)
	require.NoError(t, err)

	poster := PosterFunc(func(ctx context.Context, item *batch.ItemContext, entries []Entry) error {
		for _, e := range entries {
			if _, err := item.Tx.Exec(
				`INSERT INTO postings (account, amount_ct, memo) VALUES (?, ?, ?)`,
				e.Account, e.AmountCt, e.Memo); err != nil {
				return err
			}
		}
		return nil
	})

	registry := batch.NewRegistry()
	RegisterAll(registry, poster)
	executor := batch.NewExecutor(conn, registry, audit.NewMemoryRecorder(),
		batch.DefaultExecutorConfig(), logger.NewTestLogger())

	valid, err := json.Marshal(map[string]any{
		"payable_id": "P-1", "vendor_id": "V-1", "amount_ct": 5000,
		"bank_account": "1000", "payable_account": "2000", "currency": "EUR",
	})
	require.NoError(t, err)
	invalid, err := json.Marshal(map[string]any{
		"payable_id": "P-2", "vendor_id": "V-2", "amount_ct": -1,
	})
	require.NoError(t, err)

	job, err := executor.CreateJob(context.Background(), batch.JobSpec{
		TaskName:       "payments.payment-run",
		IdempotencyKey: "run-1",
		Items:          []json.RawMessage{valid, invalid},
	})
	require.NoError(t, err)

	result, err := executor.RunJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.JobStatusCompletedWithErrors, result.Status)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	// Only the valid payment's two postings exist.
	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM postings`).Scan(&count))
	assert.Equal(t, 2, count)
}
