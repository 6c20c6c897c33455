package orchestrator

import (
	"context"
	"time"

	"github.com/finledger/batchcore/batch"
	"github.com/finledger/batchcore/errors"
	"github.com/finledger/batchcore/tasks"
)

// LedgerPoster writes task postings into the ledger_postings table through
// the item's transaction, so they commit and roll back with the item.
type LedgerPoster struct {
	timeNow func() time.Time
}

// NewLedgerPoster creates a poster with the real clock.
func NewLedgerPoster() *LedgerPoster {
	return &LedgerPoster{timeNow: time.Now}
}

func (p *LedgerPoster) Post(ctx context.Context, item *batch.ItemContext, entries []tasks.Entry) error {
	postedAt := p.timeNow().UTC().Format(time.RFC3339Nano)
	for _, entry := range entries {
		_, err := item.Tx.Exec(`
			INSERT INTO ledger_postings (job_id, item_seq, account, amount_ct, currency, memo, posted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.JobID, item.Seq, entry.Account, entry.AmountCt, entry.Currency, entry.Memo, postedAt)
		if err != nil {
			return errors.Wrapf(err, "failed to post entry to %s", entry.Account)
		}
	}
	return nil
}
