package tracker

import (
	"context"

	"github.com/asheshgoplani/claude-status/internal/procinfo"
	"github.com/asheshgoplani/claude-status/internal/scanner"
	"github.com/asheshgoplani/claude-status/internal/statedb"
)

// lastPollKey is the meta key holding the completion time of the last full
// periodic pass.
const lastPollKey = "last_poll"

// RunPass executes one full periodic pass: catalog scan, state-detecting
// reconcile, stale cleanup, poll bookkeeping. Runtime rows written by hooks
// during the pass are exempt from cleanup; their processes get bound on the
// next pass. All writes commit in one transaction.
func RunPass(ctx context.Context, db *statedb.StateDB, sc *scanner.Scanner, rec *Reconciler) error {
	passStart := statedb.Now()
	inv := procinfo.Collect(ctx)
	return runPass(db, sc, rec, inv, passStart)
}

func runPass(db *statedb.StateDB, sc *scanner.Scanner, rec *Reconciler, inv procinfo.Inventory, passStart string) error {
	return db.WithTx(func(tx *statedb.Tx) error {
		if err := sc.Scan(tx); err != nil {
			return err
		}

		live, err := rec.Run(tx, inv, DetectStates)
		if err != nil {
			return err
		}
		fresh, err := tx.RuntimeUpdatedSince(passStart)
		if err != nil {
			return err
		}
		for id := range fresh {
			live[id] = true
		}
		if err := tx.RemoveStaleRuntime(live); err != nil {
			return err
		}

		return tx.SetMeta(lastPollKey, statedb.Now())
	})
}
