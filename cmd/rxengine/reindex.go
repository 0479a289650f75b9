package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/openpharma/rxengine/pkg/config"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/store"
)

// runReindexCmd implements `rxengine reindex`.
//
// Recomputes the fill-count and last-fill-date projections on every
// prescription from its dispensed fills. Repairs drift after a manual
// data fix or a partial restore.
//
// Exit codes:
//
//	0 = reindex completed
//	2 = runtime error
func runReindexCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reindex", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	dbURL := cmd.String("db", config.Load().DBURL, "Database URL (DB_URL)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	db, dialect, err := openDB(*dbURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open database: %v\n", err)
		return 2
	}
	defer db.Close()

	ctx := context.Background()
	st := store.NewSQL(db, dialect)

	states := []model.RxState{
		model.RxIntake, model.RxDataEntry, model.RxClaimPending,
		model.RxClaimRejected, model.RxFillPending, model.RxFilled,
		model.RxVerificationPending, model.RxRework, model.RxVerified,
		model.RxReadyForPickup, model.RxPickedUp, model.RxDelivered,
		model.RxRejected, model.RxCancelled, model.RxExpired,
	}

	var scanned, repaired int
	for _, state := range states {
		rxs, err := st.ListPrescriptionsByState(ctx, state)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: list %s: %v\n", state, err)
			return 2
		}
		for _, rx := range rxs {
			scanned++
			fills, err := st.ListFillsByPrescription(ctx, rx.ID)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: fills for %s: %v\n", rx.ID, err)
				return 2
			}
			count := 0
			var last time.Time
			for _, f := range fills {
				if f.Status != model.FillDispensed {
					continue
				}
				count++
				if f.DispensedAt.After(last) {
					last = f.DispensedAt
				}
			}
			if count == rx.FillCount && last.Equal(rx.LastFillDate) {
				continue
			}
			rx.FillCount = count
			rx.LastFillDate = last
			if _, err := st.PutPrescription(ctx, rx); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: update %s: %v\n", rx.ID, err)
				return 2
			}
			repaired++
		}
	}

	_, _ = fmt.Fprintf(stdout, "Reindexed %d prescriptions, repaired %d\n", scanned, repaired)
	return 0
}
