package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/openpharma/rxengine/pkg/config"
	"github.com/openpharma/rxengine/pkg/inventory"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/store"
)

// runReconcileCmd implements `rxengine reconcile-inventory`.
//
// Sums the transaction log per NDC and compares against the cached
// snapshots. Snapshots live in Redis when REDIS_URL is set; without a
// cache a fresh process has no snapshots to check, so every NDC with
// log activity is reported and -rebuild is the useful mode.
//
// Exit codes:
//
//	0 = snapshots consistent (or rebuilt)
//	1 = discrepancies found
//	2 = runtime error
func runReconcileCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reconcile-inventory", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	cfg := config.Load()
	var (
		dbURL      = cmd.String("db", cfg.DBURL, "Database URL (DB_URL)")
		redisURL   = cmd.String("redis", cfg.RedisURL, "Redis URL for the snapshot cache (REDIS_URL)")
		pharmacyID = cmd.String("pharmacy", "", "Pharmacy ID (REQUIRED)")
		rebuild    = cmd.Bool("rebuild", false, "Recompute snapshots from the log instead of reporting")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *pharmacyID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pharmacy is required")
		return 2
	}

	db, dialect, err := openDB(*dbURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open database: %v\n", err)
		return 2
	}
	defer db.Close()

	var cache inventory.SnapshotCache
	if *redisURL != "" {
		opts, err := redis.ParseURL(*redisURL)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: redis url: %v\n", err)
			return 2
		}
		cache = inventory.NewRedisCache(redis.NewClient(opts))
	}

	ctx := context.Background()
	txlog := store.NewSQLTxLog(db, dialect)
	ledger := inventory.NewLedger(txlog, cache, ports.SystemClock{}, ports.UUIDGen{}, nil)

	// Pull every NDC with log activity into the ledger so the cached
	// snapshots participate in the comparison.
	txns, err := txlog.ListByPharmacy(ctx, *pharmacyID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	seen := map[string]bool{}
	for _, tx := range txns {
		if seen[tx.NDC] {
			continue
		}
		seen[tx.NDC] = true
		if _, err := ledger.Snapshot(ctx, *pharmacyID, tx.NDC); err != nil && !errors.Is(err, rxerr.ErrNotFound) {
			_, _ = fmt.Fprintf(stderr, "Error: snapshot %s: %v\n", tx.NDC, err)
			return 2
		}
	}

	if *rebuild {
		if err := ledger.Rebuild(ctx, *pharmacyID); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Rebuilt %d snapshots for %s\n", len(seen), *pharmacyID)
		return 0
	}

	discrepancies, err := ledger.Reconcile(ctx, *pharmacyID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if len(discrepancies) == 0 {
		_, _ = fmt.Fprintf(stdout, "Reconciled %d NDCs, no discrepancies\n", len(seen))
		return 0
	}
	for _, d := range discrepancies {
		_, _ = fmt.Fprintf(stdout, "DISCREPANCY %s %s: log=%.1f snapshot=%.1f\n",
			d.PharmacyID, d.NDC, d.LogSum, d.Snapshot)
	}
	_, _ = fmt.Fprintf(stdout, "Reconciled %d NDCs, %d discrepancies\n", len(seen), len(discrepancies))
	return 1
}
