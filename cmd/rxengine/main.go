// Command rxengine is the operational CLI for the dispensing engine:
// schema migration, projection reindexing, inventory reconciliation,
// and audit evidence export.
package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openpharma/rxengine/pkg/store"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "migrate":
		return runMigrateCmd(args[2:], stdout, stderr)
	case "reindex":
		return runReindexCmd(args[2:], stdout, stderr)
	case "reconcile-inventory":
		return runReconcileCmd(args[2:], stdout, stderr)
	case "audit-export":
		return runAuditExportCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `rxengine - pharmacy dispensing engine operations

Usage:
  rxengine <command> [flags]

Commands:
  migrate                Apply the database schema
  reindex                Recompute fill-count projections from dispensed fills
  reconcile-inventory    Compare inventory snapshots against the transaction log
  audit-export           Build an evidence pack from an audit sink file
  help                   Show this help`)
}

// openDB opens the store database, picking the driver and dialect from
// the URL scheme.
func openDB(dbURL string) (*sql.DB, store.Dialect, error) {
	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		db, err := sql.Open("postgres", dbURL)
		return db, store.DialectPostgres, err
	}
	db, err := sql.Open("sqlite", dbURL)
	if err == nil {
		// The file-backed pool is safe, but in-memory databases
		// vanish if a second connection opens.
		db.SetMaxOpenConns(1)
	}
	return db, store.DialectSQLite, err
}
