package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/openpharma/rxengine/pkg/config"
	"github.com/openpharma/rxengine/pkg/store"
)

// runMigrateCmd implements `rxengine migrate`.
//
// Exit codes:
//
//	0 = schema applied
//	2 = runtime error
func runMigrateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("migrate", flag.ContinueOnError)
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

	if err := store.Migrate(context.Background(), db); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Schema applied (%s)\n", dialect)
	return 0
}
