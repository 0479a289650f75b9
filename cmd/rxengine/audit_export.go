package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/openpharma/rxengine/pkg/audit"
)

// runAuditExportCmd implements `rxengine audit-export`.
//
// Rebuilds a trail from a JSONL sink file and writes an evidence pack
// zip for the requested window.
//
// Exit codes:
//
//	0 = pack written
//	2 = runtime error
func runAuditExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit-export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sinkPath = cmd.String("sink", "", "Path to the audit sink file (REQUIRED)")
		outPath  = cmd.String("out", "evidence_pack.zip", "Output zip path")
		since    = cmd.String("since", "", "Window start (2006-01-02 or RFC3339)")
		until    = cmd.String("until", "", "Window end (2006-01-02 or RFC3339)")
	)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *sinkPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sink is required")
		return 2
	}

	req := audit.ExportRequest{}
	var err error
	if req.Since, err = parseWindow(*since); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --since: %v\n", err)
		return 2
	}
	if req.Until, err = parseWindow(*until); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --until: %v\n", err)
		return 2
	}

	f, err := os.Open(*sinkPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer f.Close()

	trail, err := audit.NewLogFromReader(f, io.Discard)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	pack, checksum, err := audit.NewExporter(trail).GeneratePack(context.Background(), req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := os.WriteFile(*outPath, pack, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "Wrote %s (%d bytes)\nSHA-256: %s\n", *outPath, len(pack), checksum)
	return 0
}

// parseWindow accepts a bare date or a full RFC3339 timestamp; empty
// means unbounded.
func parseWindow(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
