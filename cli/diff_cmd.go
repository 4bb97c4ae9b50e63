package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ramiradwan/simple-legal-doc/core/diff"
)

// runDiff implements the "sld diff" command: compare two verification
// reports and flag drift between audit runs.
func runDiff(args []string, quiet bool) int {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: sld diff <before.json> <after.json>")
		return 2
	}

	before, err := diff.LoadReport(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	after, err := diff.LoadReport(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	res := diff.Compare(before, after)

	if !quiet {
		fmt.Printf("verdict: %s -> %s\n",
			recommendationBadge(res.Before), recommendationBadge(res.After))
		for _, f := range res.New {
			fmt.Printf("  + %s %s %s\n", severityBadge(f.Severity), f.ID, f.Title)
		}
		for _, f := range res.Resolved {
			fmt.Printf("  - %s %s %s\n", severityBadge(f.Severity), f.ID, f.Title)
		}
		if len(res.Persisting) > 0 {
			fmt.Printf("  %s\n", subtle(fmt.Sprintf("%d finding(s) unchanged", len(res.Persisting))))
		}
	}

	if res.Regressed() {
		return 1
	}
	return 0
}
