package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ramiradwan/simple-legal-doc/core"
	"github.com/ramiradwan/simple-legal-doc/core/report"
)

// runAudit implements the "sld audit" command: run the full verification
// pipeline over an artifact and print the report.
func runAudit(args []string, configDir string, quiet bool, log *slog.Logger) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	var (
		jsonFlag   bool
		outputPath string
	)
	fs.BoolVar(&jsonFlag, "json", false, "print the full report as JSON instead of a summary")
	fs.StringVar(&outputPath, "output", "", "also write the JSON report to this path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sld audit [-json] [-output <report.json>] <artifact.pdf>")
		return 2
	}

	cfg, err := core.LoadConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	coordinator, err := core.BuildCoordinator(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	artifact, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading artifact: %v\n", err)
		return 2
	}

	rep := coordinator.Verify(context.Background(), artifact)
	reporter := report.NewJSONReporter(version)

	if outputPath != "" {
		if err := reporter.WriteToFile(rep, outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: writing %s: %v\n", outputPath, err)
			return 2
		}
	}

	if jsonFlag {
		data, err := reporter.Generate(rep)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: generating report: %v\n", err)
			return 2
		}
		fmt.Println(string(data))
	} else if !quiet {
		printReportSummary(rep)
	}

	if rep.Recommendation == report.RecommendationDeliver {
		return 0
	}
	return 1
}

// printReportSummary renders the human-readable verdict: one line per
// stage, then the flattened finding list.
func printReportSummary(rep *report.VerificationReport) {
	fmt.Printf("recommendation: %s\n", recommendationBadge(rep.Recommendation))

	integrity := "passed"
	if !rep.Integrity.Passed {
		integrity = "failed"
	}
	fmt.Printf("[integrity] %s, %d finding(s)\n", integrity, len(rep.Integrity.Findings))
	if rep.Integrity.RequiresSTV {
		fmt.Printf("  %s\n", subtle("post-signing changes observed, trust verification required"))
	}

	for _, adv := range rep.Advisory {
		if adv.Error != "" {
			fmt.Printf("[advisory] %s unavailable: %s\n", adv.Assessor, adv.Error)
			continue
		}
		fmt.Printf("[advisory] %s, %d finding(s)\n", adv.Assessor, len(adv.Findings))
	}

	switch {
	case rep.SealTrust == nil:
		// Terminal integrity failure, trust verification never ran.
	case !rep.SealTrust.Executed:
		fmt.Printf("[seal trust] %s\n", subtle("disabled"))
	case !rep.SealTrust.SignaturePresent:
		fmt.Println("[seal trust] no signature present")
	case rep.SealTrust.Trusted:
		fmt.Printf("[seal trust] trusted")
		if n := len(rep.SealTrust.ResolvedFindingIDs); n > 0 {
			fmt.Printf(", resolved %d observation(s)", n)
		}
		fmt.Println()
	default:
		fmt.Printf("[seal trust] not trusted, %d finding(s)\n", len(rep.SealTrust.Findings))
	}

	for _, f := range rep.Findings {
		fmt.Printf("  %s %s %s\n", severityBadge(f.Severity), f.ID, f.Title)
	}
}
