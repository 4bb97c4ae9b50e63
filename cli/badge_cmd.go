package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ramiradwan/simple-legal-doc/core"
	"github.com/ramiradwan/simple-legal-doc/core/badge"
)

// runBadge implements the "sld badge" command: audit an artifact and
// write an SVG status badge with the delivery verdict.
func runBadge(args []string, configDir string, quiet bool, log *slog.Logger) int {
	fs := flag.NewFlagSet("badge", flag.ContinueOnError)
	var (
		label      string
		outputPath string
	)
	fs.StringVar(&label, "label", "archival seal", "badge label text")
	fs.StringVar(&outputPath, "out", "badge.svg", "path for the SVG badge")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sld badge [-label <text>] [-out <badge.svg>] <artifact.pdf>")
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
	res := badge.FromReport(rep, label)

	if err := os.WriteFile(outputPath, []byte(res.SVG), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: writing %s: %v\n", outputPath, err)
		return 2
	}
	if !quiet {
		fmt.Printf("%s: %s -> %s\n", res.Label, recommendationBadge(rep.Recommendation), outputPath)
	}
	return 0
}
