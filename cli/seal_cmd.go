package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ramiradwan/simple-legal-doc/core"
	"github.com/ramiradwan/simple-legal-doc/core/bind"
)

// runSeal implements the "sld seal" command: bind a JSON content payload
// into a finalized PDF and seal the result.
func runSeal(args []string, configDir string, quiet bool, log *slog.Logger) int {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	var (
		payloadPath string
		outputPath  string
	)
	fs.StringVar(&payloadPath, "payload", "", "path to the JSON content payload (required)")
	fs.StringVar(&outputPath, "out", "", "path for the sealed artifact (default: <artifact>.sealed.pdf)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sld seal -payload <content.json> [-out <sealed.pdf>] <artifact.pdf>")
		return 2
	}
	artifactPath := fs.Arg(0)
	if payloadPath == "" {
		fmt.Fprintln(os.Stderr, "error: -payload is required")
		return 2
	}
	if outputPath == "" {
		outputPath = strings.TrimSuffix(artifactPath, ".pdf") + ".sealed.pdf"
	}

	cfg, err := core.LoadConfig(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	sealer, err := core.BuildSealer(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	artifact, err := os.ReadFile(artifactPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading artifact: %v\n", err)
		return 2
	}
	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading payload: %v\n", err)
		return 2
	}

	bound, err := bind.NewBinder(bind.WithLogger(log)).Bind(artifact, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: binding failed: %v\n", err)
		return 2
	}

	res, err := sealer.Seal(context.Background(), bound.Artifact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: sealing failed: %v\n", err)
		return 2
	}

	if err := os.WriteFile(outputPath, res.Artifact, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: writing %s: %v\n", outputPath, err)
		return 2
	}

	if !quiet {
		fmt.Printf("%s %s\n", stateBadge(string(res.State)), outputPath)
		fmt.Printf("  standard: %s  backend: %s\n", res.Standard, res.Backend)
		fmt.Printf("  content digest: %s\n", bound.Digest)
		if res.Downgraded {
			fmt.Printf("  %s\n", subtle(fmt.Sprintf("downgraded: %s", res.Reason)))
		}
	}
	return 0
}
