package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ramiradwan/simple-legal-doc/core/bind"
)

// runBind implements the "sld bind" command: embed the content payload
// and binding metadata without sealing. Useful when the certification
// signature is applied by a separate system.
func runBind(args []string, quiet bool, log *slog.Logger) int {
	fs := flag.NewFlagSet("bind", flag.ContinueOnError)
	var (
		payloadPath string
		outputPath  string
	)
	fs.StringVar(&payloadPath, "payload", "", "path to the JSON content payload (required)")
	fs.StringVar(&outputPath, "out", "", "path for the bound artifact (default: <artifact>.bound.pdf)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sld bind -payload <content.json> [-out <bound.pdf>] <artifact.pdf>")
		return 2
	}
	artifactPath := fs.Arg(0)
	if payloadPath == "" {
		fmt.Fprintln(os.Stderr, "error: -payload is required")
		return 2
	}
	if outputPath == "" {
		outputPath = strings.TrimSuffix(artifactPath, ".pdf") + ".bound.pdf"
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
	if err := os.WriteFile(outputPath, bound.Artifact, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: writing %s: %v\n", outputPath, err)
		return 2
	}

	if !quiet {
		fmt.Printf("%s %s\n", stateBadge("BOUND"), outputPath)
		fmt.Printf("  content digest: %s\n", bound.Digest)
	}
	return 0
}
