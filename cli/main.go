// Package main is the entry point for the sld CLI.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and returns the exit code.
// 0 = success / deliverable, 1 = adverse verification outcome, 2 = error.
func run(args []string) int {
	fs := flag.NewFlagSet("sld", flag.ContinueOnError)

	var (
		configDir   string
		quietFlag   bool
		verboseFlag bool
		versionFlag bool
	)

	fs.StringVar(&configDir, "config", ".", "directory containing .sld.yaml")
	fs.BoolVar(&quietFlag, "quiet", false, "suppress all output except errors")
	fs.BoolVar(&quietFlag, "q", false, "suppress all output except errors (shorthand)")
	fs.BoolVar(&verboseFlag, "verbose", false, "enable verbose output")
	fs.BoolVar(&verboseFlag, "v", false, "enable verbose output (shorthand)")
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sld <command> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  seal <artifact.pdf>   Bind a content payload and seal the artifact\n")
		fmt.Fprintf(os.Stderr, "  bind <artifact.pdf>   Bind a content payload without sealing\n")
		fmt.Fprintf(os.Stderr, "  audit <artifact.pdf>  Verify an artifact and print the report\n")
		fmt.Fprintf(os.Stderr, "  serve                 Start the HTTP API (or MCP server on stdio)\n")
		fmt.Fprintf(os.Stderr, "  watch <dir>           Audit PDF artifacts as they change\n")
		fmt.Fprintf(os.Stderr, "  badge <artifact.pdf>  Audit and write an SVG status badge\n")
		fmt.Fprintf(os.Stderr, "  diff <old> <new>      Compare two verification reports\n")
		fmt.Fprintf(os.Stderr, "  version               Print version and exit\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if versionFlag {
		fmt.Printf("sld %s (commit: %s, built: %s)\n", version, commit, date)
		return 0
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: sld <command> [flags]")
		return 2
	}

	log := newLogger(quietFlag, verboseFlag)

	command := remaining[0]
	switch command {
	case "seal":
		return runSeal(remaining[1:], configDir, quietFlag, log)
	case "bind":
		return runBind(remaining[1:], quietFlag, log)
	case "audit":
		return runAudit(remaining[1:], configDir, quietFlag, log)
	case "serve":
		return runServe(remaining[1:], configDir, log)
	case "watch":
		return runWatch(remaining[1:], configDir, log)
	case "badge":
		return runBadge(remaining[1:], configDir, quietFlag, log)
	case "diff":
		return runDiff(remaining[1:], quietFlag)
	case "version":
		fmt.Printf("sld %s (commit: %s, built: %s)\n", version, commit, date)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		fmt.Fprintln(os.Stderr, "Usage: sld <command> [flags]")
		return 2
	}
}

// newLogger builds the structured logger shared by all commands. Pipeline
// logs go to stderr so stdout stays clean for report output.
func newLogger(quiet, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
