package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ramiradwan/simple-legal-doc/core"
	"github.com/ramiradwan/simple-legal-doc/core/report"
)

// runWatch implements the "sld watch" command: audit every PDF under a
// drop directory, then re-audit artifacts as they change.
func runWatch(args []string, configDir string, log *slog.Logger) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var debounce time.Duration
	fs.DurationVar(&debounce, "debounce", 500*time.Millisecond, "debounce interval for file changes")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	target := "."
	if fs.NArg() > 0 {
		target = fs.Arg(0)
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

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: creating watcher: %v\n", err)
		return 2
	}
	defer watcher.Close()

	if err := addDirsRecursive(watcher, target); err != nil {
		fmt.Fprintf(os.Stderr, "error: watching directories: %v\n", err)
		return 2
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("watch: auditing %s (debounce: %s)\n", target, debounce)
	if err := auditTree(coordinator, target); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	// Changed artifacts accumulate until the debounce timer fires.
	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
	)
	flush := func() {
		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})
		mu.Unlock()

		sort.Strings(paths)
		for _, p := range paths {
			auditOne(coordinator, p)
		}
	}
	record := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		pending[path] = struct{}{}
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, flush)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return 0
			}
			if event.Has(fsnotify.Create) {
				info, err := os.Stat(event.Name)
				if err == nil && info.IsDir() {
					_ = addDirsRecursive(watcher, event.Name)
					continue
				}
			}
			if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && isPDF(event.Name) {
				record(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return 0
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case <-sigCh:
			fmt.Println("\nwatch: stopped")
			return 0
		}
	}
}

// auditTree audits every PDF already present under root.
func auditTree(coordinator *core.Coordinator, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isPDF(path) {
			return nil
		}
		auditOne(coordinator, path)
		return nil
	})
}

// auditOne verifies a single artifact and prints a one-line verdict.
func auditOne(coordinator *core.Coordinator, path string) {
	artifact, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading %s: %v\n", path, err)
		return
	}
	rep := coordinator.Verify(context.Background(), artifact)
	fmt.Printf("[%s] %s", recommendationBadge(rep.Recommendation), path)
	if n := len(rep.Findings); n > 0 {
		fmt.Printf(" (%d finding(s))", n)
	}
	if rep.Recommendation == report.RecommendationDoNotDeliver && len(rep.Findings) > 0 {
		fmt.Printf(" %s", subtle(rep.Findings[0].ID))
	}
	fmt.Println()
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func addDirsRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if base == ".git" || base == "node_modules" {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
