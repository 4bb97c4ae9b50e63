package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ramiradwan/simple-legal-doc/core"
	"github.com/ramiradwan/simple-legal-doc/server"
)

// runServe implements the "sld serve" command. The default is the HTTP
// API; -mcp serves the MCP connector on stdio for agent integrations.
func runServe(args []string, configDir string, log *slog.Logger) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var (
		addr    string
		mcpFlag bool
	)
	fs.StringVar(&addr, "addr", "", "listen address (default from config)")
	fs.BoolVar(&mcpFlag, "mcp", false, "serve MCP on stdio instead of HTTP")
	if err := fs.Parse(args); err != nil {
		return 2
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
	coordinator, err := core.BuildCoordinator(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	if mcpFlag {
		if err := server.NewMCPServer(version, sealer, coordinator).Serve(); err != nil {
			fmt.Fprintf(os.Stderr, "error: MCP server failed: %v\n", err)
			return 2
		}
		return 0
	}

	if addr == "" {
		addr = cfg.Server.Addr
	}
	srv := server.New(sealer, coordinator, version,
		server.WithAddr(addr),
		server.WithMaxUpload(cfg.Server.MaxUploadBytes),
		server.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: server failed: %v\n", err)
		return 2
	}
	return 0
}
