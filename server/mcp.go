package server

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ramiradwan/simple-legal-doc/core"
	"github.com/ramiradwan/simple-legal-doc/core/bind"
	"github.com/ramiradwan/simple-legal-doc/core/report"
	"github.com/ramiradwan/simple-legal-doc/core/seal"
)

// maxOutputBytes is the maximum MCP response size before truncation (1 MB).
const maxOutputBytes = 1 << 20

// MCPServer exposes the pipelines as MCP tools for agent integrations.
// The last verification report is cached for the report resource.
type MCPServer struct {
	version     string
	sealer      *seal.Sealer
	coordinator *core.Coordinator

	mu    sync.RWMutex
	cache *report.VerificationReport
}

// NewMCPServer creates the MCP connector over the given pipelines.
func NewMCPServer(version string, sealer *seal.Sealer, coordinator *core.Coordinator) *MCPServer {
	return &MCPServer{
		version:     version,
		sealer:      sealer,
		coordinator: coordinator,
	}
}

// Serve starts the MCP server on stdio and blocks until the client
// disconnects.
func (s *MCPServer) Serve() error {
	srv := mcpserver.NewMCPServer(
		"simple-legal-doc",
		s.version,
		mcpserver.WithRecovery(),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
	)
	s.registerTools(srv)
	s.registerResources(srv)
	return mcpserver.ServeStdio(srv)
}

func (s *MCPServer) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcp.NewTool("sign_archival",
			mcp.WithDescription("Bind a JSON payload into a PDF artifact and seal it"),
			mcp.WithString("artifact_path",
				mcp.Description("Path to the finalized PDF artifact"),
				mcp.Required(),
			),
			mcp.WithString("payload_path",
				mcp.Description("Path to the JSON content payload"),
				mcp.Required(),
			),
			mcp.WithString("output_path",
				mcp.Description("Path to write the sealed artifact to"),
				mcp.Required(),
			),
		),
		s.handleSign,
	)

	srv.AddTool(
		mcp.NewTool("audit",
			mcp.WithDescription("Verify a sealed artifact and produce a VerificationReport"),
			mcp.WithString("artifact_path",
				mcp.Description("Path to the artifact to verify"),
				mcp.Required(),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleAuditTool,
	)
}

func (s *MCPServer) registerResources(srv *mcpserver.MCPServer) {
	srv.AddResource(
		mcp.NewResource("sld://report", "Verification Report",
			mcp.WithResourceDescription("The most recent VerificationReport as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		s.handleResourceReport,
	)
}

func (s *MCPServer) handleSign(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	artifactPath, err := request.RequireString("artifact_path")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: artifact_path"), nil
	}
	payloadPath, err := request.RequireString("payload_path")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: payload_path"), nil
	}
	outputPath, err := request.RequireString("output_path")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: output_path"), nil
	}

	artifact, err := os.ReadFile(artifactPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading artifact: %v", err)), nil
	}
	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading payload: %v", err)), nil
	}

	bound, err := bind.NewBinder().Bind(artifact, payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("binding failed: %v", err)), nil
	}
	res, err := s.sealer.Seal(ctx, bound.Artifact)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sealing failed: %v", err)), nil
	}
	if err := os.WriteFile(outputPath, res.Artifact, 0o644); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("writing sealed artifact: %v", err)), nil
	}

	summary := fmt.Sprintf("Sealed: state=%s standard=%s backend=%s -> %s",
		res.State, res.Standard, res.Backend, outputPath)
	if res.Downgraded {
		summary += fmt.Sprintf(" (downgraded: %s)", res.Reason)
	}
	return mcp.NewToolResultText(summary), nil
}

func (s *MCPServer) handleAuditTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("artifact_path")
	if err != nil {
		return mcp.NewToolResultError("missing required argument: artifact_path"), nil
	}
	artifact, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading artifact: %v", err)), nil
	}

	rep := s.coordinator.Verify(ctx, artifact)

	s.mu.Lock()
	s.cache = rep
	s.mu.Unlock()

	data, err := report.NewJSONReporter(s.version).Generate(rep)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report generation failed: %v", err)), nil
	}
	return mcp.NewToolResultText(truncate(string(data))), nil
}

func (s *MCPServer) handleResourceReport(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	s.mu.RLock()
	cache := s.cache
	s.mu.RUnlock()

	if cache == nil {
		return nil, fmt.Errorf("no verification report available, run the audit tool first")
	}
	data, err := report.NewJSONReporter(s.version).Generate(cache)
	if err != nil {
		return nil, fmt.Errorf("generating report JSON: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     truncate(string(data)),
		},
	}, nil
}

// truncate limits output to maxOutputBytes, appending a truncation notice
// if needed.
func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... [truncated: output exceeded 1MB limit]"
}
