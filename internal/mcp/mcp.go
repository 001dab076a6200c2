// Package mcp implements the Model Context Protocol server for the toolbox.
//
// The MCP server exposes the tool catalog and the job lifecycle (create,
// run, list, delete, archive) as MCP tools and resources, so MCP-compatible
// agents can drive the execution backend.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/toolbox-runner/toolbox/internal/archive"
	"github.com/toolbox-runner/toolbox/internal/catalog"
	"github.com/toolbox-runner/toolbox/internal/jobs"
)

// describeWindow is how long a toolbox_describe_tool call counts as recent
// for the create-without-describe hint.
const describeWindow = 30 * time.Minute

// Archiver copies a job's results archive into durable storage.
type Archiver interface {
	Archive(ctx context.Context, jobID string) (archive.Result, error)
}

// Server wraps the mcp-go server with the catalog and job registry.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	catalog    *catalog.Catalog
	jobs       *jobs.Registry
	archiver   Archiver // nil disables toolbox_archive_results
	logger     *slog.Logger
	tracker    *describeTracker
	rootsCache *rootsCache
}

// New creates and configures the MCP server with all resources, tools and
// prompts.
func New(cat *catalog.Catalog, reg *jobs.Registry, archiver Archiver, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		catalog:    cat,
		jobs:       reg,
		archiver:   archiver,
		logger:     logger,
		tracker:    newDescribeTracker(describeWindow),
		rootsCache: newRootsCache(),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"toolbox",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error()), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
