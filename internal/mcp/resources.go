package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	toolsURI     = "toolbox://tools"
	jobsURI      = "toolbox://jobs"
	jobURIPrefix = "toolbox://job/"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			toolsURI,
			"Tool Catalog",
			mcplib.WithResourceDescription("Every tool the backend can run, with full parameter and data schemas"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleToolsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			jobsURI,
			"Jobs",
			mcplib.WithResourceDescription("Current job list as last fetched from the backend"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleJobsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			jobURIPrefix+"{id}",
			"Job",
			mcplib.WithTemplateDescription("One job, including its container directories and error message"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleJobResource,
	)
}

func (s *Server) handleToolsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if len(s.catalog.Tools()) == 0 {
		s.catalog.Refresh(ctx)
	}
	return jsonResource(toolsURI, s.catalog.Tools())
}

func (s *Server) handleJobsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	s.jobs.Refresh(ctx)
	return jsonResource(jobsURI, compactJobs(s.jobs.Jobs()))
}

func (s *Server) handleJobResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, err := parseJobURI(uri)
	if err != nil {
		return nil, err
	}
	job, ok := s.jobs.Lookup(id)
	if !ok {
		s.jobs.Refresh(ctx)
		if job, ok = s.jobs.Lookup(id); !ok {
			return nil, fmt.Errorf("mcp: job %q not found", id)
		}
	}
	return jsonResource(uri, job)
}

// parseJobURI extracts the job ID from toolbox://job/{id}.
func parseJobURI(uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, jobURIPrefix)
	if !ok {
		return "", fmt.Errorf("mcp: invalid job URI: %s", uri)
	}
	if id == "" {
		return "", fmt.Errorf("mcp: empty job_id in URI: %s", uri)
	}
	if strings.Contains(id, "/") {
		return "", fmt.Errorf("mcp: invalid job URI: %s", uri)
	}
	return id, nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
