package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// run-tool walks the agent through describe, create, run and inspect for one tool.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("run-tool",
			mcplib.WithPromptDescription("Describe, create and run a job for one tool"),
			mcplib.WithArgument("tool",
				mcplib.ArgumentDescription("Name of the tool to run (see toolbox_list_tools)"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleRunToolPrompt,
	)

	// agent-setup is a system prompt snippet explaining the job lifecycle.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining how to run tools through the toolbox"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleRunToolPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	tool := request.Params.Arguments["tool"]
	if tool == "" {
		return nil, fmt.Errorf("tool argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Run the %s tool", tool),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`To run %[1]s, follow these steps:

1. CALL toolbox_describe_tool with tool="%[1]s".
   Note the "required" list, the bounds and allowed values of each
   parameter, and the data slots with their accepted extensions.

2. CALL toolbox_create_job with tool="%[1]s":
   - parameters: a value for every required parameter
   - paths: data slots bound to files already on the backend host
   - uploads: data slots bound to local files to send with the request
   Read any "warnings" in the result; values outside the declared bounds are
   sent anyway and may make the tool fail.

3. CALL toolbox_run_job with the returned job_id (or pass run=true in step 2).

4. CHECK the result: status "completed" with result_status "success" means the
   results archive can be fetched. "failed", or result_status "error", means
   read error_message before retrying.`, tool),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "How to run tools through the toolbox",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to a tool execution backend. Each tool is a containerized
program with declared parameters and data inputs. Running one is a job.

## Job lifecycle

pending -> running -> completed | failed

A job is created pending. Running it is a separate step. Completed and failed
are terminal. result_status (success, warning, error) is only meaningful once
a job is terminal: a completed job can still carry an error result.

## Available Tools

- toolbox_list_tools: What can run (use FIRST)
- toolbox_describe_tool: Full schema of one tool (use before creating a job)
- toolbox_create_job: Create a job, optionally running it right away
- toolbox_run_job: Start a pending job
- toolbox_list_jobs: Current jobs, filterable by status and tool
- toolbox_delete_job: Remove a job, optionally keeping its files

## Data inputs

Each data slot is bound to exactly one input: a path on the backend host, or
a local file uploaded with the request. Unbound slots are sent without a
value; the tool decides whether that is an error.`,
				},
			},
		},
	}, nil
}
