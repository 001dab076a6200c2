package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/toolbox-runner/toolbox/internal/backend"
	"github.com/toolbox-runner/toolbox/internal/binding"
	"github.com/toolbox-runner/toolbox/internal/catalog"
	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/params"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("toolbox_list_tools",
			mcplib.WithDescription(`List the tools the execution backend can run.

WHEN TO USE: To find out what is available before creating a job. Each entry
names the tool, its parameters and its data slots. Call
toolbox_describe_tool for the full schema of one tool.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithBoolean("refresh",
				mcplib.Description("Reload the catalog from the backend before listing"),
			),
		),
		s.handleListTools,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("toolbox_describe_tool",
			mcplib.WithDescription(`Show the full schema of one tool.

WHEN TO USE: BEFORE toolbox_create_job. The result lists every parameter with
its type, bounds, allowed values and default, which parameters are required,
and the data slots with accepted file extensions.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("tool",
				mcplib.Description("Tool name as listed by toolbox_list_tools"),
				mcplib.Required(),
			),
		),
		s.handleDescribeTool,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("toolbox_create_job",
			mcplib.WithDescription(`Create a job for a tool.

Parameters are given as a JSON object keyed by parameter name; defaults
declared by the tool apply to anything omitted. Required parameters without a
default must be present or the job is refused before reaching the backend.

Data slots are bound either to a path on the backend host ("paths") or to a
local file that is uploaded with the request ("uploads"). A slot must not
appear in both.

EXAMPLE: tool="clip-raster", parameters={"buffer": 10},
paths={"input": "/data/a.tif"}, run=true`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("tool",
				mcplib.Description("Tool name"),
				mcplib.Required(),
			),
			mcplib.WithObject("parameters",
				mcplib.Description("Parameter values keyed by parameter name"),
			),
			mcplib.WithObject("paths",
				mcplib.Description("Data slot to host path on the backend machine"),
			),
			mcplib.WithObject("uploads",
				mcplib.Description("Data slot to local file to upload. Relative paths resolve against the first client root."),
			),
			mcplib.WithBoolean("run",
				mcplib.Description("Start the job right after creating it"),
			),
		),
		s.handleCreateJob,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("toolbox_run_job",
			mcplib.WithDescription(`Start a pending job and wait for the backend to report its state.

Repeated calls issue repeated run requests; the backend decides whether that
is allowed.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("job_id",
				mcplib.Description("Job identifier as returned by toolbox_create_job"),
				mcplib.Required(),
			),
		),
		s.handleRunJob,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("toolbox_list_jobs",
			mcplib.WithDescription(`List the jobs known to the backend.

status is the lifecycle (pending, running, completed, failed); result_status
(success, warning, error) appears only once a job is terminal.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("status",
				mcplib.Description("Only jobs in this lifecycle state"),
				mcplib.Enum(string(model.JobPending), string(model.JobRunning), string(model.JobCompleted), string(model.JobFailed)),
			),
			mcplib.WithString("tool",
				mcplib.Description("Only jobs of this tool"),
			),
		),
		s.handleListJobs,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("toolbox_delete_job",
			mcplib.WithDescription(`Delete a job from the backend.

With keep_files=true the job's input and output directories stay on disk.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("job_id",
				mcplib.Description("Job identifier"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("keep_files",
				mcplib.Description("Keep the job's files on the backend host"),
			),
		),
		s.handleDeleteJob,
	)

	if s.archiver != nil {
		s.mcpServer.AddTool(
			mcplib.NewTool("toolbox_archive_results",
				mcplib.WithDescription(`Copy the results archive of a completed job into the configured archive store (local directory or S3 bucket).`),
				mcplib.WithDestructiveHintAnnotation(false),
				mcplib.WithIdempotentHintAnnotation(true),
				mcplib.WithOpenWorldHintAnnotation(true),
				mcplib.WithString("job_id",
					mcplib.Description("Job identifier of a completed job"),
					mcplib.Required(),
				),
			),
			s.handleArchiveResults,
		)
	}
}

func (s *Server) handleListTools(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if request.GetBool("refresh", false) || len(s.catalog.Tools()) == 0 {
		s.catalog.Refresh(ctx)
	}
	tools := s.catalog.Tools()
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, compactTool(t))
	}
	resp := map[string]any{
		"tools": out,
		"total": len(out),
	}
	if err := s.catalog.Err(); err != nil {
		resp["backend_error"] = backend.Message(err)
	}
	return jsonResult(resp)
}

// lookupTool finds a tool, reloading the catalog once on a miss.
func (s *Server) lookupTool(ctx context.Context, name string) (model.Tool, error) {
	if t, ok := s.catalog.Lookup(name); ok {
		return t, nil
	}
	s.catalog.Refresh(ctx)
	return s.catalog.Get(name)
}

func (s *Server) handleDescribeTool(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("tool", "")
	if name == "" {
		return errorResult("tool is required"), nil
	}
	t, err := s.lookupTool(ctx, name)
	if err != nil {
		return errorResult(toolNotFoundMessage(err, s.catalog.Err())), nil
	}
	s.tracker.Record(sessionID(ctx), t.Name)
	return jsonResult(describeTool(t))
}

func (s *Server) handleCreateJob(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("tool", "")
	if name == "" {
		return errorResult("tool is required"), nil
	}
	args := request.GetArguments()

	t, err := s.lookupTool(ctx, name)
	if err != nil {
		return errorResult(toolNotFoundMessage(err, s.catalog.Err())), nil
	}

	builder := params.NewBuilder(t)
	if raw, ok := args["parameters"]; ok && raw != nil {
		values, ok := raw.(map[string]any)
		if !ok {
			return errorResult("parameters must be an object"), nil
		}
		if err := builder.SetAll(values); err != nil {
			return errorResult(err.Error()), nil
		}
	}
	if err := builder.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	resolver := binding.NewResolver(t, s.logger)
	paths, err := stringMap(args, "paths")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	uploads, err := stringMap(args, "uploads")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	for slot := range paths {
		if _, dup := uploads[slot]; dup {
			return errorResult(fmt.Sprintf("slot %q is bound in both paths and uploads", slot)), nil
		}
	}
	for _, slot := range sortedKeys(paths) {
		if err := resolver.SetMode(slot, binding.ModePath); err != nil {
			return errorResult(err.Error()), nil
		}
		if err := resolver.SetPath(slot, paths[slot]); err != nil {
			return errorResult(err.Error()), nil
		}
	}
	if len(uploads) > 0 {
		dirs := rootDirs(s.requestRoots(ctx))
		for _, slot := range sortedKeys(uploads) {
			local, err := resolveUploadPath(dirs, uploads[slot])
			if err != nil {
				return errorResult(fmt.Sprintf("upload %s: %v", slot, err)), nil
			}
			if _, err := os.Stat(local); err != nil {
				return errorResult(fmt.Sprintf("upload %s: %v", slot, err)), nil
			}
			if err := resolver.SetMode(slot, binding.ModeUpload); err != nil {
				return errorResult(err.Error()), nil
			}
			if err := resolver.SetUpload(slot, binding.FileFromPath(local)); err != nil {
				return errorResult(err.Error()), nil
			}
		}
	}

	job, err := s.jobs.CreateAndRefresh(ctx, t.Name, builder.Parameterization(), resolver.Resolve())
	if err != nil {
		return errorResult("create failed: " + backend.Message(err)), nil
	}
	if request.GetBool("run", false) {
		job, err = s.jobs.RunAndRefresh(ctx, job.JobID)
		if err != nil {
			return errorResult("job created but run failed: " + backend.Message(err)), nil
		}
	}

	resp := map[string]any{"job": compactJob(*job)}
	var warnings []string
	for _, w := range builder.Check() {
		warnings = append(warnings, w.String())
	}
	warnings = append(warnings, resolver.ExtensionWarnings()...)
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	var unbound []string
	for _, slot := range resolver.Slots() {
		if b, _ := resolver.Get(slot); !b.IsSet() {
			unbound = append(unbound, slot)
		}
	}
	if len(unbound) > 0 {
		resp["unbound_slots"] = unbound
	}
	if !s.tracker.WasDescribed(sessionID(ctx), t.Name) {
		resp["hint"] = "Call toolbox_describe_tool first next time to see bounds, defaults and accepted file extensions."
	}
	return jsonResult(resp)
}

func (s *Server) handleRunJob(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("job_id", "")
	if id == "" {
		return errorResult("job_id is required"), nil
	}
	job, err := s.jobs.RunAndRefresh(ctx, id)
	if err != nil {
		return errorResult("run failed: " + backend.Message(err)), nil
	}
	return jsonResult(map[string]any{"job": compactJob(*job)})
}

func (s *Server) handleListJobs(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status := model.JobStatus(request.GetString("status", ""))
	tool := request.GetString("tool", "")
	if status != "" && !status.Valid() {
		return errorResult(fmt.Sprintf("unknown status %q", status)), nil
	}

	s.jobs.Refresh(ctx)
	jobs := slices.DeleteFunc(s.jobs.Jobs(), func(j model.ToolJob) bool {
		return (status != "" && j.Status != status) || (tool != "" && j.ToolName != tool)
	})
	resp := map[string]any{
		"jobs":  compactJobs(jobs),
		"total": len(jobs),
	}
	if err := s.jobs.Err(); err != nil {
		resp["backend_error"] = backend.Message(err)
	}
	return jsonResult(resp)
}

func (s *Server) handleDeleteJob(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("job_id", "")
	if id == "" {
		return errorResult("job_id is required"), nil
	}
	res, err := s.jobs.DeleteAndRefresh(ctx, id, request.GetBool("keep_files", false))
	if err != nil {
		return errorResult("delete failed: " + backend.Message(err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleArchiveResults(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("job_id", "")
	if id == "" {
		return errorResult("job_id is required"), nil
	}
	res, err := s.archiver.Archive(ctx, id)
	if err != nil {
		return errorResult("archive failed: " + backend.Message(err)), nil
	}
	return jsonResult(map[string]any{
		"job_id":   res.JobID,
		"location": res.Location,
		"bytes":    res.Size,
		"sha256":   res.SHA256,
	})
}

func toolNotFoundMessage(err, refreshErr error) string {
	if errors.Is(err, catalog.ErrToolNotFound) && refreshErr != nil {
		return err.Error() + " (catalog unavailable: " + backend.Message(refreshErr) + ")"
	}
	return err.Error()
}

// stringMap reads an optional object argument whose values must be strings.
func stringMap(args map[string]any, key string) (map[string]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", key)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		str, ok := v.(string)
		if !ok || strings.TrimSpace(str) == "" {
			return nil, fmt.Errorf("%s.%s must be a non-empty string", key, k)
		}
		out[k] = str
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
