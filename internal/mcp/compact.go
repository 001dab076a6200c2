package mcp

import (
	"github.com/toolbox-runner/toolbox/internal/binding"
	"github.com/toolbox-runner/toolbox/internal/model"
)

const maxCompactDescription = 200

// compactTool returns the listing form of a tool: enough to pick one, not
// enough to fill it in. toolbox_describe_tool returns the full schema.
func compactTool(t model.Tool) map[string]any {
	m := map[string]any{
		"name":       t.Name,
		"title":      t.DisplayName(),
		"parameters": t.ParameterNames(),
		"data":       t.SlotNames(),
	}
	if t.Description != "" {
		m["description"] = truncate(t.Description, maxCompactDescription)
	}
	if t.Version != "" {
		m["version"] = t.Version
	}
	return m
}

// describeTool returns the full schema of a tool plus what an agent needs to
// fill it in: which parameters are required and which input modes exist.
func describeTool(t model.Tool) map[string]any {
	var required, optional []string
	for _, name := range t.ParameterNames() {
		if t.Parameters[name].Required() && !t.Parameters[name].HasDefault() {
			required = append(required, name)
		} else {
			optional = append(optional, name)
		}
	}
	modes := make([]map[string]any, 0, 3)
	for _, mi := range binding.Modes() {
		modes = append(modes, map[string]any{
			"mode":     mi.Mode,
			"label":    mi.Label,
			"disabled": mi.Disabled,
		})
	}
	return map[string]any{
		"tool":               t,
		"required":           nonNil(required),
		"optional":           nonNil(optional),
		"data_binding_modes": modes,
	}
}

// compactJob drops the container directories and keeps the two status axes
// apart: result_status only appears once the job is terminal.
func compactJob(j model.ToolJob) map[string]any {
	m := map[string]any{
		"job_id":    j.JobID,
		"tool_name": j.ToolName,
		"status":    j.Status,
		"runnable":  j.Runnable(),
		"results":   j.HasResults(),
	}
	if rs, ok := j.Outcome(); ok {
		m["result_status"] = rs
	}
	if j.ErrorMessage != "" {
		m["error_message"] = truncate(j.ErrorMessage, maxCompactDescription)
	}
	if j.Runtime != nil {
		m["runtime_seconds"] = *j.Runtime
	}
	if ts, ok := j.FinishedAt(); ok {
		m["finished_at"] = ts
	}
	return m
}

func compactJobs(jobs []model.ToolJob) []map[string]any {
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, compactJob(j))
	}
	return out
}

// truncate shortens s to at most n runes, appending "..." when cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
