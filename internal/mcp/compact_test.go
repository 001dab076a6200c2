package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/testutil"
)

func TestCompactTool(t *testing.T) {
	tool := testutil.ClipRasterTool()
	tool.Description = strings.Repeat("x", 250)

	m := compactTool(tool)
	assert.Equal(t, "clip-raster", m["name"])
	assert.Equal(t, "Clip raster", m["title"])
	assert.Equal(t, []string{"buffer", "label"}, m["parameters"])
	assert.Equal(t, []string{"input", "mask"}, m["data"])
	assert.Len(t, []rune(m["description"].(string)), maxCompactDescription+3)
	assert.NotContains(t, m, "version")
}

func TestCompactTool_TitleFallsBackToName(t *testing.T) {
	tool := testutil.ClipRasterTool()
	tool.Title = ""
	assert.Equal(t, "clip-raster", compactTool(tool)["title"])
}

func TestDescribeTool_DefaultMakesParameterOptional(t *testing.T) {
	tool := testutil.ClipRasterTool()
	p := tool.Parameters["buffer"]
	p.Default = 5
	tool.Parameters["buffer"] = p

	m := describeTool(tool)
	assert.Equal(t, []string{}, m["required"])
	assert.Equal(t, []string{"buffer", "label"}, m["optional"])
}

func TestCompactJob(t *testing.T) {
	runtime := 1.5
	tests := []struct {
		name       string
		job        model.ToolJob
		wantResult bool
	}{
		{
			name:       "pending hides result status",
			job:        model.ToolJob{JobID: "1", Status: model.JobPending, ResultStatus: model.ResultSuccess},
			wantResult: false,
		},
		{
			name:       "running hides result status",
			job:        model.ToolJob{JobID: "2", Status: model.JobRunning, ResultStatus: model.ResultError},
			wantResult: false,
		},
		{
			name:       "completed shows result status",
			job:        model.ToolJob{JobID: "3", Status: model.JobCompleted, ResultStatus: model.ResultWarning, Runtime: &runtime},
			wantResult: true,
		},
		{
			name:       "failed shows result status",
			job:        model.ToolJob{JobID: "4", Status: model.JobFailed, ResultStatus: model.ResultError, ErrorMessage: "exit 1"},
			wantResult: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := compactJob(tt.job)
			_, has := m["result_status"]
			assert.Equal(t, tt.wantResult, has)
			assert.Equal(t, tt.job.Runnable(), m["runnable"])
			assert.Equal(t, tt.job.HasResults(), m["results"])
			assert.NotContains(t, m, "in_dir")
		})
	}
}

func TestCompactJob_FinishedAt(t *testing.T) {
	m := compactJob(model.ToolJob{JobID: "1", Status: model.JobCompleted, Timestamp: "2024-05-01T12:00:00"})
	assert.Contains(t, m, "finished_at")

	m = compactJob(model.ToolJob{JobID: "1", Status: model.JobCompleted, Timestamp: "yesterday"})
	assert.NotContains(t, m, "finished_at")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "日本...", truncate("日本語テキスト", 2))
}
