package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/testutil"
)

func TestParseJobURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		wantID    string
		errSubstr string
	}{
		{name: "valid", uri: "toolbox://job/1700000000_clip-raster", wantID: "1700000000_clip-raster"},
		{name: "empty id", uri: "toolbox://job/", errSubstr: "empty job_id"},
		{name: "wrong prefix", uri: "other://job/1", errSubstr: "invalid job URI"},
		{name: "nested path", uri: "toolbox://job/1/results", errSubstr: "invalid job URI"},
		{name: "empty string", uri: "", errSubstr: "invalid job URI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := parseJobURI(tt.uri)
			if tt.errSubstr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				assert.Empty(t, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func readRequest(uri string) mcplib.ReadResourceRequest {
	return mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: uri}}
}

func resourceText(t *testing.T, contents []mcplib.ResourceContents) string {
	t.Helper()
	require.Len(t, contents, 1)
	tc, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", tc.MIMEType)
	return tc.Text
}

func TestToolsResource(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	s := newTestServer(t, fb, nil)

	contents, err := s.handleToolsResource(context.Background(), readRequest(toolsURI))
	require.NoError(t, err)

	var tools []model.Tool
	require.NoError(t, json.Unmarshal([]byte(resourceText(t, contents)), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "buffer", tools[0].Parameters["buffer"].Name)
}

func TestJobsResource(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.AddJob(model.ToolJob{JobID: "1_a", ToolName: "a", Status: model.JobRunning})
	s := newTestServer(t, fb, nil)

	contents, err := s.handleJobsResource(context.Background(), readRequest(jobsURI))
	require.NoError(t, err)

	var jobs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(resourceText(t, contents)), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "running", jobs[0]["status"])
}

func TestJobResource(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.AddJob(model.ToolJob{JobID: "1_a", ToolName: "a", Status: model.JobFailed, InDir: "/tmp/in", ErrorMessage: "exit 1"})
	s := newTestServer(t, fb, nil)

	contents, err := s.handleJobResource(context.Background(), readRequest("toolbox://job/1_a"))
	require.NoError(t, err)

	var job model.ToolJob
	require.NoError(t, json.Unmarshal([]byte(resourceText(t, contents)), &job))
	assert.Equal(t, "/tmp/in", job.InDir)
	assert.Equal(t, "exit 1", job.ErrorMessage)

	_, err = s.handleJobResource(context.Background(), readRequest("toolbox://job/missing"))
	require.Error(t, err)
}
