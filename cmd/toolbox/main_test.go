package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbox-runner/toolbox/internal/config"
	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/testutil"
)

func testConfig(t *testing.T, backendURL string) config.Config {
	return config.Config{
		BackendURL:   backendURL,
		HTTPTimeout:  5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		ServiceName:  "toolbox-test",
		ArchiveDir:   t.TempDir(),
		LogLevel:     "error",
	}
}

type result struct {
	code   int
	stdout string
	stderr string
}

func invoke(t *testing.T, ctx context.Context, cfg config.Config, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(ctx, cfg, args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestUsage(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api/v1")

	r := invoke(t, context.Background(), cfg)
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "usage: toolbox")

	r = invoke(t, context.Background(), cfg, "frobnicate")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, `unknown command "frobnicate"`)

	r = invoke(t, context.Background(), cfg, "run")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "needs <job>")

	r = invoke(t, context.Background(), cfg, "version")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, version+"\n", r.stdout)
}

func TestToolsCommand(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())

	r := invoke(t, context.Background(), testConfig(t, fb.URL()), "tools")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "NAME")
	assert.Contains(t, r.stdout, "clip-raster")
	assert.Contains(t, r.stdout, "buffer,label")
	assert.Contains(t, r.stdout, "input,mask")
}

func TestToolsCommand_BackendDownListsNothing(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api/v1")
	cfg.LogLevel = "warn"

	r := invoke(t, context.Background(), cfg, "tools")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, []string{"NAME", "TITLE", "PARAMETERS", "DATA"}, strings.Fields(r.stdout))
	assert.Contains(t, r.stderr, "catalog: refresh failed")
}

func TestToolCommand(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	cfg := testConfig(t, fb.URL())

	r := invoke(t, context.Background(), cfg, "tool", "clip-raster")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Clip raster (clip-raster)")
	assert.Contains(t, r.stdout, "0..1000")
	assert.Contains(t, r.stdout, ".tif")

	r = invoke(t, context.Background(), cfg, "tool", "nope")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, `tool "nope" not found`)
}

func TestCreateAndRun(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())

	r := invoke(t, context.Background(), testConfig(t, fb.URL()),
		"create", "clip-raster", "-p", "buffer=10", "-path", "input=/data/a.tif", "-run")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "created 1700000001_clip-raster (pending)")
	assert.Contains(t, r.stdout, "ran 1700000001_clip-raster: completed, success")

	creates := fb.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, []string{`{"buffer":10}`}, creates[0].Fields["parameters"])
	assert.Equal(t, []string{`{"input":"/data/a.tif"}`}, creates[0].Fields["local_data"])
}

func TestCreate_ParamsFileAndUpload(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	dir := t.TempDir()
	paramsFile := filepath.Join(dir, "params.yml")
	require.NoError(t, os.WriteFile(paramsFile, []byte("buffer: 5000\nlabel: from-file\n"), 0o600))
	raster := filepath.Join(dir, "a.tif")
	require.NoError(t, os.WriteFile(raster, []byte("II*"), 0o600))

	r := invoke(t, context.Background(), testConfig(t, fb.URL()),
		"create", "clip-raster", "-params", paramsFile, "-p", "label=override", "-upload", "input="+raster)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stderr, "warning: buffer: 5000 is above maximum 1000")
	assert.NotContains(t, r.stderr, "does not match extension")

	creates := fb.Creates()
	require.Len(t, creates, 1)
	assert.JSONEq(t, `{"buffer":5000,"label":"override"}`, creates[0].Fields["parameters"][0])
	assert.Equal(t, []string{"a.tif"}, creates[0].FileNames)
}

func TestCreate_UploadExtensionMismatchWarns(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	notes := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("not a raster"), 0o600))

	r := invoke(t, context.Background(), testConfig(t, fb.URL()),
		"create", "clip-raster", "-p", "buffer=1", "-upload", "input="+notes)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stderr, "warning: input: notes.txt does not match extension .tif")

	creates := fb.Creates()
	require.Len(t, creates, 1, "the mismatch does not block the create")
	assert.Equal(t, []string{"notes.txt"}, creates[0].FileNames)
}

func TestCreate_Refusals(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	cfg := testConfig(t, fb.URL())

	tests := []struct {
		name      string
		args      []string
		code      int
		errSubstr string
	}{
		{
			name:      "missing required",
			args:      []string{"create", "clip-raster"},
			code:      1,
			errSubstr: "missing required parameters: buffer",
		},
		{
			name:      "bad integer",
			args:      []string{"create", "clip-raster", "-p", "buffer=ten"},
			code:      1,
			errSubstr: `"ten" is not an integer`,
		},
		{
			name:      "slot bound twice",
			args:      []string{"create", "clip-raster", "-path", "input=/a.tif", "-upload", "input=a.tif"},
			code:      2,
			errSubstr: `data slot "input" given both -path and -upload`,
		},
		{
			name:      "malformed pair",
			args:      []string{"create", "clip-raster", "-p", "buffer"},
			code:      2,
			errSubstr: "expected name=value",
		},
		{
			name:      "missing upload file",
			args:      []string{"create", "clip-raster", "-p", "buffer=1", "-upload", "input=/does/not/exist.tif"},
			code:      1,
			errSubstr: "upload input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := invoke(t, context.Background(), cfg, tt.args...)
			assert.Equal(t, tt.code, r.code)
			assert.Contains(t, r.stderr, tt.errSubstr)
		})
	}
	assert.Empty(t, fb.Creates())
}

func TestJobsCommand(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	runtime := 1.5
	fb.AddJob(model.ToolJob{JobID: "1_a", ToolName: "a", Status: model.JobPending, ResultStatus: model.ResultError})
	fb.AddJob(model.ToolJob{JobID: "2_b", ToolName: "b", Status: model.JobCompleted, ResultStatus: model.ResultWarning, Runtime: &runtime})
	cfg := testConfig(t, fb.URL())

	r := invoke(t, context.Background(), cfg, "jobs")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "1_a")
	assert.Contains(t, r.stdout, "2_b")
	assert.Contains(t, r.stdout, "warning")
	assert.NotContains(t, r.stdout, "error", "result status of a pending job is hidden")

	r = invoke(t, context.Background(), cfg, "jobs", "-status", "completed")
	require.Equal(t, 0, r.code, r.stderr)
	assert.NotContains(t, r.stdout, "1_a")
	assert.Contains(t, r.stdout, "2_b")

	r = invoke(t, context.Background(), cfg, "jobs", "-tool", "a")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "1_a")
	assert.NotContains(t, r.stdout, "2_b")

	r = invoke(t, context.Background(), cfg, "jobs", "-status", "bogus")
	assert.Equal(t, 2, r.code)
}

func TestJobsCommand_BackendErrorListsNothing(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.FailJobs(true)

	cfg := testConfig(t, fb.URL())
	cfg.LogLevel = "warn"

	r := invoke(t, context.Background(), cfg, "jobs")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, []string{"JOB", "TOOL", "STATUS", "RESULT", "RUNTIME", "FINISHED"}, strings.Fields(r.stdout))
	assert.Contains(t, r.stderr, "jobs: refresh failed")
	assert.Contains(t, r.stderr, "database is locked")
	assert.NotContains(t, r.stderr, "toolbox: database is locked")
}

func TestRunCommand_UnknownJob(t *testing.T) {
	fb := testutil.NewFakeBackend(t)

	r := invoke(t, context.Background(), testConfig(t, fb.URL()), "run", "missing")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "run failed: Job not found")
}

func TestDeleteCommand(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.AddJob(model.ToolJob{JobID: "1_a", ToolName: "a", Status: model.JobCompleted})

	r := invoke(t, context.Background(), testConfig(t, fb.URL()), "delete", "1_a", "-keep-files")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "Job 1_a deleted\n", r.stdout)
	assert.Equal(t, []string{"true"}, fb.Deletes())
}

func TestDownloadCommand(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.AddJob(model.ToolJob{JobID: "1_a", ToolName: "a", Status: model.JobCompleted, ResultStatus: model.ResultSuccess})
	fb.AddJob(model.ToolJob{JobID: "2_b", ToolName: "b", Status: model.JobRunning})
	cfg := testConfig(t, fb.URL())
	out := filepath.Join(t.TempDir(), "out.zip")

	r := invoke(t, context.Background(), cfg, "download", "1_a", "-o", out)
	require.Equal(t, 0, r.code, r.stderr)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, testutil.ResultsArchive, string(data))

	running := filepath.Join(t.TempDir(), "running.zip")
	r = invoke(t, context.Background(), cfg, "download", "2_b", "-o", running)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "no results yet")
	assert.NoFileExists(t, running)
}

func TestDownloadCommand_Archive(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.AddJob(model.ToolJob{JobID: "1_a", ToolName: "a", Status: model.JobCompleted, ResultStatus: model.ResultSuccess})
	cfg := testConfig(t, fb.URL())

	r := invoke(t, context.Background(), cfg, "download", "1_a", "-archive")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "archived 1_a to ")

	data, err := os.ReadFile(filepath.Join(cfg.ArchiveDir, "jobs", "1_a", "results.zip"))
	require.NoError(t, err)
	assert.Equal(t, testutil.ResultsArchive, string(data))
}

func TestWatchCommand(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	fb.AddJob(model.ToolJob{JobID: "1_a", ToolName: "a", Status: model.JobRunning})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r := invoke(t, ctx, testConfig(t, fb.URL()), "watch", "-interval", "20ms")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "1_a")
	assert.GreaterOrEqual(t, fb.ListJobsCalls.Load(), int32(2))
}

const clipYML = `
tools:
  clip-raster:
    title: Clip raster
    parameters:
      buffer:
        type: integer
        max: 1000
      label:
        type: string
        optional: true
    data:
      input:
        extension: .tif
`

func TestInputsCommand(t *testing.T) {
	toolYML := filepath.Join(t.TempDir(), "tool.yml")
	require.NoError(t, os.WriteFile(toolYML, []byte(clipYML), 0o600))
	// The inputs command works offline; no backend is listening here.
	cfg := testConfig(t, "http://127.0.0.1:1/api/v1")

	r := invoke(t, context.Background(), cfg, "inputs", toolYML, "clip-raster", "-p", "buffer=10", "-data", "input=/data/a.tif", "-rename")
	require.Equal(t, 0, r.code, r.stderr)
	assert.JSONEq(t, `{"clip-raster":{"parameters":{"buffer":10,"label":null},"data":{"input":"/in/input.tif"}}}`, r.stdout)

	r = invoke(t, context.Background(), cfg, "inputs", toolYML, "clip-raster")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "buffer")

	r = invoke(t, context.Background(), cfg, "inputs", toolYML, "other", "-p", "buffer=1")
	assert.Equal(t, 1, r.code)

	r = invoke(t, context.Background(), cfg, "inputs", toolYML)
	assert.Equal(t, 2, r.code)
}
