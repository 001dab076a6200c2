package toolbox_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbox-runner/toolbox"
	"github.com/toolbox-runner/toolbox/internal/binding"
	"github.com/toolbox-runner/toolbox/internal/config"
	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/params"
	"github.com/toolbox-runner/toolbox/internal/testutil"
)

func testConfig(backendURL string, archiveDir string) config.Config {
	return config.Config{
		BackendURL:   backendURL,
		HTTPTimeout:  5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		ServiceName:  "toolbox-test",
		ArchiveDir:   archiveDir,
	}
}

func newApp(t *testing.T, fb *testutil.FakeBackend) *toolbox.App {
	t.Helper()
	app, err := toolbox.New(
		toolbox.WithConfig(testConfig(fb.URL(), t.TempDir())),
		toolbox.WithLogger(testutil.TestLogger()),
		toolbox.WithVersion("test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestNewDoesNotContactBackend(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	app := newApp(t, fb)

	assert.Equal(t, int32(0), fb.ListJobsCalls.Load())
	assert.Empty(t, app.Catalog().Tools())
	assert.Equal(t, "test", app.Version())
	assert.Equal(t, fb.URL(), app.BackendURL())
}

func TestNewRejectsBadBackendURL(t *testing.T) {
	_, err := toolbox.New(
		toolbox.WithConfig(testConfig("ftp://example.org", t.TempDir())),
		toolbox.WithLogger(testutil.TestLogger()),
	)
	require.Error(t, err)
}

func TestRefreshLoadsCatalogAndJobs(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	fb.AddJob(model.ToolJob{JobID: "1_clip-raster", ToolName: "clip-raster", Status: model.JobPending})
	app := newApp(t, fb)

	app.Refresh(context.Background())

	require.Len(t, app.Catalog().Tools(), 1)
	require.Len(t, app.Jobs().Jobs(), 1)
	assert.NoError(t, app.Catalog().Err())
	assert.NoError(t, app.Jobs().Err())
}

func TestSubmitEndToEnd(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	app := newApp(t, fb)
	ctx := context.Background()
	app.Refresh(ctx)

	sub, err := app.NewSubmission("clip-raster")
	require.NoError(t, err)
	assert.False(t, sub.Ready())

	_, err = sub.Submit(ctx)
	require.ErrorIs(t, err, toolbox.ErrIncomplete)
	assert.Empty(t, fb.Creates(), "incomplete submission never reaches the backend")

	require.NoError(t, sub.Builder.Set("buffer", params.Int(10)))
	require.NoError(t, sub.HostPath("input", "/data/a.tif"))
	assert.True(t, sub.Ready())

	job, err := sub.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)

	creates := fb.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, []string{`{"buffer":10}`}, creates[0].Fields["parameters"])
	assert.Equal(t, []string{`{"input":"/data/a.tif"}`}, creates[0].Fields["local_data"])
	assert.Equal(t, []string{`{}`}, creates[0].Fields["name_mapping"])
	assert.Empty(t, creates[0].FileNames)

	got, ok := app.Jobs().Lookup(job.JobID)
	require.True(t, ok, "job list refreshed after create")
	assert.Equal(t, "clip-raster", got.ToolName)
}

func TestSubmitWithUpload(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	app := newApp(t, fb)
	ctx := context.Background()
	app.Refresh(ctx)

	file := filepath.Join(t.TempDir(), "a.tif")
	require.NoError(t, os.WriteFile(file, []byte("raster"), 0o600))

	sub, err := app.NewSubmission("clip-raster")
	require.NoError(t, err)
	require.NoError(t, sub.Builder.Set("buffer", params.Int(1)))
	require.NoError(t, sub.Upload("input", file))
	require.Error(t, sub.Upload("mask", filepath.Join(t.TempDir(), "missing.shp")))

	_, err = sub.Submit(ctx)
	require.NoError(t, err)

	creates := fb.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, []string{"a.tif"}, creates[0].FileNames)
	assert.Equal(t, []string{`{"a.tif":"input"}`}, creates[0].Fields["name_mapping"])
}

func TestSubmissionUploadExtensionIsAdvisory(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	app := newApp(t, fb)
	app.Refresh(context.Background())

	notes := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("text"), 0o600))

	sub, err := app.NewSubmission("clip-raster")
	require.NoError(t, err)
	require.NoError(t, sub.Upload("input", notes))
	require.NoError(t, sub.Upload("mask", notes))
	assert.Equal(t, []string{"input: notes.txt does not match extension .tif"}, sub.Resolver.ExtensionWarnings())
}

func TestJobResultModeIsDisabled(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	app := newApp(t, fb)
	app.Refresh(context.Background())

	sub, err := app.NewSubmission("clip-raster")
	require.NoError(t, err)
	require.ErrorIs(t, sub.Resolver.SetMode("input", binding.ModeJob), toolbox.ErrModeDisabled)
}

func TestNewSubmissionUnknownTool(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	app := newApp(t, fb)
	app.Refresh(context.Background())

	_, err := app.NewSubmission("kriging")
	require.ErrorIs(t, err, toolbox.ErrToolNotFound)
}

func TestSetBackendURLRefreshesJobs(t *testing.T) {
	first := testutil.NewFakeBackend(t)
	second := testutil.NewFakeBackend(t)
	second.AddJob(model.ToolJob{JobID: "9_other", ToolName: "other", Status: model.JobCompleted})
	app := newApp(t, first)

	require.NoError(t, app.SetBackendURL(context.Background(), second.URL()+"/"))
	assert.Equal(t, second.URL(), app.BackendURL())
	assert.Equal(t, second.URL(), app.Config().BackendURL)
	assert.Equal(t, int32(1), second.ListJobsCalls.Load())
	require.Len(t, app.Jobs().Jobs(), 1)

	require.Error(t, app.SetBackendURL(context.Background(), "not a url"))
	assert.Equal(t, second.URL(), app.BackendURL(), "bad URL leaves the old one in place")
}

func TestArchiveToLocalDir(t *testing.T) {
	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
	fb.AddJob(model.ToolJob{JobID: "5_clip-raster", ToolName: "clip-raster", Status: model.JobCompleted})
	dir := t.TempDir()
	app, err := toolbox.New(
		toolbox.WithConfig(testConfig(fb.URL(), dir)),
		toolbox.WithLogger(testutil.TestLogger()),
	)
	require.NoError(t, err)
	app.Refresh(context.Background())

	res, err := app.Archive(context.Background(), "5_clip-raster")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "jobs", "5_clip-raster", "results.zip"), res.Location)

	data, err := os.ReadFile(res.Location)
	require.NoError(t, err)
	assert.Equal(t, testutil.ResultsArchive, string(data))
}

func TestRunPollsUntilCancelled(t *testing.T) {
	fb := testutil.NewFakeBackend(t)
	app := newApp(t, fb)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return fb.ListJobsCalls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
