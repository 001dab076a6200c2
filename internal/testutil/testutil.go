// Package testutil provides shared test infrastructure: an in-memory tool
// backend served over httptest and a MinIO container for object storage
// tests.
//
// Usage:
//
//	fb := testutil.NewFakeBackend(t, testutil.ClipRasterTool())
//	client, _ := backend.NewClient(backend.Config{BaseURL: fb.URL()})
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/toolbox-runner/toolbox/internal/model"
)

// ResultsArchive is the body served for every results.zip download.
const ResultsArchive = "PK\x03\x04fake-results"

// CreateRequest records one multipart job creation.
type CreateRequest struct {
	Tool      string
	Fields    map[string][]string
	FileNames []string
}

// FakeBackend is an in-memory tool backend. Created jobs are pending; a run
// completes them immediately with result_status=success and runtime 4.2.
type FakeBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	tools    []model.Tool
	jobs     []model.ToolJob
	creates  []CreateRequest
	deletes  []string
	seq      int
	failJobs atomic.Bool

	ListJobsCalls atomic.Int32
}

// NewFakeBackend starts a fake backend serving tools. It is closed when the
// test ends.
func NewFakeBackend(t *testing.T, tools ...model.Tool) *FakeBackend {
	t.Helper()
	fb := &FakeBackend{tools: tools}
	fb.srv = httptest.NewServer(fb.handler())
	t.Cleanup(fb.srv.Close)
	return fb
}

// URL returns the API root, including the /api/v1 prefix.
func (f *FakeBackend) URL() string { return f.srv.URL + "/api/v1" }

// FailJobs makes GET /jobs answer 500 until called again with false.
func (f *FakeBackend) FailJobs(fail bool) { f.failJobs.Store(fail) }

// AddJob seeds a job.
func (f *FakeBackend) AddJob(j model.ToolJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
}

// Creates returns the recorded create requests.
func (f *FakeBackend) Creates() []CreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CreateRequest(nil), f.creates...)
}

// Deletes returns the keep_files query value of each delete request.
func (f *FakeBackend) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *FakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tools/full", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.tools)
	})
	mux.HandleFunc("GET /api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		f.ListJobsCalls.Add(1)
		if f.failJobs.Load() {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "database is locked"})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.jobs)
	})
	mux.HandleFunc("POST /api/v1/tool/{name}/create", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
			return
		}
		name := r.PathValue("name")
		req := CreateRequest{Tool: name, Fields: r.MultipartForm.Value}
		for _, fh := range r.MultipartForm.File["files"] {
			req.FileNames = append(req.FileNames, fh.Filename)
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.hasTool(name) {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": fmt.Sprintf("Tool %s not found", name)})
			return
		}
		f.seq++
		job := model.ToolJob{
			JobID:       fmt.Sprintf("%d_%s", 1700000000+f.seq, name),
			ToolName:    name,
			DockerImage: "tbr_" + name + ":latest",
			InDir:       "/tmp/in",
			OutDir:      "/tmp/out",
			Status:      model.JobPending,
		}
		f.creates = append(f.creates, req)
		f.jobs = append(f.jobs, job)
		writeJSON(w, http.StatusOK, job)
	})
	mux.HandleFunc("POST /api/v1/job/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.jobs {
			if f.jobs[i].JobID == r.PathValue("id") {
				runtime := 4.2
				f.jobs[i].Status = model.JobCompleted
				f.jobs[i].ResultStatus = model.ResultSuccess
				f.jobs[i].Runtime = &runtime
				f.jobs[i].Timestamp = "2024-05-01T12:00:00"
				writeJSON(w, http.StatusOK, f.jobs[i])
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Job not found"})
	})
	mux.HandleFunc("DELETE /api/v1/job/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		f.deletes = append(f.deletes, r.URL.Query().Get("keep_files"))
		for i := range f.jobs {
			if f.jobs[i].JobID == id {
				f.jobs = append(f.jobs[:i], f.jobs[i+1:]...)
				writeJSON(w, http.StatusOK, model.DeleteResult{Deleted: id, Message: "Job " + id + " deleted"})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Job not found"})
	})
	mux.HandleFunc("GET /api/v1/job/{id}/result/results.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = io.WriteString(w, ResultsArchive)
	})
	return mux
}

func (f *FakeBackend) hasTool(name string) bool {
	for _, t := range f.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ClipRasterTool returns a tool with one required integer parameter
// ("buffer", 0..1000), one optional string ("label") and two data slots
// ("input" .tif, "mask").
func ClipRasterTool() model.Tool {
	lo, hi := 0.0, 1000.0
	t := model.Tool{
		Name:        "clip-raster",
		Title:       "Clip raster",
		Description: "Clip a raster to a buffer",
		Parameters: map[string]model.Parameter{
			"buffer": {Type: model.ParamInteger, Min: &lo, Max: &hi},
			"label":  {Type: model.ParamString, Optional: true},
		},
		Data: map[string]model.DataSlot{
			"input": {Extension: model.Extensions{".tif"}},
			"mask":  {},
		},
		DockerImage: "tbr_clip:latest",
	}
	t.Normalize()
	return t
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// MinIO holds connection details for a running MinIO container.
type MinIO struct {
	Endpoint  string // host:port
	AccessKey string
	SecretKey string
}

// StartMinIO runs a MinIO container for the duration of the test. The test
// is skipped in -short mode and when no container runtime is available.
func StartMinIO(t *testing.T) MinIO {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	const user, pass = "toolbox", "toolbox-secret"
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     user,
				"MINIO_ROOT_PASSWORD": pass,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").
				WithPort("9000/tcp").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("testutil: start minio: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("testutil: minio host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("testutil: minio port: %v", err)
	}
	return MinIO{Endpoint: host + ":" + port.Port(), AccessKey: user, SecretKey: pass}
}
