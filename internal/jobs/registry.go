// Package jobs tracks the backend's jobs and issues create, run and delete
// requests on behalf of the user.
//
// The local job list is a read-only mirror. Operations never edit it; they
// return the backend's answer, and the list only changes on Refresh.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/toolbox-runner/toolbox/internal/backend"
	"github.com/toolbox-runner/toolbox/internal/binding"
	"github.com/toolbox-runner/toolbox/internal/encoder"
	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/params"
	"github.com/toolbox-runner/toolbox/internal/telemetry"
)

// ErrNotCompleted is returned when results are requested for a job that the
// local view shows as not completed.
var ErrNotCompleted = errors.New("jobs: job has no results yet")

// Backend is the subset of the backend client the registry needs.
type Backend interface {
	ListJobs(ctx context.Context) ([]model.ToolJob, error)
	CreateJob(ctx context.Context, toolName string, body backend.MultipartBody) (*model.ToolJob, error)
	RunJob(ctx context.Context, jobID string) (*model.ToolJob, error)
	DeleteJob(ctx context.Context, jobID string, keepFiles bool) (*model.DeleteResult, error)
	DownloadResults(ctx context.Context, jobID string, w io.Writer) (int64, error)
}

// Registry mirrors the backend's job list. It is safe for concurrent use.
type Registry struct {
	backend Backend
	logger  *slog.Logger
	group   singleflight.Group
	started atomic.Uint64 // list fetches begun

	mu        sync.RWMutex
	applied   uint64 // generation of the fetch behind jobs
	jobs      []model.ToolJob
	lastErr   error
	listeners []func([]model.ToolJob)
}

// New creates an empty registry.
func New(b Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{backend: b, logger: logger}
}

// Refresh replaces the job list with the backend's. It never fails: on any
// error the list becomes empty and the error is logged and kept for Err.
// Concurrent calls share one request.
func (r *Registry) Refresh(ctx context.Context) {
	r.refreshAfter(ctx, 0)
}

// refreshAfter returns once a fetch that started after generation gen has
// been applied. A shared fetch that began earlier is waited out, not reused.
func (r *Registry) refreshAfter(ctx context.Context, gen uint64) {
	for {
		v, _, _ := r.group.Do("refresh", func() (any, error) {
			return r.fetch(ctx), nil
		})
		if v.(uint64) > gen {
			return
		}
	}
}

func (r *Registry) fetch(ctx context.Context) uint64 {
	gen := r.started.Add(1)
	jobs, err := r.backend.ListJobs(context.WithoutCancel(ctx))
	if err != nil {
		r.logger.Warn("jobs: refresh failed", "error", err)
		jobs = nil
	}

	r.mu.Lock()
	if gen < r.applied {
		r.mu.Unlock()
		return gen
	}
	r.applied = gen
	r.jobs = jobs
	r.lastErr = err
	listeners := r.listeners
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(slices.Clone(jobs))
	}
	return gen
}

// OnRefresh registers fn to be called with the new list after every refresh.
func (r *Registry) OnRefresh(fn func([]model.ToolJob)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(slices.Clip(r.listeners), fn)
}

// Jobs returns the current snapshot.
func (r *Registry) Jobs() []model.ToolJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.jobs)
}

// Lookup finds a job by ID in the current snapshot.
func (r *Registry) Lookup(jobID string) (model.ToolJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := slices.IndexFunc(r.jobs, func(j model.ToolJob) bool { return j.JobID == jobID })
	if i < 0 {
		return model.ToolJob{}, false
	}
	return r.jobs[i], true
}

// Err returns the error of the most recent refresh, or nil.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Create encodes p and d and submits a create request for toolName. The new
// job is pending; the local list is not updated.
func (r *Registry) Create(ctx context.Context, toolName string, p params.Parameterization, d binding.DataBinding) (*model.ToolJob, error) {
	req, err := encoder.Encode(p, d, r.logger.With("tool", toolName))
	if err != nil {
		return nil, err
	}
	job, err := r.backend.CreateJob(ctx, toolName, req)
	telemetry.JobEvent(ctx, "create", err)
	if err != nil {
		return nil, err
	}
	r.logger.Info("jobs: created",
		"tool", toolName,
		"job_id", job.JobID,
		"uploads", len(req.Uploads),
		"local_data", len(req.LocalData),
	)
	return job, nil
}

// Run asks the backend to execute a job and returns its view of the job
// afterwards. Repeated calls issue repeated requests.
func (r *Registry) Run(ctx context.Context, jobID string) (*model.ToolJob, error) {
	job, err := r.backend.RunJob(ctx, jobID)
	telemetry.JobEvent(ctx, "run", err)
	if err != nil {
		return nil, err
	}
	r.logger.Info("jobs: run finished", "job_id", job.JobID, "status", job.Status, "result_status", job.ResultStatus)
	return job, nil
}

// Delete removes a job. With keepFiles the backend leaves its directories.
func (r *Registry) Delete(ctx context.Context, jobID string, keepFiles bool) (*model.DeleteResult, error) {
	res, err := r.backend.DeleteJob(ctx, jobID, keepFiles)
	telemetry.JobEvent(ctx, "delete", err)
	if err != nil {
		return nil, err
	}
	r.logger.Info("jobs: deleted", "job_id", jobID, "keep_files", keepFiles)
	return res, nil
}

// CreateAndRefresh is Create followed by one refresh, which runs whether or
// not the create succeeded. The refresh always starts after the create
// returned; a list request already in flight is not reused.
func (r *Registry) CreateAndRefresh(ctx context.Context, toolName string, p params.Parameterization, d binding.DataBinding) (*model.ToolJob, error) {
	job, err := r.Create(ctx, toolName, p, d)
	r.refreshAfter(ctx, r.started.Load())
	return job, err
}

// RunAndRefresh is Run followed by a post-run refresh, as for
// CreateAndRefresh.
func (r *Registry) RunAndRefresh(ctx context.Context, jobID string) (*model.ToolJob, error) {
	job, err := r.Run(ctx, jobID)
	r.refreshAfter(ctx, r.started.Load())
	return job, err
}

// DeleteAndRefresh is Delete followed by a post-delete refresh.
func (r *Registry) DeleteAndRefresh(ctx context.Context, jobID string, keepFiles bool) (*model.DeleteResult, error) {
	res, err := r.Delete(ctx, jobID, keepFiles)
	r.refreshAfter(ctx, r.started.Load())
	return res, err
}

// Watch refreshes immediately and then every interval until ctx is done.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("jobs: watch interval must be positive, got %s", interval)
	}
	r.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

// DownloadResults copies the results archive of a job into w. Jobs that the
// local view knows and shows as not completed are refused without a request.
func (r *Registry) DownloadResults(ctx context.Context, jobID string, w io.Writer) (int64, error) {
	if job, ok := r.Lookup(jobID); ok && !job.HasResults() {
		return 0, fmt.Errorf("%w: %s is %s", ErrNotCompleted, jobID, job.Status)
	}
	n, err := r.backend.DownloadResults(ctx, jobID, w)
	if err != nil {
		return n, err
	}
	r.logger.Debug("jobs: results downloaded", "job_id", jobID, "bytes", n)
	return n, nil
}
