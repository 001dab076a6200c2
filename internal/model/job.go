package model

import (
	"time"
)

// JobStatus represents the execution-lifecycle state of a tool job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Valid reports whether s is a known lifecycle state.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job will not change state again.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ResultStatus is the outcome quality of a terminal job. It is orthogonal to
// JobStatus: a completed job may still carry a warning or error result.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultWarning ResultStatus = "warning"
	ResultError   ResultStatus = "error"
)

// ToolJob is one invocation of a tool as reported by the backend. The client
// never edits a ToolJob; it only replaces its view with a fresh fetch.
type ToolJob struct {
	JobID        string       `json:"job_id"`
	DockerImage  string       `json:"docker_image"`
	ToolName     string       `json:"tool_name"`
	InDir        string       `json:"in_dir"`
	OutDir       string       `json:"out_dir"`
	Status       JobStatus    `json:"status"`
	ResultStatus ResultStatus `json:"result_status,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Runtime      *float64     `json:"runtime,omitempty"` // seconds
	Timestamp    string       `json:"timestamp,omitempty"`
}

// Outcome returns the result status once the job is terminal. While the job
// is pending or running the result axis is treated as absent even if the
// backend sent a value.
func (j ToolJob) Outcome() (ResultStatus, bool) {
	if !j.Status.IsTerminal() || j.ResultStatus == "" {
		return "", false
	}
	return j.ResultStatus, true
}

// Runnable reports whether a run request makes sense for this job.
func (j ToolJob) Runnable() bool {
	return j.Status == JobPending
}

// HasResults reports whether the results archive can be downloaded.
func (j ToolJob) HasResults() bool {
	return j.Status == JobCompleted
}

// RuntimeDuration converts the reported runtime to a duration. Zero when the
// backend has not reported one.
func (j ToolJob) RuntimeDuration() time.Duration {
	if j.Runtime == nil {
		return 0
	}
	return time.Duration(*j.Runtime * float64(time.Second))
}

// timestampLayouts covers RFC 3339 and the zone-less ISO form the runner
// writes into RUN_METADATA.json.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// FinishedAt parses the backend timestamp. Zone-less values are read as UTC.
func (j ToolJob) FinishedAt() (time.Time, bool) {
	if j.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, j.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DeleteResult is the backend's confirmation for a job deletion.
type DeleteResult struct {
	Deleted string `json:"deleted"`
	Message string `json:"message"`
}
