package toolbox

import (
	"github.com/toolbox-runner/toolbox/internal/binding"
	"github.com/toolbox-runner/toolbox/internal/catalog"
	"github.com/toolbox-runner/toolbox/internal/jobs"
	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/params"
)

// Public names for the types front ends handle.
type (
	Tool         = model.Tool
	Parameter    = model.Parameter
	DataSlot     = model.DataSlot
	Job          = model.ToolJob
	JobStatus    = model.JobStatus
	ResultStatus = model.ResultStatus
	DeleteResult = model.DeleteResult
)

// Sentinel errors re-exported for errors.Is checks.
var (
	ErrIncomplete   = params.ErrIncomplete
	ErrToolNotFound = catalog.ErrToolNotFound
	ErrNotCompleted = jobs.ErrNotCompleted
	ErrModeDisabled = binding.ErrModeDisabled
	ErrModeMismatch = binding.ErrModeMismatch
)
