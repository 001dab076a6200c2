package toolbox

import (
	"context"
	"fmt"
	"os"

	"github.com/toolbox-runner/toolbox/internal/binding"
	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/params"
)

// Submission collects the parameters and data bindings for one job of one
// tool. It is not reused after Submit.
type Submission struct {
	app      *App
	tool     model.Tool
	Builder  *params.Builder
	Resolver *binding.Resolver
}

// NewSubmission starts a submission for a tool in the catalog. Defaults
// declared by the tool are already applied.
func (a *App) NewSubmission(toolName string) (*Submission, error) {
	tool, err := a.catalog.Get(toolName)
	if err != nil {
		return nil, err
	}
	return a.submissionFor(tool), nil
}

func (a *App) submissionFor(tool model.Tool) *Submission {
	return &Submission{
		app:      a,
		tool:     tool,
		Builder:  params.NewBuilder(tool),
		Resolver: binding.NewResolver(tool, a.logger),
	}
}

// Tool returns the tool being submitted.
func (s *Submission) Tool() model.Tool { return s.tool }

// Ready reports whether every required parameter has a value.
func (s *Submission) Ready() bool { return s.Builder.IsValid() }

// Upload selects upload mode for slot and binds the local file at path.
func (s *Submission) Upload(slot, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("upload %s: %w", slot, err)
	}
	if err := s.Resolver.SetMode(slot, binding.ModeUpload); err != nil {
		return err
	}
	return s.Resolver.SetUpload(slot, binding.FileFromPath(path))
}

// HostPath selects path mode for slot and binds a path on the backend host.
func (s *Submission) HostPath(slot, path string) error {
	if err := s.Resolver.SetMode(slot, binding.ModePath); err != nil {
		return err
	}
	return s.Resolver.SetPath(slot, path)
}

// Submit creates the job and refreshes the job list. A submission with
// missing required parameters is refused with an error wrapping
// ErrIncomplete and no request is made.
func (s *Submission) Submit(ctx context.Context) (*model.ToolJob, error) {
	if err := s.Builder.Validate(); err != nil {
		return nil, err
	}
	return s.app.jobs.CreateAndRefresh(ctx, s.tool.Name, s.Builder.Parameterization(), s.Resolver.Resolve())
}
