package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/toolbox-runner/toolbox"
	"github.com/toolbox-runner/toolbox/internal/backend"
	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/params"
	"github.com/toolbox-runner/toolbox/internal/toolspec"
)

// pairs is a repeatable name=value flag.
type pairs struct {
	keys   []string
	values map[string]string
}

func (p *pairs) String() string {
	if p == nil {
		return ""
	}
	parts := make([]string, 0, len(p.keys))
	for _, k := range p.keys {
		parts = append(parts, k+"="+p.values[k])
	}
	return strings.Join(parts, ",")
}

func (p *pairs) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, dup := p.values[k]; !dup {
		p.keys = append(p.keys, k)
	}
	p.values[k] = v
	return nil
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("toolbox "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parseWith parses flags after n leading positional arguments, so that
// "create clip-raster -p buffer=10" works the way it reads.
func parseWith(fs *flag.FlagSet, args []string, n int, names ...string) ([]string, error) {
	if len(args) < n {
		return nil, fmt.Errorf("%w: %s needs %s", errUsage, fs.Name(), strings.Join(names, " and "))
	}
	pos := args[:n]
	if err := fs.Parse(args[n:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	return pos, nil
}

func (c *cli) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
}

func (c *cli) cmdTools(ctx context.Context, args []string) error {
	if _, err := parseWith(c.flagSet("tools"), args, 0); err != nil {
		return err
	}
	app, err := c.open()
	if err != nil {
		return err
	}
	// A failed fetch lists nothing; the catalog logs the cause at warn.
	cat := app.Catalog()
	cat.Refresh(ctx)

	tw := c.table()
	fmt.Fprintln(tw, "NAME\tTITLE\tPARAMETERS\tDATA")
	for _, t := range cat.Tools() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.DisplayName(),
			dash(strings.Join(t.ParameterNames(), ",")), dash(strings.Join(t.SlotNames(), ",")))
	}
	return tw.Flush()
}

func (c *cli) cmdTool(ctx context.Context, args []string) error {
	pos, err := parseWith(c.flagSet("tool"), args, 1, "<name>")
	if err != nil {
		return err
	}
	app, err := c.open()
	if err != nil {
		return err
	}
	app.Catalog().Refresh(ctx)
	tool, err := lookupTool(app, pos[0])
	if err != nil {
		return err
	}
	writeTool(c.stdout, tool)
	return nil
}

func lookupTool(app *toolbox.App, name string) (model.Tool, error) {
	tool, err := app.Catalog().Get(name)
	if err == nil {
		return tool, nil
	}
	if cerr := app.Catalog().Err(); cerr != nil {
		return model.Tool{}, cerr
	}
	return model.Tool{}, fmt.Errorf("tool %q not found", name)
}

func writeTool(w io.Writer, tool model.Tool) {
	fmt.Fprintf(w, "%s (%s)\n", tool.DisplayName(), tool.Name)
	if tool.Version != "" {
		fmt.Fprintf(w, "version: %s\n", tool.Version)
	}
	if tool.Description != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(tool.Description))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nPARAMETER\tTYPE\tREQUIRED\tDEFAULT\tCONSTRAINT\tDESCRIPTION")
	for _, name := range tool.ParameterNames() {
		p := tool.Parameters[name]
		typ := string(p.Type)
		if p.Array {
			typ += "[]"
		}
		def := "-"
		if p.HasDefault() {
			def = fmt.Sprint(p.Default)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n", name, typ, p.Required(), def, constraint(p), oneLine(p.Description))
	}
	_ = tw.Flush()

	if len(tool.Data) == 0 {
		return
	}
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nDATA\tEXTENSION\tDESCRIPTION")
	for _, slot := range tool.SlotNames() {
		d := tool.Data[slot]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", slot, dash(strings.Join(d.Extension, ",")), oneLine(d.Description))
	}
	_ = tw.Flush()
}

func constraint(p model.Parameter) string {
	if len(p.Values) > 0 {
		return strings.Join(p.Values, "|")
	}
	switch {
	case p.Min != nil && p.Max != nil:
		return fmt.Sprintf("%g..%g", *p.Min, *p.Max)
	case p.Min != nil:
		return fmt.Sprintf(">= %g", *p.Min)
	case p.Max != nil:
		return fmt.Sprintf("<= %g", *p.Max)
	}
	return "-"
}

func (c *cli) cmdJobs(ctx context.Context, args []string) error {
	fs := c.flagSet("jobs")
	status := fs.String("status", "", "only jobs with this status (pending, running, completed, failed)")
	toolName := fs.String("tool", "", "only jobs of this tool")
	if _, err := parseWith(fs, args, 0); err != nil {
		return err
	}
	if *status != "" && !model.JobStatus(*status).Valid() {
		return fmt.Errorf("%w: unknown status %q", errUsage, *status)
	}
	app, err := c.open()
	if err != nil {
		return err
	}
	reg := app.Jobs()
	reg.Refresh(ctx)

	var jobs []model.ToolJob
	for _, j := range reg.Jobs() {
		if *status != "" && string(j.Status) != *status {
			continue
		}
		if *toolName != "" && j.ToolName != *toolName {
			continue
		}
		jobs = append(jobs, j)
	}
	return c.writeJobs(jobs)
}

func (c *cli) writeJobs(jobs []model.ToolJob) error {
	tw := c.table()
	fmt.Fprintln(tw, "JOB\tTOOL\tSTATUS\tRESULT\tRUNTIME\tFINISHED")
	for _, j := range jobs {
		result := "-"
		if rs, ok := j.Outcome(); ok {
			result = string(rs)
		}
		runtime := "-"
		if j.Runtime != nil {
			runtime = j.RuntimeDuration().Round(100 * time.Millisecond).String()
		}
		finished := "-"
		if ts, ok := j.FinishedAt(); ok {
			finished = ts.Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.JobID, j.ToolName, j.Status, result, runtime, finished)
	}
	return tw.Flush()
}

func (c *cli) cmdCreate(ctx context.Context, args []string) error {
	fs := c.flagSet("create")
	var values, paths, uploads pairs
	fs.Var(&values, "p", "parameter `name=value` (repeatable)")
	paramsFile := fs.String("params", "", "YAML or JSON `file` of parameter values; -p overrides")
	fs.Var(&paths, "path", "bind a data slot to a backend host `slot=path` (repeatable)")
	fs.Var(&uploads, "upload", "upload a local file into a data slot `slot=file` (repeatable)")
	runNow := fs.Bool("run", false, "run the job right after creating it")
	pos, err := parseWith(fs, args, 1, "<tool>")
	if err != nil {
		return err
	}
	for _, slot := range paths.keys {
		if _, dup := uploads.values[slot]; dup {
			return fmt.Errorf("%w: data slot %q given both -path and -upload", errUsage, slot)
		}
	}

	app, err := c.open()
	if err != nil {
		return err
	}
	app.Catalog().Refresh(ctx)
	if _, err := lookupTool(app, pos[0]); err != nil {
		return err
	}
	sub, err := app.NewSubmission(pos[0])
	if err != nil {
		return err
	}

	if *paramsFile != "" {
		fromFile, err := toolspec.LoadParameters(*paramsFile)
		if err != nil {
			return err
		}
		if err := sub.Builder.SetAll(fromFile); err != nil {
			return err
		}
	}
	for _, name := range values.keys {
		if err := sub.Builder.SetAny(name, values.values[name]); err != nil {
			return err
		}
	}
	for _, v := range sub.Builder.Check() {
		fmt.Fprintf(c.stderr, "warning: %s\n", v)
	}
	for _, slot := range paths.keys {
		if err := sub.HostPath(slot, paths.values[slot]); err != nil {
			return err
		}
	}
	for _, slot := range uploads.keys {
		if err := sub.Upload(slot, uploads.values[slot]); err != nil {
			return err
		}
	}
	for _, w := range sub.Resolver.ExtensionWarnings() {
		fmt.Fprintf(c.stderr, "warning: %s\n", w)
	}

	job, err := sub.Submit(ctx)
	if err != nil {
		if errors.Is(err, params.ErrIncomplete) {
			return fmt.Errorf("missing required parameters: %s", strings.Join(sub.Builder.Missing(), ", "))
		}
		return err
	}
	fmt.Fprintf(c.stdout, "created %s (%s)\n", job.JobID, job.Status)

	if *runNow {
		job, err = app.Jobs().RunAndRefresh(ctx, job.JobID)
		if err != nil {
			return fmt.Errorf("run failed: %s", backend.Message(err))
		}
		fmt.Fprintf(c.stdout, "ran %s: %s\n", job.JobID, describeOutcome(*job))
	}
	return nil
}

func describeOutcome(j model.ToolJob) string {
	s := string(j.Status)
	if rs, ok := j.Outcome(); ok {
		s += ", " + string(rs)
	}
	if j.ErrorMessage != "" {
		s += ": " + j.ErrorMessage
	}
	return s
}

func (c *cli) cmdRun(ctx context.Context, args []string) error {
	pos, err := parseWith(c.flagSet("run"), args, 1, "<job>")
	if err != nil {
		return err
	}
	app, err := c.open()
	if err != nil {
		return err
	}
	job, err := app.Jobs().RunAndRefresh(ctx, pos[0])
	if err != nil {
		return fmt.Errorf("run failed: %s", backend.Message(err))
	}
	fmt.Fprintf(c.stdout, "ran %s: %s\n", job.JobID, describeOutcome(*job))
	return nil
}

func (c *cli) cmdDelete(ctx context.Context, args []string) error {
	fs := c.flagSet("delete")
	keepFiles := fs.Bool("keep-files", false, "keep the job's input and output directories on the backend")
	pos, err := parseWith(fs, args, 1, "<job>")
	if err != nil {
		return err
	}
	app, err := c.open()
	if err != nil {
		return err
	}
	res, err := app.Jobs().DeleteAndRefresh(ctx, pos[0], *keepFiles)
	if err != nil {
		return err
	}
	msg := res.Message
	if msg == "" {
		msg = "deleted " + pos[0]
	}
	fmt.Fprintln(c.stdout, msg)
	return nil
}

func (c *cli) cmdDownload(ctx context.Context, args []string) error {
	fs := c.flagSet("download")
	out := fs.String("o", "", "output `file` (default <job>_results.zip)")
	toArchive := fs.Bool("archive", false, "store the results in the configured archive instead of a local file")
	pos, err := parseWith(fs, args, 1, "<job>")
	if err != nil {
		return err
	}
	jobID := pos[0]
	app, err := c.open()
	if err != nil {
		return err
	}
	app.Jobs().Refresh(ctx)

	if *toArchive {
		res, err := app.Archive(ctx, jobID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "archived %s to %s (%d bytes, sha256 %s)\n", jobID, res.Location, res.Size, res.SHA256)
		return nil
	}

	dst := *out
	if dst == "" {
		dst = filepath.Base(jobID) + "_results.zip"
	}
	n, err := downloadTo(ctx, app, jobID, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "wrote %s (%d bytes)\n", dst, n)
	return nil
}

// downloadTo writes next to dst and renames on success, so a failed download
// never leaves a truncated archive behind.
func downloadTo(ctx context.Context, app *toolbox.App, jobID, dst string) (int64, error) {
	f, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	n, err := app.Jobs().DownloadResults(ctx, jobID, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

func (c *cli) cmdWatch(ctx context.Context, args []string) error {
	fs := c.flagSet("watch")
	interval := fs.Duration("interval", c.cfg.PollInterval, "poll interval")
	if _, err := parseWith(fs, args, 0); err != nil {
		return err
	}
	app, err := c.open()
	if err != nil {
		return err
	}
	reg := app.Jobs()
	reg.OnRefresh(func(jobs []model.ToolJob) {
		fmt.Fprintf(c.stdout, "-- %s\n", time.Now().Format(time.TimeOnly))
		_ = c.writeJobs(jobs)
	})
	return reg.Watch(ctx, *interval)
}

func (c *cli) cmdInputs(args []string) error {
	fs := c.flagSet("inputs")
	var values, data pairs
	fs.Var(&values, "p", "parameter `name=value` (repeatable)")
	paramsFile := fs.String("params", "", "YAML or JSON `file` of parameter values; -p overrides")
	fs.Var(&data, "data", "data slot `slot=path` (repeatable)")
	rename := fs.Bool("rename", false, "rewrite data paths to /in/<slot><ext>")
	image := fs.String("image", "", "docker image recorded on the tool")
	pos, err := parseWith(fs, args, 2, "<tool.yml>", "<tool>")
	if err != nil {
		return err
	}

	tools, err := toolspec.Load(pos[0], *image)
	if err != nil {
		return err
	}
	tool, err := toolspec.Find(tools, pos[1])
	if err != nil {
		return err
	}

	b := params.NewBuilder(tool)
	if *paramsFile != "" {
		fromFile, err := toolspec.LoadParameters(*paramsFile)
		if err != nil {
			return err
		}
		if err := b.SetAll(fromFile); err != nil {
			return err
		}
	}
	for _, name := range values.keys {
		if err := b.SetAny(name, values.values[name]); err != nil {
			return err
		}
	}
	for _, v := range b.Check() {
		fmt.Fprintf(c.stderr, "warning: %s\n", v)
	}

	doc, err := toolspec.InputsFile(tool, b.Parameterization(), data.values, toolspec.InputsOptions{RenameInputs: *rename})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.stdout, "%s\n", doc)
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return dash(s)
}
