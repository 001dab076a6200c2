// Command toolbox is a command-line client for a tool execution backend: list
// tools, create and run jobs, and fetch their results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/toolbox-runner/toolbox"
	"github.com/toolbox-runner/toolbox/internal/backend"
	"github.com/toolbox-runner/toolbox/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

const usage = `usage: toolbox <command> [arguments]

commands:
  tools                         list tools
  tool <name>                   show a tool's parameters and data slots
  jobs [-status s] [-tool t]    list jobs
  create <tool> [flags]         create a job (-p name=value, -params file,
                                -path slot=path, -upload slot=file, -run)
  run <job>                     run a pending job
  delete <job> [-keep-files]    delete a job
  download <job> [-o file]      download a job's results.zip (-archive stores
                                it in the configured archive instead)
  watch [-interval d]           print the job list on every poll
  inputs <tool.yml> <tool>      render inputs.json offline (-p, -params,
                                -data slot=path, -rename, -image)
  version                       print the version

environment:
  TOOLBOX_BACKEND_URL (default http://127.0.0.1:5555/api/v1), TOOLBOX_HTTP_TIMEOUT,
  TOOLBOX_POLL_INTERVAL, TOOLBOX_LOG_LEVEL, TOOLBOX_ARCHIVE_DIR, TOOLBOX_S3_*
`

// errUsage marks errors caused by bad arguments; they exit with status 2.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run0())
}

func run0() int {
	// Non-fatal: production runs without a .env file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "toolbox: %v\n", err)
		return 1
	}
	if _, set := os.LookupEnv("TOOLBOX_LOG_LEVEL"); !set {
		cfg.LogLevel = "warn"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr)
}

// run executes one command and returns the process exit status.
func run(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "-help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 2
	}
	if args[0] == "version" {
		fmt.Fprintln(stdout, version)
		return 0
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cliLevel(cfg.LogLevel)}))

	c := &cli{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}
	err := c.dispatch(ctx, args[0], args[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "toolbox: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "toolbox: %s\n", backend.Message(err))
		return 1
	}
}

// cliLevel maps TOOLBOX_LOG_LEVEL to a slog level; unknown values mean warn.
func cliLevel(s string) slog.Level {
	var level slog.Level
	if s == "" || level.UnmarshalText([]byte(s)) != nil {
		return slog.LevelWarn
	}
	return level
}

type cli struct {
	cfg    config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
	app    *toolbox.App
}

// open builds the App on first use; the inputs command never needs one.
func (c *cli) open() (*toolbox.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	app, err := toolbox.New(
		toolbox.WithConfig(c.cfg),
		toolbox.WithLogger(c.logger),
		toolbox.WithVersion(version),
	)
	if err != nil {
		return nil, err
	}
	c.app = app
	return app, nil
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	defer func() {
		if c.app != nil {
			_ = c.app.Close(context.Background())
		}
	}()

	switch cmd {
	case "tools":
		return c.cmdTools(ctx, args)
	case "tool":
		return c.cmdTool(ctx, args)
	case "jobs":
		return c.cmdJobs(ctx, args)
	case "create":
		return c.cmdCreate(ctx, args)
	case "run":
		return c.cmdRun(ctx, args)
	case "delete":
		return c.cmdDelete(ctx, args)
	case "download":
		return c.cmdDownload(ctx, args)
	case "watch":
		return c.cmdWatch(ctx, args)
	case "inputs":
		return c.cmdInputs(args)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}
