package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/mahyarmirrashed/xfer/internal/config"
	"github.com/mahyarmirrashed/xfer/internal/job"
	"github.com/mahyarmirrashed/xfer/internal/runner"
	"github.com/mahyarmirrashed/xfer/internal/utils"
)

// Set at build time: go build -ldflags "-X main.version=1.2.3"
var version = "dev"

func main() {
	app := &cli.Command{
		Name:    "xfer",
		Usage:   "Copy or move files described by source* job files",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Sources: cli.EnvVars("XFER_CONFIG"),
				Value:   config.DefaultConfigFilename,
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "directory containing job-definition files",
				Sources: cli.EnvVars("XFER_DIR"),
			},
			&cli.StringFlag{
				Name:    "log-dir",
				Usage:   "directory for per-job log files (default: --dir)",
				Sources: cli.EnvVars("XFER_LOG_DIR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "logging level: debug, info, warn, error",
				Sources: cli.EnvVars("XFER_LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Usage:   "dry run mode",
				Sources: cli.EnvVars("XFER_DRY_RUN"),
			},
			&cli.StringSliceFlag{
				Name:    "exclude",
				Usage:   "glob patterns to exclude from every job (repeat or comma-separated)",
				Sources: cli.EnvVars("XFER_EXCLUDE"),
			},
			&cli.BoolFlag{
				Name:    "notify",
				Usage:   "send a desktop notification when each job finishes",
				Sources: cli.EnvVars("XFER_NOTIFY"),
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags if set
	if cmd.IsSet("dir") {
		cfg.Dir = cmd.String("dir")
	}
	if cmd.IsSet("log-dir") {
		cfg.LogDir = cmd.String("log-dir")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("dry-run") {
		cfg.DryRun = cmd.Bool("dry-run")
	}
	if cmd.IsSet("exclude") {
		var merged []string
		for _, e := range cmd.StringSlice("exclude") {
			merged = append(merged, strings.Split(e, ",")...)
		}
		cfg.Exclude = merged
	}
	if cmd.IsSet("notify") {
		cfg.Notifications = cmd.Bool("notify")
	}
	cfg.Dir = utils.ExpandTilde(cfg.Dir)
	cfg.LogDir = utils.ExpandTilde(cfg.LogDir)

	utils.SetLogLevel(cfg.LogLevel)

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return execute(ctx, cfg)
}

// execute loads every job in cfg.Dir and runs them. The returned error
// carries exit status 1 when a job could not be loaded, validated or run.
func execute(ctx context.Context, cfg *config.Config) error {
	jobs, loadErrs := job.LoadAll(cfg.Dir)
	for _, err := range loadErrs {
		log.Errorf("Skipping job file: %v", err)
	}
	if len(jobs) == 0 {
		if len(loadErrs) == 0 {
			log.Warnf("No job definition files (%s*.txt, .yaml, .yml, .json) found in %s", job.FilePrefix, cfg.Dir)
			return nil
		}
		return cli.Exit("no job definition could be loaded", 1)
	}

	log.Infof("Loaded %d jobs from %s", len(jobs), cfg.Dir)
	summary := runner.New(cfg).Run(ctx, jobs)

	log.Infof("Done: %d jobs started, %d skipped, %d failed, %d file errors",
		len(summary.Reports), summary.Skipped, summary.Failed, summary.FilesFailed())
	if !summary.OK() || len(loadErrs) > 0 {
		return cli.Exit("one or more jobs did not complete", 1)
	}
	return nil
}
