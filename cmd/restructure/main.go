package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/siqueiraa/kaflow-restructure/pkg/config"
	"github.com/siqueiraa/kaflow-restructure/pkg/metrics"
	"github.com/siqueiraa/kaflow-restructure/pkg/restructure"
)

func main() {
	app := &cli.App{
		Name:  "restructure",
		Usage: "restructure Avro topic dumps into per-entity CSV or JSON files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path of the YAML configuration file",
				EnvVars: []string{"RESTRUCTURE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run restructuring passes, repeating at the service interval",
				Action: runCommand,
			},
			{
				Name:   "clean",
				Usage:  "delete source files whose records are all extracted",
				Action: cleanCommand,
			},
			{
				Name:   "offsets",
				Usage:  "print the processed offset ranges of every topic",
				Action: offsetsCommand,
			},
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("restructure failed")
	}
}

func runCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := setup(ctx, c.String("config"))
	if err != nil {
		return err
	}
	defer svc.Close(context.WithoutCancel(ctx))

	opts := svc.options()
	opts.OnPass = func(ctx context.Context, _ metrics.Summary) {
		if svc.cfg.Cleaner.Enabled && ctx.Err() == nil {
			if err := svc.clean(ctx); err != nil {
				svc.logger.WithError(err).Error("cleaning failed")
			}
		}
		svc.afterPass(context.WithoutCancel(ctx))
	}
	r, err := restructure.New(opts)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		svc.logger.Info("shutting down after the current batch")
		r.Close()
	}()

	return r.Run(ctx)
}

func cleanCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := setup(ctx, c.String("config"))
	if err != nil {
		return err
	}
	defer svc.Close(context.WithoutCancel(ctx))

	if err := svc.clean(ctx); err != nil {
		return err
	}
	svc.afterPass(context.WithoutCancel(ctx))
	return nil
}

func offsetsCommand(c *cli.Context) error {
	svc, err := setup(c.Context, c.String("config"))
	if err != nil {
		return err
	}
	defer svc.Close(c.Context)
	return svc.printOffsets(c.Context, c.App.Writer)
}

func newLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("logging.format must be text or json, got %q", cfg.Format)
	}
	return logger, nil
}
