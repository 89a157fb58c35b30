package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/siqueiraa/kaflow-restructure/pkg/config"
	"github.com/siqueiraa/kaflow-restructure/pkg/faker"
	"github.com/siqueiraa/kaflow-restructure/pkg/storage"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("fakegen failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "fakegen",
		Usage: "write generated battery observations as topic files to the source storage",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.yaml", Usage: "path of the YAML configuration file"},
			&cli.StringSliceFlag{Name: "topic", Value: cli.NewStringSlice("android_battery"), Usage: "topic to generate, repeatable"},
			&cli.IntFlag{Name: "partitions", Value: 3, Usage: "partitions per topic"},
			&cli.IntFlag{Name: "files", Value: 4, Usage: "files per partition"},
			&cli.Int64Flag{Name: "records", Value: 1000, Usage: "records per file"},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "random seed"},
			&cli.DurationFlag{Name: "step", Value: time.Second, Usage: "observation time between records"},
		},
		Action: generate,
	}
}

func generate(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	logger := logrus.StandardLogger()
	source, err := storage.New(ctx, cfg.Source, cfg.Worker.TempDir, logger)
	if err != nil {
		return err
	}

	start := time.Now().Add(-24 * time.Hour).Truncate(time.Hour)
	seed := c.Int64("seed")
	records := c.Int64("records")
	for _, topic := range c.StringSlice("topic") {
		for p := 0; p < c.Int("partitions"); p++ {
			gen := faker.NewGenerator(seed, start, c.Duration("step"))
			seed++
			var from int64
			for f := 0; f < c.Int("files"); f++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				path, err := faker.WriteTopicFile(ctx, source, "", topic, p, from, faker.ObservationSchema, gen.Records(records))
				if err != nil {
					return err
				}
				logger.WithFields(logrus.Fields{"file": path, "records": records}).Info("topic file written")
				from += records
			}
		}
	}
	return nil
}
