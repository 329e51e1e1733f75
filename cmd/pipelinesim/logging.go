package main

import (
	"os"

	"github.com/Swind/go-render-pipeline/core"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func setupLogging(c *cli.Context) error {
	logger, err := newLogger(c.String("log-level"), c.Bool("log-json"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	core.SetLogger(logger)
	return nil
}

func newLogger(level string, json bool) (core.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var z zerolog.Logger
	if json {
		z = zerolog.New(os.Stderr)
	} else {
		z = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
	return core.NewZerologLogger(z.Level(lvl).With().Timestamp().Logger()), nil
}
