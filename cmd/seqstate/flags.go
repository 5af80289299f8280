package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/seqstate/internal/logger"
)

var (
	modelRepository string
	logLevel        string
	logFormat       string
	debug           bool
)

func repositoryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-repository",
			Aliases:     []string{"repo", "r"},
			Usage:       "directory holding <model>/config.yaml entries",
			Destination: &modelRepository,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, json, text)",
			Value:       logger.FormatAuto,
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
