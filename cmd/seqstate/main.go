package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/seqstate/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "seqstate",
		Usage: "Stateful sequence inference server",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			applyLogConfig(cmd, LoadConfig())
			log, err := newLogger(os.Stderr)
			if err != nil {
				return ctx, err
			}
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			serveCmd(),
			runCmd(),
			modelsCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
