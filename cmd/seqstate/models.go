package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/seqstate/internal/logger"
	"github.com/samcharles93/seqstate/internal/repository"
)

func modelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "models",
		Aliases: []string{"ls"},
		Usage:   "List the models of a repository",
		Flags:   repositoryFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRepositoryConfig(cmd, LoadConfig())
			log := logger.FromContext(ctx)

			root := repository.Root(modelRepository)
			if root == "" {
				return cli.Exit("error: --model-repository is required unless "+repository.EnvModelRepository+" is set", 1)
			}
			dirs, err := repository.Discover(root)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(dirs) == 0 {
				log.Info("no models found", "path", root)
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tBACKEND\tSLOTS\tMAPPING\tOUTPUT")
			for _, dir := range dirs {
				name := filepath.Base(dir)
				cfg, err := repository.LoadConfig(filepath.Join(dir, repository.ConfigFile))
				if err != nil {
					log.Warn("invalid model config", "model", name, "error", err)
					_, _ = fmt.Fprintf(tw, "%s\t-\t-\t-\tinvalid\n", name)
					continue
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					cfg.Name, cfg.Backend, cfg.MaxBatchSize, cfg.Parameters.SlotMapping, cfg.Output.DataType)
			}
			return tw.Flush()
		},
	}
}
