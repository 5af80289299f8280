package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/seqstate/internal/backend"
	"github.com/samcharles93/seqstate/internal/logger"
	"github.com/samcharles93/seqstate/internal/repository"
)

// chunk is one replayed request. Sequence is the correlation id.
type chunk struct {
	Sequence string `yaml:"sequence"`
	Start    bool   `yaml:"start"`
	End      bool   `yaml:"end"`
	Ready    *bool  `yaml:"ready"`
	Input0   string `yaml:"input0"`
	Input1   *int64 `yaml:"input1"`
}

type chunkFile struct {
	Chunks []chunk `yaml:"chunks"`
}

func runCmd() *cli.Command {
	var (
		modelName string
		input     string
		batchSize int64
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Replay a YAML file of sequence chunks against a model without a server",
		Flags: append(repositoryFlags(),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model name inside the repository",
				Required:    true,
				Destination: &modelName,
			},
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "chunk file (YAML, \"-\" for stdin)",
				Value:       "-",
				Destination: &input,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Usage:       "chunks per Execute call",
				Value:       1,
				Destination: &batchSize,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRepositoryConfig(cmd, LoadConfig())
			log := logger.FromContext(ctx)

			root := repository.Root(modelRepository)
			if root == "" {
				return cli.Exit("error: --model-repository is required unless "+repository.EnvModelRepository+" is set", 1)
			}
			cfg, err := repository.LoadConfig(filepath.Join(root, modelName, repository.ConfigFile))
			if err != nil {
				return err
			}
			model, err := backend.New(cfg.Backend)
			if err != nil {
				return err
			}
			if err := model.Initialize(cfg); err != nil {
				return err
			}
			defer func() { _ = model.Finalize() }()

			chunks, err := loadChunks(input, os.Stdin)
			if err != nil {
				return err
			}
			log.Debug("replaying chunks", "model", cfg.Name, "chunks", len(chunks), "batch", batchSize)
			return replay(ctx, model, chunks, int(batchSize), os.Stdout)
		},
	}
}

func loadChunks(path string, stdin io.Reader) ([]chunk, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var f chunkFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.Chunks, nil
}

func (c chunk) request(i int) *backend.InferenceRequest {
	req := &backend.InferenceRequest{
		ID: strconv.Itoa(i),
		Inputs: []backend.Tensor{
			{Name: backend.InputPayload, Datatype: backend.TypeBytes, Shape: []int64{1, 1}, Data: []any{c.Input0}},
			{Name: backend.InputStart, Datatype: backend.TypeBool, Shape: []int64{1, 1}, Data: []any{c.Start}},
			{Name: backend.InputEnd, Datatype: backend.TypeBool, Shape: []int64{1, 1}, Data: []any{c.End}},
			{Name: backend.InputCorrID, Datatype: backend.TypeBytes, Shape: []int64{1, 1}, Data: []any{c.Sequence}},
		},
	}
	if c.Input1 != nil {
		req.Inputs = append(req.Inputs, backend.Tensor{
			Name: backend.InputOperand, Datatype: backend.TypeInt64, Shape: []int64{1, 1}, Data: []any{*c.Input1},
		})
	}
	if c.Ready != nil {
		req.Inputs = append(req.Inputs, backend.Tensor{
			Name: backend.InputReady, Datatype: backend.TypeBool, Shape: []int64{1, 1}, Data: []any{*c.Ready},
		})
	}
	return req
}

// replay executes chunks in groups of batch and prints one line per chunk.
// Failed chunks are reported inline; replay carries on like a server would.
func replay(ctx context.Context, model backend.Model, chunks []chunk, batch int, w io.Writer) error {
	batch = max(batch, 1)
	for first := 0; first < len(chunks); first += batch {
		last := min(first+batch, len(chunks))
		reqs := make([]*backend.InferenceRequest, 0, last-first)
		for i := first; i < last; i++ {
			reqs = append(reqs, chunks[i].request(i))
		}
		for j, resp := range model.Execute(ctx, reqs) {
			c := chunks[first+j]
			if resp.Failed() {
				if _, err := fmt.Fprintf(w, "%s\t%s\terror: %s\n", resp.ID, c.Sequence, resp.Error); err != nil {
					return err
				}
				continue
			}
			if _, err := fmt.Fprintf(w, "%s\t%s\t%v\n", resp.ID, c.Sequence, resp.Outputs[0].Data[0]); err != nil {
				return err
			}
		}
	}
	return nil
}
