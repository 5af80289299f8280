// Package repository loads a directory of model configs and serves each model
// behind its own batcher.
package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/seqstate/internal/backend"
	"github.com/samcharles93/seqstate/internal/batcher"
	"github.com/samcharles93/seqstate/internal/logger"
)

// ConfigFile is the per-model config name inside <root>/<model>/.
const ConfigFile = "config.yaml"

// EnvModelRepository is consulted when no repository path is given.
const EnvModelRepository = "SEQSTATE_MODEL_REPOSITORY"

// Served is a loaded, initialized model and the batcher in front of it.
type Served struct {
	Config  backend.ModelConfig
	Model   backend.Model
	Batcher *batcher.Batcher
}

type Repository struct {
	root string

	mu     sync.RWMutex
	closed bool
	models map[string]*Served
}

// Root returns path, or the environment default when path is empty.
func Root(path string) string {
	if strings.TrimSpace(path) != "" {
		return strings.TrimSpace(path)
	}
	return strings.TrimSpace(os.Getenv(EnvModelRepository))
}

// Load reads every <root>/<model>/config.yaml, initializes the models and
// starts their batchers. On error nothing is left running.
func Load(ctx context.Context, root string) (*Repository, error) {
	log := logger.FromContext(ctx)
	if root == "" {
		return nil, fmt.Errorf("model repository is required (flag or %s)", EnvModelRepository)
	}
	dirs, err := Discover(root)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("no models found in %s", root)
	}

	r := &Repository{root: root, models: make(map[string]*Served, len(dirs))}
	for _, dir := range dirs {
		served, err := loadModel(dir, log)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		if _, dup := r.models[served.Config.Name]; dup {
			served.Batcher.Close()
			_ = served.Model.Finalize()
			_ = r.Close()
			return nil, fmt.Errorf("%w: model name %q used twice in %s", backend.ErrInvalidConfig, served.Config.Name, root)
		}
		r.models[served.Config.Name] = served
		log.Info("model loaded",
			"model", served.Config.Name,
			"backend", served.Config.Backend,
			"slots", served.Config.MaxBatchSize,
			"slot_mapping", served.Config.Parameters.SlotMapping,
		)
	}
	return r, nil
}

func loadModel(dir string, log logger.Logger) (*Served, error) {
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	model, err := backend.New(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.Name, err)
	}
	if err := model.Initialize(cfg); err != nil {
		return nil, err
	}
	b := batcher.New(model, batcher.Config{
		MaxBatchSize:  cfg.MaxBatchSize,
		MaxQueueDelay: cfg.SequenceBatching.MaxQueueDelay,
	}, log.With("model", cfg.Name))
	return &Served{Config: cfg, Model: model, Batcher: b}, nil
}

// LoadConfig reads and validates one model config. The model name defaults
// to the name of the directory holding the file.
func LoadConfig(path string) (backend.ModelConfig, error) {
	var cfg backend.ModelConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", backend.ErrInvalidConfig, path, err)
	}
	dirName := filepath.Base(filepath.Dir(path))
	if cfg.Name == "" {
		cfg.Name = dirName
	}
	if cfg.Name != dirName {
		return cfg, fmt.Errorf("%w: %s: name %q does not match directory %q", backend.ErrInvalidConfig, path, cfg.Name, dirName)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover returns the model directories under root: every non-hidden
// subdirectory holding a config.yaml, in name order.
func Discover(root string) ([]string, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("model repository is not a directory: %s", root)
	}
	ents, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if fileExists(filepath.Join(dir, ConfigFile)) {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func (r *Repository) Root() string {
	return r.root
}

// Get returns the named model or an error wrapping backend.ErrModelNotFound.
func (r *Repository) Get(name string) (*Served, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	served, ok := r.models[name]
	if !ok || r.closed {
		return nil, fmt.Errorf("%w: %s", backend.ErrModelNotFound, name)
	}
	return served, nil
}

// List returns the loaded model names in sorted order.
func (r *Repository) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Ready reports whether the named model is loaded and accepting requests.
func (r *Repository) Ready(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

func (r *Repository) Submit(ctx context.Context, name string, req *backend.InferenceRequest) (*backend.InferenceResponse, error) {
	served, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return served.Batcher.Submit(ctx, req)
}

func (r *Repository) Metadata(name string) (backend.ModelMetadata, error) {
	served, err := r.Get(name)
	if err != nil {
		return backend.ModelMetadata{}, err
	}
	return served.Model.Metadata(), nil
}

// Close drains every batcher and finalizes every model.
func (r *Repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	models := r.models
	r.mu.Unlock()

	var errs []error
	for name, served := range models {
		served.Batcher.Close()
		if err := served.Model.Finalize(); err != nil {
			errs = append(errs, fmt.Errorf("finalize %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
