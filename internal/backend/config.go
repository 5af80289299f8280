package backend

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/samcharles93/seqstate/internal/sequence"
)

// DefaultBlank is the CTC blank symbol used when blank_id is not configured.
const DefaultBlank = "-"

// ModelConfig is the per-model configuration read from config.yaml.
type ModelConfig struct {
	Name             string                 `yaml:"name" json:"name"`
	Backend          string                 `yaml:"backend" json:"backend"`
	MaxBatchSize     int                    `yaml:"max_batch_size" json:"max_batch_size"`
	Output           OutputConfig           `yaml:"output" json:"output"`
	Parameters       Parameters             `yaml:"parameters" json:"parameters"`
	SequenceBatching SequenceBatchingConfig `yaml:"sequence_batching" json:"sequence_batching"`
}

type OutputConfig struct {
	Name     string `yaml:"name" json:"name"`
	DataType string `yaml:"data_type" json:"data_type"`
}

type Parameters struct {
	BlankID     string `yaml:"blank_id" json:"blank_id,omitempty"`
	SlotMapping string `yaml:"slot_mapping" json:"slot_mapping,omitempty"`
}

// SequenceBatchingConfig controls request gathering and sequence lifetime.
// Zero durations disable the corresponding behaviour.
type SequenceBatchingConfig struct {
	MaxQueueDelay time.Duration `yaml:"max_queue_delay" json:"max_queue_delay"`
	IdleTimeout   time.Duration `yaml:"sequence_idle_timeout" json:"sequence_idle_timeout"`
	BatchTimeout  time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
}

// Validate checks the config and fills defaults in place.
func (c *ModelConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	backend, err := Normalize(c.Backend)
	if err != nil {
		return fmt.Errorf("%w: model %s: %v", ErrInvalidConfig, c.Name, err)
	}
	c.Backend = backend

	if c.MaxBatchSize < 0 {
		return fmt.Errorf("%w: model %s: max_batch_size must be >= 0, got %d", ErrInvalidConfig, c.Name, c.MaxBatchSize)
	}
	c.MaxBatchSize = max(c.MaxBatchSize, 1)

	if c.Output.Name == "" {
		c.Output.Name = OutputName
	}
	if c.Output.DataType == "" {
		return fmt.Errorf("%w: model %s: output data_type is required", ErrInvalidConfig, c.Name)
	}
	dt, err := NormalizeDatatype(c.Output.DataType)
	if err != nil {
		return fmt.Errorf("%w: model %s: %v", ErrInvalidConfig, c.Name, err)
	}
	c.Output.DataType = dt

	if c.Parameters.BlankID == "" {
		c.Parameters.BlankID = DefaultBlank
	}
	if utf8.RuneCountInString(c.Parameters.BlankID) != 1 {
		return fmt.Errorf("%w: model %s: blank_id must be a single symbol, got %q", ErrInvalidConfig, c.Name, c.Parameters.BlankID)
	}
	mapping, err := sequence.ParseMapping(c.Parameters.SlotMapping)
	if err != nil {
		return fmt.Errorf("%w: model %s: %v", ErrInvalidConfig, c.Name, err)
	}
	c.Parameters.SlotMapping = string(mapping)

	sb := c.SequenceBatching
	if sb.MaxQueueDelay < 0 || sb.IdleTimeout < 0 || sb.BatchTimeout < 0 {
		return fmt.Errorf("%w: model %s: sequence_batching durations must not be negative", ErrInvalidConfig, c.Name)
	}
	return nil
}

// Blank returns the configured blank symbol. Validate must have succeeded.
func (c ModelConfig) Blank() rune {
	r, _ := utf8.DecodeRuneInString(c.Parameters.BlankID)
	return r
}
