package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/seqstate/internal/logger"
	"github.com/samcharles93/seqstate/internal/sequence"
)

// Payload and output tensor names.
const (
	InputPayload = "INPUT0"
	InputOperand = "INPUT1"
	OutputName   = "OUTPUT0"
)

// Codec converts between protocol tensors and one algorithm's payload and
// output types.
type Codec[P, O any] struct {
	// Inputs describes the payload tensors, excluding the control tensors.
	Inputs []TensorMetadata
	// OutputTypes lists the datatypes Encode supports.
	OutputTypes []string
	// Payloads decodes n payloads from a request.
	Payloads func(req *InferenceRequest, n int) ([]P, error)
	Encode   func(out O, datatype string) (any, error)
}

// ModelMetadata describes a loaded model.
type ModelMetadata struct {
	Name         string             `json:"name"`
	Backend      string             `json:"platform"`
	MaxBatchSize int                `json:"max_batch_size"`
	Inputs       []TensorMetadata   `json:"inputs"`
	Outputs      []TensorMetadata   `json:"outputs"`
	Sequences    sequence.Occupancy `json:"sequences"`
	Stats        Stats              `json:"stats"`
}

// SequenceModel is a Model that runs one sequence algorithm over a slot table.
type SequenceModel[S, P, O any] struct {
	backend   string
	algorithm func(cfg ModelConfig) sequence.Algorithm[S, P, O]
	codec     Codec[P, O]

	// mu serializes Execute so that two batches never share a slot.
	mu         sync.Mutex
	cfg        ModelConfig
	dispatcher *sequence.Dispatcher[S, P, O]
	stats      counters
}

func NewSequenceModel[S, P, O any](backend string, algorithm func(cfg ModelConfig) sequence.Algorithm[S, P, O], codec Codec[P, O]) *SequenceModel[S, P, O] {
	return &SequenceModel[S, P, O]{backend: backend, algorithm: algorithm, codec: codec}
}

func (m *SequenceModel[S, P, O]) Initialize(cfg ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Backend != m.backend {
		return fmt.Errorf("%w: model %s: backend %q cannot serve %q", ErrInvalidConfig, cfg.Name, m.backend, cfg.Backend)
	}
	if !slices.Contains(m.codec.OutputTypes, cfg.Output.DataType) {
		return fmt.Errorf("%w: model %s: output data_type %s not supported by %s", ErrInvalidConfig, cfg.Name, cfg.Output.DataType, m.backend)
	}

	table := sequence.NewTable(cfg.MaxBatchSize, m.algorithm(cfg), sequence.Mapping(cfg.Parameters.SlotMapping))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.dispatcher = sequence.NewDispatcher(table)
	return nil
}

func (m *SequenceModel[S, P, O]) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatcher = nil
	return nil
}

// span locates one request's items in the flattened batch.
type span struct {
	first, n int
}

func (m *SequenceModel[S, P, O]) Execute(ctx context.Context, requests []*InferenceRequest) []*InferenceResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	responses := make([]*InferenceResponse, len(requests))
	for i, req := range requests {
		responses[i] = &InferenceResponse{ID: req.ID, ModelName: m.cfg.Name}
	}
	if m.dispatcher == nil {
		for _, resp := range responses {
			resp.Error = ErrNotInitialized.Error()
		}
		return responses
	}

	log := logger.FromContext(ctx).With("model", m.cfg.Name)
	if stale := m.dispatcher.Table().Reap(m.cfg.SequenceBatching.IdleTimeout); len(stale) > 0 {
		log.Warn("released idle sequences", "sequences", stale)
	}
	if timeout := m.cfg.SequenceBatching.BatchTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tuples, spans := m.flatten(requests, responses)
	results := m.dispatcher.Dispatch(ctx, tuples)
	m.respond(responses, spans, results)

	m.stats.batches.Add(1)
	m.stats.requests.Add(uint64(len(requests)))
	m.stats.items.Add(uint64(len(tuples)))
	for _, resp := range responses {
		if resp.Failed() {
			m.stats.failedRequests.Add(1)
		}
	}
	log.Debug("executed batch", "requests", len(requests), "items", len(tuples))
	return responses
}

// flatten turns requests into tuples. A request that fails to decode gets its
// error set and contributes no tuples.
func (m *SequenceModel[S, P, O]) flatten(requests []*InferenceRequest, responses []*InferenceResponse) ([]sequence.Tuple[P], []span) {
	spans := make([]span, len(requests))
	var tuples []sequence.Tuple[P]
	for i, req := range requests {
		n, err := req.items(m.cfg.MaxBatchSize)
		if err != nil {
			responses[i].Error = err.Error()
			continue
		}
		ctrls, err := req.controls(n)
		if err != nil {
			responses[i].Error = err.Error()
			continue
		}
		payloads, err := m.codec.Payloads(req, n)
		if err != nil {
			responses[i].Error = err.Error()
			continue
		}
		spans[i] = span{first: len(tuples), n: n}
		for j, c := range ctrls {
			tuples = append(tuples, sequence.Tuple[P]{
				CorrID:  c.corrID,
				Payload: payloads[j],
				Start:   c.start,
				Ready:   c.ready,
				End:     c.end,
			})
		}
	}
	return tuples, spans
}

// respond wraps each request's outputs into one [n,1] tensor.
func (m *SequenceModel[S, P, O]) respond(responses []*InferenceResponse, spans []span, results []sequence.Result[O]) {
	datatype := m.cfg.Output.DataType
	for i, sp := range spans {
		resp := responses[i]
		if resp.Failed() {
			continue
		}
		data := make([]any, sp.n)
		var errs []error
		for j := range sp.n {
			r := results[sp.first+j]
			if err, failed := r.GetLeft(); failed {
				m.stats.failedItems.Add(1)
				errs = append(errs, itemError(j, sp.n, err))
				continue
			}
			out, _ := r.GetRight()
			v, err := m.codec.Encode(out, datatype)
			if err != nil {
				errs = append(errs, itemError(j, sp.n, err))
				continue
			}
			data[j] = v
		}
		if len(errs) > 0 {
			resp.Error = errors.Join(errs...).Error()
			continue
		}
		resp.Outputs = []Tensor{{
			Name:     m.cfg.Output.Name,
			Datatype: datatype,
			Shape:    []int64{int64(sp.n), 1},
			Data:     data,
		}}
	}
}

func itemError(i, n int, err error) error {
	if n == 1 {
		return err
	}
	return fmt.Errorf("item %d: %w", i, err)
}

func (m *SequenceModel[S, P, O]) Metadata() ModelMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	md := ModelMetadata{
		Name:         m.cfg.Name,
		Backend:      m.backend,
		MaxBatchSize: m.cfg.MaxBatchSize,
		Inputs:       append(slices.Clone(m.codec.Inputs), controlInputs...),
		Outputs: []TensorMetadata{{
			Name:     m.cfg.Output.Name,
			Datatype: m.cfg.Output.DataType,
			Shape:    []int64{-1, 1},
		}},
		Stats: m.stats.snapshot(),
	}
	if m.dispatcher != nil {
		md.Sequences = m.dispatcher.Table().Occupancy()
	}
	return md
}

var controlInputs = []TensorMetadata{
	{Name: InputStart, Datatype: TypeBool, Shape: []int64{-1, 1}},
	{Name: InputReady, Datatype: TypeBool, Shape: []int64{-1, 1}},
	{Name: InputEnd, Datatype: TypeBool, Shape: []int64{-1, 1}},
	{Name: InputCorrID, Datatype: TypeUint64, Shape: []int64{-1, 1}},
}

// payloadCount checks that a payload tensor carries one element per item.
func payloadCount(t *Tensor, n int) error {
	if t.Len() != n {
		return newInputError(fmt.Sprintf("%s: expected %d elements, got %d", t.Name, n, t.Len()))
	}
	return nil
}
