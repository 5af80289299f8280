package backend

import "fmt"

// Control tensor and request parameter names of the sequence protocol.
const (
	InputStart  = "START"
	InputReady  = "READY"
	InputEnd    = "END"
	InputCorrID = "CORRID"

	ParamSequenceStart = "sequence_start"
	ParamSequenceEnd   = "sequence_end"
	ParamSequenceID    = "sequence_id"
)

// InferenceRequest is one inbound request. A request may carry several items
// when its inputs have a leading batch dimension.
type InferenceRequest struct {
	ID         string         `json:"id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Inputs     []Tensor       `json:"inputs"`
}

// InferenceResponse answers exactly one InferenceRequest.
type InferenceResponse struct {
	ID        string   `json:"id,omitempty"`
	ModelName string   `json:"model_name"`
	Outputs   []Tensor `json:"outputs,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Failed reports whether the response carries an error.
func (r *InferenceResponse) Failed() bool {
	return r.Error != ""
}

// Input returns the named input tensor.
func (r *InferenceRequest) Input(name string) (*Tensor, bool) {
	for i := range r.Inputs {
		if r.Inputs[i].Name == name {
			return &r.Inputs[i], true
		}
	}
	return nil, false
}

func (r *InferenceRequest) mustInput(name string) (*Tensor, error) {
	t, ok := r.Input(name)
	if !ok {
		return nil, newInputError(fmt.Sprintf("missing input %s", name))
	}
	return t, nil
}

// BatchSize is the number of items the request contributes to a batch. It
// counts the elements of INPUT0, so it never exceeds what the client sent.
func (r *InferenceRequest) BatchSize() int {
	if t, ok := r.Input(InputPayload); ok && len(t.Data) > 0 {
		return len(t.Data)
	}
	return 1
}

// items validates the payload tensor and returns the request's item count,
// which must lie in [1, limit].
func (r *InferenceRequest) items(limit int) (int, error) {
	t, err := r.mustInput(InputPayload)
	if err != nil {
		return 0, err
	}
	if err := t.checkShape(); err != nil {
		return 0, err
	}
	n := len(t.Data)
	switch {
	case n == 0:
		return 0, newInputError(fmt.Sprintf("%s: no elements", t.Name))
	case n > limit:
		return 0, newInputError(fmt.Sprintf("%s: %d items exceed max_batch_size %d", t.Name, n, limit))
	}
	return n, nil
}

// control is the per-item sequence lifecycle information.
type control struct {
	corrID string
	start  bool
	ready  bool
	end    bool
}

// controls extracts n per-item control records. Control tensors win over
// request parameters; a one-element tensor is broadcast to every item.
func (r *InferenceRequest) controls(n int) ([]control, error) {
	start, err := r.flag(InputStart, ParamSequenceStart, false, n)
	if err != nil {
		return nil, err
	}
	end, err := r.flag(InputEnd, ParamSequenceEnd, false, n)
	if err != nil {
		return nil, err
	}
	ready, err := r.flag(InputReady, "", true, n)
	if err != nil {
		return nil, err
	}
	ids, err := r.correlation(n)
	if err != nil {
		return nil, err
	}
	out := make([]control, n)
	for i := range out {
		out[i] = control{corrID: ids[i], start: start[i], ready: ready[i], end: end[i]}
	}
	return out, nil
}

func (r *InferenceRequest) flag(input, param string, def bool, n int) ([]bool, error) {
	if t, ok := r.Input(input); ok {
		vals, err := t.Bools()
		if err != nil {
			return nil, err
		}
		return broadcast(input, vals, n)
	}
	v := def
	if raw, ok := r.Parameters[param]; ok && param != "" {
		b, ok := toBool(raw)
		if !ok {
			return nil, newInputError(fmt.Sprintf("parameter %s: expected bool, got %v", param, raw))
		}
		v = b
	}
	return broadcast(input, []bool{v}, n)
}

func (r *InferenceRequest) correlation(n int) ([]string, error) {
	if t, ok := r.Input(InputCorrID); ok {
		ids, err := t.Keys()
		if err != nil {
			return nil, err
		}
		return broadcast(InputCorrID, ids, n)
	}
	id := ""
	if raw, ok := r.Parameters[ParamSequenceID]; ok {
		k, ok := toKey(raw)
		if !ok {
			return nil, newInputError(fmt.Sprintf("parameter %s: expected integer or string, got %v", ParamSequenceID, raw))
		}
		id = k
	}
	return broadcast(InputCorrID, []string{id}, n)
}

func broadcast[T any](name string, vals []T, n int) ([]T, error) {
	switch len(vals) {
	case n:
		return vals, nil
	case 1:
		out := make([]T, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	default:
		return nil, newInputError(fmt.Sprintf("%s: expected 1 or %d elements, got %d", name, n, len(vals)))
	}
}
