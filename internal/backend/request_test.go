package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  InferenceRequest
		want int
	}{
		{"no inputs", InferenceRequest{}, 1},
		{"shape", InferenceRequest{Inputs: []Tensor{{Name: InputPayload, Shape: []int64{3, 1}, Data: []any{"a", "b", "c"}}}}, 3},
		{"no shape", InferenceRequest{Inputs: []Tensor{{Name: InputPayload, Data: []any{"a", "b"}}}}, 2},
		{"empty data", InferenceRequest{Inputs: []Tensor{{Name: InputPayload}}}, 1},
		{"payload not first", InferenceRequest{Inputs: []Tensor{
			{Name: InputStart, Shape: []int64{1, 1}, Data: []any{true}},
			{Name: InputPayload, Shape: []int64{2, 1}, Data: []any{"a", "b"}},
		}}, 2},
		{"shape ignored", InferenceRequest{Inputs: []Tensor{{Name: InputPayload, Shape: []int64{1 << 62, 1}, Data: []any{"a"}}}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.BatchSize())
		})
	}
}

func TestItems(t *testing.T) {
	t.Parallel()

	payload := func(shape []int64, data ...any) InferenceRequest {
		return InferenceRequest{Inputs: []Tensor{{Name: InputPayload, Shape: shape, Data: data}}}
	}
	tests := []struct {
		name    string
		req     InferenceRequest
		want    int
		wantErr bool
	}{
		{"matching shape", payload([]int64{2, 1}, "a", "b"), 2, false},
		{"no shape", payload(nil, "a", "b", "c"), 3, false},
		{"at limit", payload([]int64{4, 1}, "a", "b", "c", "d"), 4, false},
		{"missing payload", InferenceRequest{Inputs: []Tensor{{Name: InputStart, Data: []any{true}}}}, 0, true},
		{"huge leading dimension", payload([]int64{1 << 62, 1}, "a"), 0, true},
		{"shape product overflows", payload([]int64{1 << 62, 4}, "a"), 0, true},
		{"negative dimension", payload([]int64{-1, 1}, "a"), 0, true},
		{"empty", payload([]int64{0}), 0, true},
		{"over limit", payload(nil, "a", "b", "c", "d", "e"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.req.items(4)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestControlsFromTensors(t *testing.T) {
	t.Parallel()

	req := InferenceRequest{Inputs: []Tensor{
		{Name: InputStart, Datatype: TypeBool, Shape: []int64{1}, Data: []any{true}},
		{Name: InputReady, Datatype: TypeInt32, Shape: []int64{2, 1}, Data: []any{1, 0}},
		{Name: InputEnd, Datatype: TypeBool, Data: []any{false, true}},
		{Name: InputCorrID, Datatype: TypeUint64, Data: []any{uint64(42)}},
	}}

	got, err := req.controls(2)
	require.NoError(t, err)
	assert.Equal(t, []control{
		{corrID: "42", start: true, ready: true, end: false},
		{corrID: "42", start: true, ready: false, end: true},
	}, got)
}

func TestControlsFromParameters(t *testing.T) {
	t.Parallel()

	req := InferenceRequest{Parameters: map[string]any{
		ParamSequenceStart: true,
		ParamSequenceEnd:   false,
		ParamSequenceID:    json.Number("7"),
	}}

	got, err := req.controls(1)
	require.NoError(t, err)
	assert.Equal(t, []control{{corrID: "7", start: true, ready: true}}, got)

	req.Parameters[ParamSequenceID] = "session-a"
	got, err = req.controls(1)
	require.NoError(t, err)
	assert.Equal(t, "session-a", got[0].corrID)
}

func TestControlsDefaults(t *testing.T) {
	t.Parallel()

	got, err := (&InferenceRequest{}).controls(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.Equal(t, control{ready: true}, c)
	}
}

func TestControlsMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  InferenceRequest
	}{
		{"wrong length", InferenceRequest{Inputs: []Tensor{{Name: InputStart, Data: []any{true, false}}}}},
		{"not a bool", InferenceRequest{Inputs: []Tensor{{Name: InputEnd, Data: []any{"yes", "no", "no"}}}}},
		{"shape mismatch", InferenceRequest{Inputs: []Tensor{{Name: InputReady, Shape: []int64{2}, Data: []any{true}}}}},
		{"negative corrid", InferenceRequest{Inputs: []Tensor{{Name: InputCorrID, Data: []any{-1}}}}},
		{"bad parameter", InferenceRequest{Parameters: map[string]any{ParamSequenceStart: "maybe"}}},
		{"bad sequence id", InferenceRequest{Parameters: map[string]any{ParamSequenceID: 1.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.controls(3)
			require.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestTensorAccessors(t *testing.T) {
	t.Parallel()

	ints := Tensor{Name: "x", Data: []any{float64(3), json.Number("-4"), int64(5)}}
	got, err := ints.Int64s()
	require.NoError(t, err)
	assert.Equal(t, []int64{3, -4, 5}, got)

	_, err = (&Tensor{Name: "x", Data: []any{2.5}}).Int64s()
	require.ErrorIs(t, err, ErrMalformedInput)

	_, err = (&Tensor{Name: "x", Data: []any{1}}).Strings()
	require.ErrorIs(t, err, ErrMalformedInput)

	keys, err := (&Tensor{Name: "id", Data: []any{"abc", float64(9), json.Number("18446744073709551615")}}).Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "9", "18446744073709551615"}, keys)
}

func TestNormalizeDatatype(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"INT64":       TypeInt64,
		"TYPE_INT32":  TypeInt32,
		"type_string": TypeBytes,
		" BYTES ":     TypeBytes,
	} {
		got, err := NormalizeDatatype(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := NormalizeDatatype("COMPLEX64")
	require.Error(t, err)
}

func TestEncodeInt(t *testing.T) {
	t.Parallel()

	v, err := encodeInt(-6, TypeInt32)
	require.NoError(t, err)
	assert.Equal(t, int32(-6), v)

	v, err = encodeInt(12, TypeBytes)
	require.NoError(t, err)
	assert.Equal(t, "12", v)

	_, err = encodeInt(1<<40, TypeInt32)
	require.Error(t, err)

	_, err = encodeInt(1, TypeBool)
	require.Error(t, err)
}
