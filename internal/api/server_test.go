package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/seqstate/internal/backend"
	"github.com/samcharles93/seqstate/internal/logger"
)

// testModels serves real models without batching.
type testModels struct {
	mu     sync.Mutex
	models map[string]backend.Model
	down   map[string]bool
}

func (m *testModels) List() []string {
	names := make([]string, 0, len(m.models))
	for name := range m.models {
		names = append(names, name)
	}
	return names
}

func (m *testModels) Ready(name string) bool {
	_, ok := m.models[name]
	return ok && !m.down[name]
}

func (m *testModels) Metadata(name string) (backend.ModelMetadata, error) {
	model, ok := m.models[name]
	if !ok {
		return backend.ModelMetadata{}, fmt.Errorf("%w: %s", backend.ErrModelNotFound, name)
	}
	return model.Metadata(), nil
}

func (m *testModels) Submit(ctx context.Context, name string, req *backend.InferenceRequest) (*backend.InferenceResponse, error) {
	model, ok := m.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrModelNotFound, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.Execute(ctx, []*backend.InferenceRequest{req})[0], nil
}

func newTestModels(t *testing.T) *testModels {
	t.Helper()
	acc := backend.NewAccumulator()
	require.NoError(t, acc.Initialize(backend.ModelConfig{
		Name:         "acc",
		Backend:      backend.Accumulator,
		MaxBatchSize: 2,
		Output:       backend.OutputConfig{DataType: "TYPE_INT64"},
	}))
	ctc := backend.NewCTCDecoder()
	require.NoError(t, ctc.Initialize(backend.ModelConfig{
		Name:    "ctc",
		Backend: backend.CTCDecode,
		Output:  backend.OutputConfig{DataType: "TYPE_STRING"},
	}))
	return &testModels{
		models: map[string]backend.Model{"acc": acc, "ctc": ctc},
		down:   map[string]bool{},
	}
}

func newTestEcho(t *testing.T, models Models) *echo.Echo {
	t.Helper()
	e := echo.New()
	NewServer(models, logger.Discard()).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func accBody(id string, corrID uint64, op string, operand int64, start bool) string {
	return fmt.Sprintf(`{"id":%q,"inputs":[
		{"name":"INPUT0","datatype":"BYTES","shape":[1,1],"data":[%q]},
		{"name":"INPUT1","datatype":"INT64","shape":[1,1],"data":[%d]},
		{"name":"START","datatype":"BOOL","shape":[1,1],"data":[%t]},
		{"name":"CORRID","datatype":"UINT64","shape":[1,1],"data":[%d]}]}`, id, op, operand, start, corrID)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	models := newTestModels(t)
	e := newTestEcho(t, models)

	rec := doJSON(t, e, http.MethodGet, "/v2/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"live":true}`, rec.Body.String())

	rec = doJSON(t, e, http.MethodGet, "/v2/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ready":true}`, rec.Body.String())

	models.down["ctc"] = true
	rec = doJSON(t, e, http.MethodGet, "/v2/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ready":false}`, rec.Body.String())

	rec = doJSON(t, e, http.MethodGet, "/v2/models/ctc/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = doJSON(t, e, http.MethodGet, "/v2/models/acc/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAndMetadata(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, newTestModels(t))

	rec := doJSON(t, e, http.MethodGet, "/v2/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[modelList](t, rec)
	assert.ElementsMatch(t, []modelEntry{
		{Name: "acc", Backend: backend.Accumulator, State: "READY"},
		{Name: "ctc", Backend: backend.CTCDecode, State: "READY"},
	}, list.Models)

	rec = doJSON(t, e, http.MethodGet, "/v2/models/acc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	md := decodeBody[backend.ModelMetadata](t, rec)
	assert.Equal(t, "acc", md.Name)
	assert.Equal(t, 2, md.MaxBatchSize)
	assert.Equal(t, 2, md.Sequences.Slots)

	rec = doJSON(t, e, http.MethodGet, "/v2/models/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error, "model not found")
}

func TestInferSequence(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, newTestModels(t))

	steps := []struct {
		op    string
		v     int64
		start bool
		want  float64
	}{
		{"+", 3, true, 3},
		{"-", 2, false, 1},
		{"+", 9, false, 10},
	}
	for i, step := range steps {
		rec := doJSON(t, e, http.MethodPost, "/v2/models/acc/infer", accBody(fmt.Sprint(i), 18446744073709551615, step.op, step.v, step.start))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decodeBody[backend.InferenceResponse](t, rec)
		assert.Equal(t, fmt.Sprint(i), resp.ID)
		assert.Equal(t, "acc", resp.ModelName)
		require.Len(t, resp.Outputs, 1)
		assert.Equal(t, backend.OutputName, resp.Outputs[0].Name)
		assert.Equal(t, backend.TypeInt64, resp.Outputs[0].Datatype)
		assert.Equal(t, []any{step.want}, resp.Outputs[0].Data)
	}
}

func TestInferParametersAndGeneratedID(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, newTestModels(t))
	body := `{"inputs":[{"name":"INPUT0","datatype":"BYTES","shape":[1],"data":["--cc-aa-t"]}],
		"parameters":{"sequence_id":"s1","sequence_start":true}}`

	rec := doJSON(t, e, http.MethodPost, "/v2/models/ctc/infer", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[backend.InferenceResponse](t, rec)
	assert.Len(t, resp.ID, 36)
	assert.Equal(t, []any{"cat"}, resp.Outputs[0].Data)
}

func TestInferErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, newTestModels(t))

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		want   string
	}{
		{"bad json", "/v2/models/acc/infer", `{"inputs":`, http.StatusBadRequest, "invalid request body"},
		{"unknown model", "/v2/models/nope/infer", accBody("x", 1, "+", 1, true), http.StatusNotFound, "model not found"},
		{"unknown operator", "/v2/models/acc/infer", accBody("x", 2, "*", 1, true), http.StatusBadRequest, "unknown operator"},
		{"no start", "/v2/models/acc/infer", accBody("x", 3, "+", 1, false), http.StatusBadRequest, "unknown sequence"},
		{"missing input", "/v2/models/acc/infer", `{"inputs":[{"name":"INPUT0","datatype":"BYTES","data":["+"]}],"parameters":{"sequence_id":4,"sequence_start":true}}`, http.StatusBadRequest, "missing input INPUT1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, e, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error, tt.want)
		})
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestEcho(t, newTestModels(t)))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v2/models/acc/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	roundTrip := func(frame string) backend.InferenceResponse {
		t.Helper()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var resp backend.InferenceResponse
		require.NoError(t, json.Unmarshal(data, &resp))
		return resp
	}

	resp := roundTrip(accBody("a", 7, "+", 5, true))
	assert.Empty(t, resp.Error)
	assert.Equal(t, []any{float64(5)}, resp.Outputs[0].Data)

	resp = roundTrip(`not json`)
	assert.Contains(t, resp.Error, "invalid request body")

	resp = roundTrip(accBody("b", 7, "-", 8, false))
	assert.Equal(t, "b", resp.ID)
	assert.Equal(t, []any{float64(-3)}, resp.Outputs[0].Data)
}

func TestStreamUnknownModel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestEcho(t, newTestModels(t)))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v2/models/nope/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
