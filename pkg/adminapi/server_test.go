package adminapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/redwire/internal/xjson"
	"github.com/wehubfusion/redwire/pkg/nodes/common"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

const testFlows = `[
	{"id": "0000000000000001", "type": "tab", "label": "Main"},
	{"id": "0000000000000002", "type": "inject", "z": "0000000000000001",
	 "props": [{"p": "payload", "v": "42", "vt": "num"}],
	 "wires": [["0000000000000003"]]},
	{"id": "0000000000000003", "type": "test-once", "z": "0000000000000001", "wires": []}
]`

func setupTestServer(t *testing.T) (*Server, *runtime.Engine) {
	t.Helper()
	reg := runtime.NewRegistry()
	require.NoError(t, common.Register(reg))

	engine, err := runtime.NewEngineFromJSON(reg, []byte(testFlows))
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Stop(ctx)
	})
	return NewServer(engine, nil), engine
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, xjson.Unmarshal(data, &out))
	return out
}

func recvFinal(t *testing.T, engine *runtime.Engine) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := engine.RecvFinalMsg(ctx)
	require.NoError(t, err)
	return msg.ToMap()
}

func TestListFlows(t *testing.T) {
	s, _ := setupTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/flows", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	flows, ok := body["flows"].([]any)
	require.True(t, ok)
	require.Len(t, flows, 1)
	flow := flows[0].(map[string]any)
	assert.Equal(t, "0000000000000001", flow["id"])
	assert.Equal(t, "Main", flow["label"])
	assert.Equal(t, float64(2), flow["nodes"])
}

func TestListFlowNodes(t *testing.T) {
	s, _ := setupTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/flows/0000000000000001/nodes", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	nodes := decodeBody(t, resp)["nodes"].([]any)
	assert.Len(t, nodes, 2)

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/flows/00000000000000ff/nodes", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/flows/not-an-id/nodes", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInjectMessage(t *testing.T) {
	s, engine := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/inject/0000000000000003",
		strings.NewReader(`{"payload": "hello", "topic": "greeting"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	msg := recvFinal(t, engine)
	assert.Equal(t, "hello", msg["payload"])
	assert.Equal(t, "greeting", msg["topic"])
}

func TestInjectTrigger(t *testing.T) {
	s, engine := setupTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodPost, "/inject/0000000000000002", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	msg := recvFinal(t, engine)
	assert.Equal(t, float64(42), msg["payload"])
}

func TestInjectErrors(t *testing.T) {
	s, _ := setupTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown node", "/inject/00000000000000ff", `{"payload": 1}`, http.StatusNotFound},
		{"bad id", "/inject/xyz", `{"payload": 1}`, http.StatusBadRequest},
		{"not an object", "/inject/0000000000000003", `[1, 2]`, http.StatusBadRequest},
		{"not triggerable", "/inject/0000000000000003", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			resp, err := s.App().Test(httptest.NewRequest(http.MethodPost, tt.path, body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestTypes(t *testing.T) {
	s, _ := setupTestServer(t)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/types", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	types := decodeBody(t, resp)["types"].([]any)
	assert.Contains(t, types, "inject")
}
