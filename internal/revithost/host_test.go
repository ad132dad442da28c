package revithost

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHost_LifecycleStateMachine(t *testing.T) {
	host := NewHost("127.0.0.1:0")
	assert.Equal(t, StateStopped, host.CurrentState())

	state, err := host.Start()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)

	// Starting a running host is a no-op.
	state, err = host.Start()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)

	state, err = host.Stop()
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)

	// Stopping a stopped host is a no-op.
	state, err = host.Stop()
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)

	// A stopped host can be started again.
	state, err = host.Start()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
	_, err = host.Stop()
	require.NoError(t, err)
}

func TestHost_HealthEndpoint(t *testing.T) {
	host := NewHost("127.0.0.1:0")
	_, err := host.Start()
	require.NoError(t, err)
	defer host.Stop()

	resp, err := http.Get(host.URL() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "running", body["state"])
}

// rpc posts one JSON-RPC request to the host and decodes the envelope.
func rpc(t *testing.T, host *Host, sessionID, method string, params any) rpcResponse {
	t.Helper()

	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, host.URL()+"/rpc", bytes.NewReader(payload))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		httpReq.Header.Set("X-Session-ID", sessionID)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func openSession(t *testing.T, host *Host) string {
	t.Helper()
	resp := rpc(t, host, "", "session/open", nil)
	require.Nil(t, resp.Error)
	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var body struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(result, &body))
	require.NotEmpty(t, body.SessionID)
	return body.SessionID
}

func TestHost_SessionLifecycle(t *testing.T) {
	host := NewHost("127.0.0.1:0")
	_, err := host.Start()
	require.NoError(t, err)
	defer host.Stop()

	sessionID := openSession(t, host)
	assert.Equal(t, 1, host.OpenSessions())
	assert.Equal(t, 0, host.SessionCloses(sessionID))

	resp := rpc(t, host, "", "session/close", map[string]any{"session_id": sessionID})
	assert.Nil(t, resp.Error)
	assert.Equal(t, 0, host.OpenSessions())
	assert.Equal(t, 1, host.SessionCloses(sessionID))

	// A closed session no longer accepts tool calls.
	resp = rpc(t, host, sessionID, "tools/call", map[string]any{"name": "get_status", "arguments": map[string]any{}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeSessionClosed, resp.Error.Code)

	// Closing an unknown session is rejected.
	resp = rpc(t, host, "", "session/close", map[string]any{"session_id": "no-such-session"})
	require.NotNil(t, resp.Error)
}

func TestHost_ToolsList(t *testing.T) {
	host := NewHost("127.0.0.1:0")
	_, err := host.Start()
	require.NoError(t, err)
	defer host.Stop()

	resp := rpc(t, host, "", "tools/list", nil)
	require.Nil(t, resp.Error)

	result, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var body struct {
		Tools []toolSpec `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(result, &body))

	names := make([]string, 0, len(body.Tools))
	for _, tool := range body.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "add_wall")
	assert.Contains(t, names, "add_room")
}

func TestHost_ToolCalls(t *testing.T) {
	host := NewHost("127.0.0.1:0")
	_, err := host.Start()
	require.NoError(t, err)
	defer host.Stop()

	sessionID := openSession(t, host)

	tests := []struct {
		name        string
		tool        string
		arguments   map[string]any
		wantErrCode int
		wantStatus  string
	}{
		{
			name: "wall created",
			tool: "add_wall",
			arguments: map[string]any{
				"start_point": []float64{0, 0, 0},
				"end_point":   []float64{10, 0, 0},
				"height":      3.0,
				"level_name":  "Level 1",
			},
			wantStatus: "success",
		},
		{
			name: "room created",
			tool: "add_room",
			arguments: map[string]any{
				"room_name":       "Living Room",
				"boundary_points": [][]float64{{0, 0}, {5, 0}, {5, 6}, {0, 6}},
				"level_name":      "Level 1",
			},
			wantStatus: "success",
		},
		{
			name: "unknown level reported as execution failure",
			tool: "add_wall",
			arguments: map[string]any{
				"start_point": []float64{0, 0, 0},
				"end_point":   []float64{10, 0, 0},
				"height":      3.0,
				"level_name":  "Level 99",
			},
			wantStatus: "error",
		},
		{
			name:        "unknown tool",
			tool:        "demolish_wall",
			arguments:   map[string]any{},
			wantErrCode: codeMethodNotFound,
		},
		{
			name: "missing required argument",
			tool: "add_wall",
			arguments: map[string]any{
				"start_point": []float64{0, 0, 0},
				"end_point":   []float64{10, 0, 0},
				"height":      3.0,
			},
			wantErrCode: codeInvalidParams,
		},
		{
			name: "wrong argument type",
			tool: "add_wall",
			arguments: map[string]any{
				"start_point": "not-a-point",
				"end_point":   []float64{10, 0, 0},
				"height":      3.0,
				"level_name":  "Level 1",
			},
			wantErrCode: codeInvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpc(t, host, sessionID, "tools/call", map[string]any{
				"name":      tt.tool,
				"arguments": tt.arguments,
			})

			if tt.wantErrCode != 0 {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantErrCode, resp.Error.Code)
				return
			}

			require.Nil(t, resp.Error)
			result, err := json.Marshal(resp.Result)
			require.NoError(t, err)
			var body struct {
				Status    string `json:"status"`
				Message   string `json:"message"`
				ElementID string `json:"element_id"`
			}
			require.NoError(t, json.Unmarshal(result, &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			if tt.wantStatus == "success" {
				assert.NotEmpty(t, body.ElementID)
			}
		})
	}

	assert.Equal(t, 1, host.Doc().CountByCategory(CategoryWall))
	assert.Equal(t, 1, host.Doc().CountByCategory(CategoryRoom))
}

func TestDocument_Mutations(t *testing.T) {
	doc := NewDocument()

	id, err := doc.CreateWall([]float64{0, 0, 0}, []float64{4, 0, 0}, 2.4, "Level 1")
	require.NoError(t, err)
	assert.Equal(t, "100001", id)

	id, err = doc.CreateRoom("Kitchen", [][]float64{{0, 0}, {3, 0}, {3, 2}, {0, 2}}, "Level 1")
	require.NoError(t, err)
	assert.Equal(t, "100002", id)

	_, err = doc.CreateWall([]float64{1, 1, 0}, []float64{1, 1, 0}, 2.4, "Level 1")
	assert.ErrorContains(t, err, "degenerate")

	_, err = doc.CreateWall([]float64{0, 0, 0}, []float64{4, 0, 0}, 0, "Level 1")
	assert.ErrorContains(t, err, "height")

	_, err = doc.CreateRoom("Closet", nil, "Level 1")
	assert.ErrorContains(t, err, "No boundary points")

	_, err = doc.CreateRoom("Attic Room", [][]float64{{0, 0}, {1, 0}, {1, 1}}, "Attic")
	assert.ErrorContains(t, err, "Level 'Attic' not found")

	// Failed mutations leave the document untouched.
	elements := doc.Elements()
	require.Len(t, elements, 2)
	assert.Equal(t, CategoryWall, elements[0].Category)
	assert.Equal(t, CategoryRoom, elements[1].Category)
}
