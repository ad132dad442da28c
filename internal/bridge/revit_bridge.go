package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftforge/revit-design-orchestrator/internal/models"
)

// ConnectionError means the bridge could not open a session to the tool
// host or could not parse its catalog. It is fatal for the run.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to tool host at %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolSpec describes one tool declared by the host catalog.
type ToolSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required"`
}

// ToolCatalog is the set of tools the host declared at connect time.
type ToolCatalog struct {
	Tools map[string]ToolSpec
}

// Has reports whether a tool name is present in the catalog.
func (c *ToolCatalog) Has(name string) bool {
	_, ok := c.Tools[name]
	return ok
}

// Tool names the bridge dispatches. They must match the host's declared
// names exactly (case-sensitive).
const (
	ToolAddWall   = "add_wall"
	ToolAddRoom   = "add_room"
	ToolGetStatus = "get_status"
)

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes the host uses for per-call failures.
const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// toolCallParams is the params payload for tools/call.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// toolCallResult is the host's per-call result payload.
type toolCallResult struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ElementID string `json:"element_id,omitempty"`
}

// catalogResult is the host's tools/list result payload.
type catalogResult struct {
	Tools []ToolSpec `json:"tools"`
}

// sessionResult is the host's session/open result payload.
type sessionResult struct {
	SessionID string `json:"session_id"`
}

// RevitBridge owns one session to a Revit tool host and translates an
// approved DesignPlan into an ordered sequence of tool calls. One
// bridge serves one run; sessions are never pooled across runs.
type RevitBridge struct {
	endpoint    string
	httpClient  *http.Client
	callTimeout time.Duration
	tracer      trace.Tracer
	breaker     *gobreaker.CircuitBreaker

	mu        sync.Mutex
	sessionID string
	catalog   *ToolCatalog
	nextID    int64
	closed    bool
	observer  func(models.ToolCallOutcome)
}

// DefaultEndpoint resolves the tool host endpoint from the environment.
func DefaultEndpoint() string {
	endpoint := os.Getenv("REVIT_MCP_URL")
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8765"
		log.Printf(`{"level":"warn","message":"REVIT_MCP_URL not set, defaulting","endpoint":"%s"}`, endpoint)
	}
	return endpoint
}

// NewRevitBridge creates a bridge for one run. Connect must be called
// before Dispatch.
func NewRevitBridge() *RevitBridge {
	settings := gobreaker.Settings{
		Name:        "revit-tool-host",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf(`{"level":"warn","message":"Circuit breaker state change","breaker":"%s","from":"%s","to":"%s"}`, name, from, to)
		},
	}

	return &RevitBridge{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		callTimeout: 20 * time.Second,
		tracer:      otel.Tracer("revit-bridge"),
		breaker:     gobreaker.NewCircuitBreaker(settings),
		nextID:      1,
	}
}

// SetCallTimeout overrides the per-call timeout (mainly for tests).
func (b *RevitBridge) SetCallTimeout(d time.Duration) {
	b.callTimeout = d
}

// OnOutcome registers a callback that receives each tool call outcome
// as it is recorded during Dispatch.
func (b *RevitBridge) OnOutcome(fn func(models.ToolCallOutcome)) {
	b.mu.Lock()
	b.observer = fn
	b.mu.Unlock()
}

// Connect opens a session to the host at endpoint and retrieves the
// declared tool catalog. An unreachable endpoint or an unparsable
// catalog yields a ConnectionError.
func (b *RevitBridge) Connect(ctx context.Context, endpoint string) (*ToolCatalog, error) {
	ctx, span := b.tracer.Start(ctx, "revit_bridge.connect")
	defer span.End()
	span.SetAttributes(attribute.String("endpoint", endpoint))

	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.connectInternal(ctx, endpoint)
	})
	if err != nil {
		span.RecordError(err)
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	catalog := result.(*ToolCatalog)
	span.SetAttributes(attribute.Int("catalog.tools", len(catalog.Tools)))
	return catalog, nil
}

func (b *RevitBridge) connectInternal(ctx context.Context, endpoint string) (*ToolCatalog, error) {
	b.mu.Lock()
	b.endpoint = endpoint
	b.closed = false
	b.mu.Unlock()

	var opened sessionResult
	if err := b.call(ctx, "session/open", nil, &opened); err != nil {
		return nil, err
	}

	var listed catalogResult
	if err := b.call(ctx, "tools/list", nil, &listed); err != nil {
		// The session is already open on the host; release it before
		// reporting the failed handshake or it leaks.
		b.releaseSession(opened.SessionID)
		return nil, fmt.Errorf("failed to retrieve tool catalog: %w", err)
	}

	catalog := &ToolCatalog{Tools: make(map[string]ToolSpec, len(listed.Tools))}
	for _, tool := range listed.Tools {
		catalog.Tools[tool.Name] = tool
	}

	b.mu.Lock()
	b.sessionID = opened.SessionID
	b.catalog = catalog
	b.mu.Unlock()

	log.Printf(`{"level":"info","message":"Connected to tool host","endpoint":"%s","session_id":"%s","tools":%d}`,
		endpoint, opened.SessionID, len(catalog.Tools))
	return catalog, nil
}

// HostStatus asks the host whether its model document is available.
// It is a protocol-level probe, not a plan mutation, so it bypasses the
// catalog gate and never appears in a run report.
func (b *RevitBridge) HostStatus(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	var result toolCallResult
	if err := b.call(ctx, "tools/call", toolCallParams{Name: ToolGetStatus}, &result); err != nil {
		return "", err
	}
	if result.Status != "success" {
		return "", fmt.Errorf("host reported: %s", result.Message)
	}
	return result.Message, nil
}

// Dispatch translates plan into tool calls and invokes each in order:
// all walls in stored order, then all rooms in stored order. Every
// call's outcome is recorded; a single failure never aborts the rest of
// the sequence. The returned report is the authoritative record of
// which mutations the host holds.
func (b *RevitBridge) Dispatch(ctx context.Context, plan *models.DesignPlan) *models.RunReport {
	ctx, span := b.tracer.Start(ctx, "revit_bridge.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("plan.walls", len(plan.Walls)),
		attribute.Int("plan.rooms", len(plan.Rooms)),
	)

	report := &models.RunReport{}

	for _, wall := range plan.Walls {
		call := models.ToolCall{
			Tool: ToolAddWall,
			Arguments: map[string]any{
				"start_point": []float64{wall.StartPoint.X, wall.StartPoint.Y, wall.StartPoint.Z},
				"end_point":   []float64{wall.EndPoint.X, wall.EndPoint.Y, wall.EndPoint.Z},
				"height":      wall.Height,
				"level_name":  wall.LevelName,
			},
		}
		b.record(report, b.invoke(ctx, call))
	}

	for _, room := range plan.Rooms {
		// Boundary recomputed immediately before the call, never cached.
		call := models.ToolCall{
			Tool: ToolAddRoom,
			Arguments: map[string]any{
				"room_name":       room.Name,
				"boundary_points": room.BoundaryPoints(),
				"level_name":      room.LevelName,
			},
		}
		b.record(report, b.invoke(ctx, call))
	}

	span.SetAttributes(
		attribute.Int("report.succeeded", report.Succeeded()),
		attribute.Int("report.failed", report.Failed()),
	)
	return report
}

func (b *RevitBridge) record(report *models.RunReport, outcome models.ToolCallOutcome) {
	report.Append(outcome)
	b.mu.Lock()
	observer := b.observer
	b.mu.Unlock()
	if observer != nil {
		observer(outcome)
	}
}

// invoke performs one tool call against the open session, classifying
// any failure into the per-call error taxonomy.
func (b *RevitBridge) invoke(ctx context.Context, call models.ToolCall) models.ToolCallOutcome {
	ctx, span := b.tracer.Start(ctx, "revit_bridge.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("tool", call.Tool))

	b.mu.Lock()
	catalog := b.catalog
	b.mu.Unlock()

	if catalog == nil || !catalog.Has(call.Tool) {
		return models.ToolCallOutcome{
			Tool:      call.Tool,
			Status:    models.CallStatusError,
			ErrorKind: models.CallErrToolNotFound,
			Message:   fmt.Sprintf("tool %q not declared by host catalog", call.Tool),
		}
	}

	if missing := missingArguments(catalog.Tools[call.Tool], call.Arguments); len(missing) > 0 {
		return models.ToolCallOutcome{
			Tool:      call.Tool,
			Status:    models.CallStatusError,
			ErrorKind: models.CallErrInvalidArguments,
			Message:   fmt.Sprintf("missing required arguments: %v", missing),
		}
	}

	// A hung call must not block the run indefinitely.
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	var result toolCallResult
	err := b.call(callCtx, "tools/call", toolCallParams{Name: call.Tool, Arguments: call.Arguments}, &result)
	if err != nil {
		if rpcErr, ok := err.(*rpcError); ok {
			return classifyRPCError(call.Tool, rpcErr)
		}
		span.RecordError(err)
		return models.ToolCallOutcome{
			Tool:      call.Tool,
			Status:    models.CallStatusError,
			ErrorKind: models.CallErrTransport,
			Message:   err.Error(),
		}
	}

	if result.Status != "success" {
		// Host attempted the mutation and rolled back; message passes
		// through verbatim.
		return models.ToolCallOutcome{
			Tool:      call.Tool,
			Status:    models.CallStatusError,
			ErrorKind: models.CallErrHostExecution,
			Message:   result.Message,
		}
	}

	span.SetAttributes(attribute.String("element_id", result.ElementID))
	return models.ToolCallOutcome{
		Tool:      call.Tool,
		ElementID: result.ElementID,
		Status:    models.CallStatusSuccess,
		Message:   result.Message,
	}
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func classifyRPCError(tool string, rpcErr *rpcError) models.ToolCallOutcome {
	kind := models.CallErrHostExecution
	switch rpcErr.Code {
	case codeMethodNotFound:
		kind = models.CallErrToolNotFound
	case codeInvalidParams:
		kind = models.CallErrInvalidArguments
	}
	return models.ToolCallOutcome{
		Tool:      tool,
		Status:    models.CallStatusError,
		ErrorKind: kind,
		Message:   rpcErr.Message,
	}
}

func missingArguments(spec ToolSpec, args map[string]any) []string {
	var missing []string
	for _, name := range spec.Required {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Close releases the session. It must run exactly once per successful
// Connect, on every exit path; callers defer it immediately after
// connecting. Closing an already-closed bridge is a no-op.
func (b *RevitBridge) Close() error {
	b.mu.Lock()
	if b.closed || b.sessionID == "" {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sessionID := b.sessionID
	b.sessionID = ""
	b.catalog = nil
	b.mu.Unlock()

	return b.releaseSession(sessionID)
}

// releaseSession sends session/close for sessionID on a fresh context,
// so it succeeds even when the caller's context is already done.
func (b *RevitBridge) releaseSession(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.call(ctx, "session/close", map[string]any{"session_id": sessionID}, nil); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to close tool host session","session_id":"%s","error":"%v"}`, sessionID, err)
		return err
	}

	log.Printf(`{"level":"info","message":"Tool host session closed","session_id":"%s"}`, sessionID)
	return nil
}

// call performs one JSON-RPC round trip against the host endpoint.
func (b *RevitBridge) call(ctx context.Context, method string, params any, out any) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	endpoint := b.endpoint
	sessionID := b.sessionID
	b.mu.Unlock()

	jsonData, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint+"/rpc", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach tool host: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("tool host returned status %d (failed to read body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("tool host returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}
