package revithost

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JSON-RPC envelope types for the host side of the protocol.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeSessionClosed  = -32000
)

// toolSpec mirrors the catalog entry shape the bridge expects.
type toolSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required"`
}

// catalog declares the tools this host exposes. Calls are matched
// case-sensitively against these names.
var catalog = []toolSpec{
	{
		Name:        "add_wall",
		Description: "Adds a basic wall to the model. Coordinates are in feet.",
		Required:    []string{"start_point", "end_point", "height", "level_name"},
	},
	{
		Name:        "add_room",
		Description: "Adds a room placed at the centroid of the boundary points.",
		Required:    []string{"room_name", "boundary_points", "level_name"},
	},
	{
		Name:        "get_status",
		Description: "Reports whether the model document is available.",
		Required:    nil,
	},
}

func (h *Host) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "state": string(h.CurrentState())})
	})

	router.POST("/rpc", h.handleRPC)

	return router
}

func (h *Host) handleRPC(c *gin.Context) {
	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeInvalidRequest, Message: "invalid request"}})
		return
	}

	respond := func(result any, rpcErr *rpcError) {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr})
	}

	switch req.Method {
	case "session/open":
		respond(h.openSession(), nil)

	case "session/close":
		var params struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.SessionID == "" {
			respond(nil, &rpcError{Code: codeInvalidParams, Message: "session_id is required"})
			return
		}
		if !h.closeSession(params.SessionID) {
			respond(nil, &rpcError{Code: codeSessionClosed, Message: "unknown session"})
			return
		}
		respond(gin.H{"closed": true}, nil)

	case "tools/list":
		respond(gin.H{"tools": catalog}, nil)

	case "tools/call":
		sessionID := c.GetHeader("X-Session-ID")
		if !h.sessionOpen(sessionID) {
			respond(nil, &rpcError{Code: codeSessionClosed, Message: "no open session"})
			return
		}
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			respond(nil, &rpcError{Code: codeInvalidParams, Message: "invalid tools/call params"})
			return
		}
		result, rpcErr := h.executeTool(params.Name, params.Arguments)
		respond(result, rpcErr)

	default:
		respond(nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)})
	}
}

func (h *Host) openSession() gin.H {
	id := uuid.New().String()
	h.mu.Lock()
	h.sessions[id] = &session{open: true}
	h.mu.Unlock()
	return gin.H{"session_id": id}
}

func (h *Host) closeSession(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return false
	}
	s.open = false
	s.closeCount++
	return true
}

func (h *Host) sessionOpen(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return ok && s.open
}

// executeTool applies one tool call as an atomic mutation. A failed
// mutation returns a result with status "error" and the failure message
// verbatim; the document is left untouched.
func (h *Host) executeTool(name string, args map[string]any) (any, *rpcError) {
	spec, ok := findTool(name)
	if !ok {
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("tool %q not found", name)}
	}
	for _, required := range spec.Required {
		if _, present := args[required]; !present {
			return nil, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("missing required argument %q", required)}
		}
	}

	switch name {
	case "add_wall":
		start, err1 := floatSlice(args["start_point"])
		end, err2 := floatSlice(args["end_point"])
		height, err3 := floatValue(args["height"])
		level, err4 := stringValue(args["level_name"])
		if err := firstError(err1, err2, err3, err4); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		id, err := h.doc.CreateWall(start, end, height, level)
		if err != nil {
			return gin.H{"status": "error", "message": err.Error()}, nil
		}
		return gin.H{"status": "success", "message": "Wall created.", "element_id": id}, nil

	case "add_room":
		roomName, err1 := stringValue(args["room_name"])
		boundary, err2 := pointPairs(args["boundary_points"])
		level, err3 := stringValue(args["level_name"])
		if err := firstError(err1, err2, err3); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		id, err := h.doc.CreateRoom(roomName, boundary, level)
		if err != nil {
			return gin.H{"status": "error", "message": err.Error()}, nil
		}
		return gin.H{"status": "success", "message": fmt.Sprintf("Room '%s' created.", roomName), "element_id": id}, nil

	case "get_status":
		return gin.H{"status": "success", "message": fmt.Sprintf("Document available, %d elements.", len(h.doc.Elements()))}, nil
	}

	return nil, &rpcError{Code: codeInternalError, Message: fmt.Sprintf("tool %q declared but not implemented", name)}
}

func findTool(name string) (toolSpec, bool) {
	for _, t := range catalog {
		if t.Name == name {
			return t, true
		}
	}
	return toolSpec{}, false
}

// Argument coercion helpers. JSON numbers arrive as float64; no other
// implicit conversion is applied.

func floatValue(v any) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	return f, nil
}

func stringValue(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func floatSlice(v any) ([]float64, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected coordinate list, got %T", v)
	}
	out := make([]float64, len(raw))
	for i, item := range raw {
		f, err := floatValue(item)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func pointPairs(v any) ([][]float64, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected point list, got %T", v)
	}
	out := make([][]float64, len(raw))
	for i, item := range raw {
		pair, err := floatSlice(item)
		if err != nil {
			return nil, err
		}
		out[i] = pair
	}
	return out, nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
