package gateway

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftforge/revit-design-orchestrator/internal/auth"
	"github.com/draftforge/revit-design-orchestrator/internal/models"
	"github.com/draftforge/revit-design-orchestrator/internal/orchestration"
)

// RunStreamHandler streams design run progress events over WebSocket
type RunStreamHandler struct {
	service    *orchestration.Service
	jwtManager *auth.JWTManager
	tracer     trace.Tracer
	upgrader   websocket.Upgrader
}

// NewRunStreamHandler creates a new design run WebSocket handler
func NewRunStreamHandler(service *orchestration.Service, jwtManager *auth.JWTManager) *RunStreamHandler {
	return &RunStreamHandler{
		service:    service,
		jwtManager: jwtManager,
		tracer:     otel.Tracer("run-stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Implement proper CORS origin checking for production
				origin := r.Header.Get("Origin")
				log.Printf("WebSocket connection from origin: %s", origin)
				return true
			},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// StreamRun handles WebSocket /api/ws/designs/:run_id
// @Summary Stream design run progress
// @Description WebSocket endpoint streaming stage and tool call events for one design run
// @Tags designs
// @Param run_id path string true "Run ID"
// @Param token query string false "JWT token"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /ws/designs/{run_id} [get]
func (p *RunStreamHandler) StreamRun(c *gin.Context) {
	ctx, span := p.tracer.Start(c.Request.Context(), "run_stream.stream_run")
	defer span.End()

	runID := c.Param("run_id")
	span.SetAttributes(attribute.String("run_id", runID))

	userID, err := p.validateJWTAndGetUserID(c)
	if err != nil {
		span.RecordError(err)
		log.Printf("JWT validation failed: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	span.SetAttributes(attribute.String("user_id", userID))

	// Subscribe before reading the run state: a run that finishes
	// between the read and the subscription would otherwise publish its
	// final event to nobody and leave this stream waiting forever.
	events, unsubscribe := p.service.Events.Subscribe(runID)
	defer unsubscribe()

	run, err := p.service.GetRun(ctx, runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Design run not found"})
		return
	}

	conn, err := p.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("WebSocket connection upgraded for run: %s, user: %s", runID, userID)

	// A run that already finished gets a single snapshot event.
	if run.Status.Terminal() {
		p.sendFinishedSnapshot(conn, run)
		return
	}

	p.streamEvents(conn, runID, events)
}

// validateJWTAndGetUserID validates JWT token and returns user ID
func (p *RunStreamHandler) validateJWTAndGetUserID(c *gin.Context) (string, error) {
	// Try to get JWT from query parameter first (WebSocket standard)
	token := c.Query("token")
	if token == "" {
		// Fallback to Authorization header
		fromHeader, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			return "", fmt.Errorf("missing JWT token")
		}
		token = fromHeader
	}

	claims, err := p.jwtManager.ValidateToken(c.Request.Context(), token)
	if err != nil {
		return "", fmt.Errorf("invalid JWT: %w", err)
	}

	return claims.UserID, nil
}

// streamEvents forwards bus events to the client until the run
// finishes or the client disconnects.
func (p *RunStreamHandler) streamEvents(conn *websocket.Conn, runID string, events <-chan models.RunEvent) {
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("Client connection closed normally for run: %s", runID)
				}
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("Failed to forward event to client for run %s: %v", runID, err)
				return
			}
			if event.EventType == models.EventTypeRunFinished {
				log.Printf("Run finished, ending stream for run: %s", runID)
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}

// sendFinishedSnapshot emits one run.finished event for an already
// terminal run, so late subscribers see the same closing message.
func (p *RunStreamHandler) sendFinishedSnapshot(conn *websocket.Conn, run *models.RunResult) {
	event := models.RunEvent{
		RunID:     run.RunID,
		EventType: models.EventTypeRunFinished,
		Data: map[string]any{
			"status": string(run.Status),
			"error":  run.Error,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := conn.WriteJSON(event); err != nil {
		log.Printf("Failed to send snapshot to client for run %s: %v", run.RunID, err)
	}
}
