package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/revit-design-orchestrator/internal/auth"
	"github.com/draftforge/revit-design-orchestrator/internal/bridge"
	"github.com/draftforge/revit-design-orchestrator/internal/models"
	"github.com/draftforge/revit-design-orchestrator/internal/orchestration"
	"github.com/draftforge/revit-design-orchestrator/internal/stage"
)

// fakeRunStore is an in-memory orchestration.RunStore for gateway tests.
type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]*models.RunResult

	// onGetRun, when set, runs inside GetRun before the read.
	onGetRun func(runID string)
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]*models.RunResult)}
}

func (s *fakeRunStore) CreateRun(_ context.Context, run *models.RunResult, _ uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *run
	s.runs[run.RunID] = &stored
	return nil
}

func (s *fakeRunStore) MarkProcessing(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.runs[runID]; ok {
		stored.Status = models.RunStatusProcessing
	}
	return nil
}

func (s *fakeRunStore) FinishRun(_ context.Context, run *models.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := *run
	s.runs[run.RunID] = &finished
	return nil
}

func (s *fakeRunStore) GetRun(_ context.Context, runID string) (*models.RunResult, error) {
	if s.onGetRun != nil {
		s.onGetRun(runID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("design run not found")
	}
	out := *stored
	return &out, nil
}

func (s *fakeRunStore) ListRuns(_ context.Context, limit int) ([]*models.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RunResult
	for _, stored := range s.runs {
		run := *stored
		out = append(out, &run)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fixedNormalizer struct{}

func (fixedNormalizer) Run(context.Context, string) (*models.DesignBrief, *stage.StageError) {
	return &models.DesignBrief{BuildingType: "apartment"}, nil
}

type fixedGenerator struct{}

func (fixedGenerator) Run(context.Context, *models.DesignBrief) (*models.DesignPlan, *stage.StageError) {
	return &models.DesignPlan{Description: "test plan"}, nil
}

type fixedChecker struct{}

func (fixedChecker) Run(context.Context, string) (*models.ComplianceResult, *stage.StageError) {
	return &models.ComplianceResult{Approved: true}, nil
}

type noopBridge struct{}

func (noopBridge) Connect(context.Context, string) (*bridge.ToolCatalog, error) {
	return &bridge.ToolCatalog{}, nil
}
func (noopBridge) Dispatch(context.Context, *models.DesignPlan) *models.RunReport {
	return &models.RunReport{}
}
func (noopBridge) HostStatus(context.Context) (string, error) {
	return "Document available, 0 elements.", nil
}
func (noopBridge) OnOutcome(func(models.ToolCallOutcome)) {}
func (noopBridge) Close() error                           { return nil }

func newTestService(store orchestration.RunStore) *orchestration.Service {
	service := orchestration.NewService(store, fixedNormalizer{}, fixedGenerator{}, fixedChecker{})
	service.Endpoint = "http://tool-host.test"
	service.NewBridge = func() orchestration.ToolBridge { return noopBridge{} }
	return service
}

// testRouter wires the design routes with a middleware that injects an
// authenticated user, standing in for the JWT middleware.
func testRouter(handler *Handler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/api")
	if userID != "" {
		group.Use(func(c *gin.Context) {
			c.Set("user_id", userID)
			c.Next()
		})
	}
	group.POST("/designs", handler.CreateDesignRun)
	group.GET("/designs", handler.ListDesignRuns)
	group.GET("/designs/:id", handler.GetDesignRun)
	return router
}

func TestHandler_CreateDesignRun(t *testing.T) {
	store := newFakeRunStore()
	handler := NewHandler(newTestService(store), nil, nil)
	router := testRouter(handler, uuid.New().String())

	body, _ := json.Marshal(CreateDesignRunRequest{Prompt: "design a two bedroom apartment"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/designs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp CreateDesignRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, "processing", resp.Status)

	// The background run reaches a terminal status.
	require.Eventually(t, func() bool {
		run, err := store.GetRun(context.Background(), resp.RunID)
		return err == nil && run.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_CreateDesignRun_Validation(t *testing.T) {
	store := newFakeRunStore()
	handler := NewHandler(newTestService(store), nil, nil)

	t.Run("missing prompt", func(t *testing.T) {
		router := testRouter(handler, uuid.New().String())
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/designs", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		router := testRouter(handler, "")
		body, _ := json.Marshal(CreateDesignRunRequest{Prompt: "design something"})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/designs", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandler_GetDesignRun(t *testing.T) {
	store := newFakeRunStore()
	run := &models.RunResult{
		RunID:  uuid.New().String(),
		Status: models.RunStatusCompleted,
		Prompt: "design an apartment",
	}
	require.NoError(t, store.CreateRun(context.Background(), run, uuid.New()))

	handler := NewHandler(newTestService(store), nil, nil)
	router := testRouter(handler, uuid.New().String())

	t.Run("existing run", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/designs/"+run.RunID, nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var fetched models.RunResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
		assert.Equal(t, run.RunID, fetched.RunID)
	})

	t.Run("unknown run", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/designs/"+uuid.New().String(), nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_ListDesignRuns(t *testing.T) {
	store := newFakeRunStore()
	for i := 0; i < 3; i++ {
		run := &models.RunResult{RunID: uuid.New().String(), Status: models.RunStatusCompleted}
		require.NoError(t, store.CreateRun(context.Background(), run, uuid.New()))
	}

	handler := NewHandler(newTestService(store), nil, nil)
	router := testRouter(handler, uuid.New().String())

	t.Run("default limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/designs", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var runs []models.RunResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
		assert.Len(t, runs, 3)
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/designs?limit=0", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_RefreshToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("JWT_SECRET", "gateway-test-secret")

	jm, err := auth.NewJWTManager()
	require.NoError(t, err)

	handler := NewHandler(newTestService(newFakeRunStore()), jm, nil)
	router := gin.New()
	router.POST("/api/auth/refresh", handler.RefreshToken)

	t.Run("issues a replacement token", func(t *testing.T) {
		token, err := jm.GenerateToken(context.Background(), "user-1", "ada@example.com", []string{"user"}, time.Hour)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp RefreshResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Token)

		claims, err := jm.ValidateToken(context.Background(), resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "ada@example.com", claims.Username)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		token, err := jm.GenerateToken(context.Background(), "user-1", "ada@example.com", nil, -time.Minute)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
