package gateway

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/draftforge/revit-design-orchestrator/internal/auth"
	"github.com/draftforge/revit-design-orchestrator/internal/models"
	"github.com/draftforge/revit-design-orchestrator/internal/orchestration"
)

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	orchestrationService *orchestration.Service
	jwtManager           *auth.JWTManager
	pool                 *pgxpool.Pool
}

// NewHandler creates a new gateway handler
func NewHandler(orchestrationService *orchestration.Service, jwtManager *auth.JWTManager, pool *pgxpool.Pool) *Handler {
	return &Handler{
		orchestrationService: orchestrationService,
		jwtManager:           jwtManager,
		pool:                 pool,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// RefreshResponse carries the replacement token issued by a refresh
type RefreshResponse struct {
	Token string `json:"token"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	// Lookup user in database
	var userID string
	var hashedPassword string
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, hashed_password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&userID, &hashedPassword)

	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	// Verify password using bcrypt
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	// Generate JWT token
	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		userID,
		req.Email,
		[]string{"user"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: userID,
	})
}

// RefreshToken godoc
// @Summary Refresh JWT token
// @Description Exchange a valid token for a fresh one with a renewed expiry
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} RefreshResponse
// @Failure 401 {object} map[string]string
// @Router /auth/refresh [post]
func (h *Handler) RefreshToken(c *gin.Context) {
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing or malformed authorization header"})
		return
	}

	refreshed, err := h.jwtManager.RefreshToken(c.Request.Context(), token, 24*time.Hour)
	if err != nil {
		log.Printf(`{"level":"warn","message":"Token refresh rejected","error":"%v"}`, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return
	}

	c.JSON(http.StatusOK, RefreshResponse{Token: refreshed})
}

// CreateDesignRunRequest represents a design run creation request
type CreateDesignRunRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// CreateDesignRunResponse represents a design run creation response
type CreateDesignRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// CreateDesignRun godoc
// @Summary Create design run
// @Description Start a design run for a free-text design request. The run executes in the background; stream progress over the WebSocket endpoint and fetch the result when it finishes.
// @Tags designs
// @Accept json
// @Produce json
// @Param request body CreateDesignRunRequest true "Design request"
// @Success 202 {object} CreateDesignRunResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /designs [post]
func (h *Handler) CreateDesignRun(c *gin.Context) {
	var req CreateDesignRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	userID, ok := h.authenticatedUserID(c)
	if !ok {
		return
	}

	runID, err := h.orchestrationService.StartRun(c.Request.Context(), req.Prompt, userID)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to start design run","error":"%v","user_id":"%s"}`, err, userID)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to start design run", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusAccepted, CreateDesignRunResponse{
		RunID:  runID,
		Status: string(models.RunStatusProcessing),
	})
}

// GetDesignRun godoc
// @Summary Get design run
// @Description Retrieve a design run and its artifacts by ID
// @Tags designs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} models.RunResult
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /designs/{id} [get]
func (h *Handler) GetDesignRun(c *gin.Context) {
	runID := c.Param("id")

	run, err := h.orchestrationService.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Design run not found", Code: models.ErrCodeRunNotFound})
		return
	}

	c.JSON(http.StatusOK, run)
}

// ListDesignRuns godoc
// @Summary List design runs
// @Description List the most recent design runs, newest first
// @Tags designs
// @Produce json
// @Param limit query int false "Maximum number of runs" default(20)
// @Success 200 {array} models.RunResult
// @Security BearerAuth
// @Router /designs [get]
func (h *Handler) ListDesignRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid limit", Code: models.ErrCodeInvalidRequest})
			return
		}
		limit = parsed
	}

	runs, err := h.orchestrationService.ListRuns(c.Request.Context(), limit)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list design runs","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list design runs", Code: models.ErrCodeInternalError})
		return
	}
	if runs == nil {
		runs = []*models.RunResult{}
	}

	c.JSON(http.StatusOK, runs)
}

// GetCurrentUser godoc
// @Summary Get current user
// @Description Return the profile of the authenticated user
// @Tags auth
// @Produce json
// @Success 200 {object} models.UserInfo
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /me [get]
func (h *Handler) GetCurrentUser(c *gin.Context) {
	userID, ok := h.authenticatedUserID(c)
	if !ok {
		return
	}

	var user models.User
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, name, email, created_at, updated_at FROM users WHERE id = $1`,
		userID.String(),
	).Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "User not found", Code: models.ErrCodeNotFound})
		return
	}

	c.JSON(http.StatusOK, user.ToUserInfo())
}

func (h *Handler) authenticatedUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: models.ErrCodeUnauthorized})
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDVal.(string))
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid user ID", Code: models.ErrCodeUnauthorized})
		return uuid.Nil, false
	}
	return userID, true
}
