package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeStageFailed      = "STAGE_FAILED"
	ErrCodeHostUnreachable  = "HOST_UNREACHABLE"
	ErrCodeToolNotFound     = "TOOL_NOT_FOUND"
	ErrCodeRunNotFound      = "RUN_NOT_FOUND"
)
