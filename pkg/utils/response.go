package utils

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse represents an enhanced error response with additional context
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo provides context about the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendCreated sends a 201 response
func SendCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendSuccessWithMeta sends a successful response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendError sends an error response with enhanced context
func SendError(c *gin.Context, statusCode int, message string) {
	sendError(c, statusCode, message, nil)
}

// SendAppError maps err onto its HTTP status. Configuration errors carry
// their problem list; app errors carry their details.
func SendAppError(c *gin.Context, err error) {
	status := apperrors.GetStatusCode(err)

	var (
		appErr    *apperrors.AppError
		configErr *apperrors.ConfigurationError
	)
	switch {
	case stderrors.As(err, &configErr):
		sendError(c, status, "invalid "+configErr.Entity, map[string]interface{}{
			"problems": configErr.Problems,
		})
	case stderrors.As(err, &appErr):
		var details interface{}
		if appErr.Details != "" {
			details = appErr.Details
		}
		sendError(c, status, appErr.Message, details)
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		sendError(c, status, "Internal server error", nil)
	default:
		sendError(c, status, err.Error(), nil)
	}
}

func sendError(c *gin.Context, statusCode int, message string, details interface{}) {
	errorResponse := ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
		Details: details,
	}

	if details == nil && statusCode == http.StatusNotFound && c.FullPath() == "" {
		if suggestions := generateNotFoundSuggestions(c.Request.URL.Path); len(suggestions) > 0 {
			errorResponse.Details = map[string]interface{}{
				"suggestions": suggestions,
				"message":     "The requested endpoint does not exist. Check the suggestions below for similar endpoints.",
			}
		}
	}

	c.JSON(statusCode, errorResponse)
}

var commonEndpoints = []string{
	"/health",
	"/api/v1/rules",
	"/api/v1/alerts",
	"/api/v1/policies",
	"/api/v1/suppressions",
	"/api/v1/samples",
	"/api/v1/conditions/test",
	"/ws",
}

// generateNotFoundSuggestions lists known endpoints sharing a path segment
// with path.
func generateNotFoundSuggestions(path string) []string {
	var suggestions []string
	for _, segment := range strings.Split(strings.ToLower(path), "/") {
		segment = strings.TrimSuffix(segment, "s")
		if len(segment) < 4 {
			continue
		}
		for _, endpoint := range commonEndpoints {
			if strings.Contains(endpoint, segment) && !contains(suggestions, endpoint) && len(suggestions) < 5 {
				suggestions = append(suggestions, endpoint)
			}
		}
	}
	return suggestions
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
