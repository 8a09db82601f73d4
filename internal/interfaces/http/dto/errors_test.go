package dto

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/erp/orderboard/internal/application/dashboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeTokenExpired, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeSessionClosed, http.StatusGone},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeSessionExpired, http.StatusUnauthorized},
		{ErrCodeUpstreamDown, http.StatusBadGateway},
		{ErrCodeUpstreamNetwork, http.StatusGatewayTimeout},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, NormalizeErrorCode("NOT_FOUND"))
	assert.Equal(t, ErrCodeSessionClosed, NormalizeErrorCode("SESSION_CLOSED"))
	assert.Equal(t, ErrCodeForbidden, NormalizeErrorCode("FORBIDDEN"))
	// Already normalized or unknown codes pass through
	assert.Equal(t, ErrCodeInternal, NormalizeErrorCode(ErrCodeInternal))
	assert.Equal(t, "SOMETHING_ELSE", NormalizeErrorCode("SOMETHING_ELSE"))
}

func TestUpstreamErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeSessionExpired, UpstreamErrorCode(dashboard.CategorySessionExpired))
	assert.Equal(t, ErrCodeUpstreamNotFound, UpstreamErrorCode(dashboard.CategoryNotFound))
	assert.Equal(t, ErrCodeUpstreamDown, UpstreamErrorCode(dashboard.CategoryServerUnavailable))
	assert.Equal(t, ErrCodeUpstreamNetwork, UpstreamErrorCode(dashboard.CategoryNetwork))
	assert.Equal(t, ErrCodeUpstreamFailure, UpstreamErrorCode(dashboard.CategoryGeneric))
}

func TestNewErrorResponse(t *testing.T) {
	before := time.Now()
	resp := NewErrorResponse("NOT_FOUND", "Session not found")

	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "Session not found", resp.Error.Message)
	assert.False(t, resp.Error.Timestamp.Before(before))
}

func TestNewValidationErrorResponse(t *testing.T) {
	details := []ValidationDetail{
		{Field: "dashboard", Message: "This field is required"},
		{Field: "start_date", Message: "Must be a date in the format 2006-01-02"},
	}

	resp := NewValidationErrorResponse("Request validation failed", "req-789", details)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "req-789", resp.Error.RequestID)
	assert.Len(t, resp.Error.Details, 2)
	assert.Equal(t, "dashboard", resp.Error.Details[0].Field)
}

func TestErrorResponseJSON(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeSessionExpired, "Session expired. Please sign in again.", "req-test-123")

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.NotContains(t, decoded, "data")

	errInfo := decoded["error"].(map[string]any)
	assert.Equal(t, ErrCodeSessionExpired, errInfo["code"])
	assert.Equal(t, "req-test-123", errInfo["request_id"])
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]string{"a", "b"}, Meta{Total: 2, Generation: 7, CacheGeneration: 3})

	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 2, resp.Meta.Total)
	assert.Equal(t, uint64(7), resp.Meta.Generation)
}
