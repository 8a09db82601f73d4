package upstream

import (
	"fmt"
	"net/http"

	"github.com/erp/orderboard/internal/application/dashboard"
)

var userMessages = map[string]string{
	dashboard.CategorySessionExpired:    "Your session has expired. Please log in again.",
	dashboard.CategoryNotFound:          "The order list could not be found.",
	dashboard.CategoryServerUnavailable: "The server is unavailable. Please try again later.",
	dashboard.CategoryNetwork:           "Could not reach the server. Check your connection and try again.",
	dashboard.CategoryGeneric:           "Failed to load orders. Please try again.",
}

// FetchError is a failed order fetch with its notification category
type FetchError struct {
	Kind       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch orders: %s (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch orders: %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Category returns the notification category
func (e *FetchError) Category() string { return e.Kind }

// UserMessage returns the fixed user-facing message for the category
func (e *FetchError) UserMessage() string {
	if msg, ok := userMessages[e.Kind]; ok {
		return msg
	}
	return userMessages[dashboard.CategoryGeneric]
}

// Retryable reports whether another attempt may succeed
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case dashboard.CategoryNetwork, dashboard.CategoryServerUnavailable:
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests
}

func statusCategory(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return dashboard.CategorySessionExpired
	case code == http.StatusNotFound:
		return dashboard.CategoryNotFound
	case code >= http.StatusInternalServerError:
		return dashboard.CategoryServerUnavailable
	default:
		return dashboard.CategoryGeneric
	}
}
