package aggregator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for token acquisition.
var (
	// ErrCredentialsMissing indicates no aggregator credentials are configured.
	ErrCredentialsMissing = errors.New("aggregator: credentials missing")
	// ErrTokenAcquisition indicates both token creation and refresh failed.
	ErrTokenAcquisition = errors.New("aggregator: token acquisition failed")
)

// APIError is any non-2xx aggregator response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aggregator: status %d: %s", e.Status, e.Detail)
}

// newAPIError extracts the detail field from an error body, falling back to
// the raw body when the shape is unexpected.
func newAPIError(status int, body []byte) *APIError {
	var parsed struct {
		Summary    string `json:"summary"`
		Detail     string `json:"detail"`
		StatusCode int    `json:"status_code"`
	}
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		detail = parsed.Detail
	}
	return &APIError{Status: status, Detail: detail}
}
