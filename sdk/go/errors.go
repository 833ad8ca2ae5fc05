package mailmerge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors returned by the SDK.
var (
	// ErrNotAuthenticated is returned when the server has no Gmail token.
	ErrNotAuthenticated = errors.New("mailmerge: gmail account is not signed in")

	// ErrBusy is returned when a dispatch is running or the last run has not been reset.
	ErrBusy = errors.New("mailmerge: session is busy")
)

// APIError represents an error response from the mail merge API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailmerge: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps well-known codes onto the SDK sentinels
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not_authenticated":
		return ErrNotAuthenticated
	case "dispatch_in_progress", "not_idle":
		return ErrBusy
	}
	return nil
}

// apiErrorWrapper matches the API error envelope.
type apiErrorWrapper struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(statusCode int, body []byte) error {
	var wrapper apiErrorWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Code != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       wrapper.Error.Code,
			Message:    wrapper.Error.Message,
		}
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       "unknown",
		Message:    string(body),
	}
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
