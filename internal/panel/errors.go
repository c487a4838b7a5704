package panel

import (
	"errors"
	"fmt"
)

// Panel client errors
var (
	// ErrServerNotFound indicates the panel does not know the server.
	ErrServerNotFound = errors.New("panel server not found")

	// ErrNoAllocation indicates no free allocation exists on the node.
	ErrNoAllocation = errors.New("no available allocation")

	// ErrUnexpectedStatus indicates the panel answered with an unexpected HTTP status.
	ErrUnexpectedStatus = errors.New("unexpected panel response status")

	// ErrRequestFailed indicates the request never produced a response.
	ErrRequestFailed = errors.New("panel request failed")

	// ErrInvalidResponse indicates a response body that could not be decoded.
	ErrInvalidResponse = errors.New("invalid panel response")

	// ErrAccountExists indicates the email or username is already taken on the panel.
	ErrAccountExists = errors.New("panel account already exists")
)

// maxErrorBody caps the response text kept in errors and logs.
const maxErrorBody = 512

// APIError describes a non-success panel response.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: panel returned %d: %s", e.Operation, e.Status, e.Body)
}

// Unwrap makes APIError match ErrUnexpectedStatus.
func (e *APIError) Unwrap() error {
	return ErrUnexpectedStatus
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
