package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/panel"
	"github.com/cloudspb/hostbot/internal/service"
)

const maxBodyBytes = 1 << 20

// APIError is the JSON error body of every failed request.
type APIError struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	HTTPStatusCode int    `json:"-"`
}

// Common API errors.
var (
	ErrBadRequest = APIError{
		Code:           "BAD_REQUEST",
		Message:        "The request body or parameters are invalid.",
		HTTPStatusCode: http.StatusBadRequest,
	}
	ErrUnauthorized = APIError{
		Code:           "UNAUTHORIZED",
		Message:        "A valid bearer token is required.",
		HTTPStatusCode: http.StatusUnauthorized,
	}
	ErrMissingAdminID = APIError{
		Code:           "MISSING_ADMIN_ID",
		Message:        "The X-Admin-ID header is missing or invalid.",
		HTTPStatusCode: http.StatusUnauthorized,
	}
	ErrInternal = APIError{
		Code:           "INTERNAL_ERROR",
		Message:        "We encountered an internal error. Please try again.",
		HTTPStatusCode: http.StatusInternalServerError,
	}
)

// provisionStatus maps provisioning failure codes to HTTP statuses.
var provisionStatus = map[service.ProvisionCode]int{
	service.CodeEmailExists:         http.StatusConflict,
	service.CodeEmailCheckFailed:    http.StatusBadGateway,
	service.CodeUserExistsExhausted: http.StatusBadGateway,
	service.CodeServerCreateFailed:  http.StatusBadGateway,
	service.CodeServerAttrsMissing:  http.StatusBadGateway,
	service.CodeServerSaveFailed:    http.StatusInternalServerError,
	service.CodePanelUnavailable:    http.StatusServiceUnavailable,
}

// errorFor translates a service error into an API error.
func errorFor(err error) APIError {
	var perr *service.ProvisionError
	if errors.As(err, &perr) {
		status, ok := provisionStatus[perr.Code]
		if !ok {
			status = http.StatusBadGateway
		}
		return APIError{Code: string(perr.Code), Message: perr.Message, HTTPStatusCode: status}
	}

	if gerr, ok := service.IsGateError(err); ok {
		return APIError{Code: string(gerr.Reason), Message: gerr.Error(), HTTPStatusCode: http.StatusForbidden}
	}

	switch {
	case errors.Is(err, service.ErrRateLimited):
		return APIError{Code: "RATE_LIMITED", Message: err.Error(), HTTPStatusCode: http.StatusTooManyRequests}
	case errors.Is(err, service.ErrProvisionBusy):
		return APIError{Code: "PROVISION_IN_PROGRESS", Message: err.Error(), HTTPStatusCode: http.StatusConflict}
	case errors.Is(err, service.ErrAccessDenied):
		return APIError{Code: "ACCESS_DENIED", Message: err.Error(), HTTPStatusCode: http.StatusForbidden}
	case errors.Is(err, service.ErrEmailTakenBanned):
		return APIError{Code: "EMAIL_TAKEN_BANNED", Message: err.Error(), HTTPStatusCode: http.StatusForbidden}
	case errors.Is(err, service.ErrInvalidEmail):
		return APIError{Code: "INVALID_EMAIL", Message: err.Error(), HTTPStatusCode: http.StatusBadRequest}
	case errors.Is(err, service.ErrInvalidTarget):
		return APIError{Code: "INVALID_TARGET", Message: err.Error(), HTTPStatusCode: http.StatusBadRequest}
	case errors.Is(err, service.ErrInvalidSignal):
		return APIError{Code: "INVALID_SIGNAL", Message: err.Error(), HTTPStatusCode: http.StatusBadRequest}
	case errors.Is(err, panel.ErrUnexpectedStatus):
		return APIError{Code: "PANEL_ERROR", Message: err.Error(), HTTPStatusCode: http.StatusBadGateway}
	case errors.Is(err, service.ErrPanelDisabled):
		return APIError{Code: "PANEL_DISABLED", Message: err.Error(), HTTPStatusCode: http.StatusServiceUnavailable}
	case errors.Is(err, domain.ErrUserNotFound):
		return APIError{Code: "USER_NOT_FOUND", Message: err.Error(), HTTPStatusCode: http.StatusNotFound}
	case errors.Is(err, domain.ErrAccountNotFound):
		return APIError{Code: "SERVER_NOT_FOUND", Message: err.Error(), HTTPStatusCode: http.StatusNotFound}
	case errors.Is(err, domain.ErrAccountAlreadyExists):
		return APIError{Code: "ACCOUNT_EXISTS", Message: err.Error(), HTTPStatusCode: http.StatusConflict}
	}

	return ErrInternal
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, apiErr APIError) {
	writeJSON(w, apiErr.HTTPStatusCode, apiErr)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
