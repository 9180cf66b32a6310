package apierror

import "net/http"

// Canonical error codes.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Problems  []string `json:"problems,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

// ToStatusCode maps an error code to an HTTP status.
func ToStatusCode(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
