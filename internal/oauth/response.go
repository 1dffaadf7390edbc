package oauth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrorResponse is the JSON error body returned to API clients
type ErrorResponse struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	TraceID          string `json:"traceId,omitempty"`
}

func (r *ErrorResponse) GetError() string { return r.Error }

func (r *ErrorResponse) SetError(v string) { r.Error = v }

func (r *ErrorResponse) GetErrorDescription() string { return r.ErrorDescription }

func (r *ErrorResponse) SetErrorDescription(v string) { r.ErrorDescription = v }

func (r *ErrorResponse) GetTraceID() string { return r.TraceID }

func (r *ErrorResponse) SetTraceID(v string) { r.TraceID = v }

// String renders the response for diagnostics. The trace line is omitted
// when there is no trace id.
func (r *ErrorResponse) String() string {
	var sb strings.Builder
	sb.WriteString("class ErrorDTO {\n")
	sb.WriteString("  error: " + r.Error + "\n")
	sb.WriteString("  error_description: " + r.ErrorDescription + "\n")
	if r.TraceID != "" {
		sb.WriteString("  traceId: " + r.TraceID + "\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}

// StatusFor maps an error kind to an HTTP status code
func StatusFor(kind Kind) int {
	switch kind {
	case KindClient, KindRegistration:
		return http.StatusBadRequest
	case KindInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ResponseFor builds the client-facing response and status for err.
// Server-side failures carry traceID so that they can be correlated with
// logs; their causes are never exposed.
func ResponseFor(err error, traceID string) (*ErrorResponse, int) {
	var oe *Error
	if !errors.As(err, &oe) {
		return &ErrorResponse{
			Error:            CodeServerError,
			ErrorDescription: "internal server error",
			TraceID:          traceID,
		}, http.StatusInternalServerError
	}

	status := StatusFor(oe.Kind)
	resp := &ErrorResponse{
		Error:            oe.Code,
		ErrorDescription: oe.Description,
	}
	if resp.Error == "" {
		resp.Error = defaultCode(oe.Kind)
	}
	if status >= http.StatusInternalServerError {
		resp.TraceID = traceID
	}
	return resp, status
}

func defaultCode(kind Kind) string {
	switch kind {
	case KindClient:
		return CodeInvalidRequest
	case KindRegistration:
		return CodeInvalidClientMeta
	case KindInvalidToken:
		return CodeInvalidToken
	default:
		return CodeServerError
	}
}
