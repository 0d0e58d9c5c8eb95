package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"vos/internal/review"
	"vos/internal/storage"
	"vos/internal/synthesis"
)

// errBadRequest marks caller input errors raised by the handlers themselves.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

// writeDomainErr maps a domain error onto its HTTP status.
func writeDomainErr(w http.ResponseWriter, err error) {
	writeErr(w, statusFor(err), err)
}

func statusFor(err error) int {
	var synthErr *synthesis.SynthesisError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest),
		errors.Is(err, review.ErrNoPersonas),
		errors.Is(err, review.ErrUnknownPersona):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, review.ErrDocumentArchived),
		errors.Is(err, synthesis.ErrReviewNotCompleted),
		errors.Is(err, synthesis.ErrSynthesisInProgress),
		errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.As(err, &synthErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "VOS-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		return apiError{
			Code:    "VOS-API-5020",
			Message: "Upstream model provider unavailable. Per-persona comments are still available; retry shortly.",
		}
	case status == http.StatusServiceUnavailable:
		return apiError{
			Code:    "VOS-API-5030",
			Message: "Durable review execution is not enabled on this server.",
		}
	case status >= 500:
		switch {
		case strings.Contains(raw, "no such table"),
			strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "VOS-DB-5001",
				Message: "Database schema is not initialized. Restart the service and retry.",
			}
		case strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"), strings.Contains(raw, "database is locked"):
			return apiError{
				Code:    "VOS-DB-5002",
				Message: "Database is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "VOS-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "VOS-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "VOS-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "VOS-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "VOS-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusRequestEntityTooLarge:
		code = "VOS-API-4013"
		msg = "Uploaded document is too large."
	}

	// For 4xx, keep user-safe validation context only.
	switch {
	case errors.Is(err, review.ErrUnknownPersona):
		msg = "Unknown persona: " + strings.TrimSpace(strings.TrimPrefix(err.Error(), review.ErrUnknownPersona.Error()+":")) + "."
	case errors.Is(err, review.ErrNoPersonas):
		msg = "At least one persona is required."
	case errors.Is(err, review.ErrDocumentArchived):
		msg = "Archived documents cannot be reviewed. Unarchive it first."
	case errors.Is(err, synthesis.ErrReviewNotCompleted):
		msg = "Only completed reviews can be synthesized."
	case errors.Is(err, synthesis.ErrSynthesisInProgress):
		code = "VOS-API-4091"
		msg = "Synthesis for this review is already running. Retry shortly."
	case errors.Is(err, errBadRequest):
		if detail := strings.TrimSpace(strings.TrimSuffix(err.Error(), ": "+errBadRequest.Error())); detail != "" && detail != err.Error() {
			msg = detail
		}
	case strings.Contains(raw, "invalid json"):
		msg = "Malformed JSON request body."
	}

	return apiError{Code: code, Message: msg}
}

// badRequest builds an errBadRequest whose message is shown to the caller.
func badRequest(msg string) error {
	return &userError{msg: msg}
}

type userError struct {
	msg string
}

func (e *userError) Error() string { return e.msg + ": " + errBadRequest.Error() }

func (e *userError) Is(target error) bool { return target == errBadRequest }
