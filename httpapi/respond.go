package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"arcana/apperr"
	"arcana/auth"
)

// envelope is the body of every response: data on success, error otherwise.
type envelope struct {
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error:     &errorBody{Code: code, Message: msg},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// readJSON decodes a single JSON object and rejects unknown fields.
func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("http.decode", "invalid request body: %v", err)
	}
	return nil
}

// statusFor maps a service error to its HTTP status and public code.
func statusFor(err error) (int, string) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, string(apperr.KindValidation)
	case apperr.KindAuthorization:
		return http.StatusForbidden, string(apperr.KindAuthorization)
	case apperr.KindNotFound:
		return http.StatusNotFound, string(apperr.KindNotFound)
	case apperr.KindState:
		return http.StatusConflict, string(apperr.KindState)
	case apperr.KindDuplicateOffer:
		return http.StatusConflict, string(apperr.KindDuplicateOffer)
	case apperr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity, string(apperr.KindInsufficientBalance)
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, string(apperr.KindValidation)
	case errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg = appErr.Msg
	}
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeErrorBody(w, r, status, code, msg)
}

// queryInt reads an optional positive integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("http.query", "%s must be a non-negative integer", name)
	}
	return n, nil
}

func paging(r *http.Request) (page, size int, err error) {
	if page, err = queryInt(r, "page"); err != nil {
		return 0, 0, err
	}
	if size, err = queryInt(r, "page_size"); err != nil {
		return 0, 0, err
	}
	return page, size, nil
}
