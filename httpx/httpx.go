// Package httpx holds the JSON envelope helpers shared by HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const maxJSONBody = 1 << 20

// ErrorBody is the error envelope every failed request returns.
type ErrorBody struct {
	RequestID string      `json:"request_id"`
	Error     ErrorDetail `json:"error"`
}

// ErrorDetail is the machine-readable part of ErrorBody.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func NewRequestID() string { return "req_" + uuid.NewString() }

// RequestID returns the id assigned by the request-id middleware, or a fresh one.
func RequestID(r *http.Request) string {
	if r != nil {
		if id := middleware.GetReqID(r.Context()); id != "" {
			return id
		}
	}
	return NewRequestID()
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes a single JSON object of at most 1 MiB.
func ReadJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	WriteJSON(w, status, ErrorBody{
		RequestID: RequestID(r),
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
