// Package httpapi implements the uniform response envelope:
// {"success":true,"data":...} and {"success":false,"error":{...}}.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lumenpay/backend/internal/apperr"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func WriteSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data})
}

// WriteError translates any error into the envelope. Unclassified errors are
// reported as INTERNAL_ERROR without leaking internals, and logged.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		if log != nil {
			log.Error("unhandled error", "error", err)
		}
		e = apperr.New(apperr.CodeInternal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(e.Code))
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Error:   errorBody{Code: string(e.Code), Message: e.Message, Metadata: e.Metadata},
	})
}

// WriteErrorCode is a shorthand for fixed-message failures in handlers.
func WriteErrorCode(w http.ResponseWriter, code apperr.Code, message string) {
	WriteError(w, nil, apperr.New(code, message))
}
