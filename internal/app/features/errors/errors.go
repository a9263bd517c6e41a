// internal/app/features/errors/errors.go
//
// Package errors writes the JSON responses shared by the hooks and admin
// APIs. Every error body has the shape
//
//	{ "error": "message", "fields": { "field": "message" } }
//
// with "fields" present only on validation failures.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/dalemusser/cohortsync/internal/app/system/dberr"
	"go.uber.org/zap"
)

// Body is the JSON error envelope.
type Body struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// BadRequest writes 400. fields may be nil.
func BadRequest(w http.ResponseWriter, msg string, fields map[string]string) {
	JSON(w, http.StatusBadRequest, Body{Error: msg, Fields: fields})
}

// NotFound writes 404.
func NotFound(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusNotFound, Body{Error: msg})
}

// Conflict writes 409.
func Conflict(w http.ResponseWriter, msg string) {
	JSON(w, http.StatusConflict, Body{Error: msg})
}

// Unavailable writes 503.
func Unavailable(w http.ResponseWriter) {
	JSON(w, http.StatusServiceUnavailable, Body{Error: "database unavailable"})
}

// Internal writes 500.
func Internal(w http.ResponseWriter) {
	JSON(w, http.StatusInternalServerError, Body{Error: "internal error"})
}

// Server logs err and writes 503 when the database is unreachable, 500
// otherwise.
func Server(w http.ResponseWriter, log *zap.Logger, msg string, err error, fields ...zap.Field) {
	log.Error(msg, append(fields, zap.Error(err))...)
	if dberr.IsUnavailable(err) {
		Unavailable(w)
		return
	}
	Internal(w)
}
