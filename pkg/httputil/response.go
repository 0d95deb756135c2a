// Package httputil provides the response envelope and HTTP plumbing shared
// by every service: all API responses are dispatched through the same
// {ok, data, errors, message} shape.
package httputil

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response body for every API endpoint
type Envelope struct {
	OK      bool        `json:"ok"`
	Data    interface{} `json:"data"`
	Errors  interface{} `json:"errors"`
	Message string      `json:"message"`
}

// Dispatch writes a response envelope with the given status code.
// Nil errors are normalized to an empty list so clients always see an array.
func Dispatch(w http.ResponseWriter, status int, env Envelope) {
	if env.Errors == nil {
		env.Errors = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// WriteData writes a 200 envelope carrying data
func WriteData(w http.ResponseWriter, data interface{}) {
	Dispatch(w, http.StatusOK, Envelope{OK: true, Data: data})
}

// WriteMessage writes a 200 envelope carrying only a message payload
func WriteMessage(w http.ResponseWriter, message string) {
	Dispatch(w, http.StatusOK, Envelope{OK: true, Data: map[string]string{"message": message}})
}

// WriteErrors writes a failure envelope with the given status and errors
func WriteErrors(w http.ResponseWriter, status int, errs interface{}) {
	Dispatch(w, status, Envelope{OK: false, Errors: errs})
}

// WriteUnauthorized writes the single collapsed 401 outcome.
// Verification failure reasons are never detailed to the client.
func WriteUnauthorized(w http.ResponseWriter) {
	WriteErrors(w, http.StatusUnauthorized, "unauthorized")
}

// WriteForbidden writes the single collapsed 403 outcome
func WriteForbidden(w http.ResponseWriter) {
	WriteErrors(w, http.StatusForbidden, "Forbidden")
}

// WriteNotFound writes a 404 envelope with the given message
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteErrors(w, http.StatusNotFound, message)
}

// WriteBadRequest writes a 400 envelope with the given errors
func WriteBadRequest(w http.ResponseWriter, errs interface{}) {
	WriteErrors(w, http.StatusBadRequest, errs)
}

// WriteInternalError writes a 500 envelope without leaking the cause
func WriteInternalError(w http.ResponseWriter) {
	WriteErrors(w, http.StatusInternalServerError, "internal server error")
}
