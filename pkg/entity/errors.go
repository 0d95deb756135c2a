package entity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/AhHanie/axion-demo/pkg/httputil"
)

// ValidationError carries field-level validation failures verbatim
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// NotFoundError is a local id lookup miss
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ReferentialError means a peer existence check failed; the message
// enumerates the missing ids.
type ReferentialError struct {
	Message string
}

func (e *ReferentialError) Error() string {
	return e.Message
}

// NewReferentialError builds the standard message for missing peer ids,
// e.g. "Classrooms c2,c4 do not exist".
func NewReferentialError(kind string, missingIDs []string) *ReferentialError {
	return &ReferentialError{
		Message: fmt.Sprintf("%s %s do not exist", kind, strings.Join(missingIDs, ",")),
	}
}

// WriteError translates a manager error into the response envelope.
// Validation and referential failures surface their messages; everything else
// is an opaque internal error.
func WriteError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		httputil.WriteErrors(w, http.StatusBadRequest, validation.Messages)
		return
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		httputil.WriteErrors(w, http.StatusNotFound, []string{notFound.Error()})
		return
	}

	var referential *ReferentialError
	if errors.As(err, &referential) {
		httputil.WriteErrors(w, http.StatusBadRequest, []string{referential.Message})
		return
	}

	httputil.WriteInternalError(w)
}
