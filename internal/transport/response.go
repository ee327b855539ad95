// Package transport contains the HTTP router, middleware chain, and request
// handlers of the cartable API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/cartable/model"
)

// statusForCode maps ErrorEnvelope codes and outcome kinds to HTTP status
// codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrStoreUnavailable:   http.StatusServiceUnavailable,
	model.ErrItemNotFound:       http.StatusNotFound,
	model.ErrDefinitionNotFound: http.StatusNotFound,
	model.ErrStepNotFound:       http.StatusNotFound,
	model.ErrActionNotFound:     http.StatusNotFound,
	model.ErrDanglingTarget:     http.StatusUnprocessableEntity,
	model.ErrItemClosed:         http.StatusConflict,
}

// StatusFor returns the HTTP status for an error or outcome code.
func StatusFor(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes the ErrorEnvelope found in err's chain with the matching
// HTTP status. Errors without an envelope become a generic 500 so driver
// details never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	if ee.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, StatusFor(ee.Code), errorResponse{Error: ee})
}

// WriteOutcome writes a transition outcome. Applied outcomes return 200 with
// the outcome; rejected ones return the kind's status with an error body
// that still carries the outcome.
func WriteOutcome(w http.ResponseWriter, outcome model.Outcome) {
	if outcome.Applied() {
		WriteJSON(w, http.StatusOK, outcome)
		return
	}
	type rejected struct {
		Error   *model.ErrorEnvelope `json:"error"`
		Outcome model.Outcome        `json:"outcome"`
	}
	ee := &model.ErrorEnvelope{Code: string(outcome.Kind), Message: outcome.Message}
	WriteJSON(w, StatusFor(ee.Code), rejected{Error: ee, Outcome: outcome})
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}
