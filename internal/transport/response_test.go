package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/cartable/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("item not found"))

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", resp.Error.Code)
	}
}

func TestWriteError_wrapped_store_failure(t *testing.T) {
	w := httptest.NewRecorder()
	driverErr := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("list items: %w", errors.Join(model.NewStoreUnavailableError(), driverErr))
	WriteError(w, err)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("retryable error should set Retry-After")
	}
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != model.ErrStoreUnavailable {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestWriteError_non_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("something went wrong"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 for non-envelope error", w.Code)
	}
}

func TestWriteOutcome(t *testing.T) {
	tests := []struct {
		kind model.OutcomeKind
		want int
	}{
		{model.OutcomeApplied, http.StatusOK},
		{model.OutcomeItemNotFound, http.StatusNotFound},
		{model.OutcomeDefinitionNotFound, http.StatusNotFound},
		{model.OutcomeStepNotFound, http.StatusNotFound},
		{model.OutcomeActionNotFound, http.StatusNotFound},
		{model.OutcomeDanglingTarget, http.StatusUnprocessableEntity},
		{model.OutcomeItemClosed, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteOutcome(w, model.Outcome{Kind: tt.kind, Message: "m"})
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.kind == model.OutcomeApplied {
				return
			}
			var resp struct {
				Error   model.ErrorEnvelope `json:"error"`
				Outcome model.Outcome       `json:"outcome"`
			}
			_ = json.NewDecoder(w.Body).Decode(&resp)
			if resp.Error.Code != string(tt.kind) || resp.Outcome.Kind != tt.kind {
				t.Errorf("body = %+v", resp)
			}
		})
	}
}

func TestStatusFor_unknown(t *testing.T) {
	if got := StatusFor("SOMETHING_ELSE"); got != http.StatusInternalServerError {
		t.Errorf("StatusFor(unknown) = %d, want 500", got)
	}
}

func TestWriteForbidden(t *testing.T) {
	w := httptest.NewRecorder()
	WriteForbidden(w, "access denied")
	if w.Code != 403 {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteValidationError(w, []model.FieldError{
		{Field: "steps[0].id", Code: "REQUIRED", Message: "step id is required"},
	})

	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Error.Details) != 1 || resp.Error.Details[0].Field != "steps[0].id" {
		t.Errorf("details = %+v", resp.Error.Details)
	}
}
