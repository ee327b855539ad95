package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/model"
)

func (h *handlers) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.deps.Definitions.List(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	if module := r.URL.Query().Get("module"); module != "" {
		filtered := defs[:0]
		for _, d := range defs {
			if d.Module == module {
				filtered = append(filtered, d)
			}
		}
		defs = filtered
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": defs})
}

func (h *handlers) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.deps.Definitions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

func (h *handlers) validateDefinition(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if err := decodeJSON(r, &def); err != nil {
		WriteError(w, err)
		return
	}
	verrs := h.deps.Definitions.Validate(def)
	details := make([]model.FieldError, len(verrs))
	for i, e := range verrs {
		details[i] = model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"valid":  len(verrs) == 0,
		"errors": details,
	})
}

func (h *handlers) saveDefinition(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if err := decodeJSON(r, &def); err != nil {
		WriteError(w, err)
		return
	}
	def.ID = chi.URLParam(r, "id")

	saved, err := h.deps.Definitions.Save(r.Context(), def)
	if err != nil {
		h.deps.Metrics.RecordDefinitionSave("rejected")
		WriteError(w, err)
		return
	}
	h.deps.Metrics.RecordDefinitionSave("saved")

	observability.RequestLogger(r.Context(), h.logger).Info("definition saved",
		zap.String("definition_id", saved.ID),
		zap.String("module", saved.Module),
		zap.Bool("active", saved.IsActive),
	)
	WriteJSON(w, http.StatusOK, saved)
}
