package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/cartable/internal/idempotency"
	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/internal/workflow"
	"github.com/pitabwire/cartable/model"
)

const (
	headerIdempotencyKey    = "X-Idempotency-Key"
	headerIdempotentReplay  = "X-Idempotent-Replay"
	maxRequestBodyBytes     = 1 << 20
	maxIdempotencyKeyLength = 128
)

type startRequest struct {
	Module       string         `json:"module"`
	TrackingCode string         `json:"tracking_code"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Data         map[string]any `json:"data"`
}

type actionRequest struct {
	Comment          string `json:"comment"`
	ExpectedRevision int64  `json:"expected_revision"`
}

func (h *handlers) startWorkflow(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())

	var body startRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, err)
		return
	}

	item, err := h.deps.Engine.StartWorkflow(r.Context(), rctx, workflow.StartRequest{
		Module:       body.Module,
		TrackingCode: body.TrackingCode,
		Title:        body.Title,
		Description:  body.Description,
		Data:         body.Data,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, item)
}

func (h *handlers) getItem(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	item, err := h.deps.Engine.Get(r.Context(), rctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

func (h *handlers) listActions(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	actions, err := h.deps.Engine.Actions(r.Context(), rctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := map[string]any{"items": actions}
	if primary := model.PrimaryAction(&model.Step{Actions: actions}); primary != nil {
		resp["primary"] = primary.ID
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	entries, err := h.deps.Engine.History(r.Context(), rctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// processAction applies an action to an item. With an X-Idempotency-Key
// header and an idempotency store configured, a repeated submission
// replays the first outcome instead of acting twice.
func (h *handlers) processAction(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	itemID := chi.URLParam(r, "id")
	actionID := chi.URLParam(r, "actionId")
	logger := observability.RequestLogger(r.Context(), h.logger)

	var body actionRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, err)
		return
	}

	var key, inputHash string
	if h.deps.Idempotency != nil {
		if raw := r.Header.Get(headerIdempotencyKey); raw != "" {
			if len(raw) > maxIdempotencyKeyLength {
				WriteError(w, model.NewBadRequestError(headerIdempotencyKey+" is too long"))
				return
			}
			key = idempotency.Key(rctx.SubjectID, itemID, raw)
			inputHash = idempotency.HashAction(actionID, body.Comment, body.ExpectedRevision)

			prev, found, err := h.deps.Idempotency.Check(r.Context(), key, inputHash)
			if err != nil {
				WriteError(w, err)
				return
			}
			if found {
				h.deps.Metrics.RecordIdempotentReplay()
				logger.Info("idempotent replay", zap.String("item_id", itemID), zap.String("action_id", actionID))
				w.Header().Set(headerIdempotentReplay, "true")
				WriteOutcome(w, *prev)
				return
			}
		}
	}

	outcome, err := h.deps.Engine.ProcessAction(r.Context(), rctx, workflow.ActionRequest{
		ItemID:           itemID,
		ActionID:         actionID,
		Comment:          body.Comment,
		ExpectedRevision: body.ExpectedRevision,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	if key != "" {
		if err := h.deps.Idempotency.Save(r.Context(), key, inputHash, outcome, h.idempotencyTTL()); err != nil {
			logger.Warn("failed to record idempotency key", zap.Error(err))
		}
	}
	WriteOutcome(w, outcome)
}

func (h *handlers) idempotencyTTL() time.Duration {
	return h.deps.Config.Idempotency.Store.DefaultTTL
}

func (h *handlers) markSeen(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	item, err := h.deps.Inbox.MarkSeen(r.Context(), chi.URLParam(r, "id"), rctx)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

// decodeJSON decodes a size-limited JSON request body into out. An empty
// body leaves out untouched.
func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("Invalid JSON body")
	}
	return nil
}
