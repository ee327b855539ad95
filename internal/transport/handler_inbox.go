package transport

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/cartable/internal/observability"
	"github.com/pitabwire/cartable/internal/report"
	"github.com/pitabwire/cartable/model"
)

func (h *handlers) myCartable(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.Inbox.MyCartable(r.Context(), model.MustRequestContext(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (h *handlers) unread(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.Inbox.Unread(r.Context(), model.MustRequestContext(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (h *handlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Inbox.UnreadCount(r.Context(), model.MustRequestContext(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

// exportXLSX downloads the caller's visible items as a workbook.
func (h *handlers) exportXLSX(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	items, err := h.deps.Inbox.MyCartable(r.Context(), rctx)
	if err != nil {
		WriteError(w, err)
		return
	}
	buf, err := report.WriteXLSX(items)
	if err != nil {
		observability.RequestLogger(r.Context(), h.logger).Error("export failed", zap.Error(err))
		WriteError(w, model.NewInternalError())
		return
	}

	filename := fmt.Sprintf("cartable-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", report.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
