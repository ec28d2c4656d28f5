package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/scriptservice"
	"github.com/starford/perthro/internal/workspace"
)

// Handler holds API route handlers.
type Handler struct {
	svc *scriptservice.Service
	ws  *workspace.FS // nil when no workspace is configured
}

// NewHandler creates a new Handler. ws may be nil; the checkout endpoint
// then responds 503.
func NewHandler(svc *scriptservice.Service, ws *workspace.FS) *Handler {
	return &Handler{svc: svc, ws: ws}
}

// identity extracts the script identity from the URL.
func identity(r *http.Request) (models.Identity, bool) {
	id := models.Identity{
		Owner:  chi.URLParam(r, "owner"),
		Script: chi.URLParam(r, "script"),
	}
	return id, id.Owner != "" && id.Script != ""
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrNoData):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrStoreUnavailable):
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("version store unavailable"))
	case errors.Is(err, apperr.ErrConfigFetch),
		errors.Is(err, apperr.ErrRemoteAuth),
		errors.Is(err, apperr.ErrRemoteRejected),
		errors.Is(err, apperr.ErrRemoteUnavailable):
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// LoadContent handles GET /scripts/{owner}/{script}/content.
// Fresh and degraded loads both return 200; the Degraded flag and Notice
// let the UI show a non-fatal "working from local history" banner.
func (h *Handler) LoadContent(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("owner and script are required"))
		return
	}
	out, err := h.svc.Load(r.Context(), id)
	if err != nil {
		writeErr(w, "load", err)
		return
	}
	resp := ContentResponse{
		Content:  out.Content,
		Degraded: out.Status == scriptservice.LoadDegraded,
		Record:   out.Record,
	}
	if out.Notice != nil {
		resp.Notice = out.Notice.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// SaveVersion handles POST /scripts/{owner}/{script}/versions.
func (h *Handler) SaveVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("owner and script are required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req SaveVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	origin := models.Origin(req.Origin)
	if req.Origin == "" {
		origin = models.OriginManual
	}
	if origin != models.OriginManual && origin != models.OriginAutosave {
		writeJSON(w, http.StatusBadRequest, errorBody("origin must be manual or autosave"))
		return
	}

	rowID, err := h.svc.Save(r.Context(), id, req.Content, origin, req.Note)
	if err != nil {
		writeErr(w, "save", err)
		return
	}
	writeJSON(w, http.StatusCreated, SaveVersionResponse{ID: rowID})
}

// History handles GET /scripts/{owner}/{script}/versions.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("owner and script are required"))
		return
	}
	rows, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeErr(w, "history", err)
		return
	}
	if rows == nil {
		rows = []models.VersionRecord{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Versions: rows, Total: len(rows)})
}

// LastCheckpoint handles GET /scripts/{owner}/{script}/checkpoint.
func (h *Handler) LastCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("owner and script are required"))
		return
	}
	cp, err := h.svc.LastCheckpoint(r.Context(), id)
	if err != nil {
		writeErr(w, "checkpoint", err)
		return
	}
	if cp == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no checkpoint"))
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// Publish handles POST /scripts/{owner}/{script}/publish.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("owner and script are required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	if err := h.svc.Upload(r.Context(), id, req.Content); err != nil {
		writeErr(w, "publish", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "published"})
}

// Checkout handles POST /scripts/{owner}/{script}/checkout: it loads the
// current content and materializes it into the workspace file for editing.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("no workspace configured"))
		return
	}
	id, ok := identity(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("owner and script are required"))
		return
	}
	out, err := h.svc.Load(r.Context(), id)
	if err != nil {
		writeErr(w, "checkout", err)
		return
	}
	if err := h.ws.Write(id, []byte(out.Content)); err != nil {
		slog.Error("checkout write failed", slog.String("identity", id.Key()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("workspace write failed"))
		return
	}
	resp := ContentResponse{
		Content:  out.Content,
		Degraded: out.Status == scriptservice.LoadDegraded,
		Record:   out.Record,
	}
	if out.Notice != nil {
		resp.Notice = out.Notice.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteVersion handles DELETE /versions/{id}.
func (h *Handler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	rowID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid version id"))
		return
	}
	if err := h.svc.DeleteVersion(r.Context(), rowID); err != nil {
		writeErr(w, "delete version", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetHistory handles DELETE /scripts/{owner}/{script}/versions: it
// removes all manual and autosave rows, keeping the remote-sync lineage.
func (h *Handler) ResetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("owner and script are required"))
		return
	}
	n, err := h.svc.ResetHistory(r.Context(), id)
	if err != nil {
		writeErr(w, "reset history", err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedResponse{Deleted: n})
}

// PurgeHistory handles DELETE /scripts/{owner}/{script}: every row goes.
func (h *Handler) PurgeHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("owner and script are required"))
		return
	}
	n, err := h.svc.PurgeHistory(r.Context(), id)
	if err != nil {
		writeErr(w, "purge history", err)
		return
	}
	writeJSON(w, http.StatusOK, DeletedResponse{Deleted: n})
}
