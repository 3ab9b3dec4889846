package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fieldops/opsimport/internal/auth"
	"github.com/fieldops/opsimport/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler exposes the import pipeline over HTTP.
type Handler struct {
	service *Service
	log     *logrus.Logger
}

// NewHandler wraps the service with HTTP endpoints.
func NewHandler(service *Service, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{service: service, log: log}
}

// Register mounts all pipeline routes on the router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/api/imports", h.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/api/imports", h.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/imports/records/{id}", h.handleReport).Methods(http.MethodGet)
	router.HandleFunc("/api/imports/{handle}/validate", h.handleValidate).Methods(http.MethodPost)
	router.HandleFunc("/api/imports/{handle}/reconcile", h.handleReconcile).Methods(http.MethodPost)
	router.HandleFunc("/api/imports/{handle}/decisions", h.handleDecisions).Methods(http.MethodPost)
	router.HandleFunc("/api/imports/{handle}/execute", h.handleExecute).Methods(http.MethodPost)
	router.HandleFunc("/api/imports/{handle}/audit", h.handleAuditTrail).Methods(http.MethodGet)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, domain.ErrBadRequest("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, domain.ErrBadRequest("file is required: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, domain.ErrBadRequest("failed to read file: %v", err))
		return
	}

	mediaType := header.Header.Get("Content-Type")
	if declared := strings.TrimSpace(r.FormValue("mediaType")); declared != "" {
		mediaType = declared
	}

	result, err := h.service.Parse(r.Context(), ParseRequest{
		FileName:   header.Filename,
		MediaType:  mediaType,
		UploadedBy: actor(r),
		Data:       bytes.NewReader(data),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	handle, err := handleFrom(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		Categories []domain.DataCategory `json:"categories"`
		Mode       domain.ValidationMode `json:"mode"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	outcome, err := h.service.Validate(r.Context(), ValidateRequest{
		Handle:     handle,
		Categories: body.Categories,
		Mode:       body.Mode,
		Actor:      actor(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	handle, err := handleFrom(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		Categories []domain.DataCategory `json:"categories"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	outcome, err := h.service.Reconcile(r.Context(), ReconcileRequest{
		Handle:     handle,
		Categories: body.Categories,
		Actor:      actor(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleDecisions(w http.ResponseWriter, r *http.Request) {
	handle, err := handleFrom(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		Decisions []domain.Decision `json:"decisions"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.service.ApplyDecisions(r.Context(), DecisionBatch{
		Handle:    handle,
		Decisions: body.Decisions,
		Actor:     actor(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	handle, err := handleFrom(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var body struct {
		DryRun          bool `json:"dry_run"`
		SkipValidation  bool `json:"skip_validation"`
		UnresolvedAsNew bool `json:"unresolved_as_new"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	record, err := h.service.Execute(r.Context(), ExecuteRequest{
		Handle:          handle,
		DryRun:          body.DryRun,
		SkipValidation:  body.SkipValidation,
		UnresolvedAsNew: body.UnresolvedAsNew,
		Actor:           actor(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ImportRecordFilter{}

	if raw := query.Get("status"); raw != "" {
		status := domain.ImportRecordStatus(raw)
		filter.Status = &status
	}
	if raw := query.Get("category"); raw != "" {
		category := domain.DataCategory(raw)
		filter.Category = &category
	}
	if raw := query.Get("actor"); raw != "" {
		filter.TriggeredBy = &raw
	}
	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, domain.ErrBadRequest("invalid from timestamp: %v", err))
			return
		}
		filter.From = &from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, domain.ErrBadRequest("invalid to timestamp: %v", err))
			return
		}
		filter.To = &to
	}

	limit, offset := pagination(query.Get("limit"), query.Get("offset"))

	records, total, err := h.service.History(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, domain.ErrBadRequest("invalid import id %q", raw))
		return
	}

	record, err := h.service.Report(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	handle, err := handleFrom(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	limit, offset := pagination(r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))

	entries, total, err := h.service.AuditTrail(r.Context(), handle, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func handleFrom(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["handle"]
	handle, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ErrBadRequest("invalid handle %q", raw)
	}
	return handle, nil
}

func actor(r *http.Request) string {
	return auth.ActorFromContext(r.Context())
}

func decodeJSON(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return domain.ErrBadRequest("invalid request body: %v", err)
	}
	return nil
}

func pagination(rawLimit, rawOffset string) (int, int) {
	limit := 50
	offset := 0
	if parsed, err := strconv.Atoi(rawLimit); err == nil && parsed > 0 {
		limit = parsed
	}
	if parsed, err := strconv.Atoi(rawOffset); err == nil && parsed >= 0 {
		offset = parsed
	}
	return limit, offset
}

// writeError maps coded pipeline errors to their status class; anything else
// is logged and surfaced as a generic internal error.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if coded, ok := domain.AsError(err); ok {
		writeJSON(w, coded.Status, map[string]any{"error": coded})
		return
	}

	h.log.WithError(err).Error("unhandled pipeline error")
	internal := domain.ErrInternal(err)
	writeJSON(w, internal.Status, map[string]any{"error": internal})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Println("failed to encode response:", err)
	}
}
