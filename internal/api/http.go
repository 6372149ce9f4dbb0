package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const defaultBodyLimit int64 = 8 << 20

// HTTPOptions tunes the HTTP handler.
type HTTPOptions struct {
	// BodyLimit caps request bodies in bytes.
	BodyLimit   int64
	ServiceName string
}

type httpHandlers struct {
	svc       ReviewAPI
	logger    *slog.Logger
	bodyLimit int64
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPHandler routes the review API with chi and wraps it in otelhttp.
func NewHTTPHandler(svc ReviewAPI, logger *slog.Logger, opts HTTPOptions) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = defaultBodyLimit
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "agentic-reviewer"
	}
	h := &httpHandlers{svc: svc, logger: logger, bodyLimit: opts.BodyLimit}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Post("/review", h.review)
	r.Post("/review/batch", h.reviewBatch)
	r.Get("/cache/stats", h.cacheStats)
	r.Post("/cache/invalidate", h.invalidate)
	r.Delete("/cache", h.purgeCache)
	r.Get("/reviews/{sampleID}", h.history)
	r.Get("/passes/{passID}/summary", h.summary)
	r.Get("/healthz", h.health)

	return otelhttp.NewHandler(r, opts.ServiceName)
}

func (h *httpHandlers) review(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reviewRequestBody](w, r, h.bodyLimit)
	if !ok {
		return
	}
	model, err := req.toModel()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	res, err := h.svc.Review(r.Context(), model)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *httpHandlers) reviewBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[models.BatchReviewRequest](w, r, h.bodyLimit)
	if !ok {
		return
	}
	resp, err := h.svc.ReviewBatch(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *httpHandlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CacheStats())
}

func (h *httpHandlers) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := h.svc.History(r.Context(), chi.URLParam(r, "sampleID"), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *httpHandlers) invalidate(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[reviewRequestBody](w, r, h.bodyLimit)
	if !ok {
		return
	}
	req, err := body.toModel()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	enabled, err := h.svc.Invalidate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponse{CacheEnabled: enabled})
}

func (h *httpHandlers) purgeCache(w http.ResponseWriter, r *http.Request) {
	h.svc.PurgeCache()
	w.WriteHeader(http.StatusNoContent)
}

func (h *httpHandlers) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context(), chi.URLParam(r, "passID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *httpHandlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}

func (h *httpHandlers) writeServiceError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Any("error", err))
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
