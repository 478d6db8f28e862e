package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/kiroku/internal/ingest"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              *ingest.Engine
	store               storage.Store
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	storeName           string
	maxRequestBodyBytes int64
	maxBatchSpans       int
	listLimitDefault    int
	listLimitMax        int
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Engine              *ingest.Engine
	Store               storage.Store
	Logger              *slog.Logger
	Version             string
	StoreName           string
	MaxRequestBodyBytes int64
	MaxBatchSpans       int
	ListLimitDefault    int
	ListLimitMax        int
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		engine:              d.Engine,
		store:               d.Store,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		storeName:           d.StoreName,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		maxBatchSpans:       d.MaxBatchSpans,
		listLimitDefault:    d.ListLimitDefault,
		listLimitMax:        d.ListLimitMax,
	}
}

// HandleIngest handles POST /v1/spans. The batch commits atomically or not
// at all; a rejection carries every violation in the error details.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Spans) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "spans must not be empty")
		return
	}
	if len(req.Spans) > h.maxBatchSpans {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"batch exceeds "+strconv.Itoa(h.maxBatchSpans)+" spans")
		return
	}

	resp, err := h.engine.Ingest(r.Context(), req.Spans)
	if err != nil {
		var be *ingest.BatchError
		switch {
		case errors.As(err, &be):
			writeErrorDetails(w, r, http.StatusUnprocessableEntity, model.ErrCodeBatchRejected,
				"batch rejected", be.Violations)
		case errors.Is(err, ingest.ErrCommitFailed):
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeTransient,
				"commit failed, resubmit the batch")
		case errors.Is(err, ingest.ErrEmptyBatch):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "spans must not be empty")
		default:
			h.logger.Error("ingest failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, resp)
}

// HandleGetTrace handles GET /v1/traces/{trace_id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")

	view, err := h.engine.GetTrace(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
			return
		}
		h.logger.Error("get trace failed", "trace_id", traceID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, view)
}

// HandleListTraces handles GET /v1/traces.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := h.listLimitDefault
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = min(n, h.listLimitMax)
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	// Fetch one extra row to detect whether more pages exist.
	summaries, err := h.engine.ListTraces(r.Context(), limit+1, offset)
	if err != nil {
		h.logger.Error("list traces failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	hasMore := len(summaries) > limit
	if hasMore {
		summaries = summaries[:limit]
	}
	if summaries == nil {
		summaries = []model.TraceSummary{}
	}

	writeList(w, r, summaries, hasMore, limit, offset)
}

// HandleDeleteTrace handles DELETE /v1/traces/{trace_id}.
func (h *Handlers) HandleDeleteTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")

	deleted, err := h.engine.DeleteTrace(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
			return
		}
		h.logger.Error("delete trace failed", "trace_id", traceID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, model.DeleteTraceResponse{TraceID: traceID, SpansDeleted: deleted})
}

// HandleGetSpan handles GET /v1/traces/{trace_id}/spans/{span_id}.
func (h *Handlers) HandleGetSpan(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	spanID := r.PathValue("span_id")

	span, err := h.engine.GetSpan(r.Context(), traceID, spanID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "span not found")
			return
		}
		h.logger.Error("get span failed", "trace_id", traceID, "span_id", spanID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, span)
}

// HandleSpanExists handles GET /v1/traces/{trace_id}/spans/{span_id}/exists.
// Always 200; existence is reported in the body so callers doing referential
// validation need no error handling for the negative case.
func (h *Handlers) HandleSpanExists(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")
	spanID := r.PathValue("span_id")

	exists, err := h.engine.SpanExists(r.Context(), traceID, spanID)
	if err != nil {
		h.logger.Error("span exists failed", "trace_id", traceID, "span_id", spanID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, model.ExistsResponse{Exists: exists})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storageStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		storageStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:  status,
		Version: h.version,
		Storage: h.storeName + ": " + storageStatus,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// handleDecodeError maps request body decoding failures to 400 responses.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, "request body too large")
		return
	}
	if errors.Is(err, model.ErrNonScalarMeta) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "metadata values must be scalar")
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
}
