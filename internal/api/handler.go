// Package api exposes the proctoring engine over HTTP.
package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"proctor-engine/internal/event"
	"proctor-engine/internal/monitor"
	"proctor-engine/internal/queue"
	"proctor-engine/internal/report"
	"proctor-engine/internal/session"
	s3store "proctor-engine/internal/storage/s3"
)

// Handler serves the session monitoring API.
type Handler struct {
	manager   *monitor.Manager
	validator *event.Validator
	evidence  *s3store.EvidenceStore
	queue     *queue.RingBuffer

	maxPayload int
	startTime  time.Time

	sessionsStarted uint64
	eventsTotal     uint64
	reportsServed   uint64
}

// NewHandler creates a new API handler.
func NewHandler(manager *monitor.Manager, validator *event.Validator) *Handler {
	return &Handler{
		manager:    manager,
		validator:  validator,
		maxPayload: 10 * 1024 * 1024, // 10MB
		startTime:  time.Now(),
	}
}

// WithEvidenceStore enables inline evidence upload on event submission.
func (h *Handler) WithEvidenceStore(store *s3store.EvidenceStore) *Handler {
	h.evidence = store
	return h
}

// WithQueue exposes archive queue depth on health and metrics endpoints.
func (h *Handler) WithQueue(q *queue.RingBuffer) *Handler {
	h.queue = q
	return h
}

// WithMaxPayload sets the maximum request payload size.
func (h *Handler) WithMaxPayload(size int) *Handler {
	h.maxPayload = size
	return h
}

// Routes returns the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sessions", h.handleStartSession)
	mux.HandleFunc("GET /v1/sessions", h.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/events", h.handleAddEvent)
	mux.HandleFunc("POST /v1/sessions/{id}/end", h.handleEndSession)
	mux.HandleFunc("POST /v1/sessions/{id}/flag", h.handleFlag)
	mux.HandleFunc("POST /v1/sessions/{id}/reviewer", h.handleAssignReviewer)
	mux.HandleFunc("POST /v1/sessions/{id}/events/{index}/resolve", h.handleResolve)
	mux.HandleFunc("GET /v1/sessions/{id}/report", h.handleReport)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)

	return mux
}

// StartSessionRequest is the request body for session creation.
type StartSessionRequest struct {
	SubjectID        string            `json:"subject_id"`
	ConsentGiven     bool              `json:"consent_given"`
	ComplianceChecks bool              `json:"compliance_checks"`
	DeviceInfo       map[string]string `json:"device_info,omitempty"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "subject_id is required")
		return
	}

	s, err := h.manager.StartSession(r.Context(), monitor.StartInput{
		SubjectID:        req.SubjectID,
		ConsentGiven:     req.ConsentGiven,
		ComplianceChecks: req.ComplianceChecks,
		DeviceInfo:       req.DeviceInfo,
	})
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	atomic.AddUint64(&h.sessionsStarted, 1)
	respondJSON(w, http.StatusCreated, s.Summarize())
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sessions, err := h.manager.ListSessions(r.Context(), filter)
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	summaries := make([]session.Summary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summarize())
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"count":    len(summaries),
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	s, err := h.manager.GetSession(r.Context(), id)
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s)
}

// EventRequest is the request body for submitting a violation event.
// Severity is optional; when present it overrides the type mapping.
// Evidence may be attached inline as base64 or referenced directly.
type EventRequest struct {
	Type                string     `json:"type"`
	Confidence          float64    `json:"confidence"`
	Description         string     `json:"description"`
	Severity            string     `json:"severity,omitempty"`
	Timestamp           *time.Time `json:"timestamp,omitempty"`
	EvidenceRef         string     `json:"evidence_ref,omitempty"`
	Evidence            string     `json:"evidence,omitempty"`
	EvidenceContentType string     `json:"evidence_content_type,omitempty"`
}

// handleAddEvent accepts one event as a JSON object or a batch as a JSON
// array. Every event in a batch is built and validated before the first
// append, so a malformed batch rejects as a whole.
func (h *Handler) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var reqs []EventRequest
	if body[0] == '[' {
		if err := json.Unmarshal(body, &reqs); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid JSON: %v", err))
			return
		}
		if len(reqs) == 0 {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "event batch is empty")
			return
		}
	} else {
		var req EventRequest
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid JSON: %v", err))
			return
		}
		reqs = []EventRequest{req}
	}

	events := make([]event.Event, 0, len(reqs))
	for i, req := range reqs {
		ev, ok := h.buildEvent(w, r, id, i, req)
		if !ok {
			return
		}
		events = append(events, ev)
	}

	var s *session.Session
	for _, ev := range events {
		var err error
		s, err = h.manager.AddEvent(r.Context(), id, ev)
		if err != nil {
			h.respondMapped(w, err)
			return
		}
		atomic.AddUint64(&h.eventsTotal, 1)
	}

	respondJSON(w, http.StatusOK, s.Summarize())
}

// buildEvent constructs and validates one event from its request, uploading
// inline evidence when present. Responds and returns false on any failure.
func (h *Handler) buildEvent(w http.ResponseWriter, r *http.Request, id uuid.UUID, index int, req EventRequest) (event.Event, bool) {
	var ev event.Event
	var err error
	if req.Severity != "" {
		sev := event.Severity(req.Severity)
		if !sev.IsValid() {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("event %d: invalid severity %q", index, req.Severity))
			return ev, false
		}
		ev, err = event.NewWithSeverity(event.Type(req.Type), req.Confidence, req.Description, sev)
	} else {
		ev, err = event.New(event.Type(req.Type), req.Confidence, req.Description)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("event %d: %v", index, err))
		return ev, false
	}

	if req.Timestamp != nil {
		ev.Timestamp = req.Timestamp.UTC()
	}

	switch {
	case req.Evidence != "":
		if h.evidence == nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
				"inline evidence is not supported, evidence store disabled")
			return ev, false
		}
		data, decErr := base64.StdEncoding.DecodeString(req.Evidence)
		if decErr != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "evidence must be base64")
			return ev, false
		}
		ref, putErr := h.evidence.Put(r.Context(), id.String(), string(ev.Type), data, req.EvidenceContentType)
		if putErr != nil {
			respondError(w, http.StatusBadGateway, "EVIDENCE_UPLOAD_FAILED", putErr.Error())
			return ev, false
		}
		ev.EvidenceRef = ref
	case req.EvidenceRef != "":
		ev.EvidenceRef = req.EvidenceRef
	}

	if err := h.validator.Validate(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_EVENT",
			fmt.Sprintf("event %d: %v", index, err))
		return ev, false
	}

	return ev, true
}

// EndSessionRequest is the request body for ending a session.
type EndSessionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req EndSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	s, err := h.manager.EndSession(r.Context(), id, session.Status(req.Reason))
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s.Summarize())
}

// FlagRequest is the request body for manually flagging a session.
type FlagRequest struct {
	Author string `json:"author"`
	Reason string `json:"reason"`
}

func (h *Handler) handleFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req FlagRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "reason is required")
		return
	}

	s, err := h.manager.FlagForReview(r.Context(), id, req.Author, req.Reason)
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s.Summarize())
}

// AssignReviewerRequest is the request body for reviewer assignment.
type AssignReviewerRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

func (h *Handler) handleAssignReviewer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req AssignReviewerRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.ReviewerID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "reviewer_id is required")
		return
	}

	s, err := h.manager.AssignReviewer(r.Context(), id, req.ReviewerID)
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s.Summarize())
}

// ResolveRequest is the request body for resolving a violation.
type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes,omitempty"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "violation index must be an integer")
		return
	}

	var req ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.ResolvedBy == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "resolved_by is required")
		return
	}

	s, err := h.manager.ResolveViolation(r.Context(), id, index, req.ResolvedBy, req.Notes)
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":       s.ID,
		"unresolved_count": s.Aggregates.UnresolvedCount,
		"risk_score":       s.Aggregates.RiskScore,
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	s, err := h.manager.GetSession(r.Context(), id)
	if err != nil {
		h.respondMapped(w, err)
		return
	}

	atomic.AddUint64(&h.reportsServed, 1)
	respondJSON(w, http.StatusOK, report.Generate(s))
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	}

	if h.queue != nil {
		metrics := h.queue.Metrics()
		if metrics.Depth > int(float64(metrics.Capacity)*0.9) {
			resp["status"] = "degraded"
		}
		resp["queue_depth"] = metrics.Depth
		resp["queue_capacity"] = metrics.Capacity
	}

	respondJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /metrics (Prometheus format).
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP proctor_sessions_started_total Total sessions started\n")
	fmt.Fprintf(w, "# TYPE proctor_sessions_started_total counter\n")
	fmt.Fprintf(w, "proctor_sessions_started_total %d\n\n", atomic.LoadUint64(&h.sessionsStarted))

	fmt.Fprintf(w, "# HELP proctor_events_total Total violation events accepted\n")
	fmt.Fprintf(w, "# TYPE proctor_events_total counter\n")
	fmt.Fprintf(w, "proctor_events_total %d\n\n", atomic.LoadUint64(&h.eventsTotal))

	fmt.Fprintf(w, "# HELP proctor_reports_served_total Total integrity reports served\n")
	fmt.Fprintf(w, "# TYPE proctor_reports_served_total counter\n")
	fmt.Fprintf(w, "proctor_reports_served_total %d\n\n", atomic.LoadUint64(&h.reportsServed))

	for name, value := range h.manager.Stats() {
		fmt.Fprintf(w, "# TYPE proctor_%s counter\n", name)
		fmt.Fprintf(w, "proctor_%s %d\n\n", name, value)
	}

	if h.queue != nil {
		metrics := h.queue.Metrics()

		fmt.Fprintf(w, "# HELP proctor_queue_pushed_total Total violations pushed to archive queue\n")
		fmt.Fprintf(w, "# TYPE proctor_queue_pushed_total counter\n")
		fmt.Fprintf(w, "proctor_queue_pushed_total %d\n\n", metrics.Pushed)

		fmt.Fprintf(w, "# HELP proctor_queue_depth Current archive queue depth\n")
		fmt.Fprintf(w, "# TYPE proctor_queue_depth gauge\n")
		fmt.Fprintf(w, "proctor_queue_depth %d\n\n", metrics.Depth)

		fmt.Fprintf(w, "# HELP proctor_queue_dropped_total Violations dropped due to full queue\n")
		fmt.Fprintf(w, "# TYPE proctor_queue_dropped_total counter\n")
		fmt.Fprintf(w, "proctor_queue_dropped_total %d\n\n", metrics.Dropped)
	}

	fmt.Fprintf(w, "# HELP proctor_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE proctor_uptime_seconds gauge\n")
	fmt.Fprintf(w, "proctor_uptime_seconds %d\n", int(time.Since(h.startTime).Seconds()))
}

// sessionID extracts and parses the {id} path segment.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// readBody reads a size-capped request body, responding on failure.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxPayload))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if err.Error() == "http: request body too large" {
			respondError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large")
			return nil, false
		}
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read request body")
		return nil, false
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is required")
		return nil, false
	}

	return body, true
}

// decode reads and unmarshals a JSON request body, responding on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := h.readBody(w, r)
	if !ok {
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid JSON: %v", err))
		return false
	}

	return true
}

// respondMapped translates domain errors to HTTP status codes.
func (h *Handler) respondMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidConsent):
		respondError(w, http.StatusUnprocessableEntity, "CONSENT_REQUIRED", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrViolationNotFound):
		respondError(w, http.StatusNotFound, "VIOLATION_NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrAlreadyEnded):
		respondError(w, http.StatusConflict, "SESSION_ALREADY_ENDED", err.Error())
	case errors.Is(err, session.ErrNotActive):
		respondError(w, http.StatusConflict, "SESSION_NOT_ACTIVE", err.Error())
	case errors.Is(err, session.ErrAlreadyResolved):
		respondError(w, http.StatusConflict, "ALREADY_RESOLVED", err.Error())
	case errors.Is(err, monitor.ErrInvalidEndReason):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, monitor.ErrShuttingDown):
		respondError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
	default:
		slog.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// filterFromQuery parses list filters from query parameters.
func filterFromQuery(r *http.Request) (session.Filter, error) {
	var filter session.Filter
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := session.Status(v)
		if !status.IsValid() {
			return filter, fmt.Errorf("invalid status %q", v)
		}
		filter.Status = &status
	}

	if v := q.Get("flagged"); v != "" {
		flagged, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid flagged value %q", v)
		}
		filter.Flagged = &flagged
	}

	filter.SubjectID = q.Get("subject_id")

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = limit
	}

	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", v)
		}
		filter.Offset = offset
	}

	return filter, nil
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
