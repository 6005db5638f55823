// Package api exposes HTTP handlers for the ergonomic assessment service.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/ergorisk/internal/auth"
	"example.com/ergorisk/internal/domain"
	"example.com/ergorisk/internal/observability"
	"example.com/ergorisk/internal/persistence"
	"example.com/ergorisk/internal/pose"
)

const (
	defaultMaxFrames     = 300
	maxBodyBytesPerFrame = 8 << 10
	defaultListLimit     = 20
	maxListLimit         = 100
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service   *domain.Service
	maxFrames int
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithMaxFrames caps the number of frames accepted per assessment.
func WithMaxFrames(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxFrames = n
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...HandlerOption) *Handler {
	h := &Handler{service: service, maxFrames: defaultMaxFrames}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/assessments", h.assessments)
	mux.HandleFunc("/v1/assessments/", h.assessmentByID)
	mux.HandleFunc("/v1/assessments/metrics", h.assessmentMetrics)
	mux.HandleFunc("/v1/scores", h.scores)
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("/health", health)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) assessments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAssessment(w, r)
	case http.MethodGet:
		h.listAssessments(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) assessmentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/assessments/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing assessment id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getAssessment(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createAssessment(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAssessmentsWrite)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxFrames+1)*maxBodyBytesPerFrame)
	var req CreateAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := req.Validate(h.maxFrames); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	frames, err := LandmarkSets(req.Frames)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_landmarks", err.Error())
		return
	}

	input := domain.CreateAssessmentInput{
		TenantID:       claims.TenantID,
		UserID:         req.UserID,
		Source:         req.Source,
		Frames:         frames,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if req.CapturedAt != nil {
		input.CapturedAt = *req.CapturedAt
	}

	aggregate, replay, err := h.service.CreateAssessment(r.Context(), input)
	if err != nil {
		writeEvaluationError(w, err)
		return
	}

	status := http.StatusCreated
	if replay {
		status = http.StatusOK
	} else {
		observability.RecordScore(aggregate.Score.Composite, aggregate.FramesAnalyzed, aggregate.FramesRejected)
	}

	writeJSON(w, status, CreateAssessmentResponse{
		AssessmentView: toAssessmentView(*aggregate),
		Replay:         replay,
	})
}

func (h *Handler) getAssessment(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeAssessmentsRead, auth.ScopeAssessmentsWrite)
	if !ok {
		return
	}

	aggregate, err := h.service.GetAssessment(r.Context(), claims.TenantID, id)
	if err != nil {
		if errors.Is(err, domain.ErrAssessmentNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "assessment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toAssessmentView(*aggregate))
}

func (h *Handler) listAssessments(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAssessmentsRead, auth.ScopeAssessmentsWrite)
	if !ok {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxListLimit)
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	aggregates, next, err := h.service.ListAssessmentsByUser(r.Context(), claims.TenantID, userID, cursor, limit)
	if errors.Is(err, persistence.ErrInvalidCursor) {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]AssessmentView, 0, len(aggregates))
	for _, agg := range aggregates {
		items = append(items, toAssessmentView(agg))
	}

	writeJSON(w, http.StatusOK, ListAssessmentsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) assessmentMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeAssessmentsRead, auth.ScopeAssessmentsWrite)
	if !ok {
		return
	}

	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return
	}

	timelineLimit := 10
	if raw := r.URL.Query().Get("timeline_limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timelineLimit = min(parsed, 50)
		}
	}

	windowHours := 24
	if raw := r.URL.Query().Get("window_hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			windowHours = parsed
		}
	}

	window := time.Duration(windowHours) * time.Hour
	metrics, err := h.service.GetAssessmentMetrics(r.Context(), claims.TenantID, userID, window, timelineLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	summary := metrics.Summary
	resp := AssessmentMetricsResponse{
		Summary: AssessmentMetricsSummary{
			Total:            summary.Total,
			HighRisk:         summary.HighRisk,
			HighRiskRate:     metrics.HighRiskRate,
			AverageComposite: summary.AverageComposite,
			MaxComposite:     summary.MaxComposite,
			ByActionLevel:    summary.ByActionLevel,
			LastAssessedAt:   summary.LastAssessedAt,
		},
		WindowSeconds: metrics.WindowSeconds,
		TimelineLimit: timelineLimit,
		Timeline:      make([]AssessmentView, 0, len(metrics.Timeline)),
	}
	if resp.Summary.ByActionLevel == nil {
		resp.Summary.ByActionLevel = map[string]int{}
	}

	for _, agg := range metrics.Timeline {
		resp.Timeline = append(resp.Timeline, toAssessmentView(agg))
	}

	writeJSON(w, http.StatusOK, resp)
}

// scores evaluates caller-supplied angles without persisting anything.
func (h *Handler) scores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeAssessmentsRead, auth.ScopeAssessmentsWrite); !ok {
		return
	}

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toScoreView(h.service.ScoreAngles(req.AngleSet())))
}

// requireScope returns the caller's claims when they hold any of the scopes.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if claims.HasAnyScope(scopes...) {
		return claims, true
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// writeEvaluationError maps scoring failures onto HTTP statuses. An all-rejected sequence also
// wraps the first landmark error, so the empty-sequence check must come first.
func writeEvaluationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pose.ErrEmptyFrameSequence):
		writeError(w, http.StatusUnprocessableEntity, "no_pose_detected", "no pose detected: "+err.Error())
	case errors.Is(err, pose.ErrInvalidLandmarkData):
		writeError(w, http.StatusBadRequest, "invalid_landmarks", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

// writeJSON encodes before writing the status so an unencodable payload becomes a 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("api: encode response: %v", err)
		status = http.StatusInternalServerError
		body = []byte(`{"type":"server_error","detail":"response could not be encoded"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
