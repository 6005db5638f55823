// Package domain defines the business logic for the ergonomic assessment service.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"example.com/ergorisk/internal/pose"
	"example.com/ergorisk/internal/rula"
)

var (
	// ErrAssessmentNotFound is returned when an assessment cannot be located.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrDuplicateIdempotencyKey is returned by repositories when another request stored an
	// assessment under the same idempotency key first.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// DefaultHighRiskThreshold is the composite score from which an assessment raises an alert.
const DefaultHighRiskThreshold = 5

// AssessmentRepository captures persistence operations.
type AssessmentRepository interface {
	FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*AssessmentAggregate, error)
	Create(ctx context.Context, aggregate AssessmentAggregate, idempotencyKey string) error
	Get(ctx context.Context, tenantID, assessmentID string) (*AssessmentAggregate, error)
	ListByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]AssessmentAggregate, *Cursor, error)
	SummaryByUser(ctx context.Context, tenantID, userID string, window time.Duration) (AssessmentSummary, error)
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithExtractor overrides the angle extractor.
func WithExtractor(extractor *pose.Extractor) Option {
	return func(s *Service) {
		s.extractor = extractor
	}
}

// WithHighRiskThreshold overrides the composite score that flags an assessment as high risk.
func WithHighRiskThreshold(threshold int) Option {
	return func(s *Service) {
		if threshold > 0 {
			s.highRiskThreshold = threshold
		}
	}
}

// Service orchestrates assessment workflows.
type Service struct {
	repo              AssessmentRepository
	extractor         *pose.Extractor
	highRiskThreshold int
	now               func() time.Time
}

// NewService constructs a Service.
func NewService(repo AssessmentRepository, opts ...Option) *Service {
	s := &Service{
		repo:              repo,
		extractor:         pose.NewExtractor(),
		highRiskThreshold: DefaultHighRiskThreshold,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAssessmentInput captures the payload from the API layer.
type CreateAssessmentInput struct {
	TenantID       string
	UserID         string
	Source         string
	CapturedAt     time.Time
	Frames         []pose.LandmarkSet
	IdempotencyKey string
}

// Cursor models the pagination token.
type Cursor struct {
	CapturedAt time.Time
	ID         string
}

// CreateAssessment scores the frames and persists the result. A repeated idempotency key
// returns the stored assessment without re-scoring.
func (s *Service) CreateAssessment(ctx context.Context, input CreateAssessmentInput) (*AssessmentAggregate, bool, error) {
	if existing, err := s.repo.FindByIdempotency(ctx, input.TenantID, input.UserID, input.IdempotencyKey); err == nil && existing != nil {
		return existing, true, nil
	}

	evaluation, err := Evaluate(s.extractor, input.Frames)
	if err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	captured := input.CapturedAt.UTC()
	if input.CapturedAt.IsZero() {
		captured = now
	}

	aggregate := AssessmentAggregate{
		ID:             uuid.NewString(),
		TenantID:       input.TenantID,
		UserID:         input.UserID,
		Source:         input.Source,
		Angles:         evaluation.Angles.AngleSet,
		Score:          evaluation.Score,
		FramesAnalyzed: evaluation.FramesAnalyzed,
		FramesRejected: evaluation.FramesRejected,
		WristMode:      s.extractor.WristMode().String(),
		HighRisk:       evaluation.Score.Composite >= s.highRiskThreshold,
		Version:        "v1",
		State:          AssessmentStateScored,
		CapturedAt:     captured,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, aggregate, input.IdempotencyKey); err != nil {
		if !errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil, false, err
		}
		// A concurrent request with the same key won; answer with its assessment.
		existing, findErr := s.repo.FindByIdempotency(ctx, input.TenantID, input.UserID, input.IdempotencyKey)
		if findErr != nil || existing == nil {
			return nil, false, errors.Join(err, findErr)
		}
		return existing, true, nil
	}

	return &aggregate, false, nil
}

// ScoreAngles scores caller-supplied angles without persisting anything.
func (s *Service) ScoreAngles(angles pose.AngleSet) rula.Score {
	return rula.Assess(angles)
}

// GetAssessment fetches by ID.
func (s *Service) GetAssessment(ctx context.Context, tenantID, assessmentID string) (*AssessmentAggregate, error) {
	if uuid.Validate(assessmentID) != nil {
		return nil, ErrAssessmentNotFound
	}
	agg, err := s.repo.Get(ctx, tenantID, assessmentID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, ErrAssessmentNotFound
	}
	return agg, nil
}

// ListAssessmentsByUser fetches assessments with cursor pagination.
func (s *Service) ListAssessmentsByUser(ctx context.Context, tenantID, userID string, cursor *Cursor, limit int) ([]AssessmentAggregate, *Cursor, error) {
	return s.repo.ListByUser(ctx, tenantID, userID, cursor, limit)
}

// GetAssessmentMetrics summarises a user's assessments inside the window and attaches the
// most recent ones. A zero window covers all history.
func (s *Service) GetAssessmentMetrics(ctx context.Context, tenantID, userID string, window time.Duration, timelineLimit int) (*AssessmentMetrics, error) {
	summary, err := s.repo.SummaryByUser(ctx, tenantID, userID, window)
	if err != nil {
		return nil, err
	}

	timeline, _, err := s.repo.ListByUser(ctx, tenantID, userID, nil, timelineLimit)
	if err != nil {
		return nil, err
	}

	metrics := &AssessmentMetrics{
		Summary:       summary,
		Timeline:      timeline,
		WindowSeconds: int64(window / time.Second),
	}
	if summary.Total > 0 {
		metrics.HighRiskRate = float64(summary.HighRisk) / float64(summary.Total)
	}
	return metrics, nil
}
