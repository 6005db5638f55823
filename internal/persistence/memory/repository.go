// Package memory keeps assessments in process memory for local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/ergorisk/internal/domain"
	"example.com/ergorisk/internal/observability"
)

// Repository implements domain.AssessmentRepository without external storage.
type Repository struct {
	mu          sync.RWMutex
	assessments map[string]domain.AssessmentAggregate
	idempotency map[string]string
	now         func() time.Time
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		assessments: make(map[string]domain.AssessmentAggregate),
		idempotency: make(map[string]string),
		now:         time.Now,
	}
}

func idempotencyKey(tenantID, userID, key string) string {
	return tenantID + "\x00" + userID + "\x00" + key
}

// FindByIdempotency implements domain.AssessmentRepository.
func (r *Repository) FindByIdempotency(ctx context.Context, tenantID, userID, key string) (*domain.AssessmentAggregate, error) {
	if key == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idempotency[idempotencyKey(tenantID, userID, key)]
	if !ok {
		return nil, nil
	}
	agg := r.assessments[id]
	return &agg, nil
}

// Create implements domain.AssessmentRepository. The idempotency key is claimed under the
// same lock as the insert, so concurrent creates with one key store a single assessment.
func (r *Repository) Create(ctx context.Context, aggregate domain.AssessmentAggregate, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key != "" {
		k := idempotencyKey(aggregate.TenantID, aggregate.UserID, key)
		if _, taken := r.idempotency[k]; taken {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, key)
		}
		r.idempotency[k] = aggregate.ID
	}
	r.assessments[aggregate.ID] = aggregate
	observability.RecordAssessmentPersisted(aggregate.UpdatedAt)
	return nil
}

// Get implements domain.AssessmentRepository.
func (r *Repository) Get(ctx context.Context, tenantID, assessmentID string) (*domain.AssessmentAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg, ok := r.assessments[assessmentID]
	if !ok || agg.TenantID != tenantID {
		return nil, nil
	}
	return &agg, nil
}

// ListByUser returns assessments newest first, continuing after cursor when set.
func (r *Repository) ListByUser(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.AssessmentAggregate, *domain.Cursor, error) {
	r.mu.RLock()
	matches := make([]domain.AssessmentAggregate, 0)
	for _, agg := range r.assessments {
		if agg.TenantID == tenantID && agg.UserID == userID {
			matches = append(matches, agg)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return before(matches[j], matches[i].CapturedAt, matches[i].ID)
	})

	results := make([]domain.AssessmentAggregate, 0, limit)
	for _, agg := range matches {
		if cursor != nil && !before(agg, cursor.CapturedAt, cursor.ID) {
			continue
		}
		results = append(results, agg)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CapturedAt: last.CapturedAt, ID: last.ID}
	}
	return results, next, nil
}

// before reports whether agg sorts strictly after (capturedAt, id) in descending order.
func before(agg domain.AssessmentAggregate, capturedAt time.Time, id string) bool {
	if agg.CapturedAt.Equal(capturedAt) {
		return agg.ID < id
	}
	return agg.CapturedAt.Before(capturedAt)
}

// SummaryByUser implements domain.AssessmentRepository. A zero window covers all history.
func (r *Repository) SummaryByUser(ctx context.Context, tenantID, userID string, window time.Duration) (domain.AssessmentSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Time{}
	if window > 0 {
		cutoff = r.now().Add(-window)
	}

	selected := make([]domain.AssessmentAggregate, 0)
	for _, agg := range r.assessments {
		if agg.TenantID != tenantID || agg.UserID != userID {
			continue
		}
		if !cutoff.IsZero() && agg.CapturedAt.Before(cutoff) {
			continue
		}
		selected = append(selected, agg)
	}
	return domain.Summarize(selected), nil
}
