package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"example.com/ergorisk/internal/domain"
	"example.com/ergorisk/internal/pose"
	"example.com/ergorisk/internal/rula"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LandmarkPayload is one joint position as produced by the pose estimator.
type LandmarkPayload struct {
	X          *float64 `json:"x" validate:"required"`
	Y          *float64 `json:"y" validate:"required"`
	Z          float64  `json:"z"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// FramePayload carries one frame either as named joints or as the 33 MediaPipe Pose rows.
type FramePayload struct {
	Landmarks map[string]LandmarkPayload `json:"landmarks,omitempty" validate:"required_without=MediaPipe,excluded_with=MediaPipe,dive"`
	MediaPipe [][]float64                `json:"mediapipe,omitempty" validate:"omitempty,len=33,dive,min=3,max=4"`
}

// LandmarkSet converts the payload onto the joint schema. Unknown joint names and malformed
// MediaPipe tables are reported as pose.ErrInvalidLandmarkData; missing joints are left for
// the extractor to reject.
func (f FramePayload) LandmarkSet() (pose.LandmarkSet, error) {
	if len(f.MediaPipe) > 0 {
		return pose.FromMediaPipe(f.MediaPipe)
	}

	var set pose.LandmarkSet
	for name, lm := range f.Landmarks {
		joint, err := pose.ParseJoint(name)
		if err != nil {
			return pose.LandmarkSet{}, err
		}
		if lm.X == nil || lm.Y == nil {
			return pose.LandmarkSet{}, fmt.Errorf("%w: %s lacks x or y", pose.ErrInvalidLandmarkData, joint)
		}
		l := pose.Landmark{X: *lm.X, Y: *lm.Y, Z: lm.Z, Confidence: 1}
		if lm.Confidence != nil {
			l.Confidence = *lm.Confidence
		}
		if err := set.Set(joint, l); err != nil {
			return pose.LandmarkSet{}, err
		}
	}
	return set, nil
}

// LandmarkSets converts every frame, reporting the index of the first bad frame.
func LandmarkSets(frames []FramePayload) ([]pose.LandmarkSet, error) {
	sets := make([]pose.LandmarkSet, 0, len(frames))
	for i, f := range frames {
		set, err := f.LandmarkSet()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// CreateAssessmentRequest is the payload for POST /v1/assessments.
type CreateAssessmentRequest struct {
	UserID     string         `json:"user_id" validate:"required,max=128"`
	Source     string         `json:"source" validate:"omitempty,max=64"`
	CapturedAt *time.Time     `json:"captured_at,omitempty"`
	Frames     []FramePayload `json:"frames" validate:"required,min=1,dive"`
}

// Validate checks the request shape and the frame limit. A maxFrames of zero disables the limit.
func (r CreateAssessmentRequest) Validate(maxFrames int) error {
	if err := validationError(validate.Struct(r)); err != nil {
		return err
	}
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if maxFrames > 0 && len(r.Frames) > maxFrames {
		return fmt.Errorf("frames exceeds the limit of %d", maxFrames)
	}
	return nil
}

// ScoreRequest is the payload for POST /v1/scores. Absent angles count as 0°.
type ScoreRequest struct {
	ShoulderFlexion float64 `json:"shoulderFlexion" validate:"gte=0,lte=180"`
	ElbowFlexion    float64 `json:"elbowFlexion" validate:"gte=0,lte=180"`
	WristNeutral    float64 `json:"wristNeutral" validate:"gte=0,lte=180"`
	NeckFlexion     float64 `json:"neckFlexion" validate:"gte=0,lte=180"`
	TrunkFlexion    float64 `json:"trunkFlexion" validate:"gte=0,lte=180"`
}

// Validate ensures every angle lies in [0, 180].
func (r ScoreRequest) Validate() error {
	return validationError(validate.Struct(r))
}

// AngleSet converts the request to the scoring input.
func (r ScoreRequest) AngleSet() pose.AngleSet {
	return pose.AngleSet(r)
}

// validationError flattens validator output into a single readable message.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}

// AnglesView exposes the aggregated angles in degrees.
type AnglesView struct {
	ShoulderFlexion float64 `json:"shoulderFlexion"`
	ElbowFlexion    float64 `json:"elbowFlexion"`
	WristNeutral    float64 `json:"wristNeutral"`
	NeckFlexion     float64 `json:"neckFlexion"`
	TrunkFlexion    float64 `json:"trunkFlexion"`
}

// ScoreView is the composite score with its breakdown.
type ScoreView struct {
	CompositeScore int            `json:"compositeScore"`
	Breakdown      rula.Breakdown `json:"breakdown"`
	ActionLevel    string         `json:"actionLevel"`
}

// AssessmentView exposes a stored assessment.
type AssessmentView struct {
	AssessmentID string `json:"assessmentId"`
	TenantID     string `json:"tenantId"`
	UserID       string `json:"userId"`
	Source       string `json:"source,omitempty"`
	ScoreView
	AggregatedAngles AnglesView `json:"aggregatedAngles"`
	FramesAnalyzed   int        `json:"framesAnalyzed"`
	FramesRejected   int        `json:"framesRejected"`
	WristMode        string     `json:"wristMode"`
	HighRisk         bool       `json:"highRisk"`
	Status           string     `json:"status"`
	Version          string     `json:"version"`
	CapturedAt       time.Time  `json:"capturedAt"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// CreateAssessmentResponse wraps the stored assessment with the replay flag.
type CreateAssessmentResponse struct {
	AssessmentView
	Replay bool `json:"idempotentReplay"`
}

// ListAssessmentsResponse packages list results.
type ListAssessmentsResponse struct {
	Items      []AssessmentView `json:"items"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// AssessmentMetricsSummary describes aggregate stats for a user's assessments.
type AssessmentMetricsSummary struct {
	Total            int            `json:"total"`
	HighRisk         int            `json:"highRisk"`
	HighRiskRate     float64        `json:"highRiskRate"`
	AverageComposite float64        `json:"averageComposite"`
	MaxComposite     int            `json:"maxComposite"`
	ByActionLevel    map[string]int `json:"byActionLevel"`
	LastAssessedAt   *time.Time     `json:"lastAssessedAt,omitempty"`
}

// AssessmentMetricsResponse merges summary metrics with recent timeline entries.
type AssessmentMetricsResponse struct {
	Summary       AssessmentMetricsSummary `json:"summary"`
	Timeline      []AssessmentView         `json:"timeline"`
	TimelineLimit int                      `json:"timelineLimit"`
	WindowSeconds int64                    `json:"windowSeconds"`
}

func toScoreView(score rula.Score) ScoreView {
	return ScoreView{
		CompositeScore: score.Composite,
		Breakdown:      score.Breakdown,
		ActionLevel:    score.ActionLevel().String(),
	}
}

func toAnglesView(a pose.AngleSet) AnglesView {
	return AnglesView(a)
}

func toAssessmentView(agg domain.AssessmentAggregate) AssessmentView {
	return AssessmentView{
		AssessmentID:     agg.ID,
		TenantID:         agg.TenantID,
		UserID:           agg.UserID,
		Source:           agg.Source,
		ScoreView:        toScoreView(agg.Score),
		AggregatedAngles: toAnglesView(agg.Angles),
		FramesAnalyzed:   agg.FramesAnalyzed,
		FramesRejected:   agg.FramesRejected,
		WristMode:        agg.WristMode,
		HighRisk:         agg.HighRisk,
		Status:           string(agg.State),
		Version:          agg.Version,
		CapturedAt:       agg.CapturedAt,
		CreatedAt:        agg.CreatedAt,
		UpdatedAt:        agg.UpdatedAt,
	}
}
