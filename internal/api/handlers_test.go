package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/ergorisk/internal/auth"
	"example.com/ergorisk/internal/domain"
	"example.com/ergorisk/internal/persistence/memory"
	"example.com/ergorisk/internal/pose"
	"example.com/ergorisk/internal/pose/posetest"
)

func TestCreateAssessmentScoresNamedLandmarks(t *testing.T) {
	_, mux := newTestServer()

	body := createBody(t, "user-1", namedFrame(posetest.ArmRaised()), namedFrame(posetest.ArmRaised()))
	rr := serve(mux, http.MethodPost, "/v1/assessments", body, writer(), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp CreateAssessmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AssessmentID)
	assert.Equal(t, "tenant-1", resp.TenantID)
	assert.Equal(t, 3, resp.CompositeScore)
	assert.Equal(t, "investigate", resp.ActionLevel)
	assert.Equal(t, 2, resp.FramesAnalyzed)
	assert.Equal(t, "literal", resp.WristMode)
	assert.Equal(t, "scored", resp.Status)
	assert.False(t, resp.HighRisk)
	assert.False(t, resp.Replay)
	assert.InDelta(t, 0, resp.AggregatedAngles.ShoulderFlexion, 0.5)
	assert.InDelta(t, 90, resp.AggregatedAngles.ElbowFlexion, 0.5)
}

func TestCreateAssessmentAcceptsMediaPipeRows(t *testing.T) {
	_, mux := newTestServer()

	frame := FramePayload{MediaPipe: posetest.MediaPipeRows(posetest.Stooped())}
	rr := serve(mux, http.MethodPost, "/v1/assessments", createBody(t, "user-1", frame), writer(), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp CreateAssessmentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.CompositeScore)
	assert.Equal(t, "change_immediately", resp.ActionLevel)
	assert.True(t, resp.HighRisk)
}

func TestCreateAssessmentIdempotentReplay(t *testing.T) {
	_, mux := newTestServer()
	body := createBody(t, "user-1", namedFrame(posetest.Upright()))
	headers := map[string]string{"Idempotency-Key": "capture-42"}

	first := serve(mux, http.MethodPost, "/v1/assessments", body, writer(), headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := serve(mux, http.MethodPost, "/v1/assessments", body, writer(), headers)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	var a, b CreateAssessmentResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.AssessmentID, b.AssessmentID)
	assert.True(t, b.Replay)
}

func TestCreateAssessmentConcurrentSameKey(t *testing.T) {
	_, mux := newTestServer()
	body := createBody(t, "user-1", namedFrame(posetest.Upright()))
	headers := map[string]string{"Idempotency-Key": "capture-race"}

	const callers = 8
	results := make([]*httptest.ResponseRecorder, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = serve(mux, http.MethodPost, "/v1/assessments", body, writer(), headers)
		}()
	}
	wg.Wait()

	ids := make(map[string]struct{})
	created := 0
	for _, rr := range results {
		require.Contains(t, []int{http.StatusCreated, http.StatusOK}, rr.Code, rr.Body.String())
		if rr.Code == http.StatusCreated {
			created++
		}
		var resp CreateAssessmentResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		ids[resp.AssessmentID] = struct{}{}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1, "every caller sees the same assessment")

	rr := serve(mux, http.MethodGet, "/v1/assessments?user_id=user-1", nil, reader(), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page ListAssessmentsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Len(t, page.Items, 1)
}

func TestCreateAssessmentRejections(t *testing.T) {
	missingHip := namedFrame(posetest.Without(posetest.Upright(), pose.LeftHip))
	unknown := namedFrame(posetest.Upright())
	unknown.Landmarks["tail"] = LandmarkPayload{X: ptr(0.1), Y: ptr(0.2)}
	both := namedFrame(posetest.Upright())
	both.MediaPipe = posetest.MediaPipeRows(posetest.Upright())
	overflow := namedFrame(posetest.Upright())
	overflow.Landmarks["right_shoulder"] = LandmarkPayload{X: ptr(1.5e308), Y: ptr(0.3)}
	overflow.Landmarks["right_elbow"] = LandmarkPayload{X: ptr(-1.5e308), Y: ptr(0.5)}
	rows := posetest.MediaPipeRows(posetest.Upright())
	rows[pose.MediaPipeIndex(pose.RightWrist)] = []float64{0.6, 0.5, 0, 1.5}
	badVisibility := FramePayload{MediaPipe: rows}

	cases := []struct {
		name   string
		body   []byte
		claims *auth.Claims
		status int
		kind   string
	}{
		{name: "no pose in any frame", body: createBody(t, "user-1", missingHip, missingHip), claims: writer(), status: http.StatusUnprocessableEntity, kind: "no_pose_detected"},
		{name: "coordinates overflow angle math", body: createBody(t, "user-1", overflow), claims: writer(), status: http.StatusUnprocessableEntity, kind: "no_pose_detected"},
		{name: "mediapipe visibility out of range", body: createBody(t, "user-1", badVisibility), claims: writer(), status: http.StatusBadRequest, kind: "invalid_landmarks"},
		{name: "unknown joint", body: createBody(t, "user-1", unknown), claims: writer(), status: http.StatusBadRequest, kind: "invalid_landmarks"},
		{name: "both encodings", body: createBody(t, "user-1", both), claims: writer(), status: http.StatusBadRequest, kind: "validation_failed"},
		{name: "no frames", body: createBody(t, "user-1"), claims: writer(), status: http.StatusBadRequest, kind: "validation_failed"},
		{name: "missing user", body: createBody(t, "", namedFrame(posetest.Upright())), claims: writer(), status: http.StatusBadRequest, kind: "validation_failed"},
		{name: "too many frames", body: createBody(t, "user-1", namedFrame(posetest.Upright()), namedFrame(posetest.Upright()), namedFrame(posetest.Upright())), claims: writer(), status: http.StatusBadRequest, kind: "validation_failed"},
		{name: "malformed json", body: []byte(`{"frames":`), claims: writer(), status: http.StatusBadRequest, kind: "invalid_request"},
		{name: "read scope only", body: createBody(t, "user-1", namedFrame(posetest.Upright())), claims: reader(), status: http.StatusForbidden, kind: "forbidden"},
		{name: "anonymous", body: createBody(t, "user-1", namedFrame(posetest.Upright())), status: http.StatusUnauthorized, kind: "unauthorized"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, mux := newTestServer(WithMaxFrames(2))
			rr := serve(mux, http.MethodPost, "/v1/assessments", tc.body, tc.claims, nil)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())

			var problem map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
			assert.Equal(t, tc.kind, problem["type"])
		})
	}
}

func TestGetAssessment(t *testing.T) {
	_, mux := newTestServer()

	created := serve(mux, http.MethodPost, "/v1/assessments", createBody(t, "user-1", namedFrame(posetest.Upright())), writer(), nil)
	require.Equal(t, http.StatusCreated, created.Code)
	var view CreateAssessmentResponse
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &view))

	rr := serve(mux, http.MethodGet, "/v1/assessments/"+view.AssessmentID, nil, reader(), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got AssessmentView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, view.AssessmentView.AssessmentID, got.AssessmentID)
	assert.Equal(t, 6, got.CompositeScore)
	assert.Equal(t, 4, got.Breakdown.UpperArm)

	other := reader()
	other.TenantID = "tenant-2"
	rr = serve(mux, http.MethodGet, "/v1/assessments/"+view.AssessmentID, nil, other, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "assessments are tenant scoped")

	rr = serve(mux, http.MethodDelete, "/v1/assessments/"+view.AssessmentID, nil, writer(), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = serve(mux, http.MethodGet, "/v1/assessments/not-a-uuid", nil, reader(), nil)
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
	var problem map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "not_found", problem["type"])
}

func TestListAssessmentsPaginates(t *testing.T) {
	_, mux := newTestServer()
	base := time.Date(2025, time.October, 27, 9, 0, 0, 0, time.UTC)
	for i := range 3 {
		captured := base.Add(time.Duration(i) * time.Minute)
		req := CreateAssessmentRequest{UserID: "user-1", CapturedAt: &captured, Frames: []FramePayload{namedFrame(posetest.ArmRaised())}}
		raw, err := json.Marshal(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, serve(mux, http.MethodPost, "/v1/assessments", raw, writer(), nil).Code)
	}

	rr := serve(mux, http.MethodGet, "/v1/assessments?user_id=user-1&limit=2", nil, reader(), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page ListAssessmentsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.True(t, page.Items[0].CapturedAt.After(page.Items[1].CapturedAt))

	rr = serve(mux, http.MethodGet, "/v1/assessments?user_id=user-1&limit=2&cursor="+url.QueryEscape(page.NextCursor), nil, reader(), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rest ListAssessmentsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rest))
	require.Len(t, rest.Items, 1)
	assert.True(t, base.Equal(rest.Items[0].CapturedAt))

	rr = serve(mux, http.MethodGet, "/v1/assessments?user_id=user-1&cursor=%21%21%21", nil, reader(), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	foreign := base64.RawURLEncoding.EncodeToString([]byte("1761555600000000000|not-a-uuid"))
	rr = serve(mux, http.MethodGet, "/v1/assessments?user_id=user-1&cursor="+foreign, nil, reader(), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	rr = serve(mux, http.MethodGet, "/v1/assessments", nil, reader(), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAssessmentMetricsSuccess(t *testing.T) {
	now := time.Date(2025, time.October, 27, 20, 0, 0, 0, time.UTC)
	repo := &mockRepo{
		summary: domain.AssessmentSummary{
			Total:            4,
			HighRisk:         1,
			AverageComposite: 3.5,
			MaxComposite:     7,
			ByActionLevel:    map[string]int{"investigate": 3, "change_immediately": 1},
			LastAssessedAt:   &now,
		},
		timeline: []domain.AssessmentAggregate{
			{ID: "asm-1", TenantID: "tenant-1", UserID: "user-1", State: domain.AssessmentStatePublished, CapturedAt: now},
			{ID: "asm-2", TenantID: "tenant-1", UserID: "user-1", State: domain.AssessmentStateScored, CapturedAt: now.Add(-time.Hour)},
		},
	}
	handler := NewHandler(domain.NewService(repo))

	req := httptest.NewRequest(http.MethodGet, "/v1/assessments/metrics?user_id=user-1&timeline_limit=2&window_hours=0", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), reader()))
	rr := httptest.NewRecorder()
	handler.assessmentMetrics(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp AssessmentMetricsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Summary.Total)
	assert.InDelta(t, 0.25, resp.Summary.HighRiskRate, 1e-9)
	assert.Equal(t, 3, resp.Summary.ByActionLevel["investigate"])
	assert.Zero(t, resp.WindowSeconds)
	assert.Equal(t, 2, resp.TimelineLimit)
	require.Len(t, resp.Timeline, 2)
	assert.Equal(t, "asm-1", resp.Timeline[0].AssessmentID)
	assert.Equal(t, "published", resp.Timeline[0].Status)
}

func TestAssessmentMetricsRequiresUserID(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/assessments/metrics", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), reader()))
	rr := httptest.NewRecorder()
	handler.assessmentMetrics(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScoresEndpoint(t *testing.T) {
	_, mux := newTestServer()

	rr := serve(mux, http.MethodPost, "/v1/scores", []byte(`{"shoulderFlexion":100,"elbowFlexion":130,"wristNeutral":40,"neckFlexion":30,"trunkFlexion":70}`), reader(), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var score ScoreView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &score))
	assert.Equal(t, 7, score.CompositeScore)
	assert.Equal(t, 5, score.Breakdown.GroupA)
	assert.Equal(t, 4, score.Breakdown.GroupB)

	rr = serve(mux, http.MethodPost, "/v1/scores", []byte(`{"shoulderFlexion":10,"elbowFlexion":80}`), reader(), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &score))
	assert.Equal(t, 2, score.CompositeScore, "absent angles count as zero")
	assert.Equal(t, "acceptable", score.ActionLevel)

	rr = serve(mux, http.MethodPost, "/v1/scores", []byte(`{"trunkFlexion":200}`), reader(), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "trunkFlexion")

	rr = serve(mux, http.MethodGet, "/v1/scores", nil, reader(), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	_, mux := newTestServer()

	rr := serve(mux, http.MethodGet, "/healthz", nil, nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = serve(mux, http.MethodGet, "/health", nil, nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestLandmarkSetsReportsFrameIndex(t *testing.T) {
	good := namedFrame(posetest.Upright())
	bad := FramePayload{MediaPipe: [][]float64{{0.1, 0.2}}}

	_, err := LandmarkSets([]FramePayload{good, bad})
	require.ErrorIs(t, err, pose.ErrInvalidLandmarkData)
	assert.True(t, strings.HasPrefix(err.Error(), "frame 1:"), err.Error())

	sets, err := LandmarkSets([]FramePayload{good})
	require.NoError(t, err)
	assert.Equal(t, posetest.Upright().Len(), sets[0].Len())
}

func newTestServer(opts ...HandlerOption) (*Handler, *http.ServeMux) {
	handler := NewHandler(domain.NewService(memory.NewRepository()), opts...)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return handler, mux
}

func serve(mux *http.ServeMux, method, target string, body []byte, claims *auth.Claims, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func writer() *auth.Claims {
	return claimsWith(auth.ScopeAssessmentsWrite)
}

func reader() *auth.Claims {
	return claimsWith(auth.ScopeAssessmentsRead)
}

func claimsWith(scopes ...string) *auth.Claims {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &auth.Claims{
		Subject:   "tester",
		TenantID:  "tenant-1",
		Scopes:    set,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func namedFrame(set pose.LandmarkSet) FramePayload {
	frame := FramePayload{Landmarks: make(map[string]LandmarkPayload)}
	for _, j := range pose.Joints() {
		l, ok := set.Get(j)
		if !ok {
			continue
		}
		frame.Landmarks[j.String()] = LandmarkPayload{X: ptr(l.X), Y: ptr(l.Y), Z: l.Z, Confidence: ptr(l.Confidence)}
	}
	return frame
}

func createBody(t *testing.T, userID string, frames ...FramePayload) []byte {
	t.Helper()
	raw, err := json.Marshal(CreateAssessmentRequest{UserID: userID, Source: "webcam", Frames: frames})
	require.NoError(t, err)
	return raw
}

func ptr(v float64) *float64 { return &v }

type mockRepo struct {
	summary  domain.AssessmentSummary
	timeline []domain.AssessmentAggregate
}

func (m *mockRepo) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.AssessmentAggregate, error) {
	return nil, nil
}

func (m *mockRepo) Create(ctx context.Context, aggregate domain.AssessmentAggregate, idempotencyKey string) error {
	return nil
}

func (m *mockRepo) Get(ctx context.Context, tenantID, assessmentID string) (*domain.AssessmentAggregate, error) {
	return nil, nil
}

func (m *mockRepo) ListByUser(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.AssessmentAggregate, *domain.Cursor, error) {
	if limit <= 0 || limit > len(m.timeline) {
		limit = len(m.timeline)
	}
	out := make([]domain.AssessmentAggregate, limit)
	copy(out, m.timeline[:limit])
	return out, nil, nil
}

func (m *mockRepo) SummaryByUser(ctx context.Context, tenantID, userID string, window time.Duration) (domain.AssessmentSummary, error) {
	return m.summary, nil
}
