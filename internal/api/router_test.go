package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/classify"
	"mailtriage/internal/engine"
	"mailtriage/internal/model"
	"mailtriage/pkg/trace"
	"mailtriage/pkg/util"
)

var t0 = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

type kickCounter struct{ n int }

func (k *kickCounter) Kick() { k.n++ }

type testServer struct {
	engine *engine.Engine
	router *Router
	kicks  *kickCounter
}

func newTestServer(t *testing.T, secret string, checks ...ReadyCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var n int
	e := engine.New(engine.DefaultConfig(), nil, nil,
		engine.WithClock(func() time.Time { return t0 }),
		engine.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	kicks := &kickCounter{}
	h := Handlers{
		Tasks:    NewTaskHandler(e, nil),
		Feedback: NewFeedbackHandler(e, nil),
		Emails:   NewEmailHandler(e, kicks, nil),
	}
	return &testServer{engine: e, router: NewRouter(h, secret, checks, nil), kicks: kicks}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// classified 通过 HTTP 收件后直接回填分类结果
func (s *testServer) classified(t *testing.T, id, urgency, category string) model.ClassificationDecision {
	t.Helper()
	w := s.do(t, http.MethodPost, "/emails", map[string]any{
		"email_id": id,
		"sender":   "Alice <alice@acme.io>",
		"subject":  "Please review",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	gen := uint64(decode(t, w)["generation"].(float64))

	conf := 0.9
	d, ok, err := s.engine.ApplyClassification(context.Background(), engine.ClassificationResult{
		EmailID:    id,
		Generation: gen,
		Raw:        &classify.RawClassification{Urgency: urgency, Category: category, Confidence: &conf},
	})
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, "")
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", nil).Code)

	failing := newTestServer(t, "", ReadyCheck{Name: "db", Check: func(context.Context) error { return errors.New("down") }})
	w := failing.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "db_not_ready", decode(t, w)["status"])
}

func TestTraceHeaderEchoed(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/healthz", nil, trace.HeaderName(), "trace-123")
	assert.Equal(t, "trace-123", w.Header().Get(trace.HeaderName()))

	w = s.do(t, http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName()))
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/tasks", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/tasks", nil, "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)

	token, err := util.GenerateJWT("gui", "secret", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/tasks", nil, "Authorization", "Bearer "+token).Code)
}

func TestIngestAndDecision(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/emails", map[string]any{"email_id": "m1", "subject": "hi"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, s.kicks.n)

	w = s.do(t, http.MethodGet, "/emails/m1/decision", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/emails/nope/decision", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/emails", map[string]any{"email_id": ""}).Code)

	d := s.classified(t, "m2", "urgent", "work")
	w = s.do(t, http.MethodGet, "/emails/m2/decision", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, d.ID, decode(t, w)["decision"].(map[string]any)["id"])
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t, "")
	s.classified(t, "m1", "to_respond", "work")
	s.classified(t, "m2", "urgent", "work")

	w := s.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode(t, w)["tasks"].([]any)
	require.Len(t, tasks, 2)
	first := tasks[0].(map[string]any)
	assert.Equal(t, "m2", first["task"].(map[string]any)["email_id"])
	assert.EqualValues(t, 1, first["rank"])

	taskID := s.engine.Snapshot().Ranked()[1].Task.ID

	w = s.do(t, http.MethodPost, "/emails/m1/followup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "awaiting_response", decode(t, w)["task"].(map[string]any)["state"])

	w = s.do(t, http.MethodGet, "/tasks?state=awaiting_response", nil)
	assert.Len(t, decode(t, w)["tasks"].([]any), 1)

	w = s.do(t, http.MethodPost, "/tasks/"+taskID+"/snooze", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["reminder"].(map[string]any)["snooze_count"])

	w = s.do(t, http.MethodPost, "/tasks/"+taskID+"/reschedule", map[string]any{"due_at": t0.Add(48 * time.Hour)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/tasks/"+taskID+"/reschedule", map[string]any{}).Code)

	w = s.do(t, http.MethodGet, "/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "reminder")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks/"+taskID+"/complete", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/tasks/"+taskID+"/complete", nil).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/tasks/"+taskID+"/dismiss", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/tasks/missing/complete", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/tasks/missing", nil).Code)

	w = s.do(t, http.MethodGet, "/tasks", nil)
	assert.Len(t, decode(t, w)["tasks"].([]any), 1)
	w = s.do(t, http.MethodGet, "/tasks?all=true", nil)
	assert.Len(t, decode(t, w)["tasks"].([]any), 2)
}

func TestCorrectionsAndStats(t *testing.T) {
	s := newTestServer(t, "")
	d := s.classified(t, "m1", "fyi", "information")

	w := s.do(t, http.MethodPost, "/corrections", map[string]any{"decision_id": d.ID, "urgency": "urgent"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, false, body["confirming"])

	assert.Equal(t, http.StatusUnprocessableEntity,
		s.do(t, http.MethodPost, "/corrections", map[string]any{"decision_id": "missing", "urgency": "urgent"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/corrections", map[string]any{"decision_id": d.ID, "urgency": "someday"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/corrections", map[string]any{"urgency": "urgent"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/corrections", map[string]any{"decision_id": d.ID, "source": "robot"}).Code)

	w = s.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["corrections"].(map[string]any)["total"])
	assert.Equal(t, "learning", stats["adaptation_level"])

	w = s.do(t, http.MethodGet, "/weights?prefix=sender:acme.io:", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["weights"])
	w = s.do(t, http.MethodGet, "/weights?prefix=sender:nobody:", nil)
	assert.Empty(t, decode(t, w)["weights"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(model.ErrEngineStopped))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("wrap: %w", model.ErrInvalidTransition)))
}
