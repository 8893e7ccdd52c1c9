package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/snapshot"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

const testSecret = "handler-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type stubQuestions struct{}

func (stubQuestions) FetchQuestions(_ context.Context, _, _ string) ([]model.Question, error) {
	return []model.Question{
		{ID: "q1", Text: "2 + 2?", Type: model.QuestionTypeMCQ, Options: []string{"3", "4", "5"}, Marks: 1},
		{ID: "q2", Text: "The sky is blue.", Type: model.QuestionTypeTrueFalse, Options: []string{"True", "False"}, Marks: 1},
	}, nil
}

func (stubQuestions) CheckEligibility(_ context.Context, _, _ string) (model.Eligibility, error) {
	return model.Eligibility{Eligible: true}, nil
}

type stubSubmitter struct {
	mu    sync.Mutex
	calls []model.SubmitRequest
}

func (s *stubSubmitter) Submit(_ context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	return &model.SubmitResult{ExamID: req.ExamID, Payload: json.RawMessage(`{"score":1}`), SubmittedAt: time.Now()}, nil
}

type testEnv struct {
	router    *gin.Engine
	manager   *session.Manager
	store     snapshot.Store
	submitter *stubSubmitter
	token     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	store := snapshot.NewMemoryStore(log)
	submitter := &stubSubmitter{}
	hub := ws.NewHub(log)
	manager := session.NewManager(session.Deps{
		Store:     store,
		Questions: stubQuestions{},
		Submitter: submitter,
		Observer:  hub,
	}, session.Options{TickInterval: time.Hour, AutosaveInterval: 15 * time.Second}, log)
	t.Cleanup(func() { manager.CloseAll(context.Background()) })

	sessions := NewSessionHandler(manager, store, log)
	stream := NewWSHandler(manager, hub, log, nil)

	r := gin.New()
	api := r.Group("/api/v1", middleware.RequireStudentToken(testSecret))
	api.POST("/sessions", sessions.OpenSession)
	api.GET("/sessions/:exam_id", sessions.GetSession)
	api.POST("/sessions/:exam_id/resume", sessions.Resume)
	api.POST("/sessions/:exam_id/start-fresh", sessions.StartFresh)
	api.POST("/sessions/:exam_id/actions", sessions.Action)
	api.POST("/sessions/:exam_id/submit", sessions.Submit)
	api.POST("/sessions/:exam_id/leave", sessions.Leave)
	api.DELETE("/sessions/:exam_id", sessions.CloseSession)
	api.GET("/snapshots", sessions.ListSnapshots)
	r.GET("/ws/v1/sessions/:exam_id/stream", middleware.RequireStudentToken(testSecret), stream.SessionStream)

	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TokenType:        "student",
		UserID:           7,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return &testEnv{router: r, manager: manager, store: store, submitter: submitter, token: token}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (env *testEnv) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var out envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func errCode(e envelope) string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

const openBody = `{"exam_id":"exam-1","kind":"PRACTICE","title":"Warm-up","duration_seconds":600}`

func (env *testEnv) open(t *testing.T) session.View {
	t.Helper()
	status, body := env.do(t, http.MethodPost, "/api/v1/sessions", openBody)
	if status != http.StatusCreated {
		t.Fatalf("open: status = %d, code = %s", status, errCode(body))
	}
	var data struct {
		Outcome session.Outcome `json:"outcome"`
		View    session.View    `json:"view"`
	}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("decode open: %v", err)
	}
	if data.Outcome != session.OutcomeActive {
		t.Fatalf("outcome = %s, want ACTIVE", data.Outcome)
	}
	return data.View
}

func decodeResult(t *testing.T, e envelope) ws.ActionResult {
	t.Helper()
	var res ws.ActionResult
	if err := json.Unmarshal(e.Data, &res); err != nil {
		t.Fatalf("decode action result: %v", err)
	}
	return res
}

func TestOpenSession(t *testing.T) {
	env := newTestEnv(t)
	v := env.open(t)
	if v.Phase != session.PhaseActive || v.Total != 2 || v.RemainingSeconds != 600 {
		t.Fatalf("unexpected view: phase=%s total=%d remaining=%d", v.Phase, v.Total, v.RemainingSeconds)
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/sessions", openBody)
	if status != http.StatusConflict || errCode(body) != "SESSION_ALREADY_ACTIVE" {
		t.Fatalf("second open: status = %d, code = %s", status, errCode(body))
	}
}

func TestOpenSessionValidation(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodPost, "/api/v1/sessions", `{"exam_id":"exam-1","kind":"WEEKLY","duration_seconds":600}`)
	if status != http.StatusBadRequest || errCode(body) != "VALIDATION_ERROR" {
		t.Fatalf("status = %d, code = %s", status, errCode(body))
	}
}

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAnswerAndSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.open(t)

	status, body := env.do(t, http.MethodPost, "/api/v1/sessions/exam-1/actions", `{"action":"select","option":1}`)
	if status != http.StatusOK {
		t.Fatalf("select: status = %d, code = %s", status, errCode(body))
	}
	if res := decodeResult(t, body); !res.View.Statuses[0].Answered {
		t.Fatalf("question 1 should be answered")
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/sessions/exam-1/actions", `{"action":"submit"}`)
	if status != http.StatusOK {
		t.Fatalf("submit request: status = %d, code = %s", status, errCode(body))
	}
	res := decodeResult(t, body)
	if !res.View.Confirming || res.View.Summary == nil || res.View.Summary.Answered != 1 {
		t.Fatalf("expected confirmation summary with 1 answered, got %+v", res.View.Summary)
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/sessions/exam-1/submit", "")
	if status != http.StatusOK {
		t.Fatalf("confirm: status = %d, code = %s", status, errCode(body))
	}
	res = decodeResult(t, body)
	if res.View.Phase != session.PhaseSubmitted || res.Result == nil {
		t.Fatalf("phase = %s, result = %v", res.View.Phase, res.Result)
	}

	if len(env.submitter.calls) != 1 || env.submitter.calls[0].Answers["q1"] != 1 {
		t.Fatalf("submit calls = %+v", env.submitter.calls)
	}
	if env.submitter.calls[0].AuthToken != env.token {
		t.Fatalf("submission must carry the bearer token")
	}
	if _, err := env.store.Get(context.Background(), "exam-1"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("snapshot should be erased after submit, got %v", err)
	}
}

func TestActionErrors(t *testing.T) {
	env := newTestEnv(t)
	env.open(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"option out of range", "/api/v1/sessions/exam-1/actions", `{"action":"select","option":9}`, http.StatusBadRequest, "OPTION_OUT_OF_RANGE"},
		{"missing option", "/api/v1/sessions/exam-1/actions", `{"action":"stage"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown action", "/api/v1/sessions/exam-1/actions", `{"action":"dance"}`, http.StatusBadRequest, "UNKNOWN_ACTION"},
		{"missing action", "/api/v1/sessions/exam-1/actions", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"confirm without summary", "/api/v1/sessions/exam-1/submit", "", http.StatusConflict, "NOT_CONFIRMING"},
		{"resume without offer", "/api/v1/sessions/exam-1/resume", "", http.StatusConflict, ""},
		{"unknown session", "/api/v1/sessions/exam-9/actions", `{"action":"next"}`, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"bad leave decision", "/api/v1/sessions/exam-1/leave", `{"decision":"MAYBE"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, tt.path, tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (code %s)", status, tt.status, errCode(body))
			}
			if tt.code != "" && errCode(body) != tt.code {
				t.Fatalf("code = %s, want %s", errCode(body), tt.code)
			}
		})
	}
}

func TestLeaveThenResume(t *testing.T) {
	env := newTestEnv(t)
	env.open(t)
	env.do(t, http.MethodPost, "/api/v1/sessions/exam-1/actions", `{"action":"select","option":2}`)

	status, body := env.do(t, http.MethodPost, "/api/v1/sessions/exam-1/leave", `{"decision":"STAY"}`)
	if res := decodeResult(t, body); status != http.StatusOK || res.Allow == nil || *res.Allow {
		t.Fatalf("stay must keep the user on the exam")
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/sessions/exam-1/leave", `{"decision":"LEAVE"}`)
	res := decodeResult(t, body)
	if status != http.StatusOK || res.Allow == nil || !*res.Allow {
		t.Fatalf("leave: status = %d, allow = %v", status, res.Allow)
	}
	if res.View.Phase != session.PhaseAbandoned {
		t.Fatalf("phase = %s, want ABANDONED", res.View.Phase)
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/snapshots", "")
	if status != http.StatusOK || !strings.Contains(string(body.Data), `"exam_id":"exam-1"`) {
		t.Fatalf("snapshots: status = %d, body = %s", status, body.Data)
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/sessions", openBody)
	if status != http.StatusOK || !strings.Contains(string(body.Data), `"outcome":"RESUME_OFFERED"`) {
		t.Fatalf("reopen: status = %d, body = %s", status, body.Data)
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/sessions/exam-1/resume", "")
	res = decodeResult(t, body)
	if status != http.StatusOK || res.View.Phase != session.PhaseActive {
		t.Fatalf("resume: status = %d, phase = %s", status, res.View.Phase)
	}
	if sel := res.View.Statuses[0].SelectedOption; sel == nil || *sel != 2 {
		t.Fatalf("restored answer = %v, want 2", sel)
	}
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t)
	env.open(t)

	if status, _ := env.do(t, http.MethodDelete, "/api/v1/sessions/exam-1", ""); status != http.StatusNoContent {
		t.Fatalf("close: status = %d", status)
	}
	if _, err := env.store.Get(context.Background(), "exam-1"); err != nil {
		t.Fatalf("closing an active attempt must save it: %v", err)
	}
	if status, _ := env.do(t, http.MethodDelete, "/api/v1/sessions/exam-1", ""); status != http.StatusNotFound {
		t.Fatalf("second close: status = %d, want 404", status)
	}
}

func TestSessionStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/sessions/"

	_, resp, err := websocket.DefaultDialer.Dial(base+"exam-1/stream?token="+env.token, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stream without a session must be refused with 404, got %v", err)
	}

	env.open(t)
	conn, _, err := websocket.DefaultDialer.Dial(base+"exam-1/stream?token="+env.token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() map[string]json.RawMessage {
		t.Helper()
		var msg map[string]json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}
	event := func(msg map[string]json.RawMessage) string {
		var e string
		_ = json.Unmarshal(msg["event"], &e)
		return e
	}

	if msg := read(); event(msg) != string(ws.EventState) {
		t.Fatalf("first event = %s, want state", event(msg))
	}

	if err := conn.WriteJSON(ws.Request{Action: ws.ActionPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := read(); event(msg) != string(ws.EventPong) {
		t.Fatalf("event = %s, want pong", event(msg))
	}

	opt := 0
	if err := conn.WriteJSON(ws.Request{Action: ws.ActionSelect, Option: &opt}); err != nil {
		t.Fatalf("write select: %v", err)
	}
	msg := read()
	if event(msg) != string(ws.EventState) {
		t.Fatalf("event = %s, want state", event(msg))
	}
	var v session.View
	if err := json.Unmarshal(msg["view"], &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if !v.Statuses[0].Answered {
		t.Fatalf("selection not reflected in pushed state")
	}

	if err := conn.WriteJSON(ws.Request{Action: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = read()
	var code string
	_ = json.Unmarshal(msg["code"], &code)
	if event(msg) != string(ws.EventError) || code != "UNKNOWN_ACTION" {
		t.Fatalf("event = %s, code = %s", event(msg), code)
	}
}

func TestReopenWhileResumeOfferPending(t *testing.T) {
	env := newTestEnv(t)
	env.open(t)
	env.do(t, http.MethodPost, "/api/v1/sessions/exam-1/leave", `{"decision":"LEAVE"}`)

	for i := 0; i < 2; i++ {
		status, body := env.do(t, http.MethodPost, "/api/v1/sessions", openBody)
		if status != http.StatusOK || !strings.Contains(string(body.Data), `"outcome":"RESUME_OFFERED"`) {
			t.Fatalf("open #%d: status = %d, code = %s", i+1, status, errCode(body))
		}
	}
}
