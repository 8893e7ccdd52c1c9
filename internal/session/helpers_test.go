package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/snapshot"
)

var errNetwork = errors.New("network unreachable")

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type fakeQuestions struct {
	mu          sync.Mutex
	questions   []model.Question
	fetchErr    error
	eligibility model.Eligibility
	eligErr     error
	fetches     int
}

func (f *fakeQuestions) FetchQuestions(_ context.Context, _, _ string) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return model.CloneQuestions(f.questions), nil
}

func (f *fakeQuestions) CheckEligibility(_ context.Context, _, _ string) (model.Eligibility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eligibility, f.eligErr
}

type fakeSubmitter struct {
	mu    sync.Mutex
	errs  []error
	calls []model.SubmitRequest
	// during runs inside the call, before the result is returned.
	during func(call int)
}

func (f *fakeSubmitter) Submit(_ context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.during != nil {
		f.during(len(f.calls))
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &model.SubmitResult{ExamID: req.ExamID, Payload: []byte(`{"score":1}`)}, nil
}

func (f *fakeSubmitter) Calls() []model.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmitRequest(nil), f.calls...)
}

type fakeRetry struct {
	mu      sync.Mutex
	pending []model.PendingSubmission
}

func (f *fakeRetry) Enqueue(_ context.Context, p model.PendingSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, p)
	return nil
}

type recorder struct {
	mu    sync.Mutex
	kinds []NotificationKind
	last  map[NotificationKind]Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, n.Kind)
	if r.last == nil {
		r.last = make(map[NotificationKind]Notification)
	}
	r.last[n.Kind] = n
}

func (r *recorder) Last(kind NotificationKind) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.last[kind]
	return n, ok
}

func (r *recorder) Count(kind NotificationKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func makeQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:      fmt.Sprintf("q%d", i+1),
			Text:    fmt.Sprintf("Question %d", i+1),
			Type:    model.QuestionTypeMCQ,
			Options: []string{"A", "B", "C", "D"},
			Marks:   1,
		}
	}
	return qs
}

func intPtr(v int) *int { return &v }

type harness struct {
	now       *fakeNow
	store     *snapshot.MemoryStore
	questions *fakeQuestions
	submitter *fakeSubmitter
	retry     *fakeRetry
	events    *recorder
}

func newHarness(n int) *harness {
	return &harness{
		now:       newFakeNow(),
		store:     snapshot.NewMemoryStore(zerolog.Nop()),
		questions: &fakeQuestions{questions: makeQuestions(n), eligibility: model.Eligibility{Eligible: true}},
		submitter: &fakeSubmitter{},
		retry:     &fakeRetry{},
		events:    &recorder{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Store:        h.store,
		Questions:    h.questions,
		Submitter:    h.submitter,
		Retry:        h.retry,
		Observer:     h.events,
		Now:          h.now.Now,
		NewAttemptID: func() string { return "attempt-1" },
	}
}

// testOptions keeps the background clocks from ever firing so tests drive
// time through Engine.Tick.
func testOptions() Options {
	return Options{TickInterval: time.Hour, AutosaveInterval: 15 * time.Second}
}

func (h *harness) engine(t *testing.T, kind model.ExamKind, duration int) *Engine {
	t.Helper()
	exam := model.Exam{ID: "exam-1", Kind: kind, Title: "Physics", DurationSeconds: duration}
	e := NewEngine(exam, "token", h.deps(), testOptions(), zerolog.Nop())
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func (h *harness) stored(t *testing.T) *model.Snapshot {
	t.Helper()
	snap, err := h.store.Get(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("expected stored snapshot: %v", err)
	}
	return snap
}

func (h *harness) assertNoSnapshot(t *testing.T) {
	t.Helper()
	if _, err := h.store.Get(context.Background(), "exam-1"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected no snapshot, got err=%v", err)
	}
}

func mustDispatch(t *testing.T, e *Engine, evs ...Event) View {
	t.Helper()
	var v View
	for _, ev := range evs {
		var err error
		v, err = e.Dispatch(ev)
		if err != nil {
			t.Fatalf("dispatch %s: %v", ev.Type, err)
		}
	}
	return v
}
