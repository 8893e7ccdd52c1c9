package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

func startActive(t *testing.T, h *harness, kind model.ExamKind, duration int) *Engine {
	t.Helper()
	e := h.engine(t, kind, duration)
	out, err := e.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out != OutcomeActive {
		t.Fatalf("outcome = %s, want ACTIVE", out)
	}
	return e
}

func TestEngineSubmitsOnlyCommittedAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3)
	e := startActive(t, h, model.ExamKindPractice, 600)

	// Answer Q1, mark Q2, skip Q3 with a stage that is never saved.
	mustDispatch(t, e, Select(1), Next(), ToggleMark(), Next(), Stage(3), Next(), ClearSelection(), SubmitRequested())

	res, err := e.ConfirmSubmit(ctx)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res == nil || res.ExamID != "exam-1" {
		t.Fatalf("unexpected result %+v", res)
	}

	calls := h.submitter.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 submit call, got %d", len(calls))
	}
	if want := map[string]int{"q1": 1}; !reflect.DeepEqual(calls[0].Answers, want) {
		t.Fatalf("answers = %v, want %v", calls[0].Answers, want)
	}
	if calls[0].AttemptID != "attempt-1" || calls[0].AuthToken != "token" {
		t.Fatalf("unexpected request identity %+v", calls[0])
	}
	if e.Phase() != PhaseSubmitted {
		t.Fatalf("phase = %s, want SUBMITTED", e.Phase())
	}
	h.assertNoSnapshot(t)

	if n, ok := h.events.Last(NotifySubmitted); !ok || n.Result == nil {
		t.Fatalf("expected submitted notification with result")
	}
}

func TestEngineAutoSubmitsWhenTimeElapsedWhileAway(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3)

	saved := savedSnapshot("exam-1", 120, h.now.Now())
	if err := h.store.Put(ctx, "exam-1", saved); err != nil {
		t.Fatalf("put: %v", err)
	}
	h.now.Advance(150 * time.Second)

	e := h.engine(t, model.ExamKindLive, 600)
	out, err := e.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out != OutcomeAutoSubmitted {
		t.Fatalf("outcome = %s, want AUTO_SUBMITTED", out)
	}
	if e.Phase() != PhaseSubmitted {
		t.Fatalf("phase = %s", e.Phase())
	}

	calls := h.submitter.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 submit call, got %d", len(calls))
	}
	if want := map[string]int{"q2": 2}; !reflect.DeepEqual(calls[0].Answers, want) {
		t.Fatalf("answers = %v, want %v", calls[0].Answers, want)
	}
	if calls[0].AttemptID != "attempt-1" {
		t.Fatalf("auto-submit must reuse the saved attempt id, got %q", calls[0].AttemptID)
	}
	if h.questions.fetches != 0 {
		t.Fatalf("expired attempt must not refetch questions")
	}
	h.assertNoSnapshot(t)
}

func TestEngineResumeReconcilesRemainingTime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3)

	saved := savedSnapshot("exam-1", 300, h.now.Now())
	if err := h.store.Put(ctx, "exam-1", saved); err != nil {
		t.Fatalf("put: %v", err)
	}
	h.now.Advance(60 * time.Second)

	e := h.engine(t, model.ExamKindLive, 600)
	out, err := e.Start(ctx)
	if err != nil || out != OutcomeResumeOffered {
		t.Fatalf("start = %s, %v", out, err)
	}
	v := e.View()
	if v.Phase != PhaseResuming || v.ResumeOffer == nil || v.ResumeOffer.RemainingSeconds != 240 {
		t.Fatalf("unexpected offer view %+v", v)
	}

	v, err = e.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if v.Phase != PhaseActive || v.RemainingSeconds != 240 || v.CurrentIndex != 1 {
		t.Fatalf("unexpected resumed view: phase=%s remaining=%d index=%d", v.Phase, v.RemainingSeconds, v.CurrentIndex)
	}
	if !reflect.DeepEqual(v.Statuses, saved.Statuses) {
		t.Fatalf("statuses differ:\n got %+v\nwant %+v", v.Statuses, saved.Statuses)
	}
	if v.Staged == nil || *v.Staged != 2 {
		t.Fatalf("stage must come from the committed answer, got %v", v.Staged)
	}

	// Resuming anchors a fresh snapshot at the reconciled time.
	stored := h.stored(t)
	if stored.RemainingSeconds != 240 || !stored.SavedAt.Equal(h.now.Now()) {
		t.Fatalf("unexpected stored snapshot remaining=%d savedAt=%s", stored.RemainingSeconds, stored.SavedAt)
	}
	if h.questions.fetches != 0 {
		t.Fatalf("resume must not refetch questions")
	}

	if _, err := e.Resume(ctx); !errors.Is(err, ErrNoResumeOffer) {
		t.Fatalf("expected ErrNoResumeOffer, got %v", err)
	}
}

func TestEngineResumeCountsTimeSpentOnOffer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3)

	if err := h.store.Put(ctx, "exam-1", savedSnapshot("exam-1", 300, h.now.Now())); err != nil {
		t.Fatalf("put: %v", err)
	}
	h.now.Advance(60 * time.Second)

	e := h.engine(t, model.ExamKindLive, 600)
	if out, err := e.Start(ctx); err != nil || out != OutcomeResumeOffered {
		t.Fatalf("start = %s, %v", out, err)
	}

	h.now.Advance(100 * time.Second)
	if v := e.View(); v.ResumeOffer == nil || v.ResumeOffer.RemainingSeconds != 140 {
		t.Fatalf("offer must keep counting down, got %+v", v.ResumeOffer)
	}

	v, err := e.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if v.Phase != PhaseActive || v.RemainingSeconds != 140 {
		t.Fatalf("phase=%s remaining=%d, want ACTIVE 140", v.Phase, v.RemainingSeconds)
	}
}

func TestEngineResumeAfterBudgetElapsedAutoSubmits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3)

	if err := h.store.Put(ctx, "exam-1", savedSnapshot("exam-1", 300, h.now.Now())); err != nil {
		t.Fatalf("put: %v", err)
	}
	h.now.Advance(60 * time.Second)

	e := h.engine(t, model.ExamKindLive, 600)
	if out, err := e.Start(ctx); err != nil || out != OutcomeResumeOffered {
		t.Fatalf("start = %s, %v", out, err)
	}

	h.now.Advance(600 * time.Second)
	v, err := e.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if v.Phase != PhaseSubmitted || v.RemainingSeconds != 0 {
		t.Fatalf("phase=%s remaining=%d, want SUBMITTED 0", v.Phase, v.RemainingSeconds)
	}

	calls := h.submitter.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 submit call, got %d", len(calls))
	}
	if want := map[string]int{"q2": 2}; !reflect.DeepEqual(calls[0].Answers, want) {
		t.Fatalf("answers = %v, want %v", calls[0].Answers, want)
	}
	if got := h.events.Count(NotifyAutoSubmitted); got != 1 {
		t.Fatalf("auto_submitted notifications = %d, want 1", got)
	}
	h.assertNoSnapshot(t)
}

func TestEngineManualSubmitFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2)
	h.submitter.errs = []error{errNetwork}
	e := startActive(t, h, model.ExamKindPractice, 600)

	mustDispatch(t, e, Select(0), SubmitRequested())

	_, err := e.ConfirmSubmit(ctx)
	if !errors.Is(err, ErrSubmitFailed) || !errors.Is(err, errNetwork) {
		t.Fatalf("expected wrapped network error, got %v", err)
	}

	v := e.View()
	if v.Phase != PhaseActive || !v.Confirming {
		t.Fatalf("expected confirmation step again, got phase=%s confirming=%v", v.Phase, v.Confirming)
	}
	if v.LastError == "" {
		t.Fatalf("expected last error in view")
	}
	if snap := h.stored(t); !snap.Statuses[0].Answered {
		t.Fatalf("snapshot must keep the answer")
	}
	if _, ok := h.events.Last(NotifySubmitFailed); !ok {
		t.Fatalf("expected submit_failed notification")
	}

	if _, err := e.ConfirmSubmit(ctx); err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if len(h.submitter.Calls()) != 2 {
		t.Fatalf("expected 2 submit calls")
	}
	h.assertNoSnapshot(t)
	if len(h.retry.pending) != 0 {
		t.Fatalf("manual failures must not be queued")
	}
}

func TestEngineCountdownExpiryAutoSubmitsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2)
	e := startActive(t, h, model.ExamKindLive, 3)

	mustDispatch(t, e, Stage(2), SubmitRequested())

	for i := 0; i < 5; i++ {
		e.Tick(ctx)
	}

	if e.Phase() != PhaseSubmitted {
		t.Fatalf("phase = %s, want SUBMITTED", e.Phase())
	}
	calls := h.submitter.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 submit, got %d", len(calls))
	}
	if want := map[string]int{"q1": 2}; !reflect.DeepEqual(calls[0].Answers, want) {
		t.Fatalf("answers = %v, want %v", calls[0].Answers, want)
	}
	if v := e.View(); v.RemainingSeconds != 0 || v.Confirming {
		t.Fatalf("unexpected final view remaining=%d confirming=%v", v.RemainingSeconds, v.Confirming)
	}
	if _, ok := h.events.Last(NotifyAutoSubmitted); !ok {
		t.Fatalf("expected auto_submitted notification")
	}
	h.assertNoSnapshot(t)
}

func TestEngineAutoSubmitFailureIsQueued(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2)
	h.submitter.errs = []error{errNetwork}
	e := startActive(t, h, model.ExamKindPractice, 2)

	mustDispatch(t, e, Select(3))
	e.Tick(ctx)
	e.Tick(ctx)

	if e.Phase() != PhaseSubmitted {
		t.Fatalf("auto-submit failure must still end SUBMITTED, got %s", e.Phase())
	}
	n, ok := h.events.Last(NotifyAutoSubmitted)
	if !ok || !errors.Is(n.Err, errNetwork) {
		t.Fatalf("expected auto_submitted with error, got %+v", n)
	}

	if len(h.retry.pending) != 1 {
		t.Fatalf("expected 1 queued retry, got %d", len(h.retry.pending))
	}
	p := h.retry.pending[0]
	if p.AttemptID != "attempt-1" || p.Answers["q1"] != 3 || p.AuthToken != "token" {
		t.Fatalf("unexpected pending submission %+v", p)
	}

	snap := h.stored(t)
	if snap.RemainingSeconds != 0 || snap.AttemptID != "attempt-1" {
		t.Fatalf("snapshot must be kept at zero for retry, got %+v", snap)
	}
}

func TestEngineManualFailureAfterExpiryHandsOverToAuto(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2)
	h.submitter.errs = []error{errNetwork}
	e := startActive(t, h, model.ExamKindPractice, 2)

	// The countdown keeps running while the manual call is in flight.
	h.submitter.during = func(call int) {
		if call == 1 {
			e.Tick(ctx)
			e.Tick(ctx)
		}
	}

	mustDispatch(t, e, Select(1), SubmitRequested())
	res, err := e.ConfirmSubmit(ctx)
	if err != nil {
		t.Fatalf("expected automatic path to succeed, got %v", err)
	}
	if res == nil {
		t.Fatalf("expected result")
	}
	if e.Phase() != PhaseSubmitted {
		t.Fatalf("phase = %s", e.Phase())
	}
	if len(h.submitter.Calls()) != 2 {
		t.Fatalf("expected manual then automatic call, got %d", len(h.submitter.Calls()))
	}
	h.assertNoSnapshot(t)
}

func TestEngineConfirmRequiresConfirmation(t *testing.T) {
	h := newHarness(2)
	e := startActive(t, h, model.ExamKindPractice, 600)
	if _, err := e.ConfirmSubmit(context.Background()); !errors.Is(err, ErrNotConfirming) {
		t.Fatalf("expected ErrNotConfirming, got %v", err)
	}
	if len(h.submitter.Calls()) != 0 {
		t.Fatalf("no submit expected")
	}
}

func TestEngineLiveExamNotStarted(t *testing.T) {
	h := newHarness(2)
	h.questions.eligibility = model.Eligibility{Eligible: true, StartTime: h.now.Now().Add(time.Hour)}
	e := h.engine(t, model.ExamKindLive, 600)

	if _, err := e.Start(context.Background()); !errors.Is(err, ErrExamNotStarted) {
		t.Fatalf("expected ErrExamNotStarted, got %v", err)
	}
	if e.Phase() != PhaseLoading {
		t.Fatalf("phase = %s, want LOADING", e.Phase())
	}
	if h.questions.fetches != 0 {
		t.Fatalf("questions must not be fetched before the start time")
	}

	// Practice exams ignore the schedule.
	p := newHarness(2)
	p.questions.eligibility = h.questions.eligibility
	startActive(t, p, model.ExamKindPractice, 600)
}

func TestEngineFetchFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2)
	h.questions.fetchErr = errNetwork
	e := h.engine(t, model.ExamKindPractice, 600)

	if _, err := e.Start(ctx); !errors.Is(err, ErrFetchFailed) || !errors.Is(err, errNetwork) {
		t.Fatalf("expected fetch failure, got %v", err)
	}
	if e.Phase() != PhaseLoading {
		t.Fatalf("phase = %s, want LOADING", e.Phase())
	}
	h.assertNoSnapshot(t)

	h.questions.fetchErr = nil
	if out, err := e.Start(ctx); err != nil || out != OutcomeActive {
		t.Fatalf("retry = %s, %v", out, err)
	}
	if snap := h.stored(t); snap.RemainingSeconds != 600 || len(snap.Questions) != 2 {
		t.Fatalf("unexpected first snapshot %+v", snap)
	}
}

func TestEngineRejectsInvalidQuestions(t *testing.T) {
	h := newHarness(2)
	h.questions.questions[1].ID = h.questions.questions[0].ID
	e := h.engine(t, model.ExamKindPractice, 600)
	if _, err := e.Start(context.Background()); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestEngineStartFreshDiscardsSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3)
	if err := h.store.Put(ctx, "exam-1", savedSnapshot("exam-1", 300, h.now.Now())); err != nil {
		t.Fatalf("put: %v", err)
	}

	e := h.engine(t, model.ExamKindPractice, 600)
	if out, _ := e.Start(ctx); out != OutcomeResumeOffered {
		t.Fatalf("outcome = %s", out)
	}
	out, err := e.StartFresh(ctx)
	if err != nil || out != OutcomeActive {
		t.Fatalf("start fresh = %s, %v", out, err)
	}

	v := e.View()
	if v.RemainingSeconds != 600 || v.CurrentIndex != 0 || v.Statuses[1].Answered {
		t.Fatalf("expected a clean attempt, got %+v", v)
	}
	if snap := h.stored(t); snap.RemainingSeconds != 600 || snap.Statuses[1].Answered {
		t.Fatalf("old snapshot must be replaced, got %+v", snap)
	}
}

func TestEngineLeaveSavesAndAllowsResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3)
	e := startActive(t, h, model.ExamKindPractice, 600)

	mustDispatch(t, e, Select(2), SaveAndNext())
	e.Tick(ctx)
	if err := e.Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if e.Phase() != PhaseAbandoned {
		t.Fatalf("phase = %s", e.Phase())
	}

	snap := h.stored(t)
	if snap.RemainingSeconds != 599 || snap.CurrentIndex != 1 || !snap.Statuses[0].Answered {
		t.Fatalf("unexpected saved snapshot %+v", snap)
	}

	// Ticks after leaving are ignored.
	e.Tick(ctx)
	if e.View().RemainingSeconds != 599 {
		t.Fatalf("countdown must stop after leave")
	}

	next := NewEngine(e.Exam(), "token", h.deps(), testOptions(), zerolog.Nop())
	t.Cleanup(func() { next.Close(ctx) })
	if out, _ := next.Start(ctx); out != OutcomeResumeOffered {
		t.Fatalf("expected resume offer, got %s", out)
	}
}

func TestEnginePeriodicSaveIsThrottled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2)
	e := startActive(t, h, model.ExamKindPractice, 600)

	if saved, _ := e.PeriodicSave(ctx); saved {
		t.Fatalf("activation save must start the throttle window")
	}
	h.now.Advance(15 * time.Second)
	if saved, err := e.PeriodicSave(ctx); err != nil || !saved {
		t.Fatalf("expected save after interval, saved=%v err=%v", saved, err)
	}
}

func TestEngineBlurAndBackgroundSave(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2)
	e := startActive(t, h, model.ExamKindPractice, 600)

	mustDispatch(t, e, Select(3))
	if err := e.Blur(ctx); err != nil {
		t.Fatalf("blur: %v", err)
	}
	if snap := h.stored(t); *snap.Statuses[0].SelectedOption != 3 {
		t.Fatalf("blur must save the latest state")
	}
	if e.View().Focused {
		t.Fatalf("expected unfocused")
	}

	mustDispatch(t, e, Select(1))
	if err := e.SetForeground(ctx, false); err != nil {
		t.Fatalf("background: %v", err)
	}
	if snap := h.stored(t); *snap.Statuses[0].SelectedOption != 1 {
		t.Fatalf("backgrounding must save the latest state")
	}

	e.Focus()
	if err := e.SetForeground(ctx, true); err != nil {
		t.Fatalf("foreground: %v", err)
	}
	if v := e.View(); !v.Focused || !v.Foreground {
		t.Fatalf("expected focused foreground view")
	}
}

func TestEngineStartTwiceIsRejected(t *testing.T) {
	h := newHarness(2)
	e := startActive(t, h, model.ExamKindPractice, 600)
	if _, err := e.Start(context.Background()); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
	if _, err := e.Dispatch(Tick()); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("ticks must not be dispatchable, got %v", err)
	}
}

func TestEngineCloseSavesActiveAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(2)
	e := startActive(t, h, model.ExamKindPractice, 600)

	mustDispatch(t, e, Select(0))
	e.Close(ctx)
	if e.Phase() != PhaseAbandoned {
		t.Fatalf("phase = %s", e.Phase())
	}
	if snap := h.stored(t); !snap.Statuses[0].Answered {
		t.Fatalf("close must save the attempt")
	}
}

func TestEngineCountdownClockRuns(t *testing.T) {
	h := newHarness(2)
	exam := model.Exam{ID: "exam-1", Kind: model.ExamKindPractice, DurationSeconds: 600}
	e := NewEngine(exam, "token", h.deps(), Options{TickInterval: time.Millisecond, AutosaveInterval: time.Hour}, zerolog.Nop())
	defer e.Close(context.Background())

	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for e.View().RemainingSeconds == 600 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.View().RemainingSeconds >= 600 {
		t.Fatalf("countdown clock did not tick")
	}
}
