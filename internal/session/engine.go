package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/snapshot"
	"github.com/stemsi/exstem-session/internal/validator"
)

// DefaultTickInterval is one countdown second.
const DefaultTickInterval = time.Second

// Outcome reports where Start left the session.
type Outcome string

const (
	OutcomeActive        Outcome = "ACTIVE"
	OutcomeResumeOffered Outcome = "RESUME_OFFERED"
	OutcomeAutoSubmitted Outcome = "AUTO_SUBMITTED"
)

// Deps are the engine's collaborators. Retry and Observer are optional.
type Deps struct {
	Store        snapshot.Store
	Questions    QuestionSource
	Submitter    Submitter
	Retry        RetryQueue
	Observer     Observer
	Now          func() time.Time
	NewAttemptID func() string
}

// Options tunes timing. Zero values select the defaults.
type Options struct {
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	MaxSnapshotAge   time.Duration
}

// Engine runs one attempt of one exam. All methods are safe for concurrent
// use. The countdown and autosave clocks run on their own goroutines and are
// not tied to the context of the call that started them.
type Engine struct {
	exam  model.Exam
	token string
	deps  Deps
	log   zerolog.Logger

	resolver  *Resolver
	autosaver *Autosaver
	countdown *Clock
	saver     *Clock

	mu           sync.Mutex
	state        State
	attemptID    string
	offer        *Resolution
	starting     bool
	autoInFlight bool
	closed       bool
	focused      bool
	foreground   bool
	result       *model.SubmitResult
	lastErr      error
	observer     Observer
}

// NewEngine creates an engine in LOADING. Call Start to resolve it.
func NewEngine(exam model.Exam, authToken string, deps Deps, opts Options, log zerolog.Logger) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewAttemptID == nil {
		deps.NewAttemptID = uuid.NewString
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}

	log = log.With().Str("exam_id", exam.ID).Str("kind", string(exam.Kind)).Logger()

	e := &Engine{
		exam:       exam,
		token:      authToken,
		deps:       deps,
		log:        log,
		resolver:   NewResolver(deps.Store, opts.MaxSnapshotAge, deps.Now, log),
		autosaver:  NewAutosaver(deps.Store, opts.AutosaveInterval, deps.Now, log),
		state:      State{Phase: PhaseLoading, Caps: CapabilitiesFor(exam.Kind)},
		focused:    true,
		foreground: true,
		observer:   deps.Observer,
	}
	e.countdown = NewClock(opts.TickInterval, e.tick)
	e.saver = NewClock(e.autosaver.Floor(), func(ctx context.Context) bool {
		_, _ = e.PeriodicSave(ctx)
		return !e.Phase().Terminal()
	})
	return e
}

// Exam returns the exam this engine runs.
func (e *Engine) Exam() model.Exam { return e.exam }

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Phase
}

// View returns a copy of the current state for presentation.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Start resolves a saved snapshot against wall-clock time and either offers a
// resume, auto-submits an expired attempt, or fetches questions for a fresh
// one. A failed fetch leaves the engine in LOADING so Start can be retried.
func (e *Engine) Start(ctx context.Context) (Outcome, error) {
	e.mu.Lock()
	if e.state.Phase != PhaseLoading || e.starting {
		phase := e.state.Phase
		e.mu.Unlock()
		return "", fmt.Errorf("%w: start during %s", ErrInvalidPhase, phase)
	}
	e.starting = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
	}()

	res := e.resolver.Resolve(ctx, e.exam.ID)
	switch res.Kind {
	case ResolutionResume:
		e.mu.Lock()
		e.state.Phase = PhaseResuming
		e.offer = &res
		e.mu.Unlock()
		e.log.Info().Int("remaining", res.Snapshot.RemainingSeconds).Dur("age", res.Age).Msg("Resume offered")
		e.notify(NotifyState, nil, nil)
		return OutcomeResumeOffered, nil

	case ResolutionExpired:
		e.mu.Lock()
		e.loadLocked(res.Snapshot)
		e.state.Phase = PhaseExpiredAutoSubmitting
		e.mu.Unlock()
		e.autoSubmit(ctx)
		return OutcomeAutoSubmitted, nil
	}

	return e.fetchFresh(ctx)
}

// Resume accepts the pending offer and continues the saved attempt.
func (e *Engine) Resume(ctx context.Context) (View, error) {
	e.mu.Lock()
	if e.state.Phase != PhaseResuming || e.offer == nil {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, ErrNoResumeOffer
	}
	snap := e.offer.Snapshot
	snap.RemainingSeconds = e.offer.remainingAt(e.deps.Now())
	e.loadLocked(snap)
	e.offer = nil

	// The time budget ran out while the offer was on screen.
	if e.state.RemainingSeconds <= 0 {
		e.state.RemainingSeconds = 0
		e.state.Phase = PhaseExpiredAutoSubmitting
		e.mu.Unlock()
		e.log.Info().Msg("Time elapsed before resuming, auto-submitting")
		e.autoSubmit(ctx)
		return e.View(), nil
	}
	e.state.Phase = PhaseActive
	e.mu.Unlock()

	e.log.Info().Int("remaining", snap.RemainingSeconds).Msg("Session resumed")
	e.activate(ctx)
	return e.View(), nil
}

// StartFresh declines the pending offer, erases the snapshot and fetches
// questions as if no snapshot existed.
func (e *Engine) StartFresh(ctx context.Context) (Outcome, error) {
	e.mu.Lock()
	if e.state.Phase != PhaseResuming || e.offer == nil {
		e.mu.Unlock()
		return "", ErrNoResumeOffer
	}
	e.offer = nil
	e.state = State{Phase: PhaseLoading, Caps: CapabilitiesFor(e.exam.Kind)}
	e.mu.Unlock()

	e.erase(ctx)
	return e.fetchFresh(ctx)
}

func (e *Engine) fetchFresh(ctx context.Context) (Outcome, error) {
	caps := CapabilitiesFor(e.exam.Kind)

	if caps.ScheduledStartGate {
		elig, err := e.deps.Questions.CheckEligibility(ctx, e.exam.ID, e.token)
		if err != nil {
			e.log.Error().Err(err).Msg("Eligibility check failed")
			return "", e.failFetch(fmt.Errorf("%w: %w", ErrFetchFailed, err))
		}
		if !elig.Eligible || e.deps.Now().Before(elig.StartTime) {
			e.log.Info().Time("start_time", elig.StartTime).Msg("Exam not started yet")
			return "", e.failFetch(fmt.Errorf("%w: starts at %s", ErrExamNotStarted, elig.StartTime.Format(time.RFC3339)))
		}
	}

	e.mu.Lock()
	e.state.Phase = PhaseFetching
	e.mu.Unlock()
	e.notify(NotifyState, nil, nil)

	questions, err := e.deps.Questions.FetchQuestions(ctx, e.exam.ID, e.token)
	if err != nil {
		e.log.Error().Err(err).Msg("Question fetch failed")
		return "", e.failFetch(fmt.Errorf("%w: %w", ErrFetchFailed, err))
	}
	if err := validator.Questions(questions); err != nil {
		e.log.Error().Err(err).Msg("Question list rejected")
		return "", e.failFetch(fmt.Errorf("%w: %w", ErrFetchFailed, err))
	}

	e.mu.Lock()
	if e.state.Phase != PhaseFetching {
		// Left or closed while the fetch was in flight.
		phase := e.state.Phase
		e.mu.Unlock()
		return "", fmt.Errorf("%w: fetch finished during %s", ErrInvalidPhase, phase)
	}
	e.state = State{
		Phase:            PhaseActive,
		Caps:             caps,
		Questions:        model.CloneQuestions(questions),
		Statuses:         make([]model.QuestionStatus, len(questions)),
		RemainingSeconds: e.exam.DurationSeconds,
	}
	e.attemptID = e.deps.NewAttemptID()
	e.lastErr = nil
	e.mu.Unlock()

	e.log.Info().Int("questions", len(questions)).Int("duration", e.exam.DurationSeconds).Msg("Session started")
	e.activate(ctx)
	return OutcomeActive, nil
}

func (e *Engine) failFetch(err error) error {
	e.mu.Lock()
	if !e.state.Phase.Terminal() {
		e.state.Phase = PhaseLoading
	}
	e.lastErr = err
	e.mu.Unlock()
	e.notify(NotifyState, nil, nil)
	return err
}

// loadLocked installs a snapshot as the engine state. Callers hold e.mu.
func (e *Engine) loadLocked(snap *model.Snapshot) {
	statuses := model.CloneStatuses(snap.Statuses)
	e.state = State{
		Phase:            e.state.Phase,
		Caps:             CapabilitiesFor(e.exam.Kind),
		Questions:        model.CloneQuestions(snap.Questions),
		Statuses:         statuses,
		CurrentIndex:     snap.CurrentIndex,
		RemainingSeconds: snap.RemainingSeconds,
		Staged:           cloneInt(statuses[snap.CurrentIndex].SelectedOption),
	}
	e.attemptID = snap.AttemptID
	if e.attemptID == "" {
		e.attemptID = e.deps.NewAttemptID()
	}
}

// activate starts both clocks and writes the first snapshot.
func (e *Engine) activate(ctx context.Context) {
	e.countdown.Start(context.Background())
	e.saver.Start(context.Background())
	_, _ = e.autosaver.Force(ctx, e.takeSnapshot)
	e.notify(NotifyState, nil, nil)
}

// halt cancels both clocks without waiting. Safe from a clock goroutine.
func (e *Engine) halt() {
	e.countdown.Cancel()
	e.saver.Cancel()
}

// Dispatch applies a user action. A rejected action leaves state unchanged.
func (e *Engine) Dispatch(ev Event) (View, error) {
	if ev.Type == EventTick {
		return e.View(), fmt.Errorf("%w: ticks come from the countdown", ErrInvalidPhase)
	}

	e.mu.Lock()
	next, err := Reduce(e.state, ev)
	if err != nil {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, err
	}
	e.state = next
	v := e.viewLocked()
	e.mu.Unlock()

	e.notifyView(Notification{Kind: NotifyState, View: v})
	return v, nil
}

// Tick advances the countdown by one second. The countdown clock calls it;
// it is exported for runners that drive time themselves.
func (e *Engine) Tick(ctx context.Context) {
	e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) bool {
	e.mu.Lock()
	prev := e.state.Phase
	e.state, _ = Reduce(e.state, Tick())
	phase := e.state.Phase
	v := e.viewLocked()
	e.mu.Unlock()

	if prev == PhaseActive && phase == PhaseExpiredAutoSubmitting {
		e.log.Info().Msg("Time expired")
		e.notifyView(Notification{Kind: NotifyTick, View: v})
		e.autoSubmit(ctx)
		return false
	}
	if !phase.counting() {
		return false
	}
	e.notifyView(Notification{Kind: NotifyTick, View: v})
	return true
}

// PeriodicSave writes a snapshot unless one was written within the
// autosave interval.
func (e *Engine) PeriodicSave(ctx context.Context) (bool, error) {
	return e.autosaver.Periodic(ctx, e.takeSnapshot)
}

// ForceSave writes a snapshot now.
func (e *Engine) ForceSave(ctx context.Context) (bool, error) {
	return e.autosaver.Force(ctx, e.takeSnapshot)
}

// takeSnapshot copies the live state. It returns nil outside the phases in
// which an attempt is in progress, so a save racing a finished submission
// can never recreate an erased snapshot.
func (e *Engine) takeSnapshot(savedAt time.Time) *model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state.Phase {
	case PhaseActive, PhaseSubmitting, PhaseExpiredAutoSubmitting:
		return e.snapshotLocked(savedAt)
	}
	return nil
}

func (e *Engine) snapshotLocked(savedAt time.Time) *model.Snapshot {
	if len(e.state.Questions) == 0 {
		return nil
	}
	return &model.Snapshot{
		ExamID:           e.exam.ID,
		Kind:             e.exam.Kind,
		AttemptID:        e.attemptID,
		Questions:        model.CloneQuestions(e.state.Questions),
		Statuses:         model.CloneStatuses(e.state.Statuses),
		CurrentIndex:     e.state.CurrentIndex,
		RemainingSeconds: e.state.RemainingSeconds,
		DurationSeconds:  e.exam.DurationSeconds,
		SavedAt:          savedAt,
	}
}

func (e *Engine) erase(ctx context.Context) {
	if err := e.autosaver.Erase(ctx, e.exam.ID); err != nil {
		e.log.Error().Err(err).Msg("Erase snapshot failed")
	}
}

// SetForeground records app visibility. Going to the background saves.
func (e *Engine) SetForeground(ctx context.Context, foreground bool) error {
	e.mu.Lock()
	e.foreground = foreground
	e.mu.Unlock()
	if foreground {
		return nil
	}
	_, err := e.ForceSave(ctx)
	return err
}

// Focus records that the exam screen regained focus.
func (e *Engine) Focus() {
	e.mu.Lock()
	e.focused = true
	e.mu.Unlock()
}

// Blur records that the exam screen lost focus and saves.
func (e *Engine) Blur(ctx context.Context) error {
	e.mu.Lock()
	e.focused = false
	e.mu.Unlock()
	_, err := e.ForceSave(ctx)
	return err
}

// Leave abandons the session after a best-effort save. The snapshot stays so
// the attempt can be resumed later. Leaving is refused while a submission
// is in flight.
func (e *Engine) Leave(ctx context.Context) error {
	e.mu.Lock()
	switch e.state.Phase {
	case PhaseSubmitting, PhaseExpiredAutoSubmitting:
		e.mu.Unlock()
		return ErrSubmissionInFlight
	case PhaseSubmitted, PhaseAbandoned:
		e.mu.Unlock()
		return nil
	}
	var snap *model.Snapshot
	if e.state.Phase == PhaseActive {
		snap = e.snapshotLocked(e.deps.Now())
	}
	e.state.Phase = PhaseAbandoned
	e.state.Confirming = false
	e.offer = nil
	v := e.viewLocked()
	e.mu.Unlock()

	e.halt()
	if snap != nil {
		if _, err := e.autosaver.Force(ctx, func(time.Time) *model.Snapshot { return snap }); err != nil {
			e.log.Warn().Err(err).Msg("Save on leave failed")
		}
	}

	e.log.Info().Msg("Session abandoned")
	e.notifyView(Notification{Kind: NotifyAbandoned, View: v})
	return nil
}

// Close releases the engine. An attempt in progress is saved and abandoned;
// a submission in flight is left to finish. Close waits for both clocks.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	var snap *model.Snapshot
	switch e.state.Phase {
	case PhaseActive:
		snap = e.snapshotLocked(e.deps.Now())
		e.state.Phase = PhaseAbandoned
		e.state.Confirming = false
	case PhaseLoading, PhaseResuming, PhaseFetching:
		e.state.Phase = PhaseAbandoned
		e.offer = nil
	}
	e.mu.Unlock()

	e.countdown.Stop()
	e.saver.Stop()

	if snap != nil {
		if _, err := e.autosaver.Force(ctx, func(time.Time) *model.Snapshot { return snap }); err != nil {
			e.log.Warn().Err(err).Msg("Save on close failed")
		}
	}
}

func (e *Engine) notify(kind NotificationKind, result *model.SubmitResult, err error) {
	e.mu.Lock()
	v := e.viewLocked()
	e.mu.Unlock()
	e.notifyView(Notification{Kind: kind, View: v, Result: result, Err: err})
}

func (e *Engine) notifyView(n Notification) {
	e.mu.Lock()
	o := e.observer
	e.mu.Unlock()
	if o != nil {
		o.Notify(n)
	}
}
