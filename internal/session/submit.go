package session

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-session/internal/model"
)

// ConfirmSubmit sends the answers after the user confirmed the summary.
//
// The attempt is saved before the call. On failure the session returns to
// ACTIVE with the summary still open so the user can retry. If the countdown reached zero while the call was in
// flight, the automatic path takes over instead.
func (e *Engine) ConfirmSubmit(ctx context.Context) (*model.SubmitResult, error) {
	e.mu.Lock()
	switch {
	case e.state.Phase == PhaseSubmitting || e.autoInFlight:
		e.mu.Unlock()
		return nil, ErrSubmissionInFlight
	case e.state.Phase != PhaseActive:
		phase := e.state.Phase
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: submit during %s", ErrInvalidPhase, phase)
	case !e.state.Confirming:
		e.mu.Unlock()
		return nil, ErrNotConfirming
	}
	e.state.Phase = PhaseSubmitting
	req := e.submitRequestLocked()
	e.mu.Unlock()

	e.log.Info().Str("attempt_id", req.AttemptID).Int("answers", len(req.Answers)).Msg("Submitting")
	e.notify(NotifyState, nil, nil)
	_, _ = e.autosaver.Force(ctx, e.takeSnapshot)

	res, err := e.deps.Submitter.Submit(ctx, req)

	e.mu.Lock()
	if err != nil {
		e.lastErr = err
		switch {
		case e.closed:
			e.state.Phase = PhaseAbandoned
			e.state.Confirming = false
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)

		case e.state.RemainingSeconds <= 0:
			e.state.Phase = PhaseExpiredAutoSubmitting
			e.state.Confirming = false
			e.mu.Unlock()
			e.log.Warn().Err(err).Msg("Submission failed after time expired, auto-submitting")
			if auto := e.autoSubmit(ctx); auto != nil {
				return auto, nil
			}
			return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
		}

		e.state.Phase = PhaseActive
		v := e.viewLocked()
		e.mu.Unlock()
		e.log.Warn().Err(err).Msg("Submission failed")
		e.notifyView(Notification{Kind: NotifySubmitFailed, View: v, Err: err})
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	e.state.Phase = PhaseSubmitted
	e.state.Confirming = false
	e.result = res
	e.lastErr = nil
	v := e.viewLocked()
	e.mu.Unlock()

	e.halt()
	e.erase(ctx)
	e.log.Info().Str("attempt_id", req.AttemptID).Msg("Submitted")
	e.notifyView(Notification{Kind: NotifySubmitted, View: v, Result: res})
	return res, nil
}

// autoSubmit submits once time is up. It runs at most once per attempt, needs
// no user input, and always ends in SUBMITTED: a backend failure is queued for
// retry and the snapshot is kept until a retry succeeds.
func (e *Engine) autoSubmit(ctx context.Context) *model.SubmitResult {
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	if e.state.Phase != PhaseExpiredAutoSubmitting || e.autoInFlight {
		e.mu.Unlock()
		return nil
	}
	e.autoInFlight = true
	e.state.RemainingSeconds = 0
	e.state.Confirming = false
	req := e.submitRequestLocked()
	e.mu.Unlock()

	e.halt()
	_, _ = e.autosaver.Force(ctx, e.takeSnapshot)

	e.log.Info().Str("attempt_id", req.AttemptID).Int("answers", len(req.Answers)).Msg("Auto-submitting")
	res, err := e.deps.Submitter.Submit(ctx, req)

	e.mu.Lock()
	e.autoInFlight = false
	e.state.Phase = PhaseSubmitted
	e.result = res
	e.lastErr = err
	v := e.viewLocked()
	e.mu.Unlock()

	if err != nil {
		e.log.Error().Err(err).Str("attempt_id", req.AttemptID).Msg("Auto-submit failed")
		e.enqueueRetry(ctx, req)
		e.notifyView(Notification{Kind: NotifyAutoSubmitted, View: v, Err: err})
		return nil
	}

	e.erase(ctx)
	e.log.Info().Str("attempt_id", req.AttemptID).Msg("Auto-submitted")
	e.notifyView(Notification{Kind: NotifyAutoSubmitted, View: v, Result: res})
	return res
}

func (e *Engine) enqueueRetry(ctx context.Context, req model.SubmitRequest) {
	if e.deps.Retry == nil {
		return
	}
	pending := model.PendingSubmission{
		ExamID:     req.ExamID,
		AttemptID:  req.AttemptID,
		AuthToken:  req.AuthToken,
		Answers:    req.Answers,
		EnqueuedAt: e.deps.Now(),
	}
	if err := e.deps.Retry.Enqueue(ctx, pending); err != nil {
		e.log.Error().Err(err).Str("attempt_id", req.AttemptID).Msg("Enqueue submission retry failed")
	}
}

// submitRequestLocked builds the payload from committed answers. Callers
// hold e.mu.
func (e *Engine) submitRequestLocked() model.SubmitRequest {
	return model.SubmitRequest{
		ExamID:    e.exam.ID,
		AttemptID: e.attemptID,
		AuthToken: e.token,
		Answers:   e.state.Answers(),
	}
}
