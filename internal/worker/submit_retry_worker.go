package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/snapshot"
)

// maxDrain bounds how many entries are retried during shutdown.
const maxDrain = 20

// ActiveChecker reports whether an exam has a session still running.
type ActiveChecker interface {
	Active(examID string) bool
}

// SubmitRetryWorker retries automatic submissions whose backend call failed.
// On success the exam's snapshot is erased if it still belongs to the same
// attempt.
type SubmitRetryWorker struct {
	queue       Queue
	submitter   session.Submitter
	store       snapshot.Store
	active      ActiveChecker
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

// NewSubmitRetryWorker creates a new SubmitRetryWorker. active may be nil.
func NewSubmitRetryWorker(queue Queue, submitter session.Submitter, store snapshot.Store, active ActiveChecker, maxAttempts int, backoff time.Duration, log zerolog.Logger) *SubmitRetryWorker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &SubmitRetryWorker{
		queue:       queue,
		submitter:   submitter,
		store:       store,
		active:      active,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		log:         log.With().Str("component", "submit_retry_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *SubmitRetryWorker) Start(ctx context.Context) {
	w.log.Info().Int("max_attempts", w.maxAttempts).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SubmitRetryWorker) processNext(ctx context.Context) {
	p, err := w.queue.Dequeue(ctx, PollTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Dequeue error, sleeping 3s")
			sleep(ctx, 3*time.Second)
		}
		return
	}
	if p == nil {
		return
	}

	if w.active != nil && w.active.Active(p.ExamID) {
		// A running session owns the exam; it will submit on its own.
		w.requeue(ctx, *p)
		sleep(ctx, w.backoff)
		return
	}

	if w.Process(ctx, *p) {
		return
	}
	sleep(ctx, w.backoff)
}

// Process makes one submission attempt for p. It returns true when p is done
// (submitted or given up) and false when it was queued again.
func (w *SubmitRetryWorker) Process(ctx context.Context, p model.PendingSubmission) bool {
	log := w.log.With().Str("exam_id", p.ExamID).Str("attempt_id", p.AttemptID).Logger()

	_, err := w.submitter.Submit(ctx, p.Request())
	if err == nil {
		w.eraseSnapshot(ctx, p)
		log.Info().Int("attempts", p.Attempts+1).Msg("Pending submission delivered")
		return true
	}

	p.Attempts++
	if !temporary(err) {
		log.Error().Err(err).Int("attempts", p.Attempts).Msg("Submission rejected, giving up")
		return true
	}
	if p.Attempts >= w.maxAttempts {
		log.Error().Err(err).Int("attempts", p.Attempts).Msg("Retry limit reached, giving up")
		return true
	}

	log.Warn().Err(err).Int("attempts", p.Attempts).Dur("backoff", w.backoff).Msg("Submission failed, retrying")
	w.requeue(ctx, p)
	return false
}

func (w *SubmitRetryWorker) requeue(ctx context.Context, p model.PendingSubmission) {
	if err := w.queue.Enqueue(ctx, p); err != nil {
		w.log.Error().Err(err).Str("exam_id", p.ExamID).Msg("Requeue failed, submission dropped")
	}
}

// eraseSnapshot removes the exam's snapshot unless a newer attempt owns it.
func (w *SubmitRetryWorker) eraseSnapshot(ctx context.Context, p model.PendingSubmission) {
	snap, err := w.store.Get(ctx, p.ExamID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return
	}
	if err != nil {
		w.log.Error().Err(err).Str("exam_id", p.ExamID).Msg("Snapshot read failed")
		return
	}
	if snap.AttemptID != p.AttemptID {
		return
	}
	if err := w.store.Remove(ctx, p.ExamID); err != nil {
		w.log.Error().Err(err).Str("exam_id", p.ExamID).Msg("Erase snapshot failed")
	}
}

// drain makes one more attempt for queued entries before shutdown.
func (w *SubmitRetryWorker) drain(ctx context.Context) {
	drained := 0
	for i := 0; i < maxDrain; i++ {
		p, err := w.queue.TryDequeue(ctx)
		if err != nil || p == nil {
			break
		}
		if !w.Process(ctx, *p) {
			// Queued again: the backend is still down.
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// temporary treats errors that do not say otherwise as retryable.
func temporary(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
