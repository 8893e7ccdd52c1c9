package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/snapshot"
)

// DefaultMaxSnapshotAge is the oldest snapshot that can still be resumed.
const DefaultMaxSnapshotAge = 24 * time.Hour

// ResolutionKind is the resolver's verdict.
type ResolutionKind string

const (
	// ResolutionFresh means no usable snapshot: fetch questions.
	ResolutionFresh ResolutionKind = "FRESH"
	// ResolutionResume offers the user to resume or start fresh.
	ResolutionResume ResolutionKind = "RESUME"
	// ResolutionExpired means the time budget ran out while the app was closed.
	ResolutionExpired ResolutionKind = "EXPIRED"
)

// Resolution carries the snapshot with RemainingSeconds already reconciled
// against wall-clock time.
type Resolution struct {
	Kind     ResolutionKind
	Snapshot *model.Snapshot
	// Age is how long ago the snapshot was written.
	Age time.Duration
	// SavedRemaining is the remaining time as written, before reconciliation.
	SavedRemaining int
}

// remainingAt reconciles the saved remaining time against now. The countdown
// is not running while a resume offer is pending, so this is re-evaluated
// when the offer is shown and when it is accepted.
func (r Resolution) remainingAt(now time.Time) int {
	if r.Snapshot == nil {
		return 0
	}
	return Reconcile(r.SavedRemaining, now.Sub(r.Snapshot.SavedAt))
}

// Resolver decides between resuming a snapshot and starting fresh.
type Resolver struct {
	store  snapshot.Store
	maxAge time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewResolver creates a Resolver. maxAge <= 0 selects DefaultMaxSnapshotAge.
func NewResolver(store snapshot.Store, maxAge time.Duration, now func() time.Time, log zerolog.Logger) *Resolver {
	if maxAge <= 0 {
		maxAge = DefaultMaxSnapshotAge
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		store:  store,
		maxAge: maxAge,
		now:    now,
		log:    log.With().Str("component", "resume_resolver").Logger(),
	}
}

// Resolve never fails: store errors are logged and resolve to FRESH.
func (r *Resolver) Resolve(ctx context.Context, examID string) Resolution {
	snap, err := r.store.Get(ctx, examID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return Resolution{Kind: ResolutionFresh}
	}
	if err != nil {
		r.log.Warn().Err(err).Str("exam_id", examID).Msg("Snapshot read failed, starting fresh")
		return Resolution{Kind: ResolutionFresh}
	}

	if snap.ExamID != examID || len(snap.Questions) == 0 {
		r.log.Warn().
			Str("exam_id", examID).
			Str("snapshot_exam_id", snap.ExamID).
			Int("questions", len(snap.Questions)).
			Msg("Snapshot invalid, erasing")
		r.erase(ctx, examID)
		return Resolution{Kind: ResolutionFresh}
	}

	age := r.now().Sub(snap.SavedAt)
	if age >= r.maxAge {
		r.log.Info().Str("exam_id", examID).Dur("age", age).Msg("Snapshot too old, erasing")
		r.erase(ctx, examID)
		return Resolution{Kind: ResolutionFresh}
	}

	saved := snap.RemainingSeconds
	snap.RemainingSeconds = Reconcile(saved, age)
	if snap.CurrentIndex < 0 || snap.CurrentIndex >= len(snap.Questions) {
		snap.CurrentIndex = 0
	}

	if snap.RemainingSeconds <= 0 {
		r.log.Info().Str("exam_id", examID).Dur("age", age).Msg("Time elapsed while away, auto-submitting")
		return Resolution{Kind: ResolutionExpired, Snapshot: snap, Age: age, SavedRemaining: saved}
	}
	return Resolution{Kind: ResolutionResume, Snapshot: snap, Age: age, SavedRemaining: saved}
}

// Reconcile subtracts whole elapsed seconds from remaining, never going below
// zero. A negative age (clock moved backwards) elapses nothing.
func Reconcile(remaining int, age time.Duration) int {
	elapsed := int(age / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if left := remaining - elapsed; left > 0 {
		return left
	}
	return 0
}

func (r *Resolver) erase(ctx context.Context, examID string) {
	if err := r.store.Remove(ctx, examID); err != nil {
		r.log.Error().Err(err).Str("exam_id", examID).Msg("Erase snapshot failed")
	}
}
