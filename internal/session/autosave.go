package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/snapshot"
)

// DefaultAutosaveInterval is the throttle floor between periodic saves.
const DefaultAutosaveInterval = 15 * time.Second

// Autosaver writes snapshots, throttling periodic saves to one per floor.
// Saves are serialized so an older snapshot can never overwrite a newer one.
type Autosaver struct {
	store snapshot.Store
	floor time.Duration
	now   func() time.Time
	log   zerolog.Logger

	mu       sync.Mutex
	lastSave time.Time
}

// NewAutosaver creates an Autosaver. floor <= 0 selects DefaultAutosaveInterval.
func NewAutosaver(store snapshot.Store, floor time.Duration, now func() time.Time, log zerolog.Logger) *Autosaver {
	if floor <= 0 {
		floor = DefaultAutosaveInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Autosaver{
		store: store,
		floor: floor,
		now:   now,
		log:   log.With().Str("component", "autosave").Logger(),
	}
}

// Floor returns the throttle interval.
func (a *Autosaver) Floor() time.Duration { return a.floor }

// Periodic saves unless the floor has not elapsed since the last successful
// save. take builds the snapshot and returns nil when there is nothing to save.
func (a *Autosaver) Periodic(ctx context.Context, take func(savedAt time.Time) *model.Snapshot) (bool, error) {
	return a.save(ctx, take, false)
}

// Force saves regardless of the throttle floor.
func (a *Autosaver) Force(ctx context.Context, take func(savedAt time.Time) *model.Snapshot) (bool, error) {
	return a.save(ctx, take, true)
}

func (a *Autosaver) save(ctx context.Context, take func(savedAt time.Time) *model.Snapshot, force bool) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if !force && !a.lastSave.IsZero() && now.Sub(a.lastSave) < a.floor {
		return false, nil
	}

	snap := take(now)
	if snap == nil {
		return false, nil
	}

	if err := a.store.Put(ctx, snap.ExamID, snap); err != nil {
		a.log.Error().Err(err).Str("exam_id", snap.ExamID).Bool("forced", force).Msg("Snapshot save failed")
		return false, err
	}
	a.lastSave = now

	a.log.Debug().
		Str("exam_id", snap.ExamID).
		Int("remaining", snap.RemainingSeconds).
		Bool("forced", force).
		Msg("Snapshot saved")
	return true, nil
}

// Erase removes the snapshot. It is serialized with saves, so a save that
// started before Erase lands first and is then removed.
func (a *Autosaver) Erase(ctx context.Context, examID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.Remove(ctx, examID); err != nil {
		return err
	}
	a.lastSave = time.Time{}
	return nil
}
