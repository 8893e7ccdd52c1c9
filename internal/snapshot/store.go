// Package snapshot persists session snapshots keyed by exam id.
//
// Every driver encodes snapshots with the same versioned JSON envelope. A
// stored value that cannot be decoded is treated as absent: the driver logs
// it, removes the entry and reports ErrNotFound, so callers never have to
// handle corruption themselves.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stemsi/exstem-session/internal/model"
)

var (
	// ErrNotFound is returned when no snapshot exists for an exam id.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorrupt marks a stored value that could not be decoded.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Store is durable key/value persistence for snapshots.
type Store interface {
	// Get returns the snapshot stored under examID or ErrNotFound.
	Get(ctx context.Context, examID string) (*model.Snapshot, error)
	// Put overwrites whatever is stored under examID.
	Put(ctx context.Context, examID string, snap *model.Snapshot) error
	// Remove erases the entry. Removing a missing entry is not an error.
	Remove(ctx context.Context, examID string) error
	// List returns every decodable snapshot.
	List(ctx context.Context) ([]*model.Snapshot, error)
}

const codecVersion = 1

type envelope struct {
	Version  int             `json:"v"`
	Snapshot *model.Snapshot `json:"snapshot"`
}

// Encode serializes a snapshot for storage.
func Encode(snap *model.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("encode snapshot: nil snapshot")
	}
	data, err := json.Marshal(envelope{Version: codecVersion, Snapshot: snap})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a stored value. Any failure wraps ErrCorrupt.
func Decode(data []byte) (*model.Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}
	if env.Snapshot == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrCorrupt)
	}
	if len(env.Snapshot.Statuses) != len(env.Snapshot.Questions) {
		return nil, fmt.Errorf("%w: %d statuses for %d questions", ErrCorrupt,
			len(env.Snapshot.Statuses), len(env.Snapshot.Questions))
	}
	for i, st := range env.Snapshot.Statuses {
		if err := checkStatus(st, len(env.Snapshot.Questions[i].Options)); err != nil {
			return nil, fmt.Errorf("%w: status %d: %v", ErrCorrupt, i, err)
		}
	}
	return env.Snapshot, nil
}

// checkStatus enforces what the reducer guarantees for every status it
// writes: answered exactly when an option is selected, answered only after a
// visit, and option indexes inside the question's option list.
func checkStatus(st model.QuestionStatus, options int) error {
	if st.Answered != (st.SelectedOption != nil) {
		return errors.New("answered flag disagrees with selection")
	}
	if st.Answered && !st.Visited {
		return errors.New("answered but not visited")
	}
	if st.SelectedOption != nil && (*st.SelectedOption < 0 || *st.SelectedOption >= options) {
		return fmt.Errorf("selected option %d out of range", *st.SelectedOption)
	}
	for _, o := range st.EliminatedOptions {
		if o < 0 || o >= options {
			return fmt.Errorf("eliminated option %d out of range", o)
		}
	}
	return nil
}
