package snapshot

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// MemoryStore keeps encoded snapshots in process memory. It is used by tests
// and by SNAPSHOT_DRIVER=memory for throwaway runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	log  zerolog.Logger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
		log:  log.With().Str("component", "snapshot_memory").Logger(),
	}
}

func (s *MemoryStore) Get(_ context.Context, examID string) (*model.Snapshot, error) {
	s.mu.RLock()
	raw, ok := s.data[examID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	snap, err := Decode(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Dropping corrupt snapshot")
		s.removeIfUnchanged(examID, raw)
		return nil, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryStore) Put(_ context.Context, examID string, snap *model.Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[examID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, examID string) error {
	s.mu.Lock()
	delete(s.data, examID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*model.Snapshot, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*model.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// putRaw stores bytes verbatim, bypassing the codec.
func (s *MemoryStore) putRaw(examID string, raw []byte) {
	s.mu.Lock()
	s.data[examID] = raw
	s.mu.Unlock()
}

// removeIfUnchanged deletes the entry only if it still holds raw, so a Put
// racing with the self-heal survives.
func (s *MemoryStore) removeIfUnchanged(examID string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data[examID]; ok && bytes.Equal(cur, raw) {
		delete(s.data, examID)
	}
}
