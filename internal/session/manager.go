package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// Manager keeps at most one open engine per exam id.
type Manager struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager creates a Manager whose engines share deps and opts.
func NewManager(deps Deps, opts Options, log zerolog.Logger) *Manager {
	return &Manager{
		deps:    deps,
		opts:    opts,
		log:     log.With().Str("component", "session_manager").Logger(),
		engines: make(map[string]*Engine),
	}
}

// Open returns a new engine for exam. An engine that already reached a
// terminal phase is replaced; one that is still running is an error.
// The caller must call Start on the returned engine.
func (m *Manager) Open(ctx context.Context, exam model.Exam, authToken string) (*Engine, error) {
	m.mu.Lock()
	old, ok := m.engines[exam.ID]
	if ok && !old.Phase().Terminal() {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	e := NewEngine(exam, authToken, m.deps, m.opts, m.log)
	m.engines[exam.ID] = e
	m.mu.Unlock()

	if ok {
		old.Close(ctx)
	}
	m.log.Debug().Str("exam_id", exam.ID).Msg("Session opened")
	return e, nil
}

// Get returns the engine for examID.
func (m *Manager) Get(examID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[examID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Active reports whether examID has an engine that has not finished.
func (m *Manager) Active(examID string) bool {
	m.mu.Lock()
	e, ok := m.engines[examID]
	m.mu.Unlock()
	return ok && !e.Phase().Terminal()
}

// Close closes and forgets the engine for examID.
func (m *Manager) Close(ctx context.Context, examID string) error {
	m.mu.Lock()
	e, ok := m.engines[examID]
	delete(m.engines, examID)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	e.Close(ctx)
	return nil
}

// CloseAll closes every engine, saving attempts still in progress.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for id, e := range m.engines {
		engines = append(engines, e)
		delete(m.engines, id)
	}
	m.mu.Unlock()

	for _, e := range engines {
		e.Close(ctx)
	}
	m.log.Info().Int("closed", len(engines)).Msg("Sessions closed")
}
