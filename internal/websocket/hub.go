package websocket

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/session"
)

// subscriberBuffer absorbs bursts of ticks from a slow reader.
const subscriberBuffer = 32

// Hub fans engine notifications out to every stream attached to an exam.
// It is the engines' Observer.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan session.Notification]struct{}
	log  zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]map[chan session.Notification]struct{}),
		log:  log.With().Str("component", "session_hub").Logger(),
	}
}

// Subscribe attaches a stream to examID. Call cancel to detach; the channel
// is closed afterwards.
func (h *Hub) Subscribe(examID string) (<-chan session.Notification, func()) {
	ch := make(chan session.Notification, subscriberBuffer)

	h.mu.Lock()
	if h.subs[examID] == nil {
		h.subs[examID] = make(map[chan session.Notification]struct{})
	}
	h.subs[examID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[examID], ch)
			if len(h.subs[examID]) == 0 {
				delete(h.subs, examID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Notify implements session.Observer. A full subscriber misses ticks but
// never blocks the engine.
func (h *Hub) Notify(n session.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[n.View.ExamID] {
		select {
		case ch <- n:
		default:
			if n.Kind != session.NotifyTick {
				h.log.Warn().Str("exam_id", n.View.ExamID).Str("kind", string(n.Kind)).Msg("Subscriber full, notification dropped")
			}
		}
	}
}

// Subscribers returns how many streams are attached to examID.
func (h *Hub) Subscribers(examID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[examID])
}
