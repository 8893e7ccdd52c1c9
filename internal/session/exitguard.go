package session

import "context"

// Decision is the user's answer to the leave prompt.
type Decision string

const (
	DecisionStay  Decision = "STAY"
	DecisionLeave Decision = "LEAVE"
)

// ExitGuard intercepts back navigation while an attempt is running.
type ExitGuard struct {
	engine *Engine
}

// NewExitGuard guards e.
func NewExitGuard(e *Engine) *ExitGuard {
	return &ExitGuard{engine: e}
}

// Intercept reports whether a back navigation must be confirmed first.
func (g *ExitGuard) Intercept() bool {
	switch g.engine.Phase() {
	case PhaseActive, PhaseSubmitting:
		return true
	}
	return false
}

// Resolve applies the user's decision and reports whether navigation may
// proceed. While intercepting, staying changes nothing and leaving saves and
// abandons the session; leaving is refused while a submission is in flight.
// Without a prompt navigation always proceeds, and a session that has not
// started running (loading, fetching, resume offer pending) is abandoned so
// the exam can be opened again.
func (g *ExitGuard) Resolve(ctx context.Context, d Decision) (bool, error) {
	phase := g.engine.Phase()
	if phase.Terminal() || phase == PhaseExpiredAutoSubmitting {
		return true, nil
	}
	if g.Intercept() && d != DecisionLeave {
		return false, nil
	}
	if err := g.engine.Leave(ctx); err != nil {
		return false, err
	}
	return true, nil
}
