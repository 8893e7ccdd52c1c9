package session

import "github.com/stemsi/exstem-session/internal/model"

// Phase enumerates session states.
type Phase string

const (
	PhaseLoading               Phase = "LOADING"
	PhaseResuming              Phase = "RESUMING"
	PhaseFetching              Phase = "FETCHING"
	PhaseActive                Phase = "ACTIVE"
	PhaseSubmitting            Phase = "SUBMITTING"
	PhaseExpiredAutoSubmitting Phase = "EXPIRED_AUTOSUBMITTING"
	PhaseSubmitted             Phase = "SUBMITTED"
	PhaseAbandoned             Phase = "ABANDONED"
)

// Terminal reports whether no further transition can leave p.
func (p Phase) Terminal() bool {
	return p == PhaseSubmitted || p == PhaseAbandoned
}

// counting reports whether the countdown runs in p. A manual submission in
// flight does not pause it.
func (p Phase) counting() bool {
	return p == PhaseActive || p == PhaseSubmitting
}

// Summary is shown on the submit confirmation step.
type Summary struct {
	Total       int `json:"total"`
	Answered    int `json:"answered"`
	Marked      int `json:"marked"`
	NotVisited  int `json:"not_visited"`
	NotAnswered int `json:"not_answered"`
}

// State is everything the reducer owns. Statuses is index-aligned with Questions.
type State struct {
	Phase            Phase
	Caps             Capabilities
	Questions        []model.Question
	Statuses         []model.QuestionStatus
	CurrentIndex     int
	RemainingSeconds int
	// Staged is the option highlighted on the current question, committed or not.
	Staged *int
	// Confirming is set while the submit summary is open.
	Confirming bool
}

// Clone deep-copies the mutable parts of s. Questions are immutable and shared.
func (s State) Clone() State {
	out := s
	out.Statuses = model.CloneStatuses(s.Statuses)
	out.Staged = cloneInt(s.Staged)
	return out
}

// Summary counts answered, marked and unvisited questions.
func (s State) Summary() Summary {
	sum := Summary{Total: len(s.Statuses)}
	for _, st := range s.Statuses {
		switch {
		case st.Answered:
			sum.Answered++
		case !st.Visited:
			sum.NotVisited++
		default:
			sum.NotAnswered++
		}
		if st.Marked {
			sum.Marked++
		}
	}
	return sum
}

// Answers builds the submission payload from committed answers only.
func (s State) Answers() map[string]int {
	return model.BuildAnswers(s.Questions, s.Statuses)
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
