package session

import (
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// ResumeOffer describes a saved attempt the user may resume.
type ResumeOffer struct {
	RemainingSeconds int       `json:"remaining_seconds"`
	CurrentIndex     int       `json:"current_index"`
	Answered         int       `json:"answered"`
	Total            int       `json:"total"`
	SavedAt          time.Time `json:"saved_at"`
}

// View is a read-only copy of the engine state for presentation.
type View struct {
	ExamID           string                 `json:"exam_id"`
	Kind             model.ExamKind         `json:"kind"`
	Title            string                 `json:"title,omitempty"`
	AttemptID        string                 `json:"attempt_id,omitempty"`
	Phase            Phase                  `json:"phase"`
	Capabilities     Capabilities           `json:"capabilities"`
	RemainingSeconds int                    `json:"remaining_seconds"`
	CurrentIndex     int                    `json:"current_index"`
	Total            int                    `json:"total"`
	Question         *model.Question        `json:"question,omitempty"`
	Staged           *int                   `json:"staged,omitempty"`
	Statuses         []model.QuestionStatus `json:"statuses,omitempty"`
	Confirming       bool                   `json:"confirming"`
	Summary          *Summary               `json:"summary,omitempty"`
	ResumeOffer      *ResumeOffer           `json:"resume_offer,omitempty"`
	Result           *model.SubmitResult    `json:"result,omitempty"`
	LastError        string                 `json:"last_error,omitempty"`
	Focused          bool                   `json:"focused"`
	Foreground       bool                   `json:"foreground"`
}

// CurrentStatus returns the status of the question on screen.
func (v View) CurrentStatus() (model.QuestionStatus, bool) {
	if v.CurrentIndex < 0 || v.CurrentIndex >= len(v.Statuses) {
		return model.QuestionStatus{}, false
	}
	return v.Statuses[v.CurrentIndex], true
}

// viewLocked builds a View. Callers hold e.mu.
func (e *Engine) viewLocked() View {
	v := View{
		ExamID:           e.exam.ID,
		Kind:             e.exam.Kind,
		Title:            e.exam.Title,
		AttemptID:        e.attemptID,
		Phase:            e.state.Phase,
		Capabilities:     e.state.Caps,
		RemainingSeconds: e.state.RemainingSeconds,
		CurrentIndex:     e.state.CurrentIndex,
		Total:            len(e.state.Questions),
		Staged:           cloneInt(e.state.Staged),
		Statuses:         model.CloneStatuses(e.state.Statuses),
		Confirming:       e.state.Confirming,
		Result:           e.result,
		Focused:          e.focused,
		Foreground:       e.foreground,
	}
	if e.state.CurrentIndex < len(e.state.Questions) {
		q := model.CloneQuestions(e.state.Questions[e.state.CurrentIndex : e.state.CurrentIndex+1])[0]
		v.Question = &q
	}
	if e.state.Confirming {
		sum := e.state.Summary()
		v.Summary = &sum
	}
	if e.offer != nil && e.offer.Snapshot != nil {
		snap := e.offer.Snapshot
		v.ResumeOffer = &ResumeOffer{
			RemainingSeconds: e.offer.remainingAt(e.deps.Now()),
			CurrentIndex:     snap.CurrentIndex,
			Answered:         len(snap.Answers()),
			Total:            len(snap.Questions),
			SavedAt:          snap.SavedAt,
		}
	}
	if e.lastErr != nil {
		v.LastError = e.lastErr.Error()
	}
	return v
}
