package model

// QuestionType enumerates the answer formats the engine can present.
type QuestionType string

const (
	QuestionTypeMCQ       QuestionType = "MCQ"
	QuestionTypeTrueFalse QuestionType = "TRUE_FALSE"
)

// Question is a single exam question as served by the question source.
// Questions are immutable for the lifetime of a session.
type Question struct {
	ID      string       `json:"id" validate:"required"`
	Text    string       `json:"text" validate:"required"`
	Type    QuestionType `json:"type" validate:"required,oneof=MCQ TRUE_FALSE"`
	Options []string     `json:"options" validate:"min=2,dive,required"`
	Marks   float64      `json:"marks" validate:"gt=0"`
}

// QuestionStatus is the per-question progress of an attempt, index-aligned
// with the question list.
type QuestionStatus struct {
	Answered       bool `json:"answered"`
	Marked         bool `json:"marked"`
	Visited        bool `json:"visited"`
	SelectedOption *int `json:"selected_option,omitempty"`
	// TimeSpentSeconds accumulates dwell time on live exams only.
	TimeSpentSeconds int `json:"time_spent_seconds,omitempty"`
	// EliminatedOptions is kept sorted. Advisory only.
	EliminatedOptions []int `json:"eliminated_options,omitempty"`
}

// Clone returns a deep copy of the status.
func (s QuestionStatus) Clone() QuestionStatus {
	out := s
	if s.SelectedOption != nil {
		v := *s.SelectedOption
		out.SelectedOption = &v
	}
	if s.EliminatedOptions != nil {
		out.EliminatedOptions = append([]int(nil), s.EliminatedOptions...)
	}
	return out
}

// IsEliminated reports whether option i was struck out.
func (s QuestionStatus) IsEliminated(i int) bool {
	for _, v := range s.EliminatedOptions {
		if v == i {
			return true
		}
	}
	return false
}

// CloneQuestions copies a question list including option slices.
func CloneQuestions(qs []Question) []Question {
	if qs == nil {
		return nil
	}
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = q
		out[i].Options = append([]string(nil), q.Options...)
	}
	return out
}

// CloneStatuses deep-copies a status list.
func CloneStatuses(ss []QuestionStatus) []QuestionStatus {
	if ss == nil {
		return nil
	}
	out := make([]QuestionStatus, len(ss))
	for i, s := range ss {
		out[i] = s.Clone()
	}
	return out
}
