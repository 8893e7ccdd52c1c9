package model

import "time"

// Snapshot is the persisted, point-in-time copy of a session. The store only
// ever receives deep copies, never the engine's live slices.
type Snapshot struct {
	ExamID           string           `json:"exam_id"`
	Kind             ExamKind         `json:"kind"`
	AttemptID        string           `json:"attempt_id"`
	Questions        []Question       `json:"questions"`
	Statuses         []QuestionStatus `json:"statuses"`
	CurrentIndex     int              `json:"current_index"`
	RemainingSeconds int              `json:"remaining_seconds"`
	DurationSeconds  int              `json:"duration_seconds"`
	SavedAt          time.Time        `json:"saved_at"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Questions = CloneQuestions(s.Questions)
	out.Statuses = CloneStatuses(s.Statuses)
	return &out
}

// Answers builds the submission map from every answered status. Unanswered
// questions are omitted.
func (s *Snapshot) Answers() map[string]int {
	return BuildAnswers(s.Questions, s.Statuses)
}

// BuildAnswers maps question id to selected option for answered questions.
func BuildAnswers(questions []Question, statuses []QuestionStatus) map[string]int {
	answers := make(map[string]int)
	for i, st := range statuses {
		if i >= len(questions) {
			break
		}
		if st.Answered && st.SelectedOption != nil {
			answers[questions[i].ID] = *st.SelectedOption
		}
	}
	return answers
}
