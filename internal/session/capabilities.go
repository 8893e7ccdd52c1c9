package session

import "github.com/stemsi/exstem-session/internal/model"

// Capabilities switches the behaviours that differ between live and practice exams.
type Capabilities struct {
	// PerQuestionTiming accumulates dwell time on the current question each tick.
	PerQuestionTiming bool `json:"per_question_timing"`
	// OptionElimination allows striking out options.
	OptionElimination bool `json:"option_elimination"`
	// ScheduledStartGate requires an eligibility check before questions are fetched.
	ScheduledStartGate bool `json:"scheduled_start_gate"`
}

var (
	LiveCapabilities     = Capabilities{PerQuestionTiming: true, OptionElimination: true, ScheduledStartGate: true}
	PracticeCapabilities = Capabilities{}
)

// CapabilitiesFor returns the capability set of an exam kind.
func CapabilitiesFor(kind model.ExamKind) Capabilities {
	if kind == model.ExamKindLive {
		return LiveCapabilities
	}
	return PracticeCapabilities
}
