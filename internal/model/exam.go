package model

import (
	"encoding/json"
	"time"
)

// ExamKind distinguishes scheduled live exams from practice exams.
type ExamKind string

const (
	ExamKindLive     ExamKind = "LIVE"
	ExamKindPractice ExamKind = "PRACTICE"
)

// Exam describes the attempt being opened. The listing screen supplies it.
type Exam struct {
	ID              string   `json:"exam_id" binding:"required,max=128" validate:"required,max=128"`
	Kind            ExamKind `json:"kind" binding:"required,oneof=LIVE PRACTICE" validate:"required,oneof=LIVE PRACTICE"`
	Title           string   `json:"title" binding:"omitempty,max=255" validate:"omitempty,max=255"`
	DurationSeconds int      `json:"duration_seconds" binding:"required,min=1,max=86400" validate:"required,min=1,max=86400"`
}

// Duration returns the configured time budget.
func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}

// Eligibility is the question source's answer to "may this live exam start?".
type Eligibility struct {
	Eligible  bool      `json:"eligible"`
	StartTime time.Time `json:"start_time"`
}

// SubmitResult is the scored result returned by the submission service.
// The engine never looks inside Payload.
type SubmitResult struct {
	ExamID      string          `json:"exam_id"`
	Payload     json.RawMessage `json:"payload"`
	SubmittedAt time.Time       `json:"submitted_at"`
}
