package model

import "time"

// SubmitRequest is what the engine hands to the submission service.
// Answers maps question id to a zero-based option index.
type SubmitRequest struct {
	ExamID    string         `json:"exam_id"`
	AttemptID string         `json:"attempt_id"`
	AuthToken string         `json:"-"`
	Answers   map[string]int `json:"answers"`
}

// PendingSubmission is an automatic submission whose backend call failed
// and is waiting for a background retry.
type PendingSubmission struct {
	ExamID     string         `json:"exam_id"`
	AttemptID  string         `json:"attempt_id"`
	AuthToken  string         `json:"auth_token"`
	Answers    map[string]int `json:"answers"`
	Attempts   int            `json:"attempts"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Request converts the pending entry back into a submit call.
func (p PendingSubmission) Request() SubmitRequest {
	return SubmitRequest{
		ExamID:    p.ExamID,
		AttemptID: p.AttemptID,
		AuthToken: p.AuthToken,
		Answers:   p.Answers,
	}
}
