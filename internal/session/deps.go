package session

import (
	"context"

	"github.com/stemsi/exstem-session/internal/model"
)

// QuestionSource serves the ordered question list of an exam.
type QuestionSource interface {
	FetchQuestions(ctx context.Context, examID, authToken string) ([]model.Question, error)
	// CheckEligibility reports whether a scheduled exam may start.
	CheckEligibility(ctx context.Context, examID, authToken string) (model.Eligibility, error)
}

// Submitter accepts an attempt's answers and returns the scored result.
// It is the authority on accepting only the first submission per attempt.
type Submitter interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)
}

// RetryQueue receives automatic submissions whose backend call failed.
type RetryQueue interface {
	Enqueue(ctx context.Context, p model.PendingSubmission) error
}

// NotificationKind tells an Observer what happened.
type NotificationKind string

const (
	NotifyState         NotificationKind = "state"
	NotifyTick          NotificationKind = "tick"
	NotifySubmitted     NotificationKind = "submitted"
	NotifySubmitFailed  NotificationKind = "submit_failed"
	NotifyAutoSubmitted NotificationKind = "auto_submitted"
	NotifyAbandoned     NotificationKind = "abandoned"
)

// Notification is pushed to the Observer outside the engine lock.
// For NotifyAutoSubmitted, Err carries a backend failure that was
// acknowledged to the user as submitted anyway.
type Notification struct {
	Kind   NotificationKind
	View   View
	Result *model.SubmitResult
	Err    error
}

// Observer receives engine notifications (transport push, result hand-off).
type Observer interface {
	Notify(n Notification)
}
