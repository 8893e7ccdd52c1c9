package session

import "errors"

// Domain Errors
var (
	ErrExamNotStarted      = errors.New("exam has not started yet")
	ErrFetchFailed         = errors.New("question fetch failed")
	ErrSubmitFailed        = errors.New("submission failed")
	ErrSubmissionInFlight  = errors.New("a submission is already in flight")
	ErrInvalidPhase        = errors.New("operation not allowed in the current session phase")
	ErrConfirmationPending = errors.New("submission confirmation is open")
	ErrNotConfirming       = errors.New("no submission is awaiting confirmation")
	ErrOptionOutOfRange    = errors.New("option index out of range")
	ErrIndexOutOfRange     = errors.New("question index out of range")
	ErrEliminationDisabled = errors.New("option elimination is not available for this exam")
	ErrNoResumeOffer       = errors.New("no saved session is awaiting a resume decision")
	ErrSessionActive       = errors.New("a session for this exam is already open")
	ErrSessionNotFound     = errors.New("no open session for this exam")
)
