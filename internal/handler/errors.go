package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/session"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// sessionError maps engine and transport errors to an HTTP status and code.
func sessionError(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict, response.ErrSessionActive
	case errors.Is(err, session.ErrNoResumeOffer):
		return http.StatusConflict, response.ErrNoResumeOffer
	case errors.Is(err, session.ErrConfirmationPending):
		return http.StatusConflict, response.ErrConfirmationPending
	case errors.Is(err, session.ErrNotConfirming):
		return http.StatusConflict, response.ErrNotConfirming
	case errors.Is(err, session.ErrSubmissionInFlight):
		return http.StatusConflict, response.ErrSubmissionInFlight
	case errors.Is(err, session.ErrInvalidPhase):
		return http.StatusConflict, response.ErrInvalidPhase
	case errors.Is(err, session.ErrOptionOutOfRange):
		return http.StatusBadRequest, response.ErrOptionOutOfRange
	case errors.Is(err, session.ErrIndexOutOfRange):
		return http.StatusBadRequest, response.ErrIndexOutOfRange
	case errors.Is(err, session.ErrEliminationDisabled):
		return http.StatusBadRequest, response.ErrEliminationDisabled
	case errors.Is(err, session.ErrExamNotStarted):
		return http.StatusForbidden, response.ErrExamNotStarted
	case errors.Is(err, session.ErrFetchFailed):
		return http.StatusBadGateway, response.ErrFetchFailed
	case errors.Is(err, session.ErrSubmitFailed):
		return http.StatusBadGateway, response.ErrSubmitFailed
	case errors.Is(err, ws.ErrUnknownAction):
		return http.StatusBadRequest, response.ErrUnknownAction
	case errors.Is(err, ws.ErrMissingOption), errors.Is(err, ws.ErrMissingIndex):
		return http.StatusBadRequest, response.ErrValidation
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failSession writes the mapped error. The exam start time is worth showing,
// so ErrExamNotStarted keeps its wrapped message.
func failSession(c *gin.Context, err error) {
	status, code := sessionError(err)
	if code == response.ErrExamNotStarted {
		response.FailWithMessage(c, status, code, err.Error())
		return
	}
	response.Fail(c, status, code)
}
