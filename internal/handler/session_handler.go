package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/snapshot"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// SessionHandler exposes exam sessions to the UI shell over REST.
type SessionHandler struct {
	manager *session.Manager
	store   snapshot.Store
	log     zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(manager *session.Manager, store snapshot.Store, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		store:   store,
		log:     log.With().Str("component", "session_handler").Logger(),
	}
}

type openSessionResponse struct {
	Outcome session.Outcome `json:"outcome"`
	View    session.View    `json:"view"`
}

// OpenSession godoc
// POST /api/v1/sessions
// Opens an exam: resumes, offers a resume, auto-submits or starts fresh.
func (h *SessionHandler) OpenSession(c *gin.Context) {
	var exam model.Exam
	if fields := validator.Bind(c, &exam); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctx := c.Request.Context()
	e, err := h.manager.Open(ctx, exam, middleware.GetToken(c))
	if errors.Is(err, session.ErrSessionActive) {
		// A session stuck in LOADING after a failed fetch, or still showing a
		// resume offer, may be reopened.
		if existing, getErr := h.manager.Get(exam.ID); getErr == nil && reopenable(existing.Phase()) {
			_ = h.manager.Close(ctx, exam.ID)
			e, err = h.manager.Open(ctx, exam, middleware.GetToken(c))
		}
	}
	if err != nil {
		failSession(c, err)
		return
	}

	outcome, err := e.Start(ctx)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", exam.ID).Msg("Session start failed")
		failSession(c, err)
		return
	}

	status := http.StatusOK
	if outcome == session.OutcomeActive {
		status = http.StatusCreated
	}
	response.Success(c, status, openSessionResponse{Outcome: outcome, View: e.View()})
}

func reopenable(p session.Phase) bool {
	return p == session.PhaseLoading || p == session.PhaseResuming
}

// GetSession godoc
// GET /api/v1/sessions/:exam_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, e.View())
}

// Resume godoc
// POST /api/v1/sessions/:exam_id/resume
func (h *SessionHandler) Resume(c *gin.Context) {
	h.run(c, ws.Request{Action: ws.ActionResume})
}

// StartFresh godoc
// POST /api/v1/sessions/:exam_id/start-fresh
func (h *SessionHandler) StartFresh(c *gin.Context) {
	h.run(c, ws.Request{Action: ws.ActionStartFresh})
}

// Submit godoc
// POST /api/v1/sessions/:exam_id/submit
// Confirms the open submission summary.
func (h *SessionHandler) Submit(c *gin.Context) {
	h.run(c, ws.Request{Action: ws.ActionConfirmSubmit})
}

// Action godoc
// POST /api/v1/sessions/:exam_id/actions
// Applies one answering, navigation or lifecycle action.
func (h *SessionHandler) Action(c *gin.Context) {
	var req ws.Request
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	h.run(c, req)
}

type leaveRequest struct {
	Decision session.Decision `json:"decision" binding:"required,oneof=STAY LEAVE"`
}

// Leave godoc
// POST /api/v1/sessions/:exam_id/leave
// Resolves the back-navigation prompt.
func (h *SessionHandler) Leave(c *gin.Context) {
	var req leaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	action := ws.ActionStay
	if req.Decision == session.DecisionLeave {
		action = ws.ActionLeave
	}
	h.run(c, ws.Request{Action: action})
}

// CloseSession godoc
// DELETE /api/v1/sessions/:exam_id
// Saves an attempt in progress and forgets the session.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	if err := h.manager.Close(c.Request.Context(), c.Param("exam_id")); err != nil {
		failSession(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type snapshotSummary struct {
	ExamID           string         `json:"exam_id"`
	Kind             model.ExamKind `json:"kind"`
	AttemptID        string         `json:"attempt_id"`
	Answered         int            `json:"answered"`
	Total            int            `json:"total"`
	RemainingSeconds int            `json:"remaining_seconds"`
	SavedAt          time.Time      `json:"saved_at"`
}

// ListSnapshots godoc
// GET /api/v1/snapshots
// Lists saved attempts so the exam list can show "resume" badges.
func (h *SessionHandler) ListSnapshots(c *gin.Context) {
	snaps, err := h.store.List(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("List snapshots failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	out := make([]snapshotSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, snapshotSummary{
			ExamID:           s.ExamID,
			Kind:             s.Kind,
			AttemptID:        s.AttemptID,
			Answered:         len(s.Answers()),
			Total:            len(s.Questions),
			RemainingSeconds: s.RemainingSeconds,
			SavedAt:          s.SavedAt,
		})
	}
	response.Success(c, http.StatusOK, gin.H{"snapshots": out})
}

func (h *SessionHandler) run(c *gin.Context, req ws.Request) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	res, err := ws.Apply(c.Request.Context(), e, req, h.log.With().Str("exam_id", e.Exam().ID).Logger())
	if err != nil {
		failSession(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *SessionHandler) engine(c *gin.Context) (*session.Engine, bool) {
	e, err := h.manager.Get(c.Param("exam_id"))
	if err != nil {
		failSession(c, err)
		return nil, false
	}
	return e, true
}
