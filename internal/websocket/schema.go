package websocket

import (
	"errors"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	// Answering and navigation.
	ActionStage          Action = "stage"
	ActionSelect         Action = "select"
	ActionClearSelection Action = "clear_selection"
	ActionToggleMark     Action = "toggle_mark"
	ActionEliminate      Action = "eliminate"
	ActionNext           Action = "next"
	ActionSaveAndNext    Action = "save_and_next"
	ActionJumpTo         Action = "jump_to"

	// Submission.
	ActionSubmit        Action = "submit"
	ActionCancelSubmit  Action = "cancel_submit"
	ActionConfirmSubmit Action = "confirm_submit"

	// Resume decision.
	ActionResume     Action = "resume"
	ActionStartFresh Action = "start_fresh"

	// App lifecycle and back navigation.
	ActionFocus      Action = "focus"
	ActionBlur       Action = "blur"
	ActionForeground Action = "foreground"
	ActionBackground Action = "background"
	ActionLeave      Action = "leave"
	ActionStay       Action = "stay"

	ActionPing Action = "ping"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingOption = errors.New("option is required")
	ErrMissingIndex  = errors.New("index is required")
)

// Request is one client message. Option is used by stage, select and
// eliminate; Index by jump_to.
type Request struct {
	Action Action `json:"action" binding:"required"`
	Option *int   `json:"option,omitempty"`
	Index  *int   `json:"index,omitempty"`
}

// SessionEvent maps answering and navigation actions to a state machine
// event. ok is false for actions handled elsewhere.
func (r Request) SessionEvent() (ev session.Event, ok bool, err error) {
	switch r.Action {
	case ActionStage, ActionSelect, ActionEliminate:
		if r.Option == nil {
			return session.Event{}, true, ErrMissingOption
		}
		switch r.Action {
		case ActionStage:
			return session.Stage(*r.Option), true, nil
		case ActionSelect:
			return session.Select(*r.Option), true, nil
		default:
			return session.Eliminate(*r.Option), true, nil
		}
	case ActionJumpTo:
		if r.Index == nil {
			return session.Event{}, true, ErrMissingIndex
		}
		return session.JumpTo(*r.Index), true, nil
	case ActionClearSelection:
		return session.ClearSelection(), true, nil
	case ActionToggleMark:
		return session.ToggleMark(), true, nil
	case ActionNext:
		return session.Next(), true, nil
	case ActionSaveAndNext:
		return session.SaveAndNext(), true, nil
	case ActionSubmit:
		return session.SubmitRequested(), true, nil
	case ActionCancelSubmit:
		return session.CancelSubmit(), true, nil
	}
	return session.Event{}, false, nil
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState         Event = "state"
	EventTick          Event = "tick"
	EventSubmitted     Event = "submitted"
	EventAutoSubmitted Event = "auto_submitted"
	EventSubmitFailed  Event = "submit_failed"
	EventAbandoned     Event = "abandoned"
	EventExit          Event = "exit"
	EventError         Event = "error"
	EventPong          Event = "pong"
)

// StateResponse carries the full session view.
type StateResponse struct {
	Event Event        `json:"event"`
	View  session.View `json:"view"`
}

// TickResponse is the lightweight once-a-second countdown update.
type TickResponse struct {
	Event            Event         `json:"event"`
	Phase            session.Phase `json:"phase"`
	RemainingSeconds int           `json:"remaining_seconds"`
}

// ResultResponse reports the end of an attempt. Error is set when an
// automatic submission was acknowledged while the backend call failed.
type ResultResponse struct {
	Event  Event               `json:"event"`
	View   session.View        `json:"view"`
	Result *model.SubmitResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// ExitResponse answers leave and stay.
type ExitResponse struct {
	Event Event `json:"event"`
	Allow bool  `json:"allow"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// FromNotification converts an engine notification into its wire message.
func FromNotification(n session.Notification) interface{} {
	switch n.Kind {
	case session.NotifyTick:
		return TickResponse{Event: EventTick, Phase: n.View.Phase, RemainingSeconds: n.View.RemainingSeconds}
	case session.NotifySubmitted, session.NotifyAutoSubmitted, session.NotifySubmitFailed:
		event := EventSubmitted
		if n.Kind == session.NotifyAutoSubmitted {
			event = EventAutoSubmitted
		} else if n.Kind == session.NotifySubmitFailed {
			event = EventSubmitFailed
		}
		res := ResultResponse{Event: event, View: n.View, Result: n.Result}
		if n.Err != nil {
			res.Error = n.Err.Error()
		}
		return res
	case session.NotifyAbandoned:
		return StateResponse{Event: EventAbandoned, View: n.View}
	}
	return StateResponse{Event: EventState, View: n.View}
}
