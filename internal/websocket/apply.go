package websocket

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

// ActionResult is what an action returns to the client that sent it.
type ActionResult struct {
	View   session.View        `json:"view"`
	Allow  *bool               `json:"allow,omitempty"`
	Result *model.SubmitResult `json:"result,omitempty"`
}

// Apply runs one client action against e. The REST API, the WebSocket
// stream and the terminal client share it.
// Save failures from lifecycle actions are logged, never returned.
func Apply(ctx context.Context, e *session.Engine, req Request, log zerolog.Logger) (ActionResult, error) {
	if ev, ok, err := req.SessionEvent(); ok {
		if err != nil {
			return ActionResult{}, err
		}
		v, err := e.Dispatch(ev)
		return ActionResult{View: v}, err
	}

	switch req.Action {
	case ActionConfirmSubmit:
		res, err := e.ConfirmSubmit(ctx)
		return ActionResult{View: e.View(), Result: res}, err

	case ActionResume:
		v, err := e.Resume(ctx)
		return ActionResult{View: v}, err

	case ActionStartFresh:
		_, err := e.StartFresh(ctx)
		return ActionResult{View: e.View()}, err

	case ActionFocus:
		e.Focus()

	case ActionBlur:
		if err := e.Blur(ctx); err != nil {
			log.Warn().Err(err).Msg("Save on blur failed")
		}

	case ActionForeground, ActionBackground:
		if err := e.SetForeground(ctx, req.Action == ActionForeground); err != nil {
			log.Warn().Err(err).Msg("Save on background failed")
		}

	case ActionLeave, ActionStay:
		decision := session.DecisionStay
		if req.Action == ActionLeave {
			decision = session.DecisionLeave
		}
		allow, err := session.NewExitGuard(e).Resolve(ctx, decision)
		return ActionResult{View: e.View(), Allow: &allow}, err

	case ActionPing:

	default:
		return ActionResult{}, ErrUnknownAction
	}

	return ActionResult{View: e.View()}, nil
}
