package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/session"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

const (
	keepAliveInterval = 25 * time.Second
	outboundBuffer    = 16
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a running session: client actions in, state and
// countdown events out.
type WSHandler struct {
	manager  *session.Manager
	hub      *ws.Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *session.Manager, hub *ws.Hub, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:  manager,
		hub:      hub,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:exam_id/stream
func (h *WSHandler) SessionStream(c *gin.Context) {
	e, err := h.manager.Get(c.Param("exam_id"))
	if err != nil {
		failSession(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("exam_id", e.Exam().ID).Logger()
	wsLog.Info().Msg("Client connected")

	notes, unsubscribe := h.hub.Subscribe(e.Exam().ID)
	defer unsubscribe()

	// gorilla/websocket allows one concurrent writer: everything outbound
	// goes through this goroutine.
	out := make(chan interface{}, outboundBuffer)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-done:
				return
			case n, ok := <-notes:
				if !ok {
					return
				}
				if err := ws.WriteTyped(conn, ws.FromNotification(n)); err != nil {
					wsLog.Debug().Err(err).Msg("Write failed")
					return
				}
			case msg := <-out:
				if err := ws.WriteTyped(conn, msg); err != nil {
					wsLog.Debug().Err(err).Msg("Write failed")
					return
				}
			}
		}
	}()
	defer func() {
		close(done)
		<-writerDone
	}()

	out <- ws.StateResponse{Event: ws.EventState, View: e.View()}

	for {
		var req ws.Request
		if err := ws.ReadJSON(conn, &req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.send(out, writerDone, ws.ErrorResponse{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: response.GetMessage(response.ErrInvalidPayload)})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if req.Action == ws.ActionPing {
			h.send(out, writerDone, ws.PongResponse{Event: ws.EventPong})
			continue
		}

		res, err := ws.Apply(c.Request.Context(), e, req, wsLog)
		if err != nil {
			_, code := sessionError(err)
			h.send(out, writerDone, ws.ErrorResponse{Event: ws.EventError, Code: string(code), Error: err.Error()})
			continue
		}
		if res.Allow != nil {
			h.send(out, writerDone, ws.ExitResponse{Event: ws.EventExit, Allow: *res.Allow})
		}
	}
}

// send queues msg unless the writer has already stopped.
func (h *WSHandler) send(out chan<- interface{}, writerDone <-chan struct{}, msg interface{}) {
	select {
	case out <- msg:
	case <-writerDone:
	}
}

// SessionEvents godoc
// GET /api/v1/sessions/:exam_id/events
// Server-sent events for shells that cannot hold a WebSocket.
func (h *WSHandler) SessionEvents(c *gin.Context) {
	e, err := h.manager.Get(c.Param("exam_id"))
	if err != nil {
		failSession(c, err)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	notes, unsubscribe := h.hub.Subscribe(e.Exam().ID)
	defer unsubscribe()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.SSEvent("message", ws.StateResponse{Event: ws.EventState, View: e.View()})
	c.Writer.Flush()

	for {
		select {
		case <-reqCtx.Done():
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			c.SSEvent("message", ws.FromNotification(n))
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("message", ws.PongResponse{Event: ws.EventPong})
			c.Writer.Flush()
		}
	}
}
