// Package socket serves the engineer client protocol over WebSocket
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloud-shuttle/fieldsync/internal/clock"
	"github.com/cloud-shuttle/fieldsync/internal/events"
	"github.com/cloud-shuttle/fieldsync/internal/lifecycle"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/reconcile"
	"github.com/cloud-shuttle/fieldsync/internal/schedule"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// CookieName is the session cookie set by POST /sessions
const CookieName = "fieldsync.sid"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	requestTimeout = 30 * time.Second
)

// Sessions resolves and refreshes sessions
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*types.Session, error)
	Touch(ctx context.Context, sessionID string) error
}

// Schedules compiles schedule views
type Schedules interface {
	Compile(ctx context.Context, engineerIDs []string, offset int) (schedule.View, error)
	Details(ctx context.Context, engineerID, taskID string) (schedule.TaskView, error)
}

// Engine applies engineer-initiated changes
type Engine interface {
	Transition(ctx context.Context, req reconcile.TransitionRequest) error
	Populate(ctx context.Context, engineerID string, offset int) ([]schedule.TaskView, error)
}

// Deps holds the collaborators of a Handler
type Deps struct {
	Sessions  Sessions
	Schedules Schedules
	Engine    Engine
	Diagram   *lifecycle.Diagram
	Days      *clock.Resolver
	Hub       *events.Hub
	Logger    *slog.Logger
}

// Handler upgrades identified sessions to WebSocket connections
type Handler struct {
	sessions  Sessions
	schedules Schedules
	engine    Engine
	diagram   *lifecycle.Diagram
	days      *clock.Resolver
	hub       *events.Hub
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	pingInterval time.Duration
}

// NewHandler creates a handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		sessions:  d.Sessions,
		schedules: d.Schedules,
		engine:    d.Engine,
		diagram:   d.Diagram,
		days:      d.Days,
		hub:       d.Hub,
		logger:    logging.Component(d.Logger, "socket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: pingPeriod,
	}
}

// ServeHTTP authenticates the session cookie and runs the connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	sess, err := h.sessions.Get(r.Context(), cookie.Value)
	if err != nil || !sess.Identified() {
		http.Error(w, "session not identified", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session", sess.ID, "error", err)
		return
	}

	c := &client{
		h:          h,
		conn:       conn,
		sessionID:  sess.ID,
		engineerID: sess.EngineerID,
		out:        make(chan *Response, 64),
		done:       make(chan struct{}),
	}
	c.run()
}

// client is one live connection. Only the writer goroutine writes to conn.
type client struct {
	h          *Handler
	conn       *websocket.Conn
	sessionID  string
	engineerID string
	out        chan *Response
	done       chan struct{}
}

func (c *client) run() {
	sub := c.h.hub.Subscribe(c.sessionID)
	c.h.logger.Info("client connected", "session", c.sessionID, "engineer", c.engineerID)

	go c.writeLoop(sub)
	c.readLoop()

	close(c.done)
	c.h.hub.Unsubscribe(c.sessionID, sub)
	c.conn.Close()
	c.h.logger.Info("client disconnected", "session", c.sessionID, "engineer", c.engineerID)
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.h.logger.Debug("read failed", "session", c.sessionID, "error", err)
			}
			return
		}
		resp := c.handle(&req)
		select {
		case c.out <- resp:
		case <-c.done:
			return
		}
	}
}

func (c *client) writeLoop(sub chan *events.Message) {
	ticker := time.NewTicker(c.h.pingInterval)
	defer ticker.Stop()

	for {
		var frame *Response
		select {
		case msg, ok := <-sub:
			if !ok {
				c.closeConn()
				return
			}
			frame = &Response{Event: msg.Event, Data: msg.Data}
		case frame = <-c.out:
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.h.logger.Debug("ping failed", "session", c.sessionID, "error", err)
				c.closeConn()
				return
			}
			continue
		case <-c.done:
			return
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(frame); err != nil {
			c.h.logger.Debug("write failed", "session", c.sessionID, "error", err)
			c.closeConn()
			return
		}
	}
}

func (c *client) closeConn() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.conn.Close()
}

// handle answers one request
func (c *client) handle(req *Request) *Response {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := c.h.sessions.Touch(ctx, c.sessionID); err != nil {
		c.h.logger.Warn("touching session failed", "session", c.sessionID, "error", err)
	}

	data, err := c.dispatch(ctx, req)
	resp := &Response{ID: req.ID, Event: req.Event}
	if err != nil {
		resp.Error = errorBody(err)
		c.h.logger.Debug("request failed", "session", c.sessionID, "event", req.Event, "code", resp.Error.Code, "error", err)
		return resp
	}
	resp.Data = data
	return resp
}

var errUnknownEvent = errors.New("unknown event")

func (c *client) dispatch(ctx context.Context, req *Request) (any, error) {
	switch req.Event {
	case EventGetInitialSchedule:
		var in scheduleRequest
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		offset := c.offset(in.DayOffset)
		tasks, err := c.h.engine.Populate(ctx, c.engineerID, offset)
		if err != nil {
			return nil, err
		}
		return ScheduleResponse{DayOffset: offset, Tasks: tasks}, nil

	case EventGetUpdatedSchedule:
		var in scheduleRequest
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		offset := c.offset(in.DayOffset)
		view, err := c.h.schedules.Compile(ctx, []string{c.engineerID}, offset)
		if err != nil {
			return nil, err
		}
		return ScheduleResponse{DayOffset: offset, Tasks: view[c.engineerID]}, nil

	case EventGetAppointmentDetails:
		var in detailsRequest
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		return c.h.schedules.Details(ctx, c.engineerID, in.TaskID)

	case EventIsStatusComplete:
		var in completeRequest
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		complete, err := c.h.diagram.IsTerminal(in.Status)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"complete": complete}, nil

	case EventStatusTransition:
		var in transitionRequest
		if err := decode(req.Data, &in); err != nil {
			return nil, err
		}
		err := c.h.engine.Transition(ctx, reconcile.TransitionRequest{
			EngineerID: c.engineerID,
			SessionID:  c.sessionID,
			Task:       in.Task,
		})
		if err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil

	case EventGetDayOffset:
		return map[string]int{"dayOffset": c.h.days.DayOffset()}, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownEvent, req.Event)
}

func (c *client) offset(requested *int) int {
	if requested != nil {
		return *requested
	}
	return c.h.days.DayOffset()
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidationFailed, err)
	}
	return nil
}
