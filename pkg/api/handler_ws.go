package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	echo "github.com/labstack/echo/v5"

	"github.com/streamguard/streamguard/pkg/hub"
	"github.com/streamguard/streamguard/pkg/models"
)

const wsWriteTimeout = 5 * time.Second

// wsInbound is a client-to-server frame.
type wsInbound struct {
	Action    string            `json:"action"` // chat_message, start_simulation, stop_simulation
	MessageID string            `json:"message_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	Body      string            `json:"body,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// wsAck acknowledges a control verb.
type wsAck struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// wsError is sent back when an inbound frame is rejected.
type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// wsHandler handles GET /ws?channel_id=...
// Upgrades to WebSocket and streams the channel's processed events.
// Inbound frames submit chat messages or control the traffic simulator.
func (s *Server) wsHandler(c *echo.Context) error {
	channelID := c.QueryParam("channel_id")
	if channelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id query parameter is required")
	}

	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Session.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Session.AllowedOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	sess := &wsSession{
		server:    s,
		conn:      conn,
		channelID: channelID,
		logger:    s.logger.With("channel_id", channelID),
	}
	// run blocks until the WebSocket closes.
	sess.run(c.Request().Context())
	return nil
}

// wsSession is one live WebSocket subscription to a channel.
type wsSession struct {
	server    *Server
	conn      *websocket.Conn
	channelID string
	logger    *slog.Logger
}

func (w *wsSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := w.server.eventHub.Subscribe(w.channelID)
	defer w.server.eventHub.Unsubscribe(sub)

	w.logger.Info("WebSocket session opened", "subscription_id", sub.ID)
	defer w.logger.Info("WebSocket session closed", "subscription_id", sub.ID, "lag", sub.Lag())

	go w.writeLoop(ctx, cancel, sub)
	go w.pingLoop(ctx, cancel)

	w.readLoop(ctx)
	_ = w.conn.Close(websocket.StatusNormalClosure, "")
}

// writeLoop forwards hub events to the client. A stalled client is covered
// by the per-write timeout plus the hub's drop-oldest queue.
func (w *wsSession) writeLoop(ctx context.Context, cancel context.CancelFunc, sub *hub.Subscription) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := w.write(ctx, event); err != nil {
				w.logger.Debug("WebSocket write failed", "error", err)
				return
			}
		}
	}
}

// pingLoop keeps the connection alive; two consecutive failed pings close
// the session.
func (w *wsSession) pingLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	interval := w.server.cfg.Session.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := w.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				failures++
				if failures >= 2 {
					w.logger.Debug("WebSocket ping failed twice, closing", "error", err)
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// readLoop consumes inbound frames until the connection or context closes.
func (w *wsSession) readLoop(ctx context.Context) {
	for {
		var frame wsInbound
		if err := wsjson.Read(ctx, w.conn, &frame); err != nil {
			if !errors.Is(err, context.Canceled) &&
				websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway {
				w.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}
		w.handleFrame(ctx, frame)
	}
}

func (w *wsSession) handleFrame(ctx context.Context, frame wsInbound) {
	switch frame.Action {
	case "chat_message":
		if frame.UserID == "" || frame.Body == "" {
			w.sendError(ctx, "user_id and body are required")
			return
		}
		_, err := w.server.orchestrator.Process(ctx, models.IncomingMessage{
			MessageID: frame.MessageID,
			UserID:    frame.UserID,
			Username:  frame.Username,
			ChannelID: w.channelID,
			Body:      frame.Body,
			Metadata:  frame.Metadata,
		})
		if err != nil {
			w.sendError(ctx, err.Error())
		}
		// The processed event reaches the client through the hub subscription.

	case "start_simulation":
		status := "started"
		if !w.server.simulator.Start(context.Background(), w.channelID) {
			status = "already_running"
		}
		w.sendAck(ctx, frame.Action, status)

	case "stop_simulation":
		status := "stopped"
		if !w.server.simulator.Stop(w.channelID) {
			status = "not_running"
		}
		w.sendAck(ctx, frame.Action, status)

	default:
		w.sendError(ctx, "unknown action: "+frame.Action)
	}
}

func (w *wsSession) write(ctx context.Context, payload any) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, w.conn, payload)
}

func (w *wsSession) sendAck(ctx context.Context, action, status string) {
	_ = w.write(ctx, wsAck{Type: "ack", Action: action, Status: status})
}

func (w *wsSession) sendError(ctx context.Context, msg string) {
	_ = w.write(ctx, wsError{Type: "error", Error: msg})
}
