package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"kiksy-chat-service/internal/middleware"
	"kiksy-chat-service/internal/models"
	"kiksy-chat-service/internal/observability"
	"kiksy-chat-service/internal/repositories"
)

// SocketHandler upgrades authenticated clients onto the event stream. One
// socket serves all of a user's open chats; rooms are joined and left through
// CHAT_JOINED / CHAT_LEAVED events.
type SocketHandler struct {
	hub    *Hub
	relay  *Relay
	secret string
}

// NewSocketHandler constructs a SocketHandler.
func NewSocketHandler(hub *Hub, relay *Relay, secret string) *SocketHandler {
	return &SocketHandler{hub: hub, relay: relay, secret: secret}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades, and registers the connection.
func (h *SocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("kiksy-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := middleware.SessionFromRequest(c.Request)
	claims, err := middleware.ParseSession(h.secret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      claims.UserID,
		Username:    claims.Name,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	conn := newConnection(wsConn, info)
	h.hub.Register(conn)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(conn, "ws_connect", "")

	go conn.writePump()
	go h.readLoop(conn)
}

func (h *SocketHandler) readLoop(conn *connection) {
	var closeReason string
	defer func() {
		h.hub.Unregister(conn)
		conn.close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(conn, "ws_disconnect", closeReason)
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.hub.publishWSError(conn, err)
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			h.rejectEvent(conn, "malformed event")
			continue
		}
		h.dispatch(conn, ev)
	}
}

// dispatch routes one inbound event. Handlers run on the connection's read
// goroutine, so events from one connection are processed in receipt order.
func (h *SocketHandler) dispatch(conn *connection, ev models.Event) {
	switch ev.Name {
	case models.EventChatJoined:
		var p models.ChatJoinedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			h.rejectEvent(conn, "malformed CHAT_JOINED payload")
			return
		}
		h.hub.JoinRoom(conn, p.ChatID)
		observability.IncWSEvent(models.EventChatJoined)

	case models.EventChatLeaved:
		var p models.ChatLeavedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			h.rejectEvent(conn, "malformed CHAT_LEAVED payload")
			return
		}
		h.hub.LeaveRoom(conn, p.ChatID)
		observability.IncWSEvent(models.EventChatLeaved)

	case models.EventNewMessage:
		var p models.NewMessagePayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			h.rejectEvent(conn, "malformed NEW_MESSAGE payload")
			return
		}
		h.handleSend(conn, p)

	case models.EventStartTyping, models.EventStopTyping:
		var p models.TypingPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			h.rejectEvent(conn, "malformed typing payload")
			return
		}
		h.hub.EmitTyping(p.ChatID, conn.info.UserID, ev.Name == models.EventStartTyping)

	default:
		h.rejectEvent(conn, "unknown event "+ev.Name)
	}
}

func (h *SocketHandler) handleSend(conn *connection, p models.NewMessagePayload) {
	ctx, span := otel.Tracer("kiksy-chat-service/ws").Start(context.Background(), "ws.send")
	defer span.End()

	_, err := h.relay.Send(ctx, SendInput{
		ChatID:     p.ChatID,
		SenderID:   conn.info.UserID,
		SenderName: conn.info.Username,
		Content:    p.Message,
		TempID:     p.TempID,
	})
	if err != nil {
		log.Printf("ws: send from user %d to chat %d failed: %v", conn.info.UserID, p.ChatID, err)
		h.rejectEvent(conn, sendErrorText(err))
	}
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, repositories.ErrEmptyMessage):
		return "message requires content or attachments"
	case errors.Is(err, repositories.ErrChatNotFound):
		return "chat not found"
	default:
		return "message could not be delivered"
	}
}

// rejectEvent surfaces an error to the submitting connection only.
func (h *SocketHandler) rejectEvent(conn *connection, reason string) {
	ev, err := models.NewEvent(models.EventError, models.ErrorPush{Message: reason})
	if err != nil {
		return
	}
	conn.queueEvent(ev)
	observability.IncWSEvent(models.EventError)
}

func (h *SocketHandler) publishLifecycle(conn *connection, event, reason string) {
	info := conn.info
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(context.Background(), sessionRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
