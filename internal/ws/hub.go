package ws

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"kiksy-chat-service/internal/models"
	"kiksy-chat-service/internal/observability"
)

// Hub holds the presence registry and the room membership tables. Both are
// process-wide: a deployment with more than one relay instance needs a shared
// broadcast bus instead.
type Hub struct {
	mu sync.RWMutex

	// presence maps a user id to that user's active connections. A user is
	// online iff the set is non-empty.
	presence map[int]map[*connection]struct{}

	// rooms maps a chat id to the connections currently viewing it.
	rooms map[int]map[*connection]struct{}

	// roomsByConn is the reverse index used to clean up on disconnect.
	roomsByConn map[*connection]map[int]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		presence:    make(map[int]map[*connection]struct{}),
		rooms:       make(map[int]map[*connection]struct{}),
		roomsByConn: make(map[*connection]map[int]struct{}),
	}
}

// Register adds a connection to the presence registry. When this is the
// user's first active connection the online-users snapshot is rebroadcast to
// everyone connected.
func (h *Hub) Register(conn *connection) {
	h.mu.Lock()
	conns, ok := h.presence[conn.info.UserID]
	if !ok {
		conns = make(map[*connection]struct{})
		h.presence[conn.info.UserID] = conns
	}
	cameOnline := len(conns) == 0
	conns[conn] = struct{}{}
	h.roomsByConn[conn] = make(map[int]struct{})
	h.mu.Unlock()

	if cameOnline {
		h.broadcastOnlineUsers()
	}
}

// Unregister removes a connection from every room it joined and from the
// presence registry. When the owning user's set becomes empty the updated
// online-users snapshot is broadcast. Unknown connections are a no-op.
func (h *Hub) Unregister(conn *connection) {
	h.mu.Lock()
	for chatID := range h.roomsByConn[conn] {
		h.removeFromRoomLocked(chatID, conn)
	}
	delete(h.roomsByConn, conn)

	wentOffline := false
	if conns, ok := h.presence[conn.info.UserID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.presence, conn.info.UserID)
			wentOffline = true
		}
	}
	h.mu.Unlock()

	if wentOffline {
		h.broadcastOnlineUsers()
	}
}

// JoinRoom subscribes the connection to a chat's event stream. Membership
// authorization is the caller's concern.
func (h *Hub) JoinRoom(conn *connection, chatID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*connection]struct{})
	}
	h.rooms[chatID][conn] = struct{}{}
	if joined, ok := h.roomsByConn[conn]; ok {
		joined[chatID] = struct{}{}
	}
}

// LeaveRoom unsubscribes the connection from a chat's event stream.
func (h *Hub) LeaveRoom(conn *connection, chatID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(chatID, conn)
	if joined, ok := h.roomsByConn[conn]; ok {
		delete(joined, chatID)
	}
}

func (h *Hub) removeFromRoomLocked(chatID int, conn *connection) {
	if conns, ok := h.rooms[chatID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// OnlineUsers returns the sorted ids of users with at least one connection.
func (h *Hub) OnlineUsers() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int, 0, len(h.presence))
	for id := range h.presence {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (h *Hub) broadcastOnlineUsers() {
	ev, err := models.NewEvent(models.EventOnlineUsers, h.OnlineUsers())
	if err != nil {
		log.Printf("ws: %v", err)
		return
	}

	h.mu.RLock()
	targets := h.allConnsLocked()
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.queueEvent(ev)
	}
	observability.IncWSEvent(models.EventOnlineUsers)
}

func (h *Hub) allConnsLocked() []*connection {
	out := make([]*connection, 0, len(h.roomsByConn))
	for conn := range h.roomsByConn {
		out = append(out, conn)
	}
	return out
}

// resolve returns the active connections of a user. An offline user simply
// resolves to nothing; delivery falls back to history on next load.
func (h *Hub) resolve(userID int) []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.presence[userID]
	out := make([]*connection, 0, len(conns))
	for conn := range conns {
		out = append(out, conn)
	}
	return out
}

// EmitToUsers delivers an event once to every active connection of the given
// users.
func (h *Hub) EmitToUsers(userIDs []int, ev models.Event) {
	for _, id := range userIDs {
		for _, conn := range h.resolve(id) {
			conn.queueEvent(ev)
		}
	}
	observability.IncWSEvent(ev.Name)
}

// BroadcastNewMessage fans a persisted message out to every member's active
// connections, the sender's other tabs included. TempID rides along so the
// submitting client can reconcile its optimistic entry exactly.
func (h *Hub) BroadcastNewMessage(memberIDs []int, msg models.Message, tempID string) {
	ev, err := models.NewEvent(models.EventNewMessage, models.NewMessagePush{
		ChatID:  msg.ChatID,
		Message: msg,
		TempID:  tempID,
	})
	if err != nil {
		log.Printf("ws: %v", err)
		return
	}
	h.EmitToUsers(memberIDs, ev)
}

// EmitTyping relays a typing signal to every connection viewing the chat
// except the typist's own.
func (h *Hub) EmitTyping(chatID int, typistID int, start bool) {
	name := models.EventStopTyping
	if start {
		name = models.EventStartTyping
	}
	ev, err := models.NewEvent(name, models.TypingPush{ChatID: chatID, UserID: typistID})
	if err != nil {
		log.Printf("ws: %v", err)
		return
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.rooms[chatID]))
	for conn := range h.rooms[chatID] {
		if conn.info.UserID == typistID {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.queueEvent(ev)
	}
	observability.IncWSEvent(name)
}

// BroadcastAlert pushes a system notice to every member's connections.
// Clients render it as an "Admin" message.
func (h *Hub) BroadcastAlert(memberIDs []int, chatID int, message string) {
	ev, err := models.NewEvent(models.EventAlert, models.AlertPush{ChatID: chatID, Message: message})
	if err != nil {
		log.Printf("ws: %v", err)
		return
	}
	h.EmitToUsers(memberIDs, ev)
}

// NotifyNewRequest pushes a friend-request hint to a single user.
func (h *Hub) NotifyNewRequest(userID int) {
	ev, _ := models.NewEvent(models.EventNewRequest, nil)
	h.EmitToUsers([]int{userID}, ev)
}

// NotifyRefetchChats tells users their chat list changed.
func (h *Hub) NotifyRefetchChats(userIDs []int) {
	ev, _ := models.NewEvent(models.EventRefetchChats, nil)
	h.EmitToUsers(userIDs, ev)
}

func (h *Hub) publishWSError(conn *connection, err error) {
	info := conn.info
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), sessionRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}

const sessionRoutingKey = "ws_events.sessions"
