package models

import (
	"encoding/json"
	"fmt"
)

// Socket event names. The set is closed: anything else read off a connection
// is rejected.
const (
	EventChatJoined   = "CHAT_JOINED"
	EventChatLeaved   = "CHAT_LEAVED"
	EventNewMessage   = "NEW_MESSAGE"
	EventStartTyping  = "START_TYPING"
	EventStopTyping   = "STOP_TYPING"
	EventOnlineUsers  = "ONLINE_USERS"
	EventAlert        = "ALERT"
	EventNewRequest   = "NEW_REQUEST"
	EventRefetchChats = "REFETCH_CHATS"
	EventError        = "ERROR"
)

// Event is the wire envelope for socket traffic in both directions.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals payload into an envelope.
func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// ChatJoinedPayload subscribes the connection to a chat room.
type ChatJoinedPayload struct {
	UserID  int   `json:"userId"`
	ChatID  int   `json:"chatId"`
	Members []int `json:"members"`
}

// ChatLeavedPayload unsubscribes the connection from a chat room.
type ChatLeavedPayload struct {
	UserID  int   `json:"userId"`
	ChatID  int   `json:"chatId"`
	Members []int `json:"members"`
}

// NewMessagePayload is the client-to-server message submission. TempID is the
// client's optimistic identifier; the push echoes it so clients can reconcile
// exactly instead of by content heuristics.
type NewMessagePayload struct {
	ChatID  int    `json:"chatId"`
	Members []int  `json:"members"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
}

// NewMessagePush is the server-to-client delivery of a persisted message.
type NewMessagePush struct {
	ChatID  int     `json:"chatId"`
	Message Message `json:"message"`
	TempID  string  `json:"tempId,omitempty"`
}

// TypingPayload is the client-to-server typing signal.
type TypingPayload struct {
	ChatID  int   `json:"chatId"`
	Members []int `json:"members"`
}

// TypingPush is the server-to-client typing signal, carrying who is typing.
type TypingPush struct {
	ChatID int `json:"chatId"`
	UserID int `json:"userId"`
}

// AlertPush is a system notice rendered client-side as an "Admin" message.
type AlertPush struct {
	ChatID  int    `json:"chatId"`
	Message string `json:"message"`
}

// ErrorPush reports a rejected socket operation to the submitting connection.
type ErrorPush struct {
	Message string `json:"message"`
}
