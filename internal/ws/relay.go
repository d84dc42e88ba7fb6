package ws

import (
	"context"
	"errors"
	"time"

	"kiksy-chat-service/internal/models"
	"kiksy-chat-service/internal/observability"
	"kiksy-chat-service/internal/repositories"
)

// Relay accepts a submitted message, persists it, and fans the persisted form
// out to all chat members. A persistence failure aborts the whole send:
// nothing is emitted and the error is surfaced to the caller. The relay does
// not retry; re-submission is a client policy.
//
// Ordering is best effort. Messages from one sender in one chat are relayed
// in submission order, but concurrent sends from different members may be
// observed in different relative orders by different recipients.
type Relay struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	hub         *Hub
}

// NewRelay constructs a Relay.
func NewRelay(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, hub *Hub) *Relay {
	return &Relay{chatRepo: chatRepo, messageRepo: messageRepo, hub: hub}
}

// SendInput is a message submission from either the REST or the socket path.
type SendInput struct {
	ChatID      int
	SenderID    int
	SenderName  string
	Content     string
	Attachments models.Attachments
	ReplyToID   *int
	// TempID is the client's optimistic id, echoed back in the push.
	TempID string
}

// Send persists and delivers a message, returning the persisted form so the
// submitting client also gets a direct acknowledgment. Client-side dedup
// absorbs the resulting double delivery.
func (r *Relay) Send(ctx context.Context, in SendInput) (models.Message, error) {
	member, err := r.chatRepo.IsMember(ctx, in.ChatID, in.SenderID)
	if err != nil {
		return models.Message{}, err
	}
	if !member {
		observability.IncMessageRejected("not_found")
		return models.Message{}, repositories.ErrChatNotFound
	}

	msg, err := r.messageRepo.CreateMessage(ctx, models.Message{
		ChatID:      in.ChatID,
		SenderID:    in.SenderID,
		SenderName:  in.SenderName,
		Content:     in.Content,
		Attachments: in.Attachments,
		ReplyToID:   in.ReplyToID,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrEmptyMessage):
			observability.IncMessageRejected("empty")
		case errors.Is(err, repositories.ErrReplyWrongChat):
			observability.IncMessageRejected("bad_reply")
		default:
			observability.IncMessageRejected("persistence")
		}
		return models.Message{}, err
	}
	observability.IncMessageRelayed()

	memberIDs, err := r.chatRepo.MemberIDs(ctx, in.ChatID)
	if err != nil {
		// The message is durable; members without a live push pick it up
		// from history on next load.
		return msg, err
	}

	r.hub.BroadcastNewMessage(memberIDs, msg, in.TempID)
	return msg, nil
}
