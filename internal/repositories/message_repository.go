package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"kiksy-chat-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("message requires content or attachments")
	ErrReplyWrongChat  = errors.New("reply target belongs to another chat")
)

// DefaultPageSize is the history page size served to clients.
const DefaultPageSize = 20

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	GetPage(ctx context.Context, chatID int, page int, pageSize int) (models.MessagePage, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage persists a message and returns it with the server-assigned id
// and timestamp. Empty messages and cross-chat replies are rejected before
// touching storage.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.Empty() {
		return models.Message{}, ErrEmptyMessage
	}
	if msg.ReplyToID != nil {
		target, err := r.GetMessage(ctx, *msg.ReplyToID)
		if err != nil {
			return models.Message{}, err
		}
		if target.ChatID != msg.ChatID {
			return models.Message{}, ErrReplyWrongChat
		}
	}

	var out models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (chat_id, sender_id, sender_name, content, attachments, reply_to_id)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id, chat_id, sender_id, sender_name, content, attachments, reply_to_id, created_at`,
		msg.ChatID, msg.SenderID, msg.SenderName, msg.Content, msg.Attachments, msg.ReplyToID).
		Scan(&out.ID, &out.ChatID, &out.SenderID, &out.SenderName, &out.Content, &out.Attachments, &out.ReplyToID, &out.CreatedAt)
	return out, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT id, chat_id, sender_id, sender_name, content, attachments, reply_to_id, created_at
         FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetPage serves one page of history, newest first. Page 1 is the most recent
// pageSize messages; a page beyond the last returns an empty list, not an
// error. Repeated calls against an unchanged chat return identical results.
func (r *MessageRepo) GetPage(ctx context.Context, chatID int, page int, pageSize int) (models.MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM messages WHERE chat_id=$1`, chatID); err != nil {
		return models.MessagePage{}, err
	}
	totalPages := (total + pageSize - 1) / pageSize

	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, chat_id, sender_id, sender_name, content, attachments, reply_to_id, created_at
         FROM messages WHERE chat_id=$1
         ORDER BY created_at DESC, id DESC
         LIMIT $2 OFFSET $3`,
		chatID, pageSize, (page-1)*pageSize)
	if err != nil {
		return models.MessagePage{}, err
	}

	return models.MessagePage{Messages: msgs, TotalPages: totalPages}, nil
}
