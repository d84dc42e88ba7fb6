package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"kiksy-chat-service/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	CreateDirectChat(ctx context.Context, userID int, friendID int) (models.Chat, error)
	CreateGroupChat(ctx context.Context, creatorID int, name string, memberIDs []int) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	MemberIDs(ctx context.Context, chatID int) ([]int, error)
	IsMember(ctx context.Context, chatID int, userID int) (bool, error)
	ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// CreateDirectChat creates a two-member chat, reusing an existing one between
// the same pair if present.
func (r *ChatRepo) CreateDirectChat(ctx context.Context, userID int, friendID int) (models.Chat, error) {
	if userID == friendID {
		return models.Chat{}, errors.New("cannot create chat with self")
	}

	var chat models.Chat
	query := `SELECT c.id, c.name, c.is_group, c.creator_id, c.created_at FROM chats c
        WHERE c.is_group = FALSE
        AND EXISTS(SELECT 1 FROM chat_members WHERE chat_id=c.id AND user_id=$1)
        AND EXISTS(SELECT 1 FROM chat_members WHERE chat_id=c.id AND user_id=$2)`
	err := r.db.GetContext(ctx, &chat, query, userID, friendID)
	if err == nil {
		chat.Members, err = r.MemberIDs(ctx, chat.ID)
		return chat, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, err
	}

	return r.createChat(ctx, userID, "", false, []int{userID, friendID})
}

// CreateGroupChat creates a named chat with the given members. The creator is
// always a member.
func (r *ChatRepo) CreateGroupChat(ctx context.Context, creatorID int, name string, memberIDs []int) (models.Chat, error) {
	if name == "" {
		return models.Chat{}, errors.New("group chat requires a name")
	}
	members := append([]int{creatorID}, memberIDs...)
	return r.createChat(ctx, creatorID, name, true, dedupInts(members))
}

func (r *ChatRepo) createChat(ctx context.Context, creatorID int, name string, isGroup bool, memberIDs []int) (models.Chat, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer tx.Rollback()

	var chat models.Chat
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO chats (name, is_group, creator_id) VALUES ($1, $2, $3)
         RETURNING id, name, is_group, creator_id, created_at`,
		name, isGroup, creatorID).
		Scan(&chat.ID, &chat.Name, &chat.IsGroup, &chat.CreatorID, &chat.CreatedAt)
	if err != nil {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}

	for _, id := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`, chat.ID, id); err != nil {
			return models.Chat{}, fmt.Errorf("insert member %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	chat.Members = memberIDs
	return chat, nil
}

// GetChat fetches a chat by id including its member ids.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat,
		`SELECT id, name, is_group, creator_id, created_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	chat.Members, err = r.MemberIDs(ctx, chatID)
	return chat, err
}

// MemberIDs returns the chat's member user ids. These are the fan-out targets
// for message delivery.
func (r *ChatRepo) MemberIDs(ctx context.Context, chatID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM chat_members WHERE chat_id=$1 ORDER BY user_id`, chatID)
	return ids, err
}

// IsMember checks whether a user belongs to the chat.
func (r *ChatRepo) IsMember(ctx context.Context, chatID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// ListChats returns the chats the user is a member of, newest first.
func (r *ChatRepo) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	query := `SELECT c.id, c.name, c.is_group, c.created_at FROM chats c
        JOIN chat_members cm ON cm.chat_id = c.id
        WHERE cm.user_id=$1
        ORDER BY c.created_at DESC`
	var result []models.ChatSummary
	err := r.db.SelectContext(ctx, &result, query, userID)
	return result, err
}

func dedupInts(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
