package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kiksy-chat-service/internal/models"
	"kiksy-chat-service/internal/repositories"
	"kiksy-chat-service/internal/telemetry"
	"kiksy-chat-service/internal/ws"
)

// ChatHandler manages the chat REST surface: chat management, paginated
// history, and the REST send path into the relay.
type ChatHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	relay       *ws.Relay
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, relay *ws.Relay, hub *ws.Hub, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		relay:       relay,
		hub:         hub,
		audit:       audit,
	}
}

// ListChats returns the chats the authenticated user belongs to.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetInt("userID")

	chats, err := h.chatRepo.ListChats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// CreateChat creates a direct chat or a named group chat. Members of a new
// group get an ALERT notice and a chat-list refetch hint.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req struct {
		IsGroup  bool   `json:"is_group"`
		Name     string `json:"name"`
		FriendID int    `json:"friend_id"`
		Members  []int  `json:"members"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")

	var (
		chat models.Chat
		err  error
	)
	if req.IsGroup {
		chat, err = h.chatRepo.CreateGroupChat(c.Request.Context(), userID, req.Name, req.Members)
	} else {
		chat, err = h.chatRepo.CreateDirectChat(c.Request.Context(), userID, req.FriendID)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.IsGroup {
		h.hub.BroadcastAlert(chat.Members, chat.ID, fmt.Sprintf("Welcome to %s", chat.Name))
	}
	h.hub.NotifyRefetchChats(chat.Members)
	h.audit.Emit(c.Request.Context(), "INFO", fmt.Sprintf("chat %d created", chat.ID), requestIDFromContext(c), userIDFromContext(c))

	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

// GetChat returns chat metadata including members. Clients use the member
// list when emitting room joins and typing signals.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	userID := c.GetInt("userID")
	chat, err := h.chatRepo.GetChat(c.Request.Context(), chatID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrChatNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "chat not found"})
		return
	}
	if !containsInt(chat.Members, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// GetChatMessages serves one page of reverse-chronological history. Page 1 is
// the newest messages; a page past the end returns an empty list with the
// same totalPages.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
	}

	userID := c.GetInt("userID")
	member, err := h.chatRepo.IsMember(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	result, err := h.messageRepo.GetPage(c.Request.Context(), chatID, page, repositories.DefaultPageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": result.Messages, "totalPages": result.TotalPages})
}

// PostChatMessage submits a message over REST. Attachment uploads happen in a
// separate service; only their references arrive here.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req struct {
		Content     string             `json:"content"`
		Attachments models.Attachments `json:"attachments"`
		ReplyToID   *int               `json:"reply_to_id"`
		TempID      string             `json:"temp_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.relay.Send(c.Request.Context(), ws.SendInput{
		ChatID:      chatID,
		SenderID:    c.GetInt("userID"),
		SenderName:  c.GetString("userName"),
		Content:     req.Content,
		Attachments: req.Attachments,
		ReplyToID:   req.ReplyToID,
		TempID:      req.TempID,
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrEmptyMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message requires content or attachments"})
		case errors.Is(err, repositories.ErrReplyWrongChat):
			c.JSON(http.StatusBadRequest, gin.H{"error": "reply target belongs to another chat"})
		case errors.Is(err, repositories.ErrChatNotFound), errors.Is(err, repositories.ErrMessageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func containsInt(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
