package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kiksy-chat-service/internal/mocks"
	"kiksy-chat-service/internal/models"
	"kiksy-chat-service/internal/repositories"
	"kiksy-chat-service/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type handlerFixture struct {
	chatRepo    *mocks.ChatRepositoryMock
	messageRepo *mocks.MessageRepositoryMock
	router      *gin.Engine
}

func newFixture(t *testing.T, userID int, userName string) *handlerFixture {
	t.Helper()
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	hub := ws.NewHub()
	relay := ws.NewRelay(chatRepo, messageRepo, hub)
	handler := NewChatHandler(chatRepo, messageRepo, relay, hub, nil)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("userName", userName)
		c.Next()
	})
	router.GET("/chats", handler.ListChats)
	router.POST("/chats", handler.CreateChat)
	router.GET("/chats/:chat_id", handler.GetChat)
	router.GET("/chats/:chat_id/messages", handler.GetChatMessages)
	router.POST("/chats/:chat_id/messages", handler.PostChatMessage)

	return &handlerFixture{chatRepo: chatRepo, messageRepo: messageRepo, router: router}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestListChats(t *testing.T) {
	f := newFixture(t, 1, "alice")
	f.chatRepo.On("ListChats", mock.Anything, 1).Return([]models.ChatSummary{
		{ChatID: 7, Name: "Gophers", IsGroup: true},
		{ChatID: 8},
	}, nil).Once()

	rec := f.do(t, http.MethodGet, "/chats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Chats, 2)
	assert.Equal(t, "Gophers", resp.Chats[0].Name)
	f.chatRepo.AssertExpectations(t)
}

func TestCreateGroupChat(t *testing.T) {
	f := newFixture(t, 1, "alice")
	created := models.Chat{ID: 7, Name: "Gophers", IsGroup: true, CreatorID: 1, Members: []int{1, 2, 3}}
	f.chatRepo.On("CreateGroupChat", mock.Anything, 1, "Gophers", []int{2, 3}).Return(created, nil).Once()

	rec := f.do(t, http.MethodPost, "/chats", gin.H{
		"is_group": true,
		"name":     "Gophers",
		"members":  []int{2, 3},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Chat models.Chat `json:"chat"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Chat.ID)
	assert.Equal(t, []int{1, 2, 3}, resp.Chat.Members)
	f.chatRepo.AssertExpectations(t)
}

func TestCreateDirectChat(t *testing.T) {
	f := newFixture(t, 1, "alice")
	created := models.Chat{ID: 9, CreatorID: 1, Members: []int{1, 2}}
	f.chatRepo.On("CreateDirectChat", mock.Anything, 1, 2).Return(created, nil).Once()

	rec := f.do(t, http.MethodPost, "/chats", gin.H{"friend_id": 2})

	require.Equal(t, http.StatusCreated, rec.Code)
	f.chatRepo.AssertExpectations(t)
}

func TestGetChatNonMemberForbidden(t *testing.T) {
	f := newFixture(t, 99, "mallory")
	f.chatRepo.On("GetChat", mock.Anything, 7).Return(models.Chat{ID: 7, Members: []int{1, 2}}, nil).Once()

	rec := f.do(t, http.MethodGet, "/chats/7", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetChatNotFound(t *testing.T) {
	f := newFixture(t, 1, "alice")
	f.chatRepo.On("GetChat", mock.Anything, 7).Return(models.Chat{}, repositories.ErrChatNotFound).Once()

	rec := f.do(t, http.MethodGet, "/chats/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetChatMessagesPagination(t *testing.T) {
	f := newFixture(t, 1, "alice")
	f.chatRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Times(2)

	// 45 messages at a page size of 20: three pages, page 2 full.
	pageTwo := make([]models.Message, repositories.DefaultPageSize)
	for i := range pageTwo {
		pageTwo[i] = models.Message{ID: 25 - i, ChatID: 7, SenderID: 2, Content: fmt.Sprintf("m%d", 25-i), CreatedAt: time.Now()}
	}
	f.messageRepo.On("GetPage", mock.Anything, 7, 2, repositories.DefaultPageSize).
		Return(models.MessagePage{Messages: pageTwo, TotalPages: 3}, nil).Once()
	f.messageRepo.On("GetPage", mock.Anything, 7, 4, repositories.DefaultPageSize).
		Return(models.MessagePage{Messages: []models.Message{}, TotalPages: 3}, nil).Once()

	rec := f.do(t, http.MethodGet, "/chats/7/messages?page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages   []models.Message `json:"messages"`
		TotalPages int              `json:"totalPages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, repositories.DefaultPageSize)
	assert.Equal(t, 3, resp.TotalPages)

	// Past the last page: empty list, same totalPages.
	rec = f.do(t, http.MethodGet, "/chats/7/messages?page=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Messages)
	assert.Equal(t, 3, resp.TotalPages)
	f.messageRepo.AssertExpectations(t)
}

func TestGetChatMessagesDefaultsToPageOne(t *testing.T) {
	f := newFixture(t, 1, "alice")
	f.chatRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Once()
	f.messageRepo.On("GetPage", mock.Anything, 7, 1, repositories.DefaultPageSize).
		Return(models.MessagePage{Messages: []models.Message{}, TotalPages: 0}, nil).Once()

	rec := f.do(t, http.MethodGet, "/chats/7/messages", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.messageRepo.AssertExpectations(t)
}

func TestGetChatMessagesRejectsBadPage(t *testing.T) {
	f := newFixture(t, 1, "alice")

	rec := f.do(t, http.MethodGet, "/chats/7/messages?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/chats/abc/messages", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChatMessagesNonMemberForbidden(t *testing.T) {
	f := newFixture(t, 99, "mallory")
	f.chatRepo.On("IsMember", mock.Anything, 7, 99).Return(false, nil).Once()

	rec := f.do(t, http.MethodGet, "/chats/7/messages", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostChatMessage(t *testing.T) {
	f := newFixture(t, 1, "alice")
	f.chatRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Once()
	persisted := models.Message{ID: 41, ChatID: 7, SenderID: 1, SenderName: "alice", Content: "hi", CreatedAt: time.Now()}
	f.messageRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ChatID == 7 && m.SenderID == 1 && m.Content == "hi"
	})).Return(persisted, nil).Once()
	f.chatRepo.On("MemberIDs", mock.Anything, 7).Return([]int{1, 2}, nil).Once()

	rec := f.do(t, http.MethodPost, "/chats/7/messages", gin.H{"content": "hi"})

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, 41, msg.ID)
	f.messageRepo.AssertExpectations(t)
}

func TestPostChatMessageEmptyRejected(t *testing.T) {
	f := newFixture(t, 1, "alice")
	f.chatRepo.On("IsMember", mock.Anything, 7, 1).Return(true, nil).Once()
	f.messageRepo.On("CreateMessage", mock.Anything, mock.Anything).
		Return(models.Message{}, repositories.ErrEmptyMessage).Once()

	rec := f.do(t, http.MethodPost, "/chats/7/messages", gin.H{"content": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostChatMessageNonMemberNotFound(t *testing.T) {
	f := newFixture(t, 99, "mallory")
	f.chatRepo.On("IsMember", mock.Anything, 7, 99).Return(false, nil).Once()

	rec := f.do(t, http.MethodPost, "/chats/7/messages", gin.H{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.messageRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestPostChatMessageInvalidChatID(t *testing.T) {
	f := newFixture(t, 1, "alice")

	rec := f.do(t, http.MethodPost, "/chats/abc/messages", gin.H{"content": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
