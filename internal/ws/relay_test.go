package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kiksy-chat-service/internal/mocks"
	"kiksy-chat-service/internal/models"
	"kiksy-chat-service/internal/repositories"
)

func TestRelaySendPersistsAndFansOut(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	hub := NewHub()
	relay := NewRelay(chatRepo, messageRepo, hub)

	peer := testConn(2)
	hub.Register(peer)
	drainEvents(t, peer)

	persisted := models.Message{ID: 9, ChatID: 5, SenderID: 1, SenderName: "alice", Content: "hello", CreatedAt: time.Now()}
	chatRepo.On("IsMember", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ChatID == 5 && m.SenderID == 1 && m.Content == "hello" && m.SenderName == "alice"
	})).Return(persisted, nil).Once()
	chatRepo.On("MemberIDs", mock.Anything, 5).Return([]int{1, 2}, nil).Once()

	msg, err := relay.Send(context.Background(), SendInput{
		ChatID:     5,
		SenderID:   1,
		SenderName: "alice",
		Content:    "hello",
		TempID:     "tmp-42",
	})
	require.NoError(t, err)
	assert.Equal(t, 9, msg.ID)

	evs := drainEvents(t, peer)
	require.Len(t, evs, 1)
	assert.Equal(t, models.EventNewMessage, evs[0].Name)

	chatRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestRelaySendNonMemberRejected(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	relay := NewRelay(chatRepo, messageRepo, NewHub())

	chatRepo.On("IsMember", mock.Anything, 5, 3).Return(false, nil).Once()

	_, err := relay.Send(context.Background(), SendInput{ChatID: 5, SenderID: 3, Content: "hi"})
	require.ErrorIs(t, err, repositories.ErrChatNotFound)
	messageRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestRelaySendPersistenceFailureMeansNoFanOut(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	hub := NewHub()
	relay := NewRelay(chatRepo, messageRepo, hub)

	peer := testConn(2)
	hub.Register(peer)
	drainEvents(t, peer)

	chatRepo.On("IsMember", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, assert.AnError).Once()

	_, err := relay.Send(context.Background(), SendInput{ChatID: 5, SenderID: 1, Content: "hello"})
	require.Error(t, err)

	assert.Empty(t, drainEvents(t, peer), "no partial fan-out on persistence failure")
	chatRepo.AssertNotCalled(t, "MemberIDs", mock.Anything, mock.Anything)
}

func TestRelaySendEmptyMessageRejected(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	relay := NewRelay(chatRepo, messageRepo, NewHub())

	chatRepo.On("IsMember", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{}, repositories.ErrEmptyMessage).Once()

	_, err := relay.Send(context.Background(), SendInput{ChatID: 5, SenderID: 1})
	require.ErrorIs(t, err, repositories.ErrEmptyMessage)
}
