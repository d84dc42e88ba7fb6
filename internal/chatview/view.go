// Package chatview implements the client-side session for one open chat: the
// merge of paginated history, optimistic local sends, and server pushes into
// a single duplicate-free timeline, plus the typing and presence side
// channels. It mirrors what the web client does and backs that behavior with
// tests.
package chatview

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"kiksy-chat-service/internal/models"
)

// Emitter sends events to the server over the session socket.
type Emitter interface {
	Emit(ev models.Event) error
}

// Pager fetches history pages, page 1 being the most recent messages.
type Pager interface {
	GetPage(ctx context.Context, chatID int, page int) (models.MessagePage, error)
}

// State is the lifecycle of a chat view.
type State int

const (
	StateClosed State = iota
	StateLoadingFirstPage
	StateReady
	StateLoadingMore
	// StateError is terminal for the view until it is closed and reopened.
	StateError
)

// DefaultTypingDebounce is how long after the last keystroke the client emits
// STOP_TYPING.
const DefaultTypingDebounce = 2000 * time.Millisecond

// echoWindow bounds the content+sender+time heuristic used to match a server
// echo against an optimistic entry when no temp id round-tripped.
const echoWindow = time.Second

// adminSenderName labels ALERT notices in the timeline.
const adminSenderName = "Admin"

// Options configures a View.
type Options struct {
	SelfID   int
	SelfName string
	// TypingDebounce defaults to DefaultTypingDebounce.
	TypingDebounce time.Duration
	// TypingExpiry is the receiver-side guard that clears a peer's typing
	// flag when no refresh arrives, covering peers that disconnect without
	// emitting STOP_TYPING. Defaults to twice the debounce.
	TypingExpiry time.Duration
}

type entry struct {
	models.Message
	tempID string
}

// View is the reconciliation buffer for one user's chat UI. All methods are
// safe for concurrent use; socket events and timer callbacks arrive on
// goroutines of their own.
type View struct {
	mu      sync.Mutex
	opts    Options
	emitter Emitter
	pager   Pager

	state      State
	chatID     int
	members    []int
	page       int
	totalPages int

	history []models.Message // oldest to newest
	live    []entry          // append order

	unread      map[int]int
	online      map[int]struct{}
	peersTyping map[int]*time.Timer

	selfTyping  bool
	typingTimer *time.Timer
}

// New builds a View for the given user session.
func New(emitter Emitter, pager Pager, opts Options) *View {
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = DefaultTypingDebounce
	}
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = 2 * opts.TypingDebounce
	}
	return &View{
		opts:        opts,
		emitter:     emitter,
		pager:       pager,
		state:       StateClosed,
		unread:      make(map[int]int),
		online:      make(map[int]struct{}),
		peersTyping: make(map[int]*time.Timer),
	}
}

// Open joins the chat's room and loads the first history page. Any previous
// view state is discarded first.
func (v *View) Open(ctx context.Context, chatID int, members []int) error {
	v.mu.Lock()
	v.resetLocked()
	v.chatID = chatID
	v.members = append([]int(nil), members...)
	v.state = StateLoadingFirstPage
	v.page = 1
	delete(v.unread, chatID)
	v.mu.Unlock()

	if err := v.emit(models.EventChatJoined, models.ChatJoinedPayload{
		UserID:  v.opts.SelfID,
		ChatID:  chatID,
		Members: members,
	}); err != nil {
		v.fail()
		return err
	}

	pageData, err := v.pager.GetPage(ctx, chatID, 1)
	if err != nil {
		v.fail()
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateLoadingFirstPage || v.chatID != chatID {
		// Closed or reopened while the fetch was in flight.
		return nil
	}
	v.history = reverseCopy(pageData.Messages)
	v.totalPages = pageData.TotalPages
	v.state = StateReady
	return nil
}

// Close leaves the room and discards all view state.
func (v *View) Close() {
	v.mu.Lock()
	chatID := v.chatID
	members := v.members
	open := v.state != StateClosed
	v.resetLocked()
	v.mu.Unlock()

	if open {
		_ = v.emit(models.EventChatLeaved, models.ChatLeavedPayload{
			UserID:  v.opts.SelfID,
			ChatID:  chatID,
			Members: members,
		})
	}
}

// Send appends an optimistic entry and submits the message. The optimistic
// entry renders immediately; the server push reconciles against it by the
// returned temp id. An in-flight send is never cancelled by Close; its
// optimistic entry is simply discarded with the rest of the view.
func (v *View) Send(content string) (string, error) {
	v.mu.Lock()
	if v.state != StateReady && v.state != StateLoadingMore {
		v.mu.Unlock()
		return "", fmt.Errorf("chat view not ready")
	}
	if content == "" {
		v.mu.Unlock()
		return "", fmt.Errorf("empty message")
	}
	tempID := newTempID()
	chatID := v.chatID
	members := v.members
	v.live = append(v.live, entry{
		Message: models.Message{
			ChatID:     chatID,
			SenderID:   v.opts.SelfID,
			SenderName: v.opts.SelfName,
			Content:    content,
			CreatedAt:  time.Now(),
		},
		tempID: tempID,
	})
	v.mu.Unlock()

	err := v.emit(models.EventNewMessage, models.NewMessagePayload{
		ChatID:  chatID,
		Members: members,
		Message: content,
		TempID:  tempID,
	})
	return tempID, err
}

// LoadOlder fetches the next history page and prepends it. A no-op when the
// full history is already loaded.
func (v *View) LoadOlder(ctx context.Context) error {
	v.mu.Lock()
	if v.state != StateReady || v.page >= v.totalPages {
		v.mu.Unlock()
		return nil
	}
	v.state = StateLoadingMore
	chatID := v.chatID
	next := v.page + 1
	v.mu.Unlock()

	pageData, err := v.pager.GetPage(ctx, chatID, next)
	if err != nil {
		v.fail()
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateLoadingMore || v.chatID != chatID {
		return nil
	}
	v.history = append(reverseCopy(pageData.Messages), v.history...)
	v.page = next
	v.totalPages = pageData.TotalPages
	v.state = StateReady
	return nil
}

// OnInput drives the typing debounce: the first keystroke emits START_TYPING,
// and STOP_TYPING follows after TypingDebounce of inactivity.
func (v *View) OnInput() {
	v.mu.Lock()
	if v.state == StateClosed || v.state == StateError {
		v.mu.Unlock()
		return
	}
	chatID := v.chatID
	members := v.members
	start := !v.selfTyping
	v.selfTyping = true
	if v.typingTimer != nil {
		v.typingTimer.Stop()
	}
	v.typingTimer = time.AfterFunc(v.opts.TypingDebounce, func() { v.stopTyping(chatID, members) })
	v.mu.Unlock()

	if start {
		_ = v.emit(models.EventStartTyping, models.TypingPayload{ChatID: chatID, Members: members})
	}
}

func (v *View) stopTyping(chatID int, members []int) {
	v.mu.Lock()
	wasTyping := v.selfTyping
	v.selfTyping = false
	v.mu.Unlock()

	if wasTyping {
		_ = v.emit(models.EventStopTyping, models.TypingPayload{ChatID: chatID, Members: members})
	}
}

// HandleEvent feeds one server push into the view. Events for chats other
// than the open one only bump unread counters.
func (v *View) HandleEvent(ev models.Event) error {
	switch ev.Name {
	case models.EventNewMessage:
		var p models.NewMessagePush
		if err := unmarshal(ev, &p); err != nil {
			return err
		}
		v.onRemoteMessage(p)
	case models.EventStartTyping:
		var p models.TypingPush
		if err := unmarshal(ev, &p); err != nil {
			return err
		}
		v.onPeerTyping(p, true)
	case models.EventStopTyping:
		var p models.TypingPush
		if err := unmarshal(ev, &p); err != nil {
			return err
		}
		v.onPeerTyping(p, false)
	case models.EventOnlineUsers:
		var ids []int
		if err := unmarshal(ev, &ids); err != nil {
			return err
		}
		v.onOnlineUsers(ids)
	case models.EventAlert:
		var p models.AlertPush
		if err := unmarshal(ev, &p); err != nil {
			return err
		}
		v.onAlert(p)
	}
	return nil
}

func (v *View) onRemoteMessage(p models.NewMessagePush) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateClosed || v.state == StateError || p.ChatID != v.chatID {
		v.unread[p.ChatID]++
		return
	}

	for i := range v.live {
		e := &v.live[i]
		if p.TempID != "" && e.tempID == p.TempID {
			// Exact reconciliation: adopt the persisted form.
			e.Message = p.Message
			return
		}
		if e.ID != 0 && e.ID == p.Message.ID {
			return
		}
		if e.Content == p.Message.Content && e.SenderID == p.Message.SenderID &&
			absDuration(e.CreatedAt.Sub(p.Message.CreatedAt)) < echoWindow {
			return
		}
	}
	v.live = append(v.live, entry{Message: p.Message})
}

func (v *View) onPeerTyping(p models.TypingPush, start bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if p.ChatID != v.chatID || v.state == StateClosed {
		return
	}
	if timer, ok := v.peersTyping[p.UserID]; ok {
		timer.Stop()
		delete(v.peersTyping, p.UserID)
	}
	if !start {
		return
	}
	userID := p.UserID
	v.peersTyping[userID] = time.AfterFunc(v.opts.TypingExpiry, func() {
		v.mu.Lock()
		delete(v.peersTyping, userID)
		v.mu.Unlock()
	})
}

func (v *View) onOnlineUsers(ids []int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.online = make(map[int]struct{}, len(ids))
	for _, id := range ids {
		v.online[id] = struct{}{}
	}
}

func (v *View) onAlert(p models.AlertPush) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p.ChatID != v.chatID || v.state == StateClosed || v.state == StateError {
		return
	}
	v.live = append(v.live, entry{Message: models.Message{
		ChatID:     p.ChatID,
		SenderName: adminSenderName,
		Content:    p.Message,
		CreatedAt:  time.Now(),
	}})
}

// Messages returns the rendered timeline: history and live merged, ordered by
// creation time with id as tie-break.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]models.Message, 0, len(v.history)+len(v.live))
	out = append(out, v.history...)
	for _, e := range v.live {
		out = append(out, e.Message)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// State reports the view lifecycle state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Unread reports the unread counter for a chat that is not open.
func (v *View) Unread(chatID int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unread[chatID]
}

// Online reports whether a user currently has at least one connection.
func (v *View) Online(userID int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.online[userID]
	return ok
}

// PeerTyping reports whether anyone else is typing in the open chat.
func (v *View) PeerTyping() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.peersTyping) > 0
}

// HasMore reports whether older history pages remain.
func (v *View) HasMore() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page < v.totalPages
}

func (v *View) fail() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateClosed {
		v.state = StateError
	}
}

func (v *View) resetLocked() {
	v.state = StateClosed
	v.chatID = 0
	v.members = nil
	v.page = 0
	v.totalPages = 0
	v.history = nil
	v.live = nil
	v.selfTyping = false
	if v.typingTimer != nil {
		v.typingTimer.Stop()
		v.typingTimer = nil
	}
	for id, timer := range v.peersTyping {
		timer.Stop()
		delete(v.peersTyping, id)
	}
}

func (v *View) emit(name string, payload any) error {
	ev, err := models.NewEvent(name, payload)
	if err != nil {
		return err
	}
	return v.emitter.Emit(ev)
}

func unmarshal(ev models.Event, dst any) error {
	if err := json.Unmarshal(ev.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", ev.Name, err)
	}
	return nil
}

func reverseCopy(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func newTempID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}
