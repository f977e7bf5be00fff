package livechat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soletrade/livechat/internal/chatwire"
)

var (
	// ErrNoConversation is returned for operations that need an assigned
	// conversation id before one exists.
	ErrNoConversation = errors.New("livechat: no active conversation")
	// ErrNotConnected is returned when a send is rejected because the
	// channel is down.
	ErrNotConnected = errors.New("livechat: channel not connected")
	// ErrAlreadyConnected is returned by Connect while a channel is open.
	ErrAlreadyConnected = errors.New("livechat: channel already open")
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const defaultTypingDebounce = 3 * time.Second

// Options configure a Session beyond its identity.
type Options struct {
	Starter ConversationStarter
	Dialer  Dialer

	// TypingDebounce is how long after the last keystroke the session
	// announces "stopped typing". Defaults to 3s.
	TypingDebounce time.Duration

	// Observers for the UI collaborator. Called outside the session lock,
	// after the state change they describe has been applied.
	OnMessage func(Message)
	OnTyping  func(bool)
	OnEnded   func(reason string)
}

// Session owns one chat lifetime: the conversation id, the ordered message
// log and the remote typing flag. Every mutation happens under one mutex so
// channel callbacks, timer expiry and UI calls never interleave.
type Session struct {
	identity Identity
	starter  ConversationStarter
	dialer   Dialer
	debounce time.Duration

	onMessage func(Message)
	onTyping  func(bool)
	onEnded   func(string)

	mu             sync.Mutex
	channel        Channel
	connState      ConnState
	conversationID string
	initialized    bool
	initializing   bool
	messages       []Message
	remoteTyping   bool
	typingTimer    *time.Timer
}

// NewSession validates the identity and builds an uninitialized session. The
// identity must be fully loaded; gating on that is the caller's job.
func NewSession(identity Identity, opts Options) (*Session, error) {
	if err := identity.validate(); err != nil {
		return nil, err
	}
	if opts.Starter == nil || opts.Dialer == nil {
		return nil, errors.New("livechat: starter and dialer are required")
	}
	debounce := opts.TypingDebounce
	if debounce <= 0 {
		debounce = defaultTypingDebounce
	}
	return &Session{
		identity:  identity,
		starter:   opts.Starter,
		dialer:    opts.Dialer,
		debounce:  debounce,
		onMessage: opts.OnMessage,
		onTyping:  opts.OnTyping,
		onEnded:   opts.OnEnded,
	}, nil
}

// Connect opens the channel. Initialization is driven by the channel's
// connected event, not by Connect itself, so a reconnecting transport takes
// the same path as the first connect.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.channel != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.connState = StateConnecting
	s.mu.Unlock()

	ch, err := s.dialer.Dial(ctx, ChannelHooks{
		OnConnected:    func() { _ = s.handleConnected(ctx) },
		OnDisconnected: s.handleDisconnected,
		OnEvent:        s.handleEvent,
	})
	if err != nil {
		s.mu.Lock()
		s.connState = StateDisconnected
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()

	// the dialer connects synchronously, so the connect event is driven
	// here; transports that reconnect on their own use the hook instead
	return s.handleConnected(ctx)
}

// handleConnected runs once per connect event. The first connect runs the
// start-or-resume call; reconnects skip straight to a join with the known
// conversation id and never re-fetch backlog.
func (s *Session) handleConnected(ctx context.Context) error {
	s.mu.Lock()
	s.connState = StateConnected
	ch := s.channel
	if ch == nil {
		s.mu.Unlock()
		return nil
	}
	if s.initializing {
		// a previous connect event's initializer call is still in flight
		s.mu.Unlock()
		return nil
	}
	if s.initialized {
		convID := s.conversationID
		s.mu.Unlock()
		if err := ch.Emit(chatwire.EventJoinChat, chatwire.JoinChat{ConversationID: convID}); err != nil {
			log.Printf("livechat: rejoin emit failed conversation=%s err=%v", convID, err)
		}
		return nil
	}
	s.initializing = true
	identity := s.identity
	s.mu.Unlock()

	convID, backlog, err := s.starter.StartOrResume(ctx, identity)
	if err != nil {
		log.Printf("livechat: start or resume failed user=%s err=%v", identity.UserID, err)
		s.mu.Lock()
		s.initializing = false
		s.initialized = false
		s.conversationID = ""
		s.connState = StateDisconnected
		cur := s.channel
		s.channel = nil
		s.mu.Unlock()
		// an open channel that never joined a room is useless; drop it so
		// the next connect retries initialization
		if cur != nil && cur != ch {
			_ = cur.Close()
		}
		_ = ch.Close()
		return err
	}

	s.mu.Lock()
	s.initializing = false
	s.initialized = true
	s.conversationID = convID
	unreadIDs := s.seedBacklogLocked(backlog)
	// the transport may have dropped and redialed while the initializer
	// call was in flight; the join must land on the channel that is live now
	ch = s.channel
	s.mu.Unlock()

	if ch == nil {
		// disconnected during initialization; the next connect rejoins
		return nil
	}

	if err := ch.Emit(chatwire.EventJoinChat, chatwire.JoinChat{ConversationID: convID}); err != nil {
		log.Printf("livechat: join emit failed conversation=%s err=%v", convID, err)
	}
	if len(unreadIDs) > 0 {
		// one batched receipt for the whole backlog instead of one per line
		err := ch.Emit(chatwire.EventMarkMessagesRead, chatwire.MarkMessagesRead{
			ConversationID: convID,
			ReaderType:     chatwire.SenderCustomer,
			MessageIDs:     unreadIDs,
		})
		if err != nil {
			log.Printf("livechat: backlog receipt emit failed conversation=%s err=%v", convID, err)
		}
	}
	return nil
}

// seedBacklogLocked replaces the message log with the backlog, marking remote
// unread entries read and returning their ids for the batched receipt.
func (s *Session) seedBacklogLocked(backlog []BacklogEntry) []string {
	s.messages = s.messages[:0]
	var unreadIDs []string
	for _, entry := range backlog {
		msg := Message{
			ID:   entry.ID,
			Text: entry.Content,
			Read: true,
		}
		msg.Timestamp, msg.hasTimestamp = parseWireTime(entry.Timestamp)
		if entry.Sender == chatwire.SenderCustomer {
			msg.Sender = SenderLocal
		} else {
			msg.Sender = SenderRemote
			if !entry.ReadByCustomer {
				unreadIDs = append(unreadIDs, entry.ID)
			}
		}
		s.messages = append(s.messages, msg)
	}
	return unreadIDs
}

func (s *Session) handleDisconnected(err error) {
	log.Printf("livechat: channel disconnected: %v", err)
	s.mu.Lock()
	s.connState = StateDisconnected
	s.channel = nil
	s.mu.Unlock()
}

// handleEvent classifies inbound events. Everything is gated on the event's
// conversation id matching the session's; stale events are dropped silently
// because they only arise from a race between reset and in-flight delivery.
func (s *Session) handleEvent(event string, data []byte) {
	switch event {
	case chatwire.EventNewMessage:
		var p chatwire.NewMessage
		if !decodeEvent(event, data, &p) {
			return
		}
		s.applyNewMessage(p)
	case chatwire.EventUserTyping:
		var p chatwire.Typing
		if !decodeEvent(event, data, &p) {
			return
		}
		s.applyTyping(p.ConversationID, true)
	case chatwire.EventUserStoppedTyping:
		var p chatwire.Typing
		if !decodeEvent(event, data, &p) {
			return
		}
		s.applyTyping(p.ConversationID, false)
	case chatwire.EventMessagesReadByAdmin:
		var p chatwire.MessagesRead
		if !decodeEvent(event, data, &p) {
			return
		}
		s.applyReadReceipt(p)
	case chatwire.EventChatStatusUpdate:
		var p chatwire.ChatStatusUpdate
		if !decodeEvent(event, data, &p) {
			return
		}
		s.applyStatusUpdate(p)
	}
}

func decodeEvent(event string, data []byte, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		log.Printf("livechat: malformed %s event: %v", event, err)
		return false
	}
	return true
}

func (s *Session) applyNewMessage(p chatwire.NewMessage) {
	s.mu.Lock()
	if p.ConversationID != s.conversationID || s.conversationID == "" {
		s.mu.Unlock()
		return
	}
	msg := Message{
		ID:   p.ID,
		Text: p.Content,
	}
	msg.Timestamp, msg.hasTimestamp = parseWireTime(p.Timestamp)
	if p.Sender == chatwire.SenderCustomer {
		msg.Sender = SenderLocal
		msg.Read = true
	} else {
		msg.Sender = SenderRemote
	}

	var receipt bool
	var ch Channel
	if msg.Sender == SenderRemote && s.connState == StateConnected && s.channel != nil {
		msg.Read = true
		receipt = true
		ch = s.channel
	}
	s.messages = append(s.messages, msg)
	convID := s.conversationID
	s.mu.Unlock()

	if receipt {
		err := ch.Emit(chatwire.EventMarkMessagesRead, chatwire.MarkMessagesRead{
			ConversationID: convID,
			ReaderType:     chatwire.SenderCustomer,
			MessageIDs:     []string{p.ID},
		})
		if err != nil {
			log.Printf("livechat: receipt emit failed conversation=%s err=%v", convID, err)
		}
	}
	if s.onMessage != nil {
		s.onMessage(msg)
	}
}

func (s *Session) applyTyping(conversationID string, typing bool) {
	s.mu.Lock()
	if conversationID != s.conversationID || s.conversationID == "" {
		s.mu.Unlock()
		return
	}
	changed := s.remoteTyping != typing
	s.remoteTyping = typing
	s.mu.Unlock()

	if changed && s.onTyping != nil {
		s.onTyping(typing)
	}
}

func (s *Session) applyReadReceipt(p chatwire.MessagesRead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ConversationID != s.conversationID || s.conversationID == "" {
		return
	}
	for _, id := range p.MessageIDs {
		for i := range s.messages {
			// marking an already-read message again is a no-op
			if s.messages[i].Sender == SenderLocal && s.messages[i].ID == id {
				s.messages[i].Read = true
			}
		}
	}
}

func (s *Session) applyStatusUpdate(p chatwire.ChatStatusUpdate) {
	if p.NewStatus != chatwire.StatusResolved {
		return
	}
	s.mu.Lock()
	if p.ConversationID != s.conversationID || s.conversationID == "" {
		s.mu.Unlock()
		return
	}
	ch := s.teardownLocked()
	s.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if s.onEnded != nil {
		s.onEnded(chatwire.StatusResolved)
	}
}

// teardownLocked resets the session to uninitialized and returns the channel
// for the caller to close outside the lock.
func (s *Session) teardownLocked() Channel {
	s.stopTypingTimerLocked()
	s.messages = nil
	s.remoteTyping = false
	s.conversationID = ""
	s.initialized = false
	s.initializing = false
	s.connState = StateDisconnected
	ch := s.channel
	s.channel = nil
	return ch
}

// SendMessage appends an optimistic local message and emits it. Blank input
// is ignored; sends without a conversation or a live channel are rejected
// without touching the log.
func (s *Session) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	if s.conversationID == "" {
		s.mu.Unlock()
		return ErrNoConversation
	}
	if s.connState != StateConnected || s.channel == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	msg := Message{
		ID:           uuid.NewString(),
		Text:         text,
		Sender:       SenderLocal,
		Timestamp:    time.Now(),
		hasTimestamp: true,
		Read:         true,
	}
	s.messages = append(s.messages, msg)
	ch := s.channel
	convID := s.conversationID
	typingPending := s.typingTimer != nil
	s.stopTypingTimerLocked()
	s.mu.Unlock()

	err := ch.Emit(chatwire.EventSendMessage, chatwire.SendMessage{
		ConversationID: convID,
		Content:        text,
		Sender:         chatwire.SenderCustomer,
		UserID:         s.identity.UserID,
		CustomerName:   s.identity.Name,
	})
	if err != nil {
		return err
	}

	if typingPending {
		// sending implies we stopped typing; flush it now instead of
		// letting the debounce timer fire later
		_ = ch.Emit(chatwire.EventStopTyping, chatwire.Typing{
			ConversationID: convID,
			Sender:         chatwire.SenderCustomer,
		})
	}
	if s.onMessage != nil {
		s.onMessage(msg)
	}
	return nil
}

// NotifyTyping announces a keystroke. Every call emits a typing event and
// restarts the single debounce timer; only its expiry emits "stopped typing".
func (s *Session) NotifyTyping() {
	s.mu.Lock()
	if s.conversationID == "" || s.connState != StateConnected || s.channel == nil {
		s.mu.Unlock()
		return
	}
	ch := s.channel
	convID := s.conversationID
	s.stopTypingTimerLocked()
	s.typingTimer = time.AfterFunc(s.debounce, s.typingExpired)
	s.mu.Unlock()

	_ = ch.Emit(chatwire.EventTyping, chatwire.Typing{
		ConversationID: convID,
		Sender:         chatwire.SenderCustomer,
	})
}

func (s *Session) typingExpired() {
	s.mu.Lock()
	s.typingTimer = nil
	ch := s.channel
	convID := s.conversationID
	connected := s.connState == StateConnected
	s.mu.Unlock()

	if ch == nil || convID == "" || !connected {
		return
	}
	_ = ch.Emit(chatwire.EventStopTyping, chatwire.Typing{
		ConversationID: convID,
		Sender:         chatwire.SenderCustomer,
	})
}

func (s *Session) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

// EndChat resolves the conversation from the customer side. With a live
// channel it emits the resolution and tears down immediately; otherwise it
// falls back to the resolve endpoint and tears down only on success.
func (s *Session) EndChat(ctx context.Context) error {
	s.mu.Lock()
	convID := s.conversationID
	if convID == "" {
		s.mu.Unlock()
		return ErrNoConversation
	}
	connected := s.connState == StateConnected && s.channel != nil
	ch := s.channel
	s.mu.Unlock()

	if connected {
		err := ch.Emit(chatwire.EventResolvedByCustomer, chatwire.Resolved{
			ConversationID: convID,
			ResolvedBy:     chatwire.SenderCustomer,
		})
		if err != nil {
			log.Printf("livechat: resolve emit failed conversation=%s err=%v", convID, err)
		}
	} else {
		if err := s.starter.Resolve(ctx, convID, chatwire.SenderCustomer); err != nil {
			return err
		}
	}

	s.mu.Lock()
	old := s.teardownLocked()
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	if s.onEnded != nil {
		s.onEnded("resolved_by_customer")
	}
	return nil
}

// Messages returns a copy of the ordered message log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) ConnectionState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

func (s *Session) RemoteTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteTyping
}

func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}
