package livechat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soletrade/livechat/internal/chatwire"
)

type emittedEvent struct {
	event   string
	payload any
}

type fakeChannel struct {
	mu      sync.Mutex
	emitted []emittedEvent
	closed  bool
}

func (c *fakeChannel) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, emittedEvent{event: event, payload: payload})
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) events(event string) []emittedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emittedEvent
	for _, e := range c.emitted {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu    sync.Mutex
	ch    *fakeChannel
	hooks ChannelHooks
}

func (d *fakeDialer) Dial(ctx context.Context, hooks ChannelHooks) (Channel, error) {
	_ = ctx
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch = &fakeChannel{}
	d.hooks = hooks
	return d.ch, nil
}

func (d *fakeDialer) channel() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch
}

func (d *fakeDialer) fireConnected() {
	d.mu.Lock()
	hooks := d.hooks
	d.mu.Unlock()
	hooks.OnConnected()
}

func (d *fakeDialer) fireDisconnected(err error) {
	d.mu.Lock()
	hooks := d.hooks
	d.mu.Unlock()
	hooks.OnDisconnected(err)
}

func (d *fakeDialer) fireEvent(t *testing.T, event string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	d.mu.Lock()
	hooks := d.hooks
	d.mu.Unlock()
	hooks.OnEvent(event, b)
}

type fakeStarter struct {
	mu           sync.Mutex
	convID       string
	backlog      []BacklogEntry
	startErr     error
	startCalls   int
	resolveErr   error
	resolveCalls int

	// startEntered signals that StartOrResume is in flight; startGate
	// blocks it until closed. Both optional.
	startEntered chan struct{}
	startGate    chan struct{}
}

func (s *fakeStarter) StartOrResume(ctx context.Context, identity Identity) (string, []BacklogEntry, error) {
	_ = ctx
	_ = identity
	s.mu.Lock()
	s.startCalls += 1
	entered := s.startEntered
	gate := s.startGate
	startErr := s.startErr
	convID := s.convID
	backlog := s.backlog
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if startErr != nil {
		return "", nil, startErr
	}
	return convID, backlog, nil
}

func (s *fakeStarter) Resolve(ctx context.Context, conversationID, resolvedBy string) error {
	_ = ctx
	_ = conversationID
	_ = resolvedBy
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveCalls += 1
	return s.resolveErr
}

func (s *fakeStarter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

func testIdentity() Identity {
	return Identity{UserID: "7", Name: "Ann"}
}

func newTestSession(t *testing.T, starter *fakeStarter, dialer *fakeDialer, opts Options) *Session {
	t.Helper()
	opts.Starter = starter
	opts.Dialer = dialer
	if opts.TypingDebounce == 0 {
		opts.TypingDebounce = 50 * time.Millisecond
	}
	s, err := NewSession(testIdentity(), opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestNewSessionRejectsPartialIdentity(t *testing.T) {
	_, err := NewSession(Identity{UserID: "7"}, Options{
		Starter: &fakeStarter{},
		Dialer:  &fakeDialer{},
	})
	if !errors.Is(err, ErrIdentityNotReady) {
		t.Fatalf("expected ErrIdentityNotReady, got %v", err)
	}
}

func TestInitializeOnceAcrossReconnects(t *testing.T) {
	starter := &fakeStarter{convID: "c1"}
	dialer := &fakeDialer{}
	s := newTestSession(t, starter, dialer, Options{})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := s.ConversationID(); got != "c1" {
		t.Fatalf("conversation id = %q, want c1", got)
	}

	// repeated connect events from the same channel must not re-run the
	// start-or-resume call
	for i := 0; i < 3; i++ {
		dialer.fireConnected()
	}

	if got := starter.calls(); got != 1 {
		t.Fatalf("start-or-resume calls = %d, want 1", got)
	}
	joins := dialer.channel().events(chatwire.EventJoinChat)
	if len(joins) != 4 {
		t.Fatalf("join events = %d, want 4", len(joins))
	}
	for _, j := range joins {
		p := j.payload.(chatwire.JoinChat)
		if p.ConversationID != "c1" || p.IsAdmin {
			t.Fatalf("unexpected join payload: %+v", p)
		}
	}
}

func TestConnectEventsDuringInitializationAreIgnored(t *testing.T) {
	starter := &fakeStarter{
		convID:       "c1",
		startEntered: make(chan struct{}, 1),
		startGate:    make(chan struct{}),
	}
	dialer := &fakeDialer{}
	s := newTestSession(t, starter, dialer, Options{})

	connectErr := make(chan error, 1)
	go func() { connectErr <- s.Connect(context.Background()) }()
	<-starter.startEntered

	// connect events arriving while start-or-resume is still in flight
	// must not trigger a second initializer call or a premature join
	for i := 0; i < 3; i++ {
		dialer.fireConnected()
	}
	if n := len(dialer.channel().events(chatwire.EventJoinChat)); n != 0 {
		t.Fatalf("join emitted before initialization finished: %d events", n)
	}

	close(starter.startGate)
	if err := <-connectErr; err != nil {
		t.Fatalf("connect: %v", err)
	}

	if got := starter.calls(); got != 1 {
		t.Fatalf("start-or-resume calls = %d, want 1", got)
	}
	if n := len(dialer.channel().events(chatwire.EventJoinChat)); n != 1 {
		t.Fatalf("join events = %d, want 1", n)
	}
	if got := s.ConversationID(); got != "c1" {
		t.Fatalf("conversation id = %q, want c1", got)
	}
}

func TestInitializationJoinLandsOnCurrentChannel(t *testing.T) {
	starter := &fakeStarter{
		convID:       "c1",
		startEntered: make(chan struct{}, 1),
		startGate:    make(chan struct{}),
	}
	dialer := &fakeDialer{}
	s := newTestSession(t, starter, dialer, Options{})

	connectErr := make(chan error, 1)
	go func() { connectErr <- s.Connect(context.Background()) }()
	<-starter.startEntered
	first := dialer.channel()

	// the transport drops and redials while start-or-resume is in flight;
	// the fresh channel's connect event is absorbed by the in-progress latch
	dialer.fireDisconnected(errors.New("transport reset"))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("redial: %v", err)
	}
	second := dialer.channel()

	close(starter.startGate)
	if err := <-connectErr; err != nil {
		t.Fatalf("connect: %v", err)
	}

	if got := starter.calls(); got != 1 {
		t.Fatalf("start-or-resume calls = %d, want 1", got)
	}
	if n := len(first.events(chatwire.EventJoinChat)); n != 0 {
		t.Fatalf("join landed on the dead channel: %d events", n)
	}
	if n := len(second.events(chatwire.EventJoinChat)); n != 1 {
		t.Fatalf("join events on live channel = %d, want 1", n)
	}
	if got := s.ConversationID(); got != "c1" {
		t.Fatalf("conversation id = %q, want c1", got)
	}
}

func TestSendMessageWithoutConversation(t *testing.T) {
	s := newTestSession(t, &fakeStarter{convID: "c1"}, &fakeDialer{}, Options{})

	if err := s.SendMessage("hi"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
	if n := len(s.Messages()); n != 0 {
		t.Fatalf("message count = %d, want 0", n)
	}
}

func TestSendMessageBlankIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, &fakeStarter{convID: "c1"}, dialer, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := s.SendMessage("   \t"); err != nil {
		t.Fatalf("blank send: %v", err)
	}
	if n := len(s.Messages()); n != 0 {
		t.Fatalf("message count = %d, want 0", n)
	}
	if n := len(dialer.channel().events(chatwire.EventSendMessage)); n != 0 {
		t.Fatalf("send_message events = %d, want 0", n)
	}
}

func TestBacklogBatchedReadReceipt(t *testing.T) {
	starter := &fakeStarter{
		convID: "c1",
		backlog: []BacklogEntry{
			{ID: "1", Content: "hello", Sender: "admin", Timestamp: "2026-08-28T10:00:00Z"},
			{ID: "2", Content: "anyone there?", Sender: "admin", Timestamp: "2026-08-28T10:01:00Z"},
			{ID: "3", Content: "ping", Sender: "admin", Timestamp: "not-a-time"},
			{ID: "4", Content: "hi", Sender: "customer", Timestamp: "2026-08-28T10:02:00Z", ReadByCustomer: true},
		},
	}
	dialer := &fakeDialer{}
	s := newTestSession(t, starter, dialer, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 4 {
		t.Fatalf("message count = %d, want 4", len(msgs))
	}
	for i, m := range msgs {
		if !m.Read {
			t.Fatalf("message %d not marked read", i)
		}
	}
	if got := msgs[2].DisplayTime(); got != "unknown" {
		t.Fatalf("malformed timestamp display = %q, want unknown", got)
	}

	receipts := dialer.channel().events(chatwire.EventMarkMessagesRead)
	if len(receipts) != 1 {
		t.Fatalf("read-receipt batches = %d, want 1", len(receipts))
	}
	p := receipts[0].payload.(chatwire.MarkMessagesRead)
	if len(p.MessageIDs) != 3 || p.MessageIDs[0] != "1" || p.MessageIDs[1] != "2" || p.MessageIDs[2] != "3" {
		t.Fatalf("unexpected receipt ids: %v", p.MessageIDs)
	}
	if p.ReaderType != "customer" || p.ConversationID != "c1" {
		t.Fatalf("unexpected receipt payload: %+v", p)
	}
}

func TestRemoteTypingIndicator(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, &fakeStarter{convID: "c1"}, dialer, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	dialer.fireEvent(t, chatwire.EventUserTyping, chatwire.Typing{ConversationID: "c1", Sender: "admin"})
	if !s.RemoteTyping() {
		t.Fatalf("typing indicator should be set")
	}

	dialer.fireEvent(t, chatwire.EventUserStoppedTyping, chatwire.Typing{ConversationID: "c1", Sender: "admin"})
	if s.RemoteTyping() {
		t.Fatalf("typing indicator should be cleared")
	}

	// events for a foreign conversation id must not leak into this session
	dialer.fireEvent(t, chatwire.EventUserTyping, chatwire.Typing{ConversationID: "other", Sender: "admin"})
	if s.RemoteTyping() {
		t.Fatalf("foreign typing event changed the indicator")
	}
}

func TestTypingDebounce(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, &fakeStarter{convID: "c1"}, dialer, Options{TypingDebounce: 60 * time.Millisecond})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	for i := 0; i < 3; i++ {
		s.NotifyTyping()
		time.Sleep(15 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	ch := dialer.channel()
	if n := len(ch.events(chatwire.EventTyping)); n != 3 {
		t.Fatalf("typing events = %d, want 3", n)
	}
	if n := len(ch.events(chatwire.EventStopTyping)); n != 1 {
		t.Fatalf("stop_typing events = %d, want 1", n)
	}
}

func TestResolvedStatusUpdateTearsDown(t *testing.T) {
	dialer := &fakeDialer{}
	var endedReason string
	s := newTestSession(t, &fakeStarter{convID: "c1"}, dialer, Options{
		OnEnded: func(reason string) { endedReason = reason },
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	dialer.fireEvent(t, chatwire.EventNewMessage, chatwire.NewMessage{
		ConversationID: "c1", ID: "10", Content: "hello", Sender: "admin",
		Timestamp: "2026-08-28T10:00:00Z",
	})
	if n := len(s.Messages()); n != 1 {
		t.Fatalf("message count = %d, want 1", n)
	}
	// an arriving remote message is acknowledged immediately
	receipts := dialer.channel().events(chatwire.EventMarkMessagesRead)
	if len(receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(receipts))
	}
	if ids := receipts[0].payload.(chatwire.MarkMessagesRead).MessageIDs; len(ids) != 1 || ids[0] != "10" {
		t.Fatalf("unexpected receipt ids: %v", ids)
	}

	dialer.fireEvent(t, chatwire.EventChatStatusUpdate, chatwire.ChatStatusUpdate{
		ConversationID: "c1", NewStatus: "resolved",
	})

	if n := len(s.Messages()); n != 0 {
		t.Fatalf("message count after resolve = %d, want 0", n)
	}
	if got := s.ConversationID(); got != "" {
		t.Fatalf("conversation id after resolve = %q, want empty", got)
	}
	if !dialer.channel().isClosed() {
		t.Fatalf("channel should be closed after resolve")
	}
	if endedReason != "resolved" {
		t.Fatalf("ended reason = %q, want resolved", endedReason)
	}

	// late delivery for the old conversation id is dropped
	dialer.fireEvent(t, chatwire.EventNewMessage, chatwire.NewMessage{
		ConversationID: "c1", ID: "11", Content: "late", Sender: "admin",
	})
	if n := len(s.Messages()); n != 0 {
		t.Fatalf("stale message was applied, count = %d", n)
	}
}

func TestSendMessageScenario(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, &fakeStarter{convID: "c1"}, dialer, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	joins := dialer.channel().events(chatwire.EventJoinChat)
	if len(joins) != 1 {
		t.Fatalf("join events = %d, want 1", len(joins))
	}
	if p := joins[0].payload.(chatwire.JoinChat); p.ConversationID != "c1" || p.IsAdmin {
		t.Fatalf("unexpected join payload: %+v", p)
	}

	if err := s.SendMessage("hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("message count = %d, want 1", len(msgs))
	}
	if msgs[0].Text != "hi" || msgs[0].Sender != SenderLocal || !msgs[0].Read {
		t.Fatalf("unexpected local message: %+v", msgs[0])
	}
	if msgs[0].ID == "" {
		t.Fatalf("optimistic message needs a placeholder id")
	}

	sends := dialer.channel().events(chatwire.EventSendMessage)
	if len(sends) != 1 {
		t.Fatalf("send_message events = %d, want 1", len(sends))
	}
	p := sends[0].payload.(chatwire.SendMessage)
	if p.ConversationID != "c1" || p.Content != "hi" || p.Sender != "customer" ||
		p.UserID != "7" || p.CustomerName != "Ann" {
		t.Fatalf("unexpected send payload: %+v", p)
	}

	// no typing announcement was pending, so no stop_typing is flushed
	if n := len(dialer.channel().events(chatwire.EventStopTyping)); n != 0 {
		t.Fatalf("stop_typing events = %d, want 0", n)
	}
}

func TestSendMessageFlushesPendingTyping(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, &fakeStarter{convID: "c1"}, dialer, Options{TypingDebounce: time.Minute})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	s.NotifyTyping()
	if err := s.SendMessage("hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if n := len(dialer.channel().events(chatwire.EventStopTyping)); n != 1 {
		t.Fatalf("stop_typing events = %d, want 1", n)
	}
	// the debounce timer was cancelled; nothing else fires later
	time.Sleep(30 * time.Millisecond)
	if n := len(dialer.channel().events(chatwire.EventStopTyping)); n != 1 {
		t.Fatalf("stop_typing events after wait = %d, want 1", n)
	}
}

func TestInitializationFailureResetsAndAllowsRetry(t *testing.T) {
	starter := &fakeStarter{convID: "c1", startErr: errors.New("server down")}
	dialer := &fakeDialer{}
	s := newTestSession(t, starter, dialer, Options{})

	if err := s.Connect(context.Background()); err == nil {
		t.Fatalf("expected initialization failure")
	}
	if s.Initialized() {
		t.Fatalf("session should not be initialized after failure")
	}
	if !dialer.channel().isClosed() {
		t.Fatalf("channel should be closed after failed initialization")
	}

	// the next connect attempt retries the initializer
	starter.mu.Lock()
	starter.startErr = nil
	starter.mu.Unlock()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := starter.calls(); got != 2 {
		t.Fatalf("start-or-resume calls = %d, want 2", got)
	}
	if got := s.ConversationID(); got != "c1" {
		t.Fatalf("conversation id = %q, want c1", got)
	}
}

func TestAdminReadReceiptIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, &fakeStarter{convID: "c1"}, dialer, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.SendMessage("hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	localID := s.Messages()[0].ID

	for i := 0; i < 2; i++ {
		dialer.fireEvent(t, chatwire.EventMessagesReadByAdmin, chatwire.MessagesRead{
			ConversationID: "c1", MessageIDs: []string{localID, "unknown"},
		})
	}

	msgs := s.Messages()
	if len(msgs) != 1 || !msgs[0].Read {
		t.Fatalf("unexpected log after receipts: %+v", msgs)
	}
}

func TestEndChatConnected(t *testing.T) {
	starter := &fakeStarter{convID: "c1"}
	dialer := &fakeDialer{}
	s := newTestSession(t, starter, dialer, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch := dialer.channel()

	if err := s.EndChat(context.Background()); err != nil {
		t.Fatalf("end chat: %v", err)
	}

	resolved := ch.events(chatwire.EventResolvedByCustomer)
	if len(resolved) != 1 {
		t.Fatalf("resolved events = %d, want 1", len(resolved))
	}
	if p := resolved[0].payload.(chatwire.Resolved); p.ConversationID != "c1" || p.ResolvedBy != "customer" {
		t.Fatalf("unexpected resolved payload: %+v", p)
	}
	if starter.resolveCalls != 0 {
		t.Fatalf("resolve endpoint should not be called while connected")
	}
	if !ch.isClosed() {
		t.Fatalf("channel should be closed")
	}
	if s.ConversationID() != "" || s.Initialized() {
		t.Fatalf("session should be reset")
	}
}

func TestEndChatDisconnectedFallback(t *testing.T) {
	starter := &fakeStarter{convID: "c1"}
	dialer := &fakeDialer{}
	s := newTestSession(t, starter, dialer, Options{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	dialer.fireDisconnected(errors.New("transport reset"))

	// failure leaves the session untouched
	starter.mu.Lock()
	starter.resolveErr = errors.New("resolve unavailable")
	starter.mu.Unlock()
	if err := s.EndChat(context.Background()); err == nil {
		t.Fatalf("expected resolve failure")
	}
	if s.ConversationID() != "c1" {
		t.Fatalf("failed resolve must not reset the session")
	}

	starter.mu.Lock()
	starter.resolveErr = nil
	starter.mu.Unlock()
	if err := s.EndChat(context.Background()); err != nil {
		t.Fatalf("end chat fallback: %v", err)
	}
	if starter.resolveCalls != 2 {
		t.Fatalf("resolve calls = %d, want 2", starter.resolveCalls)
	}
	if s.ConversationID() != "" || s.Initialized() {
		t.Fatalf("session should be reset after successful fallback")
	}
}
