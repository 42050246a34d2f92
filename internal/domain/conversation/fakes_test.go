package conversation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/domain/presence"
	"github.com/edumarket/chatsync/internal/infrastructure/cache"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

type fakeChannel struct {
	mu        sync.Mutex
	state     conversation.ConnectionState
	sent      []conversation.Envelope
	joined    []conversation.Key
	typing    []conversation.Key
	sendErr   error
	receive   []func(conversation.InboundMessage)
	delivered []func(conversation.DeliveryAck)
	typingFns []func(conversation.TypingEvent)
	presence  []func(presence.Event)
	stateFns  []func(conversation.ConnectionState)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{state: conversation.StateConnected}
}

func (f *fakeChannel) Connect(context.Context, string) error { return nil }

func (f *fakeChannel) State() conversation.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) JoinConversation(_ context.Context, key conversation.Key, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, key)
	return nil
}

func (f *fakeChannel) joinedRooms() []conversation.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.Key(nil), f.joined...)
}

func (f *fakeChannel) Send(_ context.Context, env conversation.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.state != conversation.StateConnected {
		return platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeConnectionUnavailable, "not connected", nil)
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeChannel) EmitTyping(key conversation.Key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, key)
	return nil
}

func (f *fakeChannel) OnReceive(fn func(conversation.InboundMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receive = append(f.receive, fn)
	return func() {}
}

func (f *fakeChannel) OnDelivered(fn func(conversation.DeliveryAck)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, fn)
	return func() {}
}

func (f *fakeChannel) OnTyping(fn func(conversation.TypingEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingFns = append(f.typingFns, fn)
	return func() {}
}

func (f *fakeChannel) OnPresence(fn func(presence.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence = append(f.presence, fn)
	return func() {}
}

func (f *fakeChannel) OnStateChange(fn func(conversation.ConnectionState)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateFns = append(f.stateFns, fn)
	return func() {}
}

func (f *fakeChannel) setState(s conversation.ConnectionState) {
	f.mu.Lock()
	f.state = s
	fns := append([]func(conversation.ConnectionState){}, f.stateFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (f *fakeChannel) pushMessage(m conversation.InboundMessage) {
	f.mu.Lock()
	fns := append([]func(conversation.InboundMessage){}, f.receive...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (f *fakeChannel) pushAck(a conversation.DeliveryAck) {
	f.mu.Lock()
	fns := append([]func(conversation.DeliveryAck){}, f.delivered...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(a)
	}
}

func (f *fakeChannel) pushTyping(e conversation.TypingEvent) {
	f.mu.Lock()
	fns := append([]func(conversation.TypingEvent){}, f.typingFns...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (f *fakeChannel) pushPresence(e presence.Event) {
	f.mu.Lock()
	fns := append([]func(presence.Event){}, f.presence...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (f *fakeChannel) sentEnvelopes() []conversation.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.Envelope{}, f.sent...)
}

type fakeGateway struct {
	mu        sync.Mutex
	summaries []conversation.Summary
	messages  map[string][]conversation.Message
	err       error
	// gates block FetchMessages for a conversation id until closed
	gates map[string]chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		messages: make(map[string][]conversation.Message),
		gates:    make(map[string]chan struct{}),
	}
}

func (g *fakeGateway) ListConversations(context.Context, string) ([]conversation.Summary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return append([]conversation.Summary{}, g.summaries...), nil
}

func (g *fakeGateway) FetchMessages(_ context.Context, id string) ([]conversation.Message, error) {
	g.mu.Lock()
	gate := g.gates[id]
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return append([]conversation.Message{}, g.messages[id]...), nil
}

func (g *fakeGateway) fail() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = platformerrors.NewError(platformerrors.LayerGateway, platformerrors.ErrorTypeStoreUnavailable, "store down", nil)
}

type fakeUploader struct {
	mu          sync.Mutex
	validateErr error
	uploadErr   error
	attachment  conversation.Attachment
	onUpload    func()
	uploads     int
}

func (u *fakeUploader) Validate(conversation.File) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.validateErr
}

func (u *fakeUploader) Upload(context.Context, conversation.File, conversation.Key) (conversation.Attachment, error) {
	u.mu.Lock()
	u.uploads++
	hook := u.onUpload
	u.mu.Unlock()
	if hook != nil {
		hook()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.uploadErr != nil {
		return conversation.Attachment{}, u.uploadErr
	}
	return u.attachment, nil
}

type harness struct {
	ctrl     *conversation.Controller
	channel  *fakeChannel
	gateway  *fakeGateway
	uploader *fakeUploader
	cache    *cache.MemoryCache
	clock    *clock.Mock
}

const (
	studentID  = "10"
	tutorID    = "5"
	studentKey = conversation.Key("conversation:10:5")
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessAs(t, conversation.RoleStudent, studentID)
}

func newHarnessAs(t *testing.T, role conversation.Role, selfID string) *harness {
	t.Helper()
	memCache, err := cache.NewMemoryCache(32, zerolog.Nop())
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	h := &harness{
		channel:  newFakeChannel(),
		gateway:  newFakeGateway(),
		uploader: &fakeUploader{},
		cache:    memCache,
		clock:    mock,
	}
	h.ctrl = conversation.NewController(h.channel, h.gateway, h.uploader, h.cache, presence.NewTracker(), conversation.Options{
		Role:       role,
		SelfID:     selfID,
		AckTimeout: 10 * time.Second,
		TypingTTL:  3 * time.Second,
		Clock:      mock,
	}, zerolog.Nop())
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) open(t *testing.T, peerID string) conversation.View {
	t.Helper()
	view, err := h.ctrl.OpenConversation(context.Background(), conversation.Peer{ID: peerID, Name: "Tutor"})
	require.NoError(t, err)
	return view
}

func (h *harness) cached(t *testing.T, key conversation.Key) conversation.Snapshot {
	t.Helper()
	snap, ok, err := h.cache.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "no cached snapshot for %s", key)
	return snap
}

func msgAt(id, sender, receiver, text string, at time.Time, status conversation.Status) conversation.Message {
	return conversation.Message{ID: id, SenderID: sender, ReceiverID: receiver, Text: text, Timestamp: at, Status: status}
}
