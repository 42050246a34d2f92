package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/domain/presence"
	"github.com/edumarket/chatsync/internal/infrastructure/metrics"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

var (
	// ErrNoActiveConversation is returned by operations that need an open conversation.
	ErrNoActiveConversation = platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "no conversation is open", nil)
	// ErrEmptyMessage is returned when neither text nor a file was given.
	ErrEmptyMessage = platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "message is empty", nil)
	// ErrSuperseded is returned by OpenConversation when another conversation
	// was opened before loading completed.
	ErrSuperseded = errors.New("conversation superseded before load completed")
)

const cacheTimeout = 5 * time.Second

// Options tunes a Controller.
type Options struct {
	Role       Role
	SelfID     string
	AckTimeout time.Duration
	TypingTTL  time.Duration
	Clock      clock.Clock
}

// View is the observable state of the open conversation.
type View struct {
	Key          Key
	Peer         Peer
	Messages     []Message
	Source       Source
	Loading      bool
	PeerTyping   bool
	PeerOnline   bool
	ChannelState ConnectionState
}

type activeConversation struct {
	key         Key
	peer        Peer
	storeID     string
	unread      int
	messages    *messageList
	source      Source
	loading     bool
	typing      bool
	typingSeq   uint64
	typingTimer *clock.Timer
}

type pendingAck struct {
	key      Key
	sentAt   time.Time
	timer    *clock.Timer
	timedOut bool
}

// Controller owns the open conversation: it loads history, applies live
// events, sends messages and mirrors every change into the local cache.
type Controller struct {
	opts     Options
	channel  Channel
	gateway  Gateway
	uploader Uploader
	cache    Cache
	presence *presence.Tracker
	clock    clock.Clock
	log      zerolog.Logger

	mu           sync.Mutex
	active       *activeConversation
	generation   uint64
	pending      map[string]*pendingAck
	observers    map[int]func(View)
	nextObserver int
	unsubscribe  []func()

	startOnce sync.Once
	closeOnce sync.Once
}

// NewController wires a controller to its collaborators and subscribes to channel events.
func NewController(
	channel Channel,
	gateway Gateway,
	uploader Uploader,
	cache Cache,
	tracker *presence.Tracker,
	opts Options,
	log zerolog.Logger,
) *Controller {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = 3 * time.Second
	}
	if tracker == nil {
		tracker = presence.NewTracker()
	}

	c := &Controller{
		opts:      opts,
		channel:   channel,
		gateway:   gateway,
		uploader:  uploader,
		cache:     cache,
		presence:  tracker,
		clock:     opts.Clock,
		log:       log.With().Str("component", "conversation-controller").Str("user_id", opts.SelfID).Logger(),
		pending:   make(map[string]*pendingAck),
		observers: make(map[int]func(View)),
	}

	c.unsubscribe = append(c.unsubscribe,
		channel.OnReceive(c.handleReceive),
		channel.OnDelivered(c.handleDelivered),
		channel.OnTyping(c.handleTyping),
		channel.OnPresence(c.handlePresence),
		channel.OnStateChange(c.handleStateChange),
	)
	return c
}

// Start connects the realtime channel. Safe to call multiple times.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() {
		err = c.channel.Connect(ctx, c.opts.SelfID)
		if err != nil {
			c.log.Warn().Err(err).Msg("realtime channel unavailable, continuing offline")
			return
		}
		c.log.Info().Msg("conversation controller started")
	})
	return err
}

// Close releases subscriptions and pending timers. The channel itself is
// owned by the caller.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		for _, unsub := range c.unsubscribe {
			unsub()
		}
		c.unsubscribe = nil
		for id, p := range c.pending {
			p.timer.Stop()
			delete(c.pending, id)
		}
		c.closeActiveLocked()
		c.observers = make(map[int]func(View))
		c.mu.Unlock()
		c.log.Info().Msg("conversation controller stopped")
	})
}

// Subscribe registers fn to receive every view change.
func (c *Controller) Subscribe(fn func(View)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// View returns the current state of the open conversation.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// IsOnline reports whether the channel last reported userID as online.
func (c *Controller) IsOnline(userID string) bool {
	return c.presence.IsOnline(userID)
}

// Presence returns the ids currently reported online.
func (c *Controller) Presence() []string {
	return c.presence.Online()
}

// OpenConversation switches the view to the conversation with peer and loads
// its history from the store, falling back to the local cache.
func (c *Controller) OpenConversation(ctx context.Context, peer Peer) (View, error) {
	key, err := NewKey(c.opts.Role, c.opts.SelfID, peer.ID)
	if err != nil {
		return View{}, err
	}

	c.mu.Lock()
	c.closeActiveLocked()
	c.generation++
	gen := c.generation
	c.active = &activeConversation{
		key:      key,
		peer:     peer,
		messages: newMessageList(nil),
		source:   SourceEmpty,
		loading:  true,
	}
	c.mu.Unlock()
	c.notify()

	log := c.log.With().Str("conversation", key.String()).Str("peer_id", peer.ID).Logger()

	// the channel keeps the room and announces it once connected
	if err := c.channel.JoinConversation(ctx, key, c.opts.SelfID, peer.ID); err != nil {
		log.Warn().Err(err).Msg("failed to join conversation room")
	}

	loaded := c.load(ctx, key, peer, log)

	c.mu.Lock()
	if c.generation != gen || c.active == nil {
		c.mu.Unlock()
		log.Debug().Msg("discarding superseded conversation load")
		return View{}, ErrSuperseded
	}
	st := c.active
	// events received while loading are kept if the load did not include them
	live := st.messages
	st.messages = newMessageList(loaded.messages)
	st.messages.merge(live)
	st.storeID = loaded.storeID
	st.unread = loaded.unread
	st.source = loaded.source
	st.loading = false
	if loaded.peerName != "" && st.peer.Name == "" {
		st.peer.Name = loaded.peerName
	}
	snap := c.snapshotLocked(st)
	view := c.viewLocked()
	c.mu.Unlock()

	if len(snap.Messages) > 0 && (loaded.source == SourceStore || len(live.items) > 0) {
		c.persist(snap)
	}
	c.notify()

	log.Info().
		Str("source", string(loaded.source)).
		Int("messages", len(view.Messages)).
		Msg("conversation opened")
	return view, nil
}

// CloseConversation clears the open conversation.
func (c *Controller) CloseConversation() {
	c.mu.Lock()
	c.closeActiveLocked()
	c.generation++
	c.mu.Unlock()
	c.notify()
}

// ListConversations returns the local user's conversations ordered by recency.
// When the store is unreachable the cached snapshots are listed instead.
func (c *Controller) ListConversations(ctx context.Context) ([]Summary, Source, error) {
	summaries, err := c.gateway.ListConversations(ctx, c.opts.SelfID)
	if err == nil {
		sortByRecency(summaries)
		return summaries, SourceStore, nil
	}

	metrics.StoreFallbacks.WithLabelValues("list").Inc()
	c.log.Warn().Err(err).Msg("store unavailable, listing cached conversations")

	keys, cerr := c.cache.KeysFor(ctx, c.opts.SelfID)
	if cerr != nil {
		c.log.Error().Err(cerr).Msg("failed to read cached conversation index")
		return nil, SourceEmpty, nil
	}

	out := make([]Summary, 0, len(keys))
	for _, key := range keys {
		snap, ok, gerr := c.cache.Get(ctx, key)
		if gerr != nil {
			c.log.Warn().Err(gerr).Str("conversation", key.String()).Msg("failed to read cached snapshot")
			continue
		}
		if !ok {
			continue
		}
		out = append(out, snap.Summary())
	}
	if len(out) == 0 {
		return out, SourceEmpty, nil
	}
	sortByRecency(out)
	return out, SourceCache, nil
}

type loadResult struct {
	messages []Message
	storeID  string
	peerName string
	unread   int
	source   Source
}

func (c *Controller) load(ctx context.Context, key Key, peer Peer, log zerolog.Logger) loadResult {
	summaries, err := c.gateway.ListConversations(ctx, c.opts.SelfID)
	if err == nil {
		summary, found := findSummary(summaries, key, peer.ID)
		if !found {
			return loadResult{source: SourceStore}
		}
		messages, ferr := c.gateway.FetchMessages(ctx, summary.ID)
		if ferr == nil {
			return loadResult{
				messages: messages,
				storeID:  summary.ID,
				peerName: summary.PeerName,
				unread:   summary.UnreadCount,
				source:   SourceStore,
			}
		}
		err = ferr
	}

	metrics.StoreFallbacks.WithLabelValues("open").Inc()
	log.Warn().Err(err).Msg("store unavailable, falling back to local cache")

	snap, ok, cerr := c.cache.Get(ctx, key)
	if cerr != nil {
		log.Error().Err(cerr).Msg("failed to read cached snapshot")
		return loadResult{source: SourceEmpty}
	}
	if !ok {
		return loadResult{source: SourceEmpty}
	}
	return loadResult{
		messages: snap.Messages,
		storeID:  snap.StoreID,
		peerName: snap.PeerName,
		unread:   snap.UnreadCount,
		source:   SourceCache,
	}
}

func findSummary(summaries []Summary, key Key, peerID string) (Summary, bool) {
	for _, s := range summaries {
		if s.Key == key {
			return s, true
		}
	}
	for _, s := range summaries {
		if s.Key == "" && s.PeerID == peerID {
			return s, true
		}
	}
	return Summary{}, false
}

func sortByRecency(summaries []Summary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
}

// withConversation applies fn to the message list of key, which is the open
// conversation when it matches or the cached snapshot otherwise, and mirrors
// the result into the cache when fn reports a change.
func (c *Controller) withConversation(key Key, fn func(*messageList) bool) {
	c.mu.Lock()
	if st := c.active; st != nil && st.key == key {
		if !fn(st.messages) {
			c.mu.Unlock()
			return
		}
		loading := st.loading
		snap := c.snapshotLocked(st)
		c.mu.Unlock()
		if !loading {
			c.persist(snap)
		}
		c.notify()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	snap, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("conversation", key.String()).Msg("failed to read cached snapshot")
		return
	}
	if !ok {
		return
	}
	list := newMessageList(snap.Messages)
	if !fn(list) {
		return
	}
	snap.Messages = list.snapshot()
	fillLast(&snap)
	snap.UpdatedAt = c.clock.Now()
	if err := c.cache.Set(ctx, key, snap); err != nil {
		c.log.Warn().Err(err).Str("conversation", key.String()).Msg("failed to update cached snapshot")
	}
}

func (c *Controller) persist(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := c.cache.Set(ctx, snap.Key, snap); err != nil {
		c.log.Warn().Err(err).Str("conversation", snap.Key.String()).Msg("failed to mirror conversation to cache")
	}
}

func (c *Controller) snapshotLocked(st *activeConversation) Snapshot {
	snap := Snapshot{
		Key:         st.key,
		StoreID:     st.storeID,
		SelfID:      c.opts.SelfID,
		PeerID:      st.peer.ID,
		PeerName:    st.peer.Name,
		Messages:    st.messages.snapshot(),
		UnreadCount: st.unread,
		UpdatedAt:   c.clock.Now(),
	}
	fillLast(&snap)
	return snap
}

func fillLast(snap *Snapshot) {
	if len(snap.Messages) == 0 {
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	snap.LastMessage = last.Text
	snap.LastMessageAt = last.Timestamp
}

func (c *Controller) viewLocked() View {
	v := View{ChannelState: c.channel.State()}
	st := c.active
	if st == nil {
		return v
	}
	v.Key = st.key
	v.Peer = st.peer
	v.Messages = st.messages.snapshot()
	v.Source = st.source
	v.Loading = st.loading
	v.PeerTyping = st.typing
	v.PeerOnline = c.presence.IsOnline(st.peer.ID)
	return v
}

func (c *Controller) closeActiveLocked() {
	if c.active == nil {
		return
	}
	if c.active.typingTimer != nil {
		c.active.typingTimer.Stop()
	}
	c.active = nil
}

func (c *Controller) notify() {
	c.mu.Lock()
	view := c.viewLocked()
	observers := make([]func(View), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(view)
	}
}
