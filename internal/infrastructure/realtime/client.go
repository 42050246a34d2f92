// Package realtime implements the persistent websocket channel used for
// message delivery, typing indicators and presence.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/domain/presence"
	"github.com/edumarket/chatsync/internal/infrastructure/metrics"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

var (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = int64(1 << 20)
	sendBufSize    = 256
)

// Options configures a Client.
type Options struct {
	URL               string
	Token             string
	ReconnectAttempts uint64
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	TypingIdle        time.Duration
	Clock             clock.Clock
}

// Client is a websocket channel that reconnects on drop and fans inbound
// events out to registered handlers.
type Client struct {
	opts     Options
	dialer   *websocket.Dialer
	validate *validator.Validate
	clock    clock.Clock
	log      zerolog.Logger

	lifetime context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	state   conversation.ConnectionState
	userID  string
	conn    *websocket.Conn
	egress  chan []byte
	done    chan struct{}
	rooms   map[conversation.Key]JoinPayload
	typing  map[conversation.Key]*clock.Timer
	closed  bool
	running bool
	wg      sync.WaitGroup

	onReceive   registry[conversation.InboundMessage]
	onDelivered registry[conversation.DeliveryAck]
	onTyping    registry[conversation.TypingEvent]
	onPresence  registry[presence.Event]
	onState     registry[conversation.ConnectionState]
}

// NewClient creates a disconnected client.
func NewClient(opts Options, log zerolog.Logger) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = 2 * time.Second
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Client{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		},
		validate: validator.New(),
		clock:    opts.Clock,
		log:      log.With().Str("component", "realtime-channel").Logger(),
		lifetime: lifetime,
		cancel:   cancel,
		state:    conversation.StateDisconnected,
		rooms:    make(map[conversation.Key]JoinPayload),
		typing:   make(map[conversation.Key]*clock.Timer),
	}
}

// State returns the current connection state.
func (c *Client) State() conversation.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the connection as userID. Calling it again for the same user
// while connected or reconnecting is a no-op. A failed first dial is returned
// and retried in the background.
func (c *Client) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeValidation, "user id is required", nil)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeConnectionUnavailable, "client is closed", nil)
	}
	if c.userID != "" && c.userID != userID {
		c.mu.Unlock()
		return platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeValidation, "client is bound to another user", nil).
			WithContext("user_id", c.userID)
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.userID = userID
	c.running = true
	c.mu.Unlock()

	c.setState(conversation.StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("initial connection failed")
		c.setState(conversation.StateError)
		c.wg.Add(1)
		go c.reconnect()
		return platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeConnectionUnavailable, "connect failed", err)
	}
	c.attach(conn)
	return nil
}

// JoinConversation subscribes the connection to a conversation room. The
// room is remembered and announced again after every reconnect.
func (c *Client) JoinConversation(_ context.Context, key conversation.Key, selfID, peerID string) error {
	payload := JoinPayload{ConversationID: string(key), UserID: selfID, PartnerID: peerID}

	c.mu.Lock()
	c.rooms[key] = payload
	connected := c.state == conversation.StateConnected
	c.mu.Unlock()

	if !connected {
		c.log.Debug().Str("conversation", key.String()).Msg("not connected, room will be joined on connect")
		return nil
	}
	return c.emit(EventJoinConversation, payload)
}

// Send emits a chat message. It never queues across disconnects.
func (c *Client) Send(_ context.Context, env conversation.Envelope) error {
	return c.emit(EventSendMessage, fromEnvelope(env))
}

// OnReceive registers a handler for receive_message.
func (c *Client) OnReceive(fn func(conversation.InboundMessage)) func() {
	return c.onReceive.add(fn)
}

// OnDelivered registers a handler for message_delivered.
func (c *Client) OnDelivered(fn func(conversation.DeliveryAck)) func() {
	return c.onDelivered.add(fn)
}

// OnTyping registers a handler for typing and stop_typing.
func (c *Client) OnTyping(fn func(conversation.TypingEvent)) func() {
	return c.onTyping.add(fn)
}

// OnPresence registers a handler for users_online and user_status.
func (c *Client) OnPresence(fn func(presence.Event)) func() {
	return c.onPresence.add(fn)
}

// OnStateChange registers a handler for connection state changes.
func (c *Client) OnStateChange(fn func(conversation.ConnectionState)) func() {
	return c.onState.add(fn)
}

// Close stops reconnection and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	conn := c.conn
	c.detachLocked()
	for key, t := range c.typing {
		t.Stop()
		delete(c.typing, key)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	c.wg.Wait()
	c.setState(conversation.StateDisconnected)
	c.log.Info().Msg("realtime channel closed")
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	q := u.Query()
	q.Set("userId", c.userID)
	c.mu.Unlock()
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	conn, resp, err := c.dialer.DialContext(dialCtx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// attach installs conn as the live connection and starts its pumps.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	egress := make(chan []byte, sendBufSize)
	done := make(chan struct{})
	c.conn, c.egress, c.done = conn, egress, done

	// rooms are queued before the pumps start so they precede any send
	rooms := 0
	for _, room := range c.rooms {
		if data, err := encode(EventJoinConversation, room); err == nil {
			select {
			case egress <- data:
				rooms++
			default:
			}
		}
	}
	changed := c.state != conversation.StateConnected
	c.state = conversation.StateConnected
	c.wg.Add(2)
	go c.readPump(conn, done)
	go c.writePump(conn, egress, done)
	c.mu.Unlock()

	metrics.RecordChannelState(true)
	if changed {
		c.onState.emit(conversation.StateConnected)
	}
	c.log.Info().Int("rooms", rooms).Msg("realtime channel connected")
}

func (c *Client) detachLocked() {
	if c.done != nil {
		close(c.done)
	}
	c.conn, c.egress, c.done = nil, nil, nil
	metrics.RecordChannelState(false)
}

// drop handles the loss of conn and schedules reconnection.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	closed := c.closed
	if !closed {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	conn.Close()

	if closed {
		return
	}
	c.log.Warn().Err(cause).Msg("realtime channel dropped")
	c.setState(conversation.StateDisconnected)
	go c.reconnect()
}

func (c *Client) reconnect() {
	defer c.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ReconnectDelay
	policy.MaxElapsedTime = 0
	retries := c.opts.ReconnectAttempts - 1
	b := backoff.WithContext(backoff.WithMaxRetries(policy, retries), c.lifetime)

	err := backoff.RetryNotify(func() error {
		if c.lifetime.Err() != nil {
			return backoff.Permanent(c.lifetime.Err())
		}
		metrics.ReconnectAttempts.Inc()
		c.setState(conversation.StateConnecting)
		conn, err := c.dial(c.lifetime)
		if err != nil {
			return err
		}
		c.attach(conn)
		return nil
	}, b, func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("reconnect attempt failed")
	})

	if err == nil {
		return
	}

	c.mu.Lock()
	closed := c.closed
	c.running = false
	c.mu.Unlock()
	if closed {
		return
	}
	c.log.Error().Err(err).Uint64("attempts", c.opts.ReconnectAttempts).Msg("giving up on realtime channel")
	c.setState(conversation.StateError)
}

func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info().Msg("server closed the connection")
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.log.Warn().Msg("connection timed out waiting for pong")
			}
			c.drop(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) writePump(conn *websocket.Conn, egress chan []byte, done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case data := <-egress:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.drop(conn, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drop(conn, err)
				return
			}
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		metrics.InvalidFrames.WithLabelValues("malformed").Inc()
		c.log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	ev, err := decode(c.validate, frame)
	if err != nil {
		metrics.InvalidFrames.WithLabelValues(frame.Event).Inc()
		c.log.Warn().Err(err).Str("event", frame.Event).Msg("dropping invalid frame")
		return
	}

	switch e := ev.(type) {
	case receiveMessage:
		c.onReceive.emit(toInbound(e.MessagePayload))
	case messageDelivered:
		c.onDelivered.emit(conversation.DeliveryAck{
			MessageID: e.MessageID,
			DurableID: e.DBMessageID,
			Status:    conversation.NormalizeStatus(e.Status, conversation.StatusSent),
		})
	case typingStarted:
		c.onTyping.emit(conversation.TypingEvent{
			ConversationKey: conversation.Key(e.ConversationID),
			UserID:          e.UserID,
			Typing:          true,
		})
	case typingStopped:
		c.onTyping.emit(conversation.TypingEvent{
			ConversationKey: conversation.Key(e.ConversationID),
			UserID:          e.UserID,
		})
	default:
		if p, ok := toPresence(ev); ok {
			c.onPresence.emit(p)
		}
	}
}

// emit queues a frame on the live connection without blocking.
func (c *Client) emit(event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeValidation, "encode "+event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != conversation.StateConnected || c.egress == nil {
		return platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeConnectionUnavailable, "not connected", nil).
			WithContext("event", event)
	}
	select {
	case c.egress <- data:
		return nil
	default:
		return platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeConnectionUnavailable, "outbound buffer full", nil).
			WithContext("event", event)
	}
}

func (c *Client) setState(state conversation.ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.onState.emit(state)
}

// registry holds the handlers of one event type.
type registry[T any] struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(T)
}

func (r *registry[T]) add(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[int]func(T))
	}
	id := r.next
	r.next++
	r.handlers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}
}

func (r *registry[T]) emit(v T) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, r.handlers[id])
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(v)
	}
}
