package conversation

import (
	"context"
	"io"
	"time"

	"github.com/edumarket/chatsync/internal/domain/presence"
)

// ConnectionState is the lifecycle state of the realtime channel.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateError        ConnectionState = "error"
)

// Envelope is an outbound chat message.
type Envelope struct {
	ConversationKey Key
	MessageID       string
	SenderID        string
	ReceiverID      string
	Text            string
	Timestamp       time.Time
	Attachment      *Attachment
}

// InboundMessage is a chat message pushed by the channel. MessageID is the
// client-generated id when the sender supplied one; DurableID is the id
// assigned by the store.
type InboundMessage struct {
	ConversationKey Key
	MessageID       string
	DurableID       string
	SenderID        string
	ReceiverID      string
	Text            string
	Timestamp       time.Time
	Attachment      *Attachment
}

// ID returns the most durable identifier available.
func (m InboundMessage) ID() string {
	if m.DurableID != "" {
		return m.DurableID
	}
	return m.MessageID
}

// DeliveryAck confirms that the server accepted an outbound message.
type DeliveryAck struct {
	MessageID string
	DurableID string
	Status    Status
}

// TypingEvent reports that a user started or stopped typing.
type TypingEvent struct {
	ConversationKey Key
	UserID          string
	Typing          bool
}

// File is a local file selected for upload.
type File struct {
	Name        string
	ContentType string
	// Size is the declared length. Zero means unknown and is only accepted
	// when Body can seek.
	Size int64
	Body io.Reader
	// Voice marks a recorded voice note regardless of its content type.
	Voice bool
}

// Channel is the persistent bidirectional realtime connection.
type Channel interface {
	Connect(ctx context.Context, userID string) error
	State() ConnectionState
	JoinConversation(ctx context.Context, key Key, selfID, peerID string) error
	Send(ctx context.Context, env Envelope) error
	EmitTyping(key Key, userID string) error
	OnReceive(fn func(InboundMessage)) (unsubscribe func())
	OnDelivered(fn func(DeliveryAck)) (unsubscribe func())
	OnTyping(fn func(TypingEvent)) (unsubscribe func())
	OnPresence(fn func(presence.Event)) (unsubscribe func())
	OnStateChange(fn func(ConnectionState)) (unsubscribe func())
}

// Gateway reads conversations from the authoritative store.
type Gateway interface {
	ListConversations(ctx context.Context, selfID string) ([]Summary, error)
	FetchMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// Uploader publishes local files and returns their durable reference.
type Uploader interface {
	Validate(file File) error
	Upload(ctx context.Context, file File, key Key) (Attachment, error)
}

// Cache persists conversation snapshots on the local device.
type Cache interface {
	Get(ctx context.Context, key Key) (Snapshot, bool, error)
	Set(ctx context.Context, key Key, snapshot Snapshot) error
	KeysFor(ctx context.Context, participantID string) ([]Key, error)
}
