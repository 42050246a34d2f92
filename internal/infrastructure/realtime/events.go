package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/domain/presence"
)

// Event names shared with the server.
const (
	EventJoinConversation = "join_conversation"
	EventSendMessage      = "send_message"
	EventReceiveMessage   = "receive_message"
	EventMessageDelivered = "message_delivered"
	EventTyping           = "typing"
	EventStopTyping       = "stop_typing"
	EventUsersOnline      = "users_online"
	EventUserStatus       = "user_status"
)

// Frame is the envelope of every websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinPayload is sent to subscribe the connection to a conversation room.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	PartnerID      string `json:"partnerId"`
}

// MessagePayload is the body of send_message and receive_message.
type MessagePayload struct {
	ConversationID string    `json:"conversationId" validate:"required"`
	MessageID      string    `json:"messageId,omitempty"`
	DBMessageID    string    `json:"dbMessageId,omitempty"`
	SenderID       string    `json:"sender_id" validate:"required"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	Text           string    `json:"text" validate:"required_without=FileURL"`
	Timestamp      time.Time `json:"timestamp"`
	FileURL        string    `json:"file_url,omitempty"`
	FileType       string    `json:"file_type,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
}

// DeliveredPayload acknowledges a send_message.
type DeliveredPayload struct {
	MessageID   string `json:"messageId" validate:"required"`
	DBMessageID string `json:"dbMessageId"`
	Status      string `json:"status"`
}

// TypingPayload is the body of typing and stop_typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId" validate:"required"`
}

// UserStatusPayload reports one user's presence change.
type UserStatusPayload struct {
	UserID string `json:"userId" validate:"required"`
	Status string `json:"status" validate:"required"`
}

// inbound is the closed set of decoded server events.
type inbound interface {
	name() string
}

type (
	receiveMessage   struct{ MessagePayload }
	messageDelivered struct{ DeliveredPayload }
	typingStarted    struct{ TypingPayload }
	typingStopped    struct{ TypingPayload }
	usersOnline      struct{ UserIDs []string }
	userStatus       struct{ UserStatusPayload }
)

func (receiveMessage) name() string   { return EventReceiveMessage }
func (messageDelivered) name() string { return EventMessageDelivered }
func (typingStarted) name() string    { return EventTyping }
func (typingStopped) name() string    { return EventStopTyping }
func (usersOnline) name() string      { return EventUsersOnline }
func (userStatus) name() string       { return EventUserStatus }

// decode turns a raw frame into one of the inbound variants.
func decode(v *validator.Validate, frame Frame) (inbound, error) {
	var (
		ev      inbound
		payload any
	)
	switch frame.Event {
	case EventReceiveMessage:
		var p receiveMessage
		if err := json.Unmarshal(frame.Data, &p.MessagePayload); err != nil {
			return nil, err
		}
		ev, payload = p, &p.MessagePayload
	case EventMessageDelivered:
		var p messageDelivered
		if err := json.Unmarshal(frame.Data, &p.DeliveredPayload); err != nil {
			return nil, err
		}
		ev, payload = p, &p.DeliveredPayload
	case EventTyping:
		var p typingStarted
		if err := json.Unmarshal(frame.Data, &p.TypingPayload); err != nil {
			return nil, err
		}
		ev, payload = p, &p.TypingPayload
	case EventStopTyping:
		var p typingStopped
		if err := json.Unmarshal(frame.Data, &p.TypingPayload); err != nil {
			return nil, err
		}
		ev, payload = p, &p.TypingPayload
	case EventUsersOnline:
		var p usersOnline
		if err := json.Unmarshal(frame.Data, &p.UserIDs); err != nil {
			return nil, err
		}
		return p, nil
	case EventUserStatus:
		var p userStatus
		if err := json.Unmarshal(frame.Data, &p.UserStatusPayload); err != nil {
			return nil, err
		}
		ev, payload = p, &p.UserStatusPayload
	default:
		return nil, fmt.Errorf("unknown event %q", frame.Event)
	}

	if err := v.Struct(payload); err != nil {
		return nil, err
	}
	return ev, nil
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

func toInbound(p MessagePayload) conversation.InboundMessage {
	msg := conversation.InboundMessage{
		ConversationKey: conversation.Key(p.ConversationID),
		MessageID:       p.MessageID,
		DurableID:       p.DBMessageID,
		SenderID:        p.SenderID,
		ReceiverID:      p.ReceiverID,
		Text:            p.Text,
		Timestamp:       p.Timestamp,
	}
	if p.FileURL != "" {
		msg.Attachment = &conversation.Attachment{
			URL:  p.FileURL,
			Kind: kindFromWire(p.FileType),
			Name: p.FileName,
		}
	}
	return msg
}

func fromEnvelope(env conversation.Envelope) MessagePayload {
	p := MessagePayload{
		ConversationID: string(env.ConversationKey),
		MessageID:      env.MessageID,
		SenderID:       env.SenderID,
		ReceiverID:     env.ReceiverID,
		Text:           env.Text,
		Timestamp:      env.Timestamp,
	}
	if env.Attachment != nil {
		p.FileURL = env.Attachment.URL
		p.FileType = string(env.Attachment.Kind)
		p.FileName = env.Attachment.Name
	}
	return p
}

// kindFromWire accepts both attachment kinds and MIME types.
func kindFromWire(raw string) conversation.AttachmentKind {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case raw == string(conversation.KindImage), strings.HasPrefix(raw, "image/"):
		return conversation.KindImage
	case raw == string(conversation.KindVoice), raw == "audio", strings.HasPrefix(raw, "audio/"):
		return conversation.KindVoice
	default:
		return conversation.KindFile
	}
}

func toPresence(ev inbound) (presence.Event, bool) {
	switch e := ev.(type) {
	case usersOnline:
		return presence.Event{Snapshot: true, UserIDs: e.UserIDs}, true
	case userStatus:
		status := presence.StatusOnline
		if strings.EqualFold(e.Status, string(presence.StatusOffline)) {
			status = presence.StatusOffline
		}
		return presence.Event{UserID: e.UserID, Status: status}, true
	}
	return presence.Event{}, false
}
