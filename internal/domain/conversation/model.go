package conversation

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

// Role identifies which side of the marketplace the local user is on.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// AttachmentKind is the coarse classification of a hosted attachment.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindVoice AttachmentKind = "voice"
	KindFile  AttachmentKind = "file"
)

// Attachment references a durably hosted file.
type Attachment struct {
	URL  string         `json:"url"`
	Kind AttachmentKind `json:"kind"`
	Name string         `json:"name"`
}

// Validate rejects attachments the peer could not fetch.
func (a Attachment) Validate() error {
	raw := strings.TrimSpace(a.URL)
	if raw == "" {
		return platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeUpload, "upload returned no url", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeUpload, "upload returned an invalid url", err)
	}
	if strings.EqualFold(u.Scheme, "blob") {
		return platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeUpload,
			fmt.Sprintf("upload returned an ephemeral url %q", raw), nil)
	}
	return nil
}

// Placeholder returns the body shown for an attachment-only message.
func (a Attachment) Placeholder() string {
	switch a.Kind {
	case KindImage:
		return "Sent a photo"
	case KindVoice:
		return "Sent a voice message"
	default:
		if a.Name != "" {
			return "Sent a file: " + a.Name
		}
		return "Sent a file"
	}
}

// Message is one entry of a conversation.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     Status      `json:"status"`
	Attachment *Attachment `json:"attachment,omitempty"`
	// Unconfirmed marks a message shown as sent although no delivery
	// acknowledgment arrived within the timeout.
	Unconfirmed bool `json:"unconfirmed,omitempty"`
}

// Peer is the other participant of a conversation.
type Peer struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Summary describes a conversation in a listing.
type Summary struct {
	ID            string    `json:"id"`
	Key           Key       `json:"key,omitempty"`
	PeerID        string    `json:"peer_id"`
	PeerName      string    `json:"peer_name,omitempty"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
}

// Snapshot is the full persisted state of one conversation.
type Snapshot struct {
	Key           Key       `json:"key"`
	StoreID       string    `json:"store_id,omitempty"`
	SelfID        string    `json:"self_id"`
	PeerID        string    `json:"peer_id"`
	PeerName      string    `json:"peer_name,omitempty"`
	Messages      []Message `json:"messages"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Participants returns the ids indexed for this snapshot.
func (s Snapshot) Participants() []string {
	ids := make([]string, 0, 2)
	if s.SelfID != "" {
		ids = append(ids, s.SelfID)
	}
	if s.PeerID != "" && s.PeerID != s.SelfID {
		ids = append(ids, s.PeerID)
	}
	return ids
}

// Summary converts the snapshot into a listing entry.
func (s Snapshot) Summary() Summary {
	return Summary{
		ID:            s.StoreID,
		Key:           s.Key,
		PeerID:        s.PeerID,
		PeerName:      s.PeerName,
		LastMessage:   s.LastMessage,
		LastMessageAt: s.LastMessageAt,
		UnreadCount:   s.UnreadCount,
	}
}

// Source tells where the messages of a view were loaded from.
type Source string

const (
	SourceStore Source = "store"
	SourceCache Source = "cache"
	SourceEmpty Source = "empty"
)
