package gateway

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/edumarket/chatsync/internal/domain/conversation"
)

// flexID accepts ids encoded either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type conversationsResponse struct {
	Conversations []conversationDTO `json:"conversations"`
}

type conversationDTO struct {
	ID              flexID    `json:"id"`
	ConversationKey string    `json:"conversationId"`
	PartnerID       flexID    `json:"partner_id"`
	PartnerName     string    `json:"partner_name"`
	LastMessage     string    `json:"last_message"`
	LastMessageAt   time.Time `json:"last_message_time"`
	UnreadCount     int       `json:"unread_count"`
}

func (d conversationDTO) toSummary(selfID string) conversation.Summary {
	s := conversation.Summary{
		ID:            string(d.ID),
		PeerID:        string(d.PartnerID),
		PeerName:      d.PartnerName,
		LastMessage:   d.LastMessage,
		LastMessageAt: d.LastMessageAt,
		UnreadCount:   d.UnreadCount,
	}
	if key, err := conversation.ParseKey(d.ConversationKey); err == nil {
		s.Key = key
		if s.PeerID == "" {
			student, tutor, _ := key.Participants()
			if student == selfID {
				s.PeerID = tutor
			} else {
				s.PeerID = student
			}
		}
	}
	if s.ID == "" {
		s.ID = string(s.Key)
	}
	return s
}

type messagesResponse struct {
	Messages []messageDTO `json:"messages"`
}

type messageDTO struct {
	ID         flexID    `json:"id"`
	SenderID   flexID    `json:"sender_id"`
	ReceiverID flexID    `json:"receiver_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`
	FileURL    string    `json:"file_url"`
	FileType   string    `json:"file_type"`
	FileName   string    `json:"file_name"`
}

func (d messageDTO) toMessage() conversation.Message {
	m := conversation.Message{
		ID:         string(d.ID),
		SenderID:   string(d.SenderID),
		ReceiverID: string(d.ReceiverID),
		Text:       d.Text,
		Timestamp:  d.Timestamp,
		Status:     conversation.NormalizeStatus(d.Status, conversation.StatusSent),
	}
	if d.FileURL != "" {
		m.Attachment = &conversation.Attachment{
			URL:  d.FileURL,
			Kind: kindOf(d.FileType),
			Name: d.FileName,
		}
		if m.Text == "" {
			m.Text = m.Attachment.Placeholder()
		}
	}
	return m
}

func kindOf(raw string) conversation.AttachmentKind {
	raw = strings.ToLower(raw)
	switch {
	case raw == "image", strings.HasPrefix(raw, "image/"):
		return conversation.KindImage
	case raw == "voice", raw == "audio", strings.HasPrefix(raw, "audio/"):
		return conversation.KindVoice
	default:
		return conversation.KindFile
	}
}
