package conversation

import (
	"context"
	"strings"

	"github.com/edumarket/chatsync/internal/infrastructure/metrics"
	"github.com/edumarket/chatsync/internal/utils/idgen"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

// SendMessage sends text, an optional file, or both to the open conversation.
// A file is uploaded first; the message is only emitted once it has a durable
// URL. The returned message reflects its status when the call returns.
func (c *Controller) SendMessage(ctx context.Context, text string, file *File) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && file == nil {
		return Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	st := c.active
	if st == nil {
		c.mu.Unlock()
		return Message{}, ErrNoActiveConversation
	}
	key, peer := st.key, st.peer
	c.mu.Unlock()

	now := c.clock.Now()
	msg := Message{
		ID:         idgen.NewProvisionalID(now),
		SenderID:   c.opts.SelfID,
		ReceiverID: peer.ID,
		Text:       text,
		Timestamp:  now,
	}

	if file == nil {
		msg.Status = StatusSending
		c.withConversation(key, func(l *messageList) bool { return l.append(msg) })
		return c.dispatch(ctx, key, msg)
	}

	if err := c.uploader.Validate(*file); err != nil {
		metrics.RecordUpload(string(KindFile), "rejected")
		return Message{}, err
	}

	msg.Status = StatusPendingUpload
	c.withConversation(key, func(l *messageList) bool { return l.append(msg) })

	attachment, err := c.uploader.Upload(ctx, *file, key)
	if err == nil {
		err = attachment.Validate()
	}
	if err != nil {
		c.withConversation(key, func(l *messageList) bool { return l.remove(msg.ID) })
		c.log.Warn().Err(err).Str("conversation", key.String()).Str("file", file.Name).Msg("attachment upload failed")
		if !platformerrors.IsPlatformError(err) {
			err = platformerrors.NewError(platformerrors.LayerUploader, platformerrors.ErrorTypeUpload, "upload failed", err)
		}
		return Message{}, err
	}

	msg.Attachment = &attachment
	if msg.Text == "" {
		msg.Text = attachment.Placeholder()
	}
	msg.Status = StatusSending
	c.withConversation(key, func(l *messageList) bool {
		return l.update(msg.ID, func(m *Message) {
			m.Attachment = msg.Attachment
			m.Text = msg.Text
			if m.Status.CanTransition(StatusSending) {
				m.Status = StatusSending
			}
		})
	})
	return c.dispatch(ctx, key, msg)
}

// ResendMessage emits a failed message again under a new provisional id.
func (c *Controller) ResendMessage(ctx context.Context, id string) (Message, error) {
	c.mu.Lock()
	st := c.active
	if st == nil {
		c.mu.Unlock()
		return Message{}, ErrNoActiveConversation
	}
	old, ok := st.messages.get(id)
	if !ok {
		c.mu.Unlock()
		return Message{}, platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "message not found", nil).
			WithContext("message_id", id)
	}
	if old.Status != StatusFailed {
		c.mu.Unlock()
		return Message{}, platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "only failed messages can be resent", nil).
			WithContext("message_id", id).
			WithContext("status", string(old.Status))
	}
	key := st.key
	c.mu.Unlock()

	now := c.clock.Now()
	msg := old
	msg.ID = idgen.NewProvisionalID(now)
	msg.Timestamp = now
	msg.Status = StatusSending
	msg.Unconfirmed = false

	c.withConversation(key, func(l *messageList) bool {
		removed := l.remove(old.ID)
		return l.append(msg) || removed
	})
	return c.dispatch(ctx, key, msg)
}

// dispatch emits a message that is already in the sending state.
func (c *Controller) dispatch(ctx context.Context, key Key, msg Message) (Message, error) {
	log := c.log.With().Str("conversation", key.String()).Str("message_id", msg.ID).Logger()

	if c.channel.State() != StateConnected {
		c.markFailed(key, msg.ID)
		msg.Status = StatusFailed
		log.Warn().Msg("channel not connected, message marked failed")
		return msg, platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeConnectionUnavailable,
			"realtime channel is not connected", nil)
	}

	c.mu.Lock()
	p := &pendingAck{key: key, sentAt: c.clock.Now()}
	id := msg.ID
	p.timer = c.clock.AfterFunc(c.opts.AckTimeout, func() { c.handleAckTimeout(id) })
	c.pending[id] = p
	c.mu.Unlock()

	err := c.channel.Send(ctx, Envelope{
		ConversationKey: key,
		MessageID:       msg.ID,
		SenderID:        msg.SenderID,
		ReceiverID:      msg.ReceiverID,
		Text:            msg.Text,
		Timestamp:       msg.Timestamp,
		Attachment:      msg.Attachment,
	})
	if err != nil {
		c.mu.Lock()
		if p, ok := c.pending[id]; ok {
			p.timer.Stop()
			delete(c.pending, id)
		}
		c.mu.Unlock()
		c.markFailed(key, id)
		msg.Status = StatusFailed
		log.Warn().Err(err).Msg("failed to emit message")
		if !platformerrors.IsPlatformError(err) {
			err = platformerrors.NewError(platformerrors.LayerChannel, platformerrors.ErrorTypeConnectionUnavailable, "emit failed", err)
		}
		return msg, err
	}

	metrics.RecordSend("emitted")
	log.Debug().Msg("message emitted")

	c.mu.Lock()
	if st := c.active; st != nil && st.key == key {
		if current, ok := st.messages.get(id); ok {
			msg = current
		}
	}
	c.mu.Unlock()
	return msg, nil
}

func (c *Controller) markFailed(key Key, id string) {
	metrics.RecordSend("failed")
	c.withConversation(key, func(l *messageList) bool {
		return l.update(id, func(m *Message) {
			if m.Status.CanTransition(StatusFailed) {
				m.Status = StatusFailed
			}
		})
	})
}

// handleAckTimeout shows the message as sent but flags it unconfirmed.
func (c *Controller) handleAckTimeout(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok || p.timedOut {
		c.mu.Unlock()
		return
	}
	p.timedOut = true
	key := p.key
	c.mu.Unlock()

	metrics.DeliveryTimeouts.Inc()
	c.log.Warn().
		Str("conversation", key.String()).
		Str("message_id", id).
		Dur("timeout", c.opts.AckTimeout).
		Msg("no delivery acknowledgment, showing message as sent")

	c.withConversation(key, func(l *messageList) bool {
		return l.update(id, func(m *Message) {
			if m.Status == StatusSending {
				m.Status = StatusSent
				m.Unconfirmed = true
			}
		})
	})
}

func (c *Controller) handleDelivered(ack DeliveryAck) {
	if ack.MessageID == "" {
		return
	}

	c.mu.Lock()
	p, tracked := c.pending[ack.MessageID]
	var key Key
	if tracked {
		p.timer.Stop()
		delete(c.pending, ack.MessageID)
		key = p.key
	} else if c.active != nil {
		key = c.active.key
	}
	c.mu.Unlock()

	if key == "" {
		return
	}
	if tracked && !p.timedOut {
		metrics.DeliveryAckLatency.Observe(c.clock.Since(p.sentAt).Seconds())
	}

	status := ack.Status
	if status != StatusDelivered {
		status = StatusSent
	}
	c.withConversation(key, func(l *messageList) bool {
		return l.reconcile(ack.MessageID, ack.DurableID, status)
	})
	c.log.Debug().
		Str("message_id", ack.MessageID).
		Str("durable_id", ack.DurableID).
		Str("status", string(status)).
		Msg("delivery acknowledged")
}
