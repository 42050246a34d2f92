package conversation

import (
	"github.com/edumarket/chatsync/internal/domain/presence"
	"github.com/edumarket/chatsync/internal/infrastructure/metrics"
)

// NotifyTyping tells the peer that the local user is typing. The channel
// emits the matching stop event after a period without keystrokes.
func (c *Controller) NotifyTyping() {
	c.mu.Lock()
	st := c.active
	if st == nil {
		c.mu.Unlock()
		return
	}
	key := st.key
	c.mu.Unlock()

	if err := c.channel.EmitTyping(key, c.opts.SelfID); err != nil {
		c.log.Debug().Err(err).Str("conversation", key.String()).Msg("typing indicator not sent")
	}
}

func (c *Controller) handleReceive(in InboundMessage) {
	c.mu.Lock()
	st := c.active
	if st == nil {
		c.mu.Unlock()
		metrics.RecordDropped("no_conversation")
		return
	}
	if !isRelevant(in, c.opts.SelfID, st.peer.ID) {
		c.mu.Unlock()
		metrics.RecordDropped("irrelevant")
		c.log.Debug().
			Str("sender_id", in.SenderID).
			Str("receiver_id", in.ReceiverID).
			Msg("ignoring message for another conversation")
		return
	}

	// the server echoes our own message with its durable id
	if in.SenderID == c.opts.SelfID && in.MessageID != "" && in.DurableID != "" {
		if m, ok := st.messages.get(in.MessageID); ok && m.ID != in.DurableID {
			c.mu.Unlock()
			c.handleDelivered(DeliveryAck{MessageID: in.MessageID, DurableID: in.DurableID, Status: StatusSent})
			return
		}
	}

	if st.messages.contains(in.DurableID, in.MessageID) {
		c.mu.Unlock()
		metrics.RecordDropped("duplicate")
		return
	}

	msg := Message{
		ID:         in.ID(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		Timestamp:  in.Timestamp,
		Status:     StatusSent,
		Attachment: in.Attachment,
	}
	if msg.ReceiverID == "" {
		if in.SenderID == c.opts.SelfID {
			msg.ReceiverID = st.peer.ID
		} else {
			msg.ReceiverID = c.opts.SelfID
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.clock.Now()
	}
	if msg.Text == "" && msg.Attachment != nil {
		msg.Text = msg.Attachment.Placeholder()
	}
	if in.SenderID == st.peer.ID {
		msg.Status = StatusDelivered
		c.clearTypingLocked(st)
	}
	if in.MessageID != "" && in.DurableID != "" && in.MessageID != in.DurableID {
		st.messages.aliases[in.MessageID] = in.DurableID
	}
	st.messages.append(msg)

	loading := st.loading
	snap := c.snapshotLocked(st)
	c.mu.Unlock()

	metrics.MessagesReceived.Inc()
	if !loading {
		c.persist(snap)
	}
	c.notify()
}

// isRelevant accepts only messages exchanged between the local user and the
// open conversation's peer.
func isRelevant(in InboundMessage, selfID, peerID string) bool {
	switch in.SenderID {
	case peerID:
		return in.ReceiverID == "" || in.ReceiverID == selfID
	case selfID:
		return in.ReceiverID == "" || in.ReceiverID == peerID
	default:
		return false
	}
}

func (c *Controller) handleTyping(ev TypingEvent) {
	c.mu.Lock()
	st := c.active
	if st == nil || ev.UserID != st.peer.ID || (ev.ConversationKey != "" && ev.ConversationKey != st.key) {
		c.mu.Unlock()
		return
	}

	if !ev.Typing {
		changed := st.typing
		c.clearTypingLocked(st)
		c.mu.Unlock()
		if changed {
			c.notify()
		}
		return
	}

	st.typing = true
	st.typingSeq++
	seq := st.typingSeq
	if st.typingTimer != nil {
		st.typingTimer.Stop()
	}
	st.typingTimer = c.clock.AfterFunc(c.opts.TypingTTL, func() { c.expireTyping(st, seq) })
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) expireTyping(st *activeConversation, seq uint64) {
	c.mu.Lock()
	if c.active != st || st.typingSeq != seq || !st.typing {
		c.mu.Unlock()
		return
	}
	st.typing = false
	st.typingTimer = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) clearTypingLocked(st *activeConversation) {
	st.typing = false
	st.typingSeq++
	if st.typingTimer != nil {
		st.typingTimer.Stop()
		st.typingTimer = nil
	}
}

func (c *Controller) handlePresence(ev presence.Event) {
	if c.presence.Apply(ev) {
		c.notify()
	}
}

func (c *Controller) handleStateChange(state ConnectionState) {
	c.log.Info().Str("state", string(state)).Msg("realtime channel state changed")
	if state == StateDisconnected || state == StateError {
		c.mu.Lock()
		if st := c.active; st != nil && st.typing {
			c.clearTypingLocked(st)
		}
		c.mu.Unlock()
	}
	c.notify()
}
