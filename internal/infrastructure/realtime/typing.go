package realtime

import (
	"github.com/edumarket/chatsync/internal/domain/conversation"
)

// EmitTyping announces that userID is typing in key. The first call of a
// burst emits typing; stop_typing follows once no call arrives for the idle
// period.
func (c *Client) EmitTyping(key conversation.Key, userID string) error {
	c.mu.Lock()
	timer, active := c.typing[key]
	if active {
		timer.Reset(c.opts.TypingIdle)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	payload := TypingPayload{ConversationID: string(key), UserID: userID}
	if err := c.emit(EventTyping, payload); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if existing, ok := c.typing[key]; ok {
		existing.Reset(c.opts.TypingIdle)
		return nil
	}
	c.typing[key] = c.clock.AfterFunc(c.opts.TypingIdle, func() { c.stopTyping(key, payload) })
	return nil
}

func (c *Client) stopTyping(key conversation.Key, payload TypingPayload) {
	c.mu.Lock()
	delete(c.typing, key)
	c.mu.Unlock()

	if err := c.emit(EventStopTyping, payload); err != nil {
		c.log.Debug().Err(err).Str("conversation", key.String()).Msg("stop_typing not sent")
	}
}
