package chat

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"miku/bus"
	"miku/model"
)

// EditMessage replaces the content of the message at index in the
// conversation at slug.
func (c *Controller) EditMessage(slug string, index int, content string) error {
	if strings.TrimSpace(content) == "" {
		return model.ErrValidation
	}
	return c.rewrite(slug, index, "message edited", func(msgs []model.Message) []model.Message {
		msgs[index].Content = content
		return msgs
	})
}

// DeleteMessage removes the message at index from the conversation at slug.
func (c *Controller) DeleteMessage(slug string, index int) error {
	return c.rewrite(slug, index, "message deleted", func(msgs []model.Message) []model.Message {
		return append(msgs[:index], msgs[index+1:]...)
	})
}

// rewrite applies fn to the stored messages under the turn lock, so an edit
// never races a streaming reply.
func (c *Controller) rewrite(slug string, index int, what string, fn func([]model.Message) []model.Message) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return model.ErrTurnInFlight
	}
	defer c.inFlight.Store(false)

	rec, err := c.conversations.Open(slug)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	if index < 0 || index >= len(rec.Messages) {
		return fmt.Errorf("%w: no message at %d", model.ErrValidation, index)
	}

	msgs := fn(model.CloneMessages(rec.Messages))
	if _, err := c.conversations.SaveMessages(rec.ID, rec.Version, msgs); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	c.bus.Emit(bus.KindConversationUpdated, ConversationUpdate{ID: rec.ID, Slug: slug, Messages: msgs})
	c.logger.Info(what, zap.String("slug", slug), zap.Int("index", index))
	return nil
}
