package platform

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Console is a Messenger that prints every action as one line to W. Message
// ids are allocated from a local counter.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	nextID int64
}

// NewConsole creates a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, nextID: 100}
}

// SendMessage prints the message and returns a fresh id.
func (c *Console) SendMessage(ctx context.Context, conversationID int64, text string, replyTo int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	if replyTo > 0 {
		_, err := fmt.Fprintf(c.w, "[%d] send_message reply_to=%d id=%d: %s\n", conversationID, replyTo, c.nextID, text)
		return c.nextID, err
	}
	_, err := fmt.Fprintf(c.w, "[%d] send_message id=%d: %s\n", conversationID, c.nextID, text)
	return c.nextID, err
}

// SendReaction prints the reaction and returns 1.
func (c *Console) SendReaction(ctx context.Context, conversationID, targetID, reactionID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.w, "[%d] send_reaction target=%d reaction=%d\n", conversationID, targetID, reactionID)
	return 1, err
}
