package flash

import (
	"context"
	"encoding/gob"

	"github.com/alexedwards/scs/v2"
)

const sessionKey = "flash"

type Message struct {
	Type    string // "error", "success", "info", "warning"
	Content string
}

func init() {
	// scs gob-encodes session values.
	gob.Register([]Message{})
}

// Flasher queues one-shot messages in the session. They survive exactly one
// redirect: Pop returns and removes everything queued so far.
type Flasher struct {
	sm *scs.SessionManager
}

func New(sm *scs.SessionManager) *Flasher {
	return &Flasher{sm: sm}
}

// Add queues a message for the next page this session renders.
func (f *Flasher) Add(ctx context.Context, msgType, content string) {
	msgs, _ := f.sm.Get(ctx, sessionKey).([]Message)
	f.sm.Put(ctx, sessionKey, append(msgs, Message{Type: msgType, Content: content}))
}

// Pop returns the queued messages, oldest first, and clears the queue.
func (f *Flasher) Pop(ctx context.Context) []Message {
	msgs, _ := f.sm.Pop(ctx, sessionKey).([]Message)
	return msgs
}

// Error sets an error flash message
func (f *Flasher) Error(ctx context.Context, content string) {
	f.Add(ctx, "error", content)
}

// Success sets a success flash message
func (f *Flasher) Success(ctx context.Context, content string) {
	f.Add(ctx, "success", content)
}

// Info sets an info flash message
func (f *Flasher) Info(ctx context.Context, content string) {
	f.Add(ctx, "info", content)
}

// Warning sets a warning flash message
func (f *Flasher) Warning(ctx context.Context, content string) {
	f.Add(ctx, "warning", content)
}
