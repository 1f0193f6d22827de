// Package guest buffers conversation history for phone numbers that
// have no member record yet. A prospective customer may exchange many
// turns with the onboarding agent before registration creates a row to
// attach messages to; this buffer is the temporary home for that
// history until the migrator drains it into durable storage.
package guest

import (
	"sync"
	"time"
)

// Message roles as produced by the conversational engine.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Attachment references an inline image in a message part.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// Part is one piece of a structured message: text, or an image.
type Part struct {
	Text  string      `json:"text,omitempty"`
	Image *Attachment `json:"image,omitempty"`
}

// Message is one buffered conversation turn.
type Message struct {
	Role  string    `json:"role"`
	Parts []Part    `json:"parts"`
	At    time.Time `json:"at"`
}

// Text builds a single-part text message.
func Text(role, text string) Message {
	return Message{
		Role:  role,
		Parts: []Part{{Text: text}},
		At:    time.Now(),
	}
}

// Buffer maps guest phone numbers to their ordered message history.
// Append-only per phone; Clear is the only removal path. Safe for
// concurrent use.
type Buffer struct {
	mu            sync.Mutex
	conversations map[string][]Message
}

// NewBuffer creates an empty guest conversation buffer.
func NewBuffer() *Buffer {
	return &Buffer{conversations: make(map[string][]Message)}
}

// Append adds a message to the end of a guest's history, creating the
// conversation on first use.
func (b *Buffer) Append(phone string, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[phone] = append(b.conversations[phone], msg)
}

// History returns a copy of the guest's messages in append order.
// Returns an empty slice, never nil, when the phone is unknown. The
// copy is deep: parts and attachments are cloned so a caller mutating
// the result cannot edit buffered history.
func (b *Buffer) History(phone string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.conversations[phone]
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = cloneMessage(msg)
	}
	return out
}

func cloneMessage(msg Message) Message {
	parts := make([]Part, len(msg.Parts))
	for i, p := range msg.Parts {
		if p.Image != nil {
			img := *p.Image
			p.Image = &img
		}
		parts[i] = p
	}
	msg.Parts = parts
	return msg
}

// Clear removes a guest's history. Clearing an absent phone is a no-op.
func (b *Buffer) Clear(phone string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, phone)
}

// Has reports whether the phone has buffered history.
func (b *Buffer) Has(phone string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conversations[phone]) > 0
}

// ActivePhones returns the phones with buffered history.
func (b *Buffer) ActivePhones() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	phones := make([]string, 0, len(b.conversations))
	for phone := range b.conversations {
		phones = append(phones, phone)
	}
	return phones
}

// Count returns the number of active guest conversations.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conversations)
}
