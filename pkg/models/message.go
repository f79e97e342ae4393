package models

import "time"

// AttachmentType enumerates the capability types an Attachment exercises.
// Mirrors the capability type vocabulary of LlmService (§3).
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// Attachment references stored artifact content inline in a message payload.
type Attachment struct {
	Type        AttachmentType `json:"type"`
	ArtifactRef string         `json:"artifactRef"`
	Filename    string         `json:"filename"`
	Size        int64          `json:"size,omitempty"`
}

// Payload is a message body: either plain text or text with attachments.
// Exactly one of Text-only or Attachments is meaningful; Text is always
// populated (possibly empty) when Attachments is non-empty.
type Payload struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// IsPlainText reports whether this payload should be serialized as a bare
// JSON string rather than an object (no attachments).
func (p Payload) IsPlainText() bool {
	return len(p.Attachments) == 0
}

// Message is the unit of communication carried by the bus. Messages are
// immutable once sent. See SPEC_FULL §3.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	TaskID    string    `json:"taskId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`

	// attempt is an internal retry counter (SPEC_FULL §3 expansion); it is
	// never surfaced in tool-visible payloads. internal/llmclient keeps its
	// own per-call attempt count and does not read or update this field.
	attempt int
}

// Attempt returns the internal retry counter.
func (m *Message) Attempt() int { return m.attempt }

// IncrementAttempt bumps the internal retry counter and returns it.
func (m *Message) IncrementAttempt() int {
	m.attempt++
	return m.attempt
}
