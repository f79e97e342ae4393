// Package format implements the message formatter of SPEC_FULL §6: the
// fixed Chinese-string contract the turn driver uses to render a bus
// message as a conversation "user" turn before it reaches the LLM. These
// strings are wire format, not UI text, and are therefore specified
// exactly — see spec §6 and property 9 in §8.
//
// No teacher package formats messages this way (the teacher's formatting
// lives in now-deleted channel adapters); this is new code written in the
// teacher's doc-comment style.
package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentmesh/runtime/pkg/models"
)

// SenderInfo carries the display metadata for a message's sender, as
// resolved by the caller (the organization, or the well-known user).
type SenderInfo struct {
	Role string // role name; "" is rendered as "unknown"
}

const (
	userMessageHeader = "【来自用户的消息】"
	attachmentsHeader = "【附件列表】"
)

// FormatMessage renders msg as the single string appended as a "user" turn
// in the recipient's conversation.
func FormatMessage(msg *models.Message, sender SenderInfo) string {
	body := contentText(msg.Payload)

	from := msg.From
	if from == "" {
		from = "unknown"
	}

	var b strings.Builder
	if from == models.UserAgentID {
		b.WriteString(userMessageHeader)
		b.WriteString("\n")
		b.WriteString(body)
		if len(msg.Payload.Attachments) > 0 {
			b.WriteString("\n")
			b.WriteString(attachmentsHeader)
			for _, att := range msg.Payload.Attachments {
				b.WriteString("\n")
				b.WriteString(formatAttachment(att))
			}
		}
		return b.String()
	}

	role := sender.Role
	if role == "" {
		role = "unknown"
	}
	b.WriteString(fmt.Sprintf("【来自 %s（%s）的消息】", role, from))
	b.WriteString("\n")
	b.WriteString(body)
	if len(msg.Payload.Attachments) > 0 {
		b.WriteString("\n")
		b.WriteString(attachmentsHeader)
		for _, att := range msg.Payload.Attachments {
			b.WriteString("\n")
			b.WriteString(formatAttachment(att))
		}
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("如需回复，请使用 send_message(to='%s', ...)", from))
	return b.String()
}

// contentText returns the payload's Text as the body text. Extraction of
// text/content keys and JSON serialization of other objects apply only to
// loosely-typed payloads rendered through FormatRaw.
func contentText(p models.Payload) string {
	return p.Text
}

// FormatRaw renders a message whose payload arrived as an arbitrary
// decoded JSON value rather than models.Payload — used when a bus message
// originates from an external, loosely-typed source (e.g. the HTTP
// surface's /api/send). A bare string payload is used directly;
// "text"/"content" keys are extracted when present; any other object is
// JSON-serialized.
func FormatRaw(payload any, from, roleName string) string {
	body := rawContentText(payload)
	msg := &models.Message{From: from, Payload: models.Payload{Text: body}}
	return FormatMessage(msg, SenderInfo{Role: roleName})
}

func rawContentText(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case map[string]any:
		if text, ok := v["text"].(string); ok {
			return text
		}
		if content, ok := v["content"].(string); ok {
			return content
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}

func formatAttachment(att models.Attachment) string {
	label := "[文件]"
	if att.Type == models.AttachmentImage {
		label = "[图片]"
	}
	return fmt.Sprintf("%s %s %s", label, att.Filename, att.ArtifactRef)
}
