package multiagent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/agentmesh/runtime/internal/artifacts"
	"github.com/agentmesh/runtime/internal/llmservice"
	"github.com/agentmesh/runtime/pkg/models"
)

// CapabilityRouter adapts a message's attachments to what a target LLM
// service can actually consume (SPEC_FULL §4.4). The teacher's file of the
// same name and package routed traffic by health and load; this rewrite
// keeps neither — routing here is purely about attachment-type capability,
// not which backend instance is healthiest.
type CapabilityRouter struct {
	artifacts artifacts.Store
	registry  *llmservice.Registry
	org       *Organization
	logger    *slog.Logger
}

// NewCapabilityRouter wires a router to the artifact store (to fetch and
// base64-encode attachment content), the LLM service registry (to check
// target capabilities), and the organization (to suggest capable agents).
func NewCapabilityRouter(store artifacts.Store, registry *llmservice.Registry, org *Organization, logger *slog.Logger) *CapabilityRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilityRouter{artifacts: store, registry: registry, org: org, logger: logger}
}

// RouteContent adapts msg.Payload for delivery to targetServiceID, producing
// the LLMContent value the turn driver passes to the LLM client: a plain
// string when there are no attachments, or a []models.ContentPart array
// when at least one attachment needed adaptation or pass-through encoding.
func (r *CapabilityRouter) RouteContent(ctx context.Context, msg *models.Message, targetServiceID string) any {
	if len(msg.Payload.Attachments) == 0 {
		return msg.Payload.Text
	}

	parts := []models.ContentPart{{Type: "text", Text: msg.Payload.Text}}
	for _, att := range msg.Payload.Attachments {
		parts = append(parts, r.routeAttachment(ctx, att, targetServiceID))
	}
	return parts
}

func (r *CapabilityRouter) attachmentCapability(att models.Attachment) models.CapabilityType {
	if att.Type == models.AttachmentImage {
		return models.CapabilityImage
	}
	return models.CapabilityFile
}

func (r *CapabilityRouter) routeAttachment(ctx context.Context, att models.Attachment, targetServiceID string) models.ContentPart {
	capType := r.attachmentCapability(att)
	if r.registry.HasCapability(targetServiceID, capType, models.DirectionInput) {
		if att.Type == models.AttachmentImage {
			return r.inlineImage(ctx, att)
		}
		return r.passThroughFile(ctx, att)
	}
	return r.structuredStub(att, capType)
}

// inlineImage fetches image content and inlines it as a base64 data URL.
// On fetch failure the slot becomes a text stub naming the filename, per
// SPEC_FULL §4.4.
func (r *CapabilityRouter) inlineImage(ctx context.Context, att models.Attachment) models.ContentPart {
	content, err := r.artifacts.Get(ctx, att.ArtifactRef)
	if err != nil {
		r.logger.Warn("image artifact fetch failed, degrading to text stub", "ref", att.ArtifactRef, "error", err)
		return models.ContentPart{Type: "text", Text: fmt.Sprintf("[image unavailable: %s]", att.Filename)}
	}
	mimeType := content.Meta.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(content.Data))
	return models.ContentPart{Type: "image_url", ImageURL: &models.ImageURL{URL: dataURL}}
}

// passThroughFile handles non-image attachments the target declares file
// input capability for: described as a text block naming the reference,
// since LLMContent has no generic binary-file part shape.
func (r *CapabilityRouter) passThroughFile(ctx context.Context, att models.Attachment) models.ContentPart {
	return models.ContentPart{Type: "text", Text: fmt.Sprintf("[file: %s] %s (%d bytes)", att.Filename, att.ArtifactRef, att.Size)}
}

// structuredStub replaces an attachment the target cannot consume with the
// same "[图片]/[文件] filename artifactRef" marker internal/format renders
// for the non-multimodal path (SPEC_FULL §8 property 6), plus a suggestion
// of agents that can actually handle it.
func (r *CapabilityRouter) structuredStub(att models.Attachment, capType models.CapabilityType) models.ContentPart {
	label := "[文件]"
	if att.Type == models.AttachmentImage {
		label = "[图片]"
	}
	text := fmt.Sprintf("%s %s %s", label, att.Filename, att.ArtifactRef)

	if r.org != nil {
		capable := r.org.FindCapableAgents(capType)
		if len(capable) > 0 {
			ids := make([]string, 0, len(capable))
			for _, a := range capable {
				ids = append(ids, a.AgentID)
			}
			text += fmt.Sprintf(" capable agents: %v", ids)
		}
	}
	return models.ContentPart{Type: "text", Text: text}
}
