package models

import "time"

// Artifact is a content-addressed blob with sidecar metadata. Content lives
// in a sibling file named "{id}{extension}"; metadata lives in "{id}.meta".
// See SPEC_FULL §3, §4.1.
type Artifact struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"createdAt"`
	Extension string         `json:"extension"`
	MessageID string         `json:"messageId,omitempty"`
	MimeType  string         `json:"mimeType,omitempty"`
	Size      int64          `json:"size,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Ref returns this artifact's external reference form, "artifact:{id}".
func (a *Artifact) Ref() string {
	return "artifact:" + a.ID
}
