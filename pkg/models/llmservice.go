package models

// CapabilityType is a declared input or output modality of an LLM service.
type CapabilityType string

const (
	CapabilityText  CapabilityType = "text"
	CapabilityImage CapabilityType = "image"
	CapabilityFile  CapabilityType = "file"
)

// CapabilityDirection distinguishes input (what the service accepts) from
// output (what the service produces).
type CapabilityDirection string

const (
	DirectionInput  CapabilityDirection = "input"
	DirectionOutput CapabilityDirection = "output"
)

// Capabilities declares the modalities an LlmService accepts and produces.
// The zero value (no entries in either list) is never used directly;
// DefaultCapabilities fills the spec-mandated default of {input:[text],
// output:[text]} when a catalog entry omits this field.
type Capabilities struct {
	Input  []CapabilityType `yaml:"input" json:"input"`
	Output []CapabilityType `yaml:"output" json:"output"`
}

// DefaultCapabilities is used when a catalog entry has no capabilities block.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Input:  []CapabilityType{CapabilityText},
		Output: []CapabilityType{CapabilityText},
	}
}

// Has reports whether the given type is listed in the given direction.
func (c Capabilities) Has(direction CapabilityDirection, t CapabilityType) bool {
	list := c.Input
	if direction == DirectionOutput {
		list = c.Output
	}
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// LlmService describes one backend chat-completion model in the registry
// catalog. See SPEC_FULL §3, §4.3.
type LlmService struct {
	ID                    string            `yaml:"id" json:"id"`
	Name                  string            `yaml:"name" json:"name"`
	BaseURL               string            `yaml:"baseURL" json:"baseURL"`
	Model                 string            `yaml:"model" json:"model"`
	APIKey                string            `yaml:"apiKey" json:"apiKey"`
	CapabilityTags        []string          `yaml:"capabilityTags,omitempty" json:"capabilityTags,omitempty"`
	Description           string            `yaml:"description,omitempty" json:"description,omitempty"`
	MaxConcurrentRequests int               `yaml:"maxConcurrentRequests,omitempty" json:"maxConcurrentRequests,omitempty"`
	Capabilities          *Capabilities     `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`

	// RequestTimeoutSeconds is an optional per-service HTTP timeout
	// (SPEC_FULL §3 expansion); zero means the runtime-wide default applies.
	RequestTimeoutSeconds int `yaml:"requestTimeoutSeconds,omitempty" json:"requestTimeoutSeconds,omitempty"`
}

// EffectiveCapabilities returns Capabilities, defaulting when unset.
func (s *LlmService) EffectiveCapabilities() Capabilities {
	if s.Capabilities == nil {
		return DefaultCapabilities()
	}
	return *s.Capabilities
}

// Valid reports whether this entry has the minimum fields to be usable.
// Malformed entries are dropped by the registry loader, never fatal.
func (s *LlmService) Valid() bool {
	return s.ID != "" && s.BaseURL != "" && s.Model != ""
}
