package llmservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ChatFunc performs a single meta-LLM call used only for service selection.
// Selector is deliberately decoupled from internal/llmclient's concrete
// type so the selection path can be exercised with a stub in tests.
type ChatFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// Selection is the outcome of Select.
type Selection struct {
	ServiceID string
	Reason    string
}

// Selector maps a role prompt to an LLM service id by querying a meta-LLM
// over the catalog description (SPEC_FULL §4.3).
type Selector struct {
	registry *Registry
	chat     ChatFunc
	logger   *slog.Logger
}

// NewSelector builds a Selector over registry, using chat to perform the
// meta-LLM call.
func NewSelector(registry *Registry, chat ChatFunc, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{registry: registry, chat: chat, logger: logger}
}

func buildCatalogDescription(r *Registry) string {
	var b strings.Builder
	for _, svc := range r.ListServices() {
		fmt.Fprintf(&b, "- id=%s name=%q model=%s description=%q capabilities=%+v\n",
			svc.ID, svc.Name, svc.Model, svc.Description, svc.EffectiveCapabilities())
	}
	return b.String()
}

// Select chooses a service for rolePrompt. If the registry is empty,
// returns nil with no LLM call at all. An unknown or "null" id from the
// meta-LLM, an unparseable reply, or any error from the call yields a
// Selection with an empty ServiceID and a Reason describing why (caller
// falls back to the default service).
func (s *Selector) Select(ctx context.Context, rolePrompt string) (*Selection, error) {
	if s.registry.Empty() {
		return nil, nil
	}

	sys := "You are selecting the best LLM service for an agent role from a catalog. " +
		`Respond with strict JSON: {"serviceId": "<id or null>", "reason": "<short reason>"}.`
	user := fmt.Sprintf("Role prompt:\n%s\n\nCatalog:\n%s", rolePrompt, buildCatalogDescription(s.registry))

	text, err := s.chat(ctx, sys, user)
	if err != nil {
		return &Selection{ServiceID: "", Reason: fmt.Sprintf("selection call failed: %v", err)}, nil
	}

	parsed, err := parseSelectionResponse(text)
	if err != nil {
		s.logger.Warn("llm service selector returned unparseable response", "error", err)
		return &Selection{ServiceID: "", Reason: fmt.Sprintf("unparseable selector response: %v", err)}, nil
	}

	if parsed.ServiceID == "" || strings.EqualFold(parsed.ServiceID, "null") {
		return &Selection{ServiceID: "", Reason: parsed.Reason}, nil
	}

	if s.registry.GetServiceByID(parsed.ServiceID) == nil {
		s.logger.Warn("llm service selector chose unknown service id", "id", parsed.ServiceID)
		return &Selection{ServiceID: "", Reason: fmt.Sprintf("unknown service id %q", parsed.ServiceID)}, nil
	}

	return &Selection{ServiceID: parsed.ServiceID, Reason: parsed.Reason}, nil
}
