package types

import (
	"fmt"
	"strings"
)

// Provider identifies what kind of backend answers for an agent.
type Provider string

const (
	// ProviderMock answers locally with canned text, no network.
	ProviderMock Provider = "mock"
	// ProviderLocal is a discovered local runtime (ollama, llama.cpp, etc).
	ProviderLocal Provider = "local"
	// ProviderRemote is any remote OpenAI-compatible endpoint.
	ProviderRemote Provider = "remote"
)

// StreamMode selects how the transport consumes the completion response.
type StreamMode string

const (
	StreamSSE  StreamMode = "sse"  // server-sent events, token by token
	StreamFull StreamMode = "full" // single JSON body
	StreamNone StreamMode = "none" // non-streaming request, one callback
)

// Origin records how an agent identity came to exist. It drives UI policy
// only: discovered/default identities are reset, never deleted; custom
// identities may be deleted outright.
type Origin string

const (
	OriginMock       Origin = "mock"
	OriginDiscovered Origin = "discovered"
	OriginDefault    Origin = "remote-default"
	OriginCustom     Origin = "custom"
)

// AgentIdentity is a configured responder: a model behind an endpoint with
// a display identity. This is the canonical schema for what the settings
// layer calls a ModelConfig.
type AgentIdentity struct {
	ID           string            `yaml:"id" json:"id"`
	Label        string            `yaml:"label" json:"label"`
	Provider     Provider          `yaml:"provider" json:"provider"`
	Model        string            `yaml:"model" json:"model"`
	Endpoint     string            `yaml:"endpoint" json:"endpoint"`
	APIKey       string            `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty" json:"extra_headers,omitempty"`
	StreamMode   StreamMode        `yaml:"stream_mode" json:"stream_mode"`
	// UseFactContext controls whether relevance-ranked facts are injected
	// into this agent's system instruction.
	UseFactContext bool   `yaml:"use_fact_context" json:"use_fact_context"`
	Origin         Origin `yaml:"origin" json:"origin"`
}

// Validate enforces the endpoint invariant: mock identities carry no
// endpoint, everything else must resolve to one before a turn starts.
func (a *AgentIdentity) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent identity missing id")
	}
	if a.Label == "" {
		return fmt.Errorf("agent %s missing label", a.ID)
	}
	switch a.Provider {
	case ProviderMock:
		if a.Endpoint != "" {
			return fmt.Errorf("mock agent %s must not have an endpoint", a.ID)
		}
	case ProviderLocal, ProviderRemote:
		if strings.TrimSpace(a.Endpoint) == "" {
			return fmt.Errorf("agent %s (%s) has no endpoint configured", a.ID, a.Provider)
		}
	default:
		return fmt.Errorf("agent %s has unknown provider %q", a.ID, a.Provider)
	}
	return nil
}

// Deletable reports whether the identity may be removed rather than reset.
func (a *AgentIdentity) Deletable() bool {
	return a.Origin == OriginCustom
}

// Prefix returns the mandatory identity prefix every reply from this agent
// must begin with.
func (a *AgentIdentity) Prefix() string {
	return "[" + a.Label + "]:"
}

// Merge returns a copy of a with non-zero fields of override applied.
// Used when user settings overlay a discovered or default identity.
func (a AgentIdentity) Merge(override AgentIdentity) AgentIdentity {
	out := a
	if override.Label != "" {
		out.Label = override.Label
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Endpoint != "" {
		out.Endpoint = override.Endpoint
	}
	if override.APIKey != "" {
		out.APIKey = override.APIKey
	}
	if override.StreamMode != "" {
		out.StreamMode = override.StreamMode
	}
	if len(override.ExtraHeaders) > 0 {
		merged := make(map[string]string, len(a.ExtraHeaders)+len(override.ExtraHeaders))
		for k, v := range a.ExtraHeaders {
			merged[k] = v
		}
		for k, v := range override.ExtraHeaders {
			merged[k] = v
		}
		out.ExtraHeaders = merged
	}
	return out
}
