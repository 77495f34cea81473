package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// DiscoverModels probes an OpenAI-compatible runtime for its model list and
// returns one discovered agent identity per model, with a display label
// derived from the model id.
func DiscoverModels(ctx context.Context, baseURL string) ([]types.AgentIdentity, error) {
	base := strings.TrimRight(baseURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("discovery returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse discovery response: %w", err)
	}

	agents := make([]types.AgentIdentity, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if m.ID == "" {
			continue
		}
		agents = append(agents, types.AgentIdentity{
			ID:             "discovered-" + sanitizeID(m.ID),
			Label:          DeriveLabel(m.ID),
			Provider:       types.ProviderLocal,
			Model:          m.ID,
			Endpoint:       base + "/v1/chat/completions",
			StreamMode:     types.StreamSSE,
			UseFactContext: true,
			Origin:         types.OriginDiscovered,
		})
	}

	logging.Transport("discovered %d models at %s", len(agents), base)
	return agents, nil
}

// DeriveLabel turns a model id like "llama3:8b-instruct" into a display
// label like "Llama3".
func DeriveLabel(modelID string) string {
	name := modelID
	for _, sep := range []string{":", "/", "@"} {
		if i := strings.Index(name, sep); i > 0 {
			name = name[:i]
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return modelID
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func sanitizeID(modelID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(modelID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
