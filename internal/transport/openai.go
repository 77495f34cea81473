package transport

import (
	"bufio"
	"bytes"
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

// HTTPStreamer talks to OpenAI-compatible chat-completions endpoints.
type HTTPStreamer struct {
	httpClient *http.Client
}

// NewHTTPStreamer creates a streamer with the given request timeout.
func NewHTTPStreamer(timeout time.Duration) *HTTPStreamer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPStreamer{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Stream issues the completion request. SSE agents are consumed token by
// token; full/none agents await the whole body. Transport and HTTP-status
// failures go to OnError; a cancelled context suppresses all callbacks.
func (s *HTTPStreamer) Stream(ctx context.Context, req Request, cb Callbacks) {
	start := time.Now()

	sse := req.Agent.StreamMode == types.StreamSSE
	body, err := marshalRequest(req, sse)
	if err != nil {
		fail(ctx, cb, fmt.Errorf("failed to marshal request: %w", err))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Agent.Endpoint, bytes.NewReader(body))
	if err != nil {
		fail(ctx, cb, fmt.Errorf("failed to create request: %w", err))
		return
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if req.Agent.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Agent.APIKey)
	}
	for k, v := range req.Agent.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	if sse {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	logging.TransportDebug("POST %s model=%s sse=%v messages=%d", req.Agent.Endpoint, req.Agent.Model, sse, len(req.Messages))

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		fail(ctx, cb, fmt.Errorf("request failed: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fail(ctx, cb, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
		return
	}

	if sse {
		s.consumeSSE(ctx, resp.Body, cb, req.Agent.ID, start)
		return
	}
	s.consumeFull(ctx, resp.Body, req, cb, start)
}

// consumeSSE reads the event stream line by line. Each "data:" payload is a
// JSON chunk with a delta content fragment; malformed fragments are skipped,
// and the literal [DONE] sentinel completes the stream.
func (s *HTTPStreamer) consumeSSE(ctx context.Context, body io.Reader, cb Callbacks, agentID string, start time.Time) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var accum strings.Builder
	for scanner.Scan() {
		if ctx.Err() != nil {
			logging.TransportDebug("agent %s stream cancelled after %v", agentID, time.Since(start))
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			logging.Transport("agent %s stream complete in %v (%d bytes)", agentID, time.Since(start), accum.Len())
			complete(ctx, cb, accum.String())
			return
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			fail(ctx, cb, fmt.Errorf("endpoint error: %s", chunk.Error.Message))
			return
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
			token := chunk.Choices[0].Delta.Content
			if token != "" {
				accum.WriteString(token)
				emit(ctx, cb, token)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		fail(ctx, cb, fmt.Errorf("stream read failed: %w", err))
		return
	}
	// Body ended without a [DONE] sentinel. Treat what arrived as complete.
	logging.Transport("agent %s stream ended without sentinel after %v", agentID, time.Since(start))
	complete(ctx, cb, accum.String())
}

func (s *HTTPStreamer) consumeFull(ctx context.Context, body io.Reader, req Request, cb Callbacks, start time.Time) {
	raw, err := io.ReadAll(body)
	if err != nil {
		fail(ctx, cb, fmt.Errorf("failed to read response: %w", err))
		return
	}

	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		fail(ctx, cb, fmt.Errorf("failed to parse response: %w", err))
		return
	}
	if parsed.Error != nil {
		fail(ctx, cb, fmt.Errorf("endpoint error: %s", parsed.Error.Message))
		return
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		fail(ctx, cb, fmt.Errorf("no completion returned"))
		return
	}

	content := parsed.Choices[0].Message.Content
	logging.Transport("agent %s full response in %v (%d bytes)", req.Agent.ID, time.Since(start), len(content))

	// Full-chunk mode surfaces the content once through OnToken as well;
	// non-streaming mode goes straight to OnComplete.
	if req.Agent.StreamMode == types.StreamFull {
		emit(ctx, cb, content)
	}
	complete(ctx, cb, content)
}

// emit/complete/fail gate every callback on context liveness so a cancelled
// request never reports anything.

func emit(ctx context.Context, cb Callbacks, token string) {
	if ctx.Err() != nil || cb.OnToken == nil {
		return
	}
	cb.OnToken(token)
}

func complete(ctx context.Context, cb Callbacks, full string) {
	if ctx.Err() != nil || cb.OnComplete == nil {
		return
	}
	cb.OnComplete(full)
}

func fail(ctx context.Context, cb Callbacks, err error) {
	if ctx.Err() != nil {
		return
	}
	logging.TransportError("%v", err)
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
