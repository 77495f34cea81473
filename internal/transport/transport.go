// Package transport performs completion requests against OpenAI-compatible
// endpoints and surfaces them through token/complete/error callbacks. It
// supports server-sent-event streaming, full-body responses, and a local
// mock provider for agents with no endpoint.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"roundtable/internal/types"
)

// ErrCancelled marks a request stopped by its context. The adapters never
// pass it to OnError; it exists for callers that wrap Stream.
var ErrCancelled = errors.New("stream cancelled")

// ChatMessage is one entry of the outbound messages array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call.
type Request struct {
	Agent    types.AgentIdentity
	Messages []ChatMessage
	// Temperature defaults to 0.7 when zero.
	Temperature float64
}

// Callbacks receive stream progress. OnToken may fire many times (or once
// in full-chunk mode, or never in non-streaming mode); exactly one of
// OnComplete/OnError fires at the end — unless the context is cancelled,
// in which case no further callbacks fire at all.
type Callbacks struct {
	OnToken    func(token string)
	OnComplete func(full string)
	OnError    func(err error)
}

// Streamer issues a completion request and reports progress via callbacks.
type Streamer interface {
	Stream(ctx context.Context, req Request, cb Callbacks)
}

// -----------------------------------------------------------------------------
// Wire shapes (OpenAI chat-completions)
// -----------------------------------------------------------------------------

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta *struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func marshalRequest(req Request, stream bool) ([]byte, error) {
	temp := req.Temperature
	if temp == 0 {
		temp = 0.7
	}
	return json.Marshal(completionRequest{
		Model:       req.Agent.Model,
		Messages:    req.Messages,
		Temperature: temp,
		Stream:      stream,
	})
}
