package transport

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockStreamer answers locally for mock agents: it emits a correctly
// prefixed reply word by word with a small artificial delay, honoring
// cancellation like a real stream.
type MockStreamer struct {
	// Delay between emitted tokens. Zero emits synchronously.
	Delay time.Duration
	// Reply overrides the canned response when set. The identity prefix
	// is still prepended.
	Reply string
}

// Stream synthesizes a reply for the agent.
func (m *MockStreamer) Stream(ctx context.Context, req Request, cb Callbacks) {
	reply := m.Reply
	if reply == "" {
		reply = canned(req)
	}
	full := req.Agent.Prefix() + " " + reply

	var accum strings.Builder
	for _, word := range strings.SplitAfter(full, " ") {
		if m.Delay > 0 {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		accum.WriteString(word)
		emit(ctx, cb, word)
	}
	complete(ctx, cb, accum.String())
}

func canned(req Request) string {
	// Echo back the tail of the user's message so mock turns look alive.
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	if last == "" {
		return "Hello! I'm a locally mocked agent."
	}
	if len(last) > 60 {
		last = last[:60] + "..."
	}
	return fmt.Sprintf("You said %q. I'm a locally mocked agent, so that's all I have.", last)
}
