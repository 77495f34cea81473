// Package turn coordinates multi-agent turns: for each user message it
// selects the responding agents, gives each an isolated context, streams
// the completion, enforces the identity-prefix contract with one retry,
// and finalizes by committing, caching, and extracting facts.
package turn

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"roundtable/internal/cache"
	"roundtable/internal/logging"
	"roundtable/internal/memory"
	"roundtable/internal/routing"
	"roundtable/internal/transport"
	"roundtable/internal/types"
)

// MessageLog is the committed-message sink and history source. Append must
// be safe for concurrent use; Recent returns the newest limit messages of
// one chat in creation order.
type MessageLog interface {
	Append(msg types.Message) error
	Recent(chatID string, limit int) []types.Message
}

// Events are the observer hooks the UI wires in. Any field may be nil.
// Hooks are called from the agent-turn goroutines.
type Events struct {
	OnState     func(agentID string, state types.TurnState)
	OnToken     func(agentID, token string)
	OnReset     func(agentID string) // clear the visible stream before a retry
	OnCommitted func(msg types.Message)
	OnIdle      func() // pending work reached zero
}

// Config tunes the orchestrator.
type Config struct {
	// Owner is the user's display name, used as sender and fact owner.
	Owner string
	// ModeratorName authors failure-path system messages.
	ModeratorName string
	// MaxConcurrent caps agents per turn and concurrent streams.
	MaxConcurrent int
	// HistoryWindow is how many recent messages feed context assembly.
	HistoryWindow int
	// SummaryTurns is how many user turns the thread summary keeps.
	SummaryTurns int
	// FactLimit is the maximum relevance-ranked facts per instruction.
	FactLimit int
	// CacheTTLSeconds is the TTL for cached responses.
	CacheTTLSeconds int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Owner:           "user",
		ModeratorName:   "moderator",
		MaxConcurrent:   routing.DefaultMaxConcurrent,
		HistoryWindow:   30,
		SummaryTurns:    5,
		FactLimit:       6,
		CacheTTLSeconds: cache.DefaultTTL,
	}
}

// Orchestrator runs agent turns. Construct once and share; all methods are
// safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	log     MessageLog
	cache   *cache.Cache
	facts   *memory.FactStore
	network transport.Streamer
	mock    transport.Streamer

	events  Events
	sem     *semaphore.Weighted
	pending atomic.Int64
}

// New wires an orchestrator. network serves local/remote agents, mock
// serves mock-provider agents.
func New(cfg Config, log MessageLog, c *cache.Cache, facts *memory.FactStore, network, mock transport.Streamer) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = routing.DefaultMaxConcurrent
	}
	return &Orchestrator{
		cfg:     cfg,
		log:     log,
		cache:   c,
		facts:   facts,
		network: network,
		mock:    mock,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// SetEvents installs the observer hooks. Call before processing messages.
func (o *Orchestrator) SetEvents(ev Events) {
	o.events = ev
}

// Pending returns the number of agent turns in flight.
func (o *Orchestrator) Pending() int64 {
	return o.pending.Load()
}

// ProcessUserMessage commits the user's message, resolves the responding
// agents, and fans out one independent turn per agent. It returns the
// selected agent ids immediately; turns complete asynchronously.
func (o *Orchestrator) ProcessUserMessage(ctx context.Context, chatID, text string, roster []types.AgentIdentity, prevSelected []string) ([]string, error) {
	userMsg := types.NewMessage(chatID, types.RoleUser, o.cfg.Owner, text)
	if err := o.log.Append(userMsg); err != nil {
		return nil, fmt.Errorf("failed to commit user message: %w", err)
	}
	o.emitCommitted(userMsg)

	targets := routing.ResolveTargets(text, roster, prevSelected, o.cfg.MaxConcurrent)
	logging.Turns("user message %s scheduled agents %v", userMsg.ID, targets)

	byID := make(map[string]types.AgentIdentity, len(roster))
	for _, a := range roster {
		byID[a.ID] = a
	}

	var scheduled []types.AgentIdentity
	for _, id := range targets {
		agent := byID[id]
		if err := agent.Validate(); err != nil {
			// Configuration error: the turn never starts and is not retried.
			logging.TurnsWarn("agent %s rejected before turn: %v", id, err)
			o.commitModerator(chatID, fmt.Sprintf("%s is not ready to chat: %v. Check its settings.", agent.Label, err))
			continue
		}
		scheduled = append(scheduled, agent)
	}

	peerLabels := make([]string, 0, len(scheduled))
	for _, a := range scheduled {
		peerLabels = append(peerLabels, a.Label)
	}

	// Count all turns before launching any so the pending counter can not
	// touch zero between sibling launches.
	o.pending.Add(int64(len(scheduled)))
	for _, agent := range scheduled {
		agent := agent
		o.emitState(agent.ID, types.TurnScheduled)
		go o.runAgentTurn(ctx, &agent, userMsg, peersExcept(peerLabels, agent.Label))
	}

	return targets, nil
}

func peersExcept(labels []string, self string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != self {
			out = append(out, l)
		}
	}
	return out
}

// runAgentTurn executes steps 1-7 of one agent's pipeline. Failures are
// contained here: nothing propagates to sibling turns.
func (o *Orchestrator) runAgentTurn(ctx context.Context, agent *types.AgentIdentity, userMsg types.Message, peers []string) {
	defer func() {
		if o.pending.Add(-1) == 0 {
			o.emitIdle()
		}
	}()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.emitState(agent.ID, types.TurnFailed)
		return
	}
	defer o.sem.Release(1)

	// Step 1: cache lookup. A hit commits directly, no network call.
	key := cache.Key(agent.ID, userMsg.Content)
	if cached, ok := o.cache.Get(key); ok {
		logging.Turns("agent %s cache hit for message %s", agent.ID, userMsg.ID)
		msg := types.NewMessage(userMsg.ChatID, types.RoleAssistant, agent.Label, cached.Content)
		msg.AgentID = agent.ID
		msg.AgentLabel = agent.Label
		if err := o.log.Append(msg); err != nil {
			logging.TurnsError("agent %s failed to commit cached reply: %v", agent.ID, err)
			o.emitState(agent.ID, types.TurnFailed)
			return
		}
		o.emitCommitted(msg)
		o.emitState(agent.ID, types.TurnCommitted)
		return
	}

	// Step 2: assemble this agent's private context.
	history := o.log.Recent(userMsg.ChatID, o.cfg.HistoryWindow)
	contextMsgs := buildContext(history, agent)
	summary := threadSummary(history, o.cfg.SummaryTurns)

	var facts []types.Fact
	if agent.UseFactContext && o.facts != nil {
		facts = o.facts.Recall(userMsg.Content, o.cfg.FactLimit)
	}
	userUsedEmoji := containsEmoji(userMsg.Content)

	// Steps 3-5: stream and validate, with exactly one retry on an
	// identity violation.
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			o.emitReset(agent.ID)
			o.emitState(agent.ID, types.TurnRetrying)
		}
		o.emitState(agent.ID, types.TurnStreaming)

		sys := systemInstruction(agent, peers, facts, summary, userUsedEmoji, attempt > 0)
		msgs := make([]transport.ChatMessage, 0, len(contextMsgs)+1)
		msgs = append(msgs, transport.ChatMessage{Role: "system", Content: sys})
		msgs = append(msgs, contextMsgs...)

		full, err := o.stream(ctx, agent, msgs)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled: no commit, no cache, no moderator noise.
				logging.Turns("agent %s turn cancelled", agent.ID)
				o.emitState(agent.ID, types.TurnFailed)
				return
			}
			// Step 7: transport errors fail immediately, no retry.
			logging.TurnsError("agent %s transport error: %v", agent.ID, err)
			o.commitModerator(userMsg.ChatID, fmt.Sprintf("%s could not reply: %v", agent.Label, err))
			o.emitState(agent.ID, types.TurnFailed)
			return
		}

		o.emitState(agent.ID, types.TurnValidating)
		trimmed := strings.TrimSpace(full)
		if strings.HasPrefix(trimmed, agent.Prefix()) {
			content := strings.TrimSpace(strings.TrimPrefix(trimmed, agent.Prefix()))
			o.finalize(agent, userMsg, key, content)
			return
		}

		logging.TurnsWarn("agent %s identity violation on attempt %d", agent.ID, attempt+1)
	}

	// Step 5, terminal: both attempts violated the identity contract.
	o.commitModerator(userMsg.ChatID, fmt.Sprintf(
		"%s failed to answer in character. Try @%s to address it directly.",
		agent.Label, strings.ToLower(agent.Label)))
	o.emitState(agent.ID, types.TurnFailed)
}

// finalize is step 6: commit the assistant message, write the cache entry,
// and extract facts from the exchange.
func (o *Orchestrator) finalize(agent *types.AgentIdentity, userMsg types.Message, key, content string) {
	msg := types.NewMessage(userMsg.ChatID, types.RoleAssistant, agent.Label, content)
	msg.AgentID = agent.ID
	msg.AgentLabel = agent.Label

	if err := o.log.Append(msg); err != nil {
		logging.TurnsError("agent %s failed to commit reply: %v", agent.ID, err)
		o.emitState(agent.ID, types.TurnFailed)
		return
	}
	o.emitCommitted(msg)

	if err := o.cache.Set(key, msg, o.cfg.CacheTTLSeconds); err != nil {
		logging.TurnsWarn("agent %s cache write failed: %v", agent.ID, err)
	}

	if o.facts != nil {
		extracted := memory.Extract(userMsg, msg, o.cfg.Owner)
		if n := o.facts.InsertAll(extracted); n > 0 {
			logging.Turns("agent %s turn yielded %d new facts", agent.ID, n)
		}
	}

	o.emitState(agent.ID, types.TurnCommitted)
}

// stream runs one completion attempt synchronously and returns the full
// text. A cancelled context surfaces as ctx.Err().
func (o *Orchestrator) stream(ctx context.Context, agent *types.AgentIdentity, msgs []transport.ChatMessage) (string, error) {
	streamer := o.network
	if agent.Provider == types.ProviderMock {
		streamer = o.mock
	}

	var full string
	var serr error
	completed := false

	streamer.Stream(ctx, transport.Request{Agent: *agent, Messages: msgs}, transport.Callbacks{
		OnToken: func(tok string) {
			o.emitToken(agent.ID, tok)
		},
		OnComplete: func(s string) {
			full = s
			completed = true
		},
		OnError: func(err error) {
			serr = err
		},
	})

	if serr != nil {
		return "", serr
	}
	if !completed {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("stream ended without completion")
	}
	return full, nil
}

func (o *Orchestrator) commitModerator(chatID, text string) {
	msg := types.NewMessage(chatID, types.RoleSystem, o.cfg.ModeratorName, text)
	if err := o.log.Append(msg); err != nil {
		logging.TurnsError("failed to commit moderator message: %v", err)
		return
	}
	o.emitCommitted(msg)
}

func (o *Orchestrator) emitState(agentID string, st types.TurnState) {
	logging.TurnsDebug("agent %s -> %s", agentID, st)
	if o.events.OnState != nil {
		o.events.OnState(agentID, st)
	}
}

func (o *Orchestrator) emitToken(agentID, tok string) {
	if o.events.OnToken != nil {
		o.events.OnToken(agentID, tok)
	}
}

func (o *Orchestrator) emitReset(agentID string) {
	if o.events.OnReset != nil {
		o.events.OnReset(agentID)
	}
}

func (o *Orchestrator) emitCommitted(msg types.Message) {
	if o.events.OnCommitted != nil {
		o.events.OnCommitted(msg)
	}
}

func (o *Orchestrator) emitIdle() {
	if o.events.OnIdle != nil {
		o.events.OnIdle()
	}
}
