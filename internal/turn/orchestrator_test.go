package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"roundtable/internal/cache"
	"roundtable/internal/memory"
	"roundtable/internal/transport"
	"roundtable/internal/types"
)

// memLog is an in-memory MessageLog for tests.
type memLog struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (l *memLog) Append(m types.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
	return nil
}

func (l *memLog) Recent(chatID string, limit int) []types.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.Message
	for _, m := range l.msgs {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (l *memLog) byRole(role types.Role) []types.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.Message
	for _, m := range l.msgs {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// scriptedStreamer replays canned replies, one per call, repeating the
// last. Per-agent overrides and errors are keyed by agent id.
type scriptedStreamer struct {
	mu       sync.Mutex
	calls    int
	replies  []string
	replyFor map[string]string
	errFor   map[string]error
}

func (s *scriptedStreamer) Stream(ctx context.Context, req transport.Request, cb transport.Callbacks) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	err := s.errFor[req.Agent.ID]
	reply, overridden := s.replyFor[req.Agent.ID]
	s.mu.Unlock()

	if err != nil {
		cb.OnError(err)
		return
	}
	if !overridden {
		reply = s.replies[len(s.replies)-1]
		if i < len(s.replies) {
			reply = s.replies[i]
		}
	}
	cb.OnToken(reply)
	cb.OnComplete(reply)
}

func (s *scriptedStreamer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func localAgent(id, label string) types.AgentIdentity {
	return types.AgentIdentity{
		ID:       id,
		Label:    label,
		Provider: types.ProviderLocal,
		Model:    label + "-model",
		Endpoint: "http://localhost:1234/v1/chat/completions",
	}
}

type harness struct {
	orc      *Orchestrator
	log      *memLog
	cache    *cache.Cache
	streamer *scriptedStreamer
	idle     chan struct{}
	resets   chan string
}

func newHarness(t *testing.T, replies []string) *harness {
	t.Helper()
	h := &harness{
		log:      &memLog{},
		cache:    cache.New(nil),
		streamer: &scriptedStreamer{replies: replies, replyFor: map[string]string{}, errFor: map[string]error{}},
		idle:     make(chan struct{}, 8),
		resets:   make(chan string, 8),
	}
	facts := memory.NewFactStore(memory.DefaultFactStoreConfig(), nil)
	h.orc = New(DefaultConfig(), h.log, h.cache, facts, h.streamer, &transport.MockStreamer{})
	h.orc.SetEvents(Events{
		OnIdle:  func() { h.idle <- struct{}{} },
		OnReset: func(id string) { h.resets <- id },
	})
	return h
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	select {
	case <-h.idle:
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator never went idle")
	}
}

func TestProcessUserMessage_CacheSkipsSecondCall(t *testing.T) {
	h := newHarness(t, []string{"[Alice]: deterministic answer"})
	roster := []types.AgentIdentity{localAgent("a1", "Alice")}

	_, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "what is 2+2", roster, nil)
	require.NoError(t, err)
	h.waitIdle(t)

	require.Equal(t, 1, h.streamer.callCount())
	first := h.log.byRole(types.RoleAssistant)
	require.Len(t, first, 1)
	assert.Equal(t, "deterministic answer", first[0].Content)

	_, err = h.orc.ProcessUserMessage(context.Background(), "chat-1", "what is 2+2", roster, nil)
	require.NoError(t, err)
	h.waitIdle(t)

	assert.Equal(t, 1, h.streamer.callCount(), "second identical prompt must be served from cache")
	second := h.log.byRole(types.RoleAssistant)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].Content, second[1].Content)
	assert.NotEqual(t, first[0].ID, second[1].ID, "cached replies get fresh identities")
}

func TestProcessUserMessage_RetryRecoversIdentity(t *testing.T) {
	h := newHarness(t, []string{"hello there", "[Alice]: hello there"})
	roster := []types.AgentIdentity{localAgent("a1", "Alice")}

	_, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "say hi", roster, nil)
	require.NoError(t, err)
	h.waitIdle(t)

	assert.Equal(t, 2, h.streamer.callCount(), "one violation means exactly one retry")
	committed := h.log.byRole(types.RoleAssistant)
	require.Len(t, committed, 1)
	assert.Equal(t, "hello there", committed[0].Content)
	assert.Equal(t, "a1", committed[0].AgentID)

	select {
	case id := <-h.resets:
		assert.Equal(t, "a1", id)
	default:
		t.Fatal("retry must reset the visible stream")
	}
}

func TestProcessUserMessage_DoubleViolationFails(t *testing.T) {
	h := newHarness(t, []string{"never in character"})
	roster := []types.AgentIdentity{localAgent("a1", "Alice")}

	_, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "say hi", roster, nil)
	require.NoError(t, err)
	h.waitIdle(t)

	assert.Equal(t, 2, h.streamer.callCount())
	assert.Empty(t, h.log.byRole(types.RoleAssistant))
	mods := h.log.byRole(types.RoleSystem)
	require.Len(t, mods, 1)
	assert.Contains(t, mods[0].Content, "Alice")
	assert.Equal(t, "moderator", mods[0].Sender)
	assert.Equal(t, 0, h.cache.Len(), "failed turns never reach the cache")
}

func TestProcessUserMessage_PartialFailureStillGoesIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.streamer.replyFor["a1"] = "[Alice]: fine"
	h.streamer.errFor["b1"] = errors.New("connection refused")
	roster := []types.AgentIdentity{localAgent("a1", "Alice"), localAgent("b1", "Bob")}

	_, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "@alice @bob status", roster, nil)
	require.NoError(t, err)
	h.waitIdle(t)

	assert.Zero(t, h.orc.Pending())
	require.Len(t, h.log.byRole(types.RoleAssistant), 1)
	mods := h.log.byRole(types.RoleSystem)
	require.Len(t, mods, 1)
	assert.Contains(t, mods[0].Content, "Bob")
	assert.Contains(t, mods[0].Content, "connection refused")
}

func TestProcessUserMessage_ConfigErrorNeverStartsTurn(t *testing.T) {
	h := newHarness(t, []string{"[Alice]: unused"})
	broken := types.AgentIdentity{ID: "a1", Label: "Alice", Provider: types.ProviderLocal}

	targets, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "hello", []types.AgentIdentity{broken}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, targets)

	assert.Equal(t, 0, h.streamer.callCount())
	assert.Zero(t, h.orc.Pending())
	mods := h.log.byRole(types.RoleSystem)
	require.Len(t, mods, 1)
	assert.Contains(t, mods[0].Content, "Alice")
}

func TestProcessUserMessage_TransportErrorSkipsRetry(t *testing.T) {
	h := newHarness(t, []string{"[Alice]: unused"})
	h.streamer.errFor["a1"] = errors.New("api returned status 503")
	roster := []types.AgentIdentity{localAgent("a1", "Alice")}

	_, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "hello", roster, nil)
	require.NoError(t, err)
	h.waitIdle(t)

	assert.Equal(t, 1, h.streamer.callCount(), "transport errors are terminal")
	assert.Empty(t, h.log.byRole(types.RoleAssistant))
	require.Len(t, h.log.byRole(types.RoleSystem), 1)
}

func TestProcessUserMessage_CancellationCommitsNothing(t *testing.T) {
	h := newHarness(t, nil)
	blocked := &blockingStreamer{started: make(chan struct{}, 1)}
	facts := memory.NewFactStore(memory.DefaultFactStoreConfig(), nil)
	h.orc = New(DefaultConfig(), h.log, h.cache, facts, blocked, &transport.MockStreamer{})
	h.orc.SetEvents(Events{OnIdle: func() { h.idle <- struct{}{} }})

	ctx, cancel := context.WithCancel(context.Background())
	roster := []types.AgentIdentity{localAgent("a1", "Alice")}
	_, err := h.orc.ProcessUserMessage(ctx, "chat-1", "hello", roster, nil)
	require.NoError(t, err)

	<-blocked.started
	cancel()
	h.waitIdle(t)

	assert.Empty(t, h.log.byRole(types.RoleAssistant))
	assert.Empty(t, h.log.byRole(types.RoleSystem), "cancellation is silent")
	assert.Equal(t, 0, h.cache.Len())
}

// blockingStreamer parks until its context is cancelled, then returns
// without invoking any callback, the way a cancelled HTTP stream does.
type blockingStreamer struct {
	started chan struct{}
}

func (b *blockingStreamer) Stream(ctx context.Context, req transport.Request, cb transport.Callbacks) {
	b.started <- struct{}{}
	<-ctx.Done()
}

func TestProcessUserMessage_MockAgentsUseMockTransport(t *testing.T) {
	h := newHarness(t, []string{"[Real]: unused"})
	mock := types.AgentIdentity{ID: "m1", Label: "Echo", Provider: types.ProviderMock, Model: "mock"}

	_, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "ping", []types.AgentIdentity{mock}, nil)
	require.NoError(t, err)
	h.waitIdle(t)

	assert.Equal(t, 0, h.streamer.callCount(), "mock agents must not hit the network streamer")
	committed := h.log.byRole(types.RoleAssistant)
	require.Len(t, committed, 1)
	assert.Equal(t, "m1", committed[0].AgentID)
}

func TestProcessUserMessage_SuccessfulTurnExtractsFacts(t *testing.T) {
	h := newHarness(t, []string{"[Alice]: noted"})
	facts := memory.NewFactStore(memory.DefaultFactStoreConfig(), nil)
	h.orc = New(DefaultConfig(), h.log, h.cache, facts, h.streamer, &transport.MockStreamer{})
	h.orc.SetEvents(Events{OnIdle: func() { h.idle <- struct{}{} }})
	roster := []types.AgentIdentity{localAgent("a1", "Alice")}

	_, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "I prefer dark mode", roster, nil)
	require.NoError(t, err)
	h.waitIdle(t)

	got, ok := facts.Find("dark mode")
	require.True(t, ok, "preference should be extracted from the committed turn")
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestProcessUserMessage_ManyAgentsNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, []string{"[X]: done"})
	var roster []types.AgentIdentity
	for i := 0; i < 3; i++ {
		a := localAgent(fmt.Sprintf("a%d", i), "X")
		roster = append(roster, a)
	}

	_, err := h.orc.ProcessUserMessage(context.Background(), "chat-1", "fan out", roster, nil)
	require.NoError(t, err)
	h.waitIdle(t)
	assert.Zero(t, h.orc.Pending())
}
