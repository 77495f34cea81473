package cache

import (
	"encoding/json"
	"testing"
	"time"

	"roundtable/internal/types"
)

func TestKey_StableAndNormalized(t *testing.T) {
	a := Key("agent-1", "Hello World")
	b := Key("agent-1", "hello world")
	if a != b {
		t.Fatalf("Key() not normalized: %s != %s", a, b)
	}
	if Key("agent-2", "hello world") == a {
		t.Fatalf("Key() ignores agent id")
	}
	if Key("agent-1", "other prompt") == a {
		t.Fatalf("Key() ignores prompt")
	}
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	c := New(nil)
	msg := types.NewMessage("c1", types.RoleAssistant, "Bob", "hello there")

	key := Key("b1", "hi")
	if err := c.Set(key, msg, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := c.Get(key)
	if !ok {
		t.Fatalf("Get() miss after Set")
	}
	if got.Content != "hello there" || got.AgentLabel != msg.AgentLabel {
		t.Fatalf("Get() = %+v, want round-tripped message", got)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(nil)
	base := time.Now()
	c.now = func() time.Time { return base }

	key := Key("b1", "hi")
	msg := types.NewMessage("c1", types.RoleAssistant, "Bob", "hello")
	if err := c.Set(key, msg, 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Simulated 2-second advance: the 1s entry must be invisible.
	c.now = func() time.Time { return base.Add(2 * time.Second) }
	if _, ok := c.Get(key); ok {
		t.Fatalf("Get() hit after TTL expiry")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted on read, Len()=%d", c.Len())
	}
}

func TestCache_CorruptEntryIsMissAndEvicted(t *testing.T) {
	c := New(map[string]Entry{
		"deadbeefdeadbeef": {
			Payload:    json.RawMessage(`{not json`),
			CreatedAt:  time.Now(),
			TTLSeconds: DefaultTTL,
		},
	})

	if _, ok := c.Get("deadbeefdeadbeef"); ok {
		t.Fatalf("Get() returned a corrupt entry")
	}
	if c.Len() != 0 {
		t.Fatalf("corrupt entry not evicted, Len()=%d", c.Len())
	}
}

func TestCache_SweepRemovesExpiredOnly(t *testing.T) {
	c := New(nil)
	base := time.Now()
	c.now = func() time.Time { return base }

	fresh := types.NewMessage("c1", types.RoleAssistant, "A", "fresh")
	old := types.NewMessage("c1", types.RoleAssistant, "B", "old")
	c.Set(Key("a", "p1"), fresh, 3600)
	c.Set(Key("b", "p2"), old, 1)

	c.now = func() time.Time { return base.Add(10 * time.Second) }
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("Sweep() removed %d, want 1", removed)
	}
	if _, ok := c.Get(Key("a", "p1")); !ok {
		t.Fatalf("fresh entry removed by sweep")
	}
}

func TestCache_StartSweepStops(t *testing.T) {
	c := New(nil)
	c.StartSweep(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	c.Stop()
	c.Stop() // idempotent
}

func TestCache_SnapshotAndOnChange(t *testing.T) {
	c := New(nil)
	var notified int
	c.OnChange(func(snapshot map[string]Entry) { notified++ })

	c.Set(Key("a", "p"), types.NewMessage("c1", types.RoleAssistant, "A", "x"), 0)
	if notified != 1 {
		t.Fatalf("OnChange fired %d times, want 1", notified)
	}
	if len(c.Snapshot()) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(c.Snapshot()))
	}
}
