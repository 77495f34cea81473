package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAgentIdentity_Validate(t *testing.T) {
	cases := []struct {
		name    string
		agent   AgentIdentity
		wantErr bool
	}{
		{"mock without endpoint", AgentIdentity{ID: "m1", Label: "Mock", Provider: ProviderMock}, false},
		{"mock with endpoint", AgentIdentity{ID: "m1", Label: "Mock", Provider: ProviderMock, Endpoint: "http://x"}, true},
		{"remote with endpoint", AgentIdentity{ID: "r1", Label: "GPT", Provider: ProviderRemote, Endpoint: "https://api.openai.com/v1/chat/completions"}, false},
		{"remote without endpoint", AgentIdentity{ID: "r1", Label: "GPT", Provider: ProviderRemote}, true},
		{"local blank endpoint", AgentIdentity{ID: "l1", Label: "Llama", Provider: ProviderLocal, Endpoint: "   "}, true},
		{"missing id", AgentIdentity{Label: "X", Provider: ProviderMock}, true},
		{"missing label", AgentIdentity{ID: "x", Provider: ProviderMock}, true},
		{"unknown provider", AgentIdentity{ID: "x", Label: "X", Provider: "weird"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.agent.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestAgentIdentity_Prefix(t *testing.T) {
	a := AgentIdentity{Label: "Bob"}
	if got, want := a.Prefix(), "[Bob]:"; got != want {
		t.Fatalf("Prefix() = %q, want %q", got, want)
	}
}

func TestAgentIdentity_Merge(t *testing.T) {
	base := AgentIdentity{
		ID:           "a1",
		Label:        "Alice",
		Provider:     ProviderRemote,
		Model:        "gpt-4o-mini",
		Endpoint:     "https://api.example.com/v1/chat/completions",
		ExtraHeaders: map[string]string{"X-Org": "one"},
	}
	merged := base.Merge(AgentIdentity{
		Model:        "gpt-4o",
		ExtraHeaders: map[string]string{"X-Team": "two"},
	})

	if merged.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", merged.Model)
	}
	if merged.Label != "Alice" {
		t.Errorf("Label = %q, want Alice (unset override must not clear)", merged.Label)
	}
	if merged.ExtraHeaders["X-Org"] != "one" || merged.ExtraHeaders["X-Team"] != "two" {
		t.Errorf("ExtraHeaders = %v, want union of base and override", merged.ExtraHeaders)
	}
	if base.ExtraHeaders["X-Team"] != "" {
		t.Errorf("Merge mutated the base header map")
	}
}

func TestAgentIdentity_Deletable(t *testing.T) {
	if (&AgentIdentity{Origin: OriginDiscovered}).Deletable() {
		t.Fatalf("discovered identity must not be deletable")
	}
	if !(&AgentIdentity{Origin: OriginCustom}).Deletable() {
		t.Fatalf("custom identity must be deletable")
	}
}

func TestNormalizeMessage_CanonicalShape(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(Message{ID: "m1", ChatID: "c1", Role: RoleUser, Sender: "user", Content: "hi", CreatedAt: ts})

	m, err := NormalizeMessage(raw)
	if err != nil {
		t.Fatalf("NormalizeMessage() error = %v", err)
	}
	if m.ChatID != "c1" || !m.CreatedAt.Equal(ts) {
		t.Fatalf("normalized = %+v, want chat_id=c1 created_at=%v", m, ts)
	}
}

func TestNormalizeMessage_LegacyAliases(t *testing.T) {
	raw := []byte(`{"id":"m2","chatId":"c9","role":"assistant","content":"yo","timestamp":"2024-01-02T03:04:05Z"}`)

	m, err := NormalizeMessage(raw)
	if err != nil {
		t.Fatalf("NormalizeMessage() error = %v", err)
	}
	if m.ChatID != "c9" {
		t.Errorf("ChatID = %q, want c9 (from chatId alias)", m.ChatID)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !m.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v (from timestamp alias)", m.CreatedAt, want)
	}
}

func TestNormalizeMessage_CanonicalWinsOverAlias(t *testing.T) {
	raw := []byte(`{"id":"m3","chat_id":"real","chatId":"stale","role":"user","content":"x"}`)
	m, err := NormalizeMessage(raw)
	if err != nil {
		t.Fatalf("NormalizeMessage() error = %v", err)
	}
	if m.ChatID != "real" {
		t.Fatalf("ChatID = %q, want canonical chat_id to win", m.ChatID)
	}
}

func TestFact_SameText(t *testing.T) {
	a := Fact{Text: "User prefers dark mode"}
	b := Fact{Text: "  user PREFERS dark mode "}
	if !a.SameText(&b) {
		t.Fatalf("SameText() = false, want true for case/space-insensitive match")
	}
}

func TestFact_ReinforceCaps(t *testing.T) {
	f := NewFact(FactPreference, "user", "likes go", 0.95)
	f.Reinforce(0.2)
	if f.Confidence != 1.0 {
		t.Fatalf("Confidence = %v, want capped at 1.0", f.Confidence)
	}
}

func TestFact_SuccessRate(t *testing.T) {
	f := Fact{UsageCount: 4, SuccessCount: 3}
	if got, want := f.SuccessRate(), 0.75; got != want {
		t.Fatalf("SuccessRate() = %v, want %v", got, want)
	}
	empty := Fact{}
	if empty.SuccessRate() != 0 {
		t.Fatalf("SuccessRate() on unused fact = %v, want 0", empty.SuccessRate())
	}
}

func TestTurnState_String(t *testing.T) {
	states := map[TurnState]string{
		TurnScheduled:  "scheduled",
		TurnStreaming:  "streaming",
		TurnValidating: "validating",
		TurnRetrying:   "retrying",
		TurnCommitted:  "committed",
		TurnFailed:     "failed",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
	if !TurnCommitted.Terminal() || !TurnFailed.Terminal() || TurnStreaming.Terminal() {
		t.Fatalf("Terminal() classification wrong")
	}
}
