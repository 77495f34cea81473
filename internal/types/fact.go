package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// FactKind classifies a durable fact.
type FactKind string

const (
	FactPreference FactKind = "preference"
	FactProfile    FactKind = "profile"
	FactProject    FactKind = "project"
	FactRule       FactKind = "rule"
	FactTodo       FactKind = "todo"
)

// Fact is a short durable statement about the user or their context,
// either auto-extracted from conversation or entered manually.
//
// Invariants:
//   - Confidence only rises on reinforcement and is capped at 1.0.
//   - Two facts with case-insensitively identical text are duplicates;
//     the later one merges into the earlier instead of inserting.
type Fact struct {
	ID           string   `json:"id"`
	Kind         FactKind `json:"kind"`
	Owner        string   `json:"owner"`
	Text         string   `json:"text"`
	Confidence   float64  `json:"confidence"`
	UsageCount   int      `json:"usage_count"`
	SuccessCount int      `json:"success_count"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// SourceMessageID is the message the fact was extracted from, if any.
	SourceMessageID string `json:"source_message_id,omitempty"`
	AutoExtracted   bool   `json:"auto_extracted"`
}

// NewFact constructs a fact with a fresh id and both timestamps set to now.
func NewFact(kind FactKind, owner, text string, confidence float64) Fact {
	now := time.Now()
	return Fact{
		ID:         uuid.NewString(),
		Kind:       kind,
		Owner:      owner,
		Text:       text,
		Confidence: clampConfidence(confidence),
		FirstSeen:  now,
		LastSeen:   now,
	}
}

// SameText reports whether two facts are duplicates under the
// case-insensitive text identity rule.
func (f *Fact) SameText(other *Fact) bool {
	return strings.EqualFold(strings.TrimSpace(f.Text), strings.TrimSpace(other.Text))
}

// SuccessRate returns successes over usages, 0 when never used.
func (f *Fact) SuccessRate() float64 {
	if f.UsageCount == 0 {
		return 0
	}
	return float64(f.SuccessCount) / float64(f.UsageCount)
}

// Reinforce bumps confidence by delta, respecting the 1.0 cap.
func (f *Fact) Reinforce(delta float64) {
	f.Confidence = clampConfidence(f.Confidence + delta)
}

func clampConfidence(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	if c < 0 {
		return 0
	}
	return c
}
