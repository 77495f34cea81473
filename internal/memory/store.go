package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"roundtable/internal/logging"
	"roundtable/internal/relevance"
	"roundtable/internal/types"
)

// FactStoreConfig controls reinforcement and pruning behavior.
type FactStoreConfig struct {
	// FeedbackBoost is the confidence delta applied on positive feedback.
	FeedbackBoost float64
	// PruneMinConfidence: facts below it are prune candidates.
	PruneMinConfidence float64
	// PruneStaleAfter: facts not seen within it are prune candidates.
	PruneStaleAfter time.Duration
	// PruneMaxUsage: facts used at most this often are prune candidates.
	PruneMaxUsage int
}

// DefaultFactStoreConfig returns sensible defaults.
func DefaultFactStoreConfig() FactStoreConfig {
	return FactStoreConfig{
		FeedbackBoost:      0.1,
		PruneMinConfidence: 0.4,
		PruneStaleAfter:    30 * 24 * time.Hour,
		PruneMaxUsage:      1,
	}
}

// FactStore owns the durable facts and their relevance index. All mutations
// are append-or-merge; the index is rebuilt after each mutation because fact
// counts stay small.
type FactStore struct {
	cfg FactStoreConfig

	mu    sync.RWMutex
	facts []types.Fact
	index *relevance.Index

	// onChange, when set, receives a snapshot after every mutation so the
	// caller can persist it. Invoked outside the lock.
	onChange func([]types.Fact)
}

// NewFactStore creates a store seeded with previously persisted facts.
func NewFactStore(cfg FactStoreConfig, seed []types.Fact) *FactStore {
	s := &FactStore{
		cfg:   cfg,
		facts: append([]types.Fact(nil), seed...),
		index: relevance.New(relevance.DefaultConfig()),
	}
	s.index.Rebuild(s.facts)
	return s
}

// OnChange registers a persistence hook called with a snapshot after every
// mutation.
func (s *FactStore) OnChange(fn func([]types.Fact)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Insert adds a fact, or merges it into an existing duplicate. Duplicates
// are detected by case-insensitive text identity; the merge refreshes
// last_seen and bumps usage_count instead of inserting. Returns the stored
// fact and whether a merge happened.
func (s *FactStore) Insert(f types.Fact) (types.Fact, bool) {
	s.mu.Lock()

	for i := range s.facts {
		if s.facts[i].SameText(&f) {
			s.facts[i].LastSeen = time.Now()
			s.facts[i].UsageCount++
			stored := s.facts[i]
			s.afterMutationLocked()
			s.mu.Unlock()
			s.notify()
			logging.MemoryDebug("fact merged: %q (usage=%d)", stored.Text, stored.UsageCount)
			return stored, true
		}
	}

	s.facts = append(s.facts, f)
	s.afterMutationLocked()
	s.mu.Unlock()
	s.notify()
	logging.Memory("fact inserted: kind=%s %q", f.Kind, f.Text)
	return f, false
}

// InsertAll inserts every fact, returning how many were new (not merged).
func (s *FactStore) InsertAll(facts []types.Fact) int {
	inserted := 0
	for _, f := range facts {
		if _, merged := s.Insert(f); !merged {
			inserted++
		}
	}
	return inserted
}

// Recall returns up to limit facts relevant to the query and marks each as
// used (usage_count++), per the relevance-lookup lifecycle.
func (s *FactStore) Recall(query string, limit int) []types.Fact {
	results := s.index.Search(query, limit)
	if len(results) == 0 {
		return nil
	}

	ids := make(map[string]bool, len(results))
	for _, f := range results {
		ids[f.ID] = true
	}

	s.mu.Lock()
	for i := range s.facts {
		if ids[s.facts[i].ID] {
			s.facts[i].UsageCount++
		}
	}
	s.afterMutationLocked()
	s.mu.Unlock()
	s.notify()

	return results
}

// Feedback records positive feedback on a fact: confidence rises by the
// configured boost (capped at 1.0) and success_count increments.
func (s *FactStore) Feedback(id string) error {
	s.mu.Lock()
	for i := range s.facts {
		if s.facts[i].ID == id {
			s.facts[i].Reinforce(s.cfg.FeedbackBoost)
			s.facts[i].SuccessCount++
			s.facts[i].LastSeen = time.Now()
			s.afterMutationLocked()
			s.mu.Unlock()
			s.notify()
			return nil
		}
	}
	s.mu.Unlock()
	return fmt.Errorf("fact %s not found", id)
}

// Delete removes a fact by id.
func (s *FactStore) Delete(id string) error {
	s.mu.Lock()
	for i := range s.facts {
		if s.facts[i].ID == id {
			s.facts = append(s.facts[:i], s.facts[i+1:]...)
			s.afterMutationLocked()
			s.mu.Unlock()
			s.notify()
			return nil
		}
	}
	s.mu.Unlock()
	return fmt.Errorf("fact %s not found", id)
}

// Prune removes facts that are simultaneously low-confidence, stale, and
// rarely used. Returns the number removed.
func (s *FactStore) Prune() int {
	cutoff := time.Now().Add(-s.cfg.PruneStaleAfter)

	s.mu.Lock()
	kept := s.facts[:0]
	removed := 0
	for _, f := range s.facts {
		stale := f.LastSeen.Before(cutoff)
		weak := f.Confidence < s.cfg.PruneMinConfidence
		unused := f.UsageCount <= s.cfg.PruneMaxUsage
		if stale && weak && unused {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	s.facts = kept
	s.afterMutationLocked()
	s.mu.Unlock()

	if removed > 0 {
		s.notify()
		logging.Memory("pruned %d stale facts", removed)
	}
	return removed
}

// All returns a snapshot of every fact, newest first.
func (s *FactStore) All() []types.Fact {
	s.mu.RLock()
	out := append([]types.Fact(nil), s.facts...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// Len returns the fact count.
func (s *FactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// Find returns the first fact whose text contains the substring,
// case-insensitively. Admin convenience.
func (s *FactStore) Find(substr string) (types.Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(substr)
	for _, f := range s.facts {
		if strings.Contains(strings.ToLower(f.Text), needle) {
			return f, true
		}
	}
	return types.Fact{}, false
}

// afterMutationLocked rebuilds the index. Callers hold s.mu.
func (s *FactStore) afterMutationLocked() {
	s.index.Rebuild(s.facts)
}

func (s *FactStore) notify() {
	s.mu.RLock()
	fn := s.onChange
	var snapshot []types.Fact
	if fn != nil {
		snapshot = append([]types.Fact(nil), s.facts...)
	}
	s.mu.RUnlock()
	if fn != nil {
		fn(snapshot)
	}
}
