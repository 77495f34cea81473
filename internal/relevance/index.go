// Package relevance ranks stored facts against a query using a BM25-style
// lexical scorer. Fact counts are small, so the index is rebuilt from
// scratch on every change rather than updated incrementally.
package relevance

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// Config holds scoring parameters.
type Config struct {
	// K1 is the term-frequency saturation constant.
	K1 float64
	// B is the document-length normalization constant.
	B float64
	// MinRawScore discards documents scoring below it before boosts apply.
	MinRawScore float64
}

// DefaultConfig returns the standard BM25 parameters.
func DefaultConfig() Config {
	return Config{
		K1:          1.5,
		B:           0.75,
		MinRawScore: 0.01,
	}
}

// Index scores queries against indexed facts. Read-only at search time;
// callers are responsible for incrementing usage counters on returned facts.
type Index struct {
	cfg Config

	mu     sync.RWMutex
	docs   []document
	df     map[string]int // term -> number of docs containing it
	avgLen float64
}

type document struct {
	fact   types.Fact
	terms  map[string]int // term -> frequency within this fact
	length int
}

// New creates an empty index.
func New(cfg Config) *Index {
	return &Index{cfg: cfg, df: make(map[string]int)}
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize lowercases, strips non-word characters and drops tokens of
// length <= 2.
func Tokenize(text string) []string {
	fields := nonWord.Split(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Rebuild replaces the index contents with the given facts.
func (ix *Index) Rebuild(facts []types.Fact) {
	timer := logging.StartTimer(logging.CategoryMemory, "relevance.Rebuild")
	defer timer.Stop()

	docs := make([]document, 0, len(facts))
	df := make(map[string]int)
	totalLen := 0

	for _, f := range facts {
		tokens := Tokenize(f.Text)
		terms := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			terms[tok]++
		}
		for tok := range terms {
			df[tok]++
		}
		docs = append(docs, document{fact: f, terms: terms, length: len(tokens)})
		totalLen += len(tokens)
	}

	avgLen := 0.0
	if len(docs) > 0 {
		avgLen = float64(totalLen) / float64(len(docs))
	}

	ix.mu.Lock()
	ix.docs = docs
	ix.df = df
	ix.avgLen = avgLen
	ix.mu.Unlock()

	logging.MemoryDebug("relevance: indexed %d facts, %d distinct terms", len(docs), len(df))
}

// Len returns the number of indexed facts.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Search ranks indexed facts against the query and returns up to limit of
// them, best first. Documents below MinRawScore are dropped before the
// confidence/recency/usage boosts are added.
func (ix *Index) Search(query string, limit int) []types.Fact {
	return ix.SearchAt(query, limit, time.Now())
}

// SearchAt is Search with an explicit reference time for the recency boost.
func (ix *Index) SearchAt(query string, limit int, now time.Time) []types.Fact {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.docs) == 0 {
		return nil
	}

	type scored struct {
		fact  types.Fact
		score float64
		pos   int
	}

	n := float64(len(ix.docs))
	results := make([]scored, 0, len(ix.docs))

	for pos, doc := range ix.docs {
		raw := 0.0
		for _, tok := range tokens {
			tf := doc.terms[tok]
			if tf == 0 {
				continue
			}
			df := float64(ix.df[tok])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))

			norm := 1 - ix.cfg.B + ix.cfg.B*float64(doc.length)/math.Max(ix.avgLen, 1)
			raw += idf * float64(tf) * (ix.cfg.K1 + 1) / (float64(tf) + ix.cfg.K1*norm)
		}
		if raw < ix.cfg.MinRawScore {
			continue
		}
		results = append(results, scored{fact: doc.fact, score: raw + boost(&doc.fact, now), pos: pos})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := make([]types.Fact, len(results))
	for i, r := range results {
		out[i] = r.fact
	}
	return out
}

// boost adds the non-lexical signal: how trusted, how fresh, and how often
// successfully reused a fact is.
func boost(f *types.Fact, now time.Time) float64 {
	b := f.Confidence * 0.3

	days := now.Sub(f.LastSeen).Hours() / 24
	b += math.Max(0, 7-days) * 0.05

	usage := math.Min(float64(f.UsageCount)*0.02, 0.2)
	b += usage * f.SuccessRate()

	return b
}
