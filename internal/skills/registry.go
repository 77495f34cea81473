// Package skills provides the slash-command handlers available in the chat
// UI. Handlers are compiled in and registered by name; there is no dynamic
// code loading.
package skills

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"roundtable/internal/memory"
	"roundtable/internal/types"
)

// ErrUnknownSkill is returned by Invoke for an unregistered name.
var ErrUnknownSkill = errors.New("unknown skill")

// Context carries the state a skill may read.
type Context struct {
	ChatID  string
	Args    string
	Facts   *memory.FactStore
	History []types.Message
}

// Handler executes one skill and returns its reply text.
type Handler func(ctx Context) (string, error)

// Registry maps skill names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns a registry preloaded with the built-in skills.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.MustRegister("summarize", summarize)
	r.MustRegister("recall", recall)
	return r
}

// Register adds a handler. Names are case-insensitive; registering a name
// twice is an error.
func (r *Registry) Register(name string, h Handler) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errors.New("skill name is empty")
	}
	if h == nil {
		return fmt.Errorf("skill %s has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("skill %s already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister is Register for built-ins, panicking on programmer error.
func (r *Registry) MustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[strings.ToLower(name)]
	return ok
}

// Names returns the registered skill names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the named skill.
func (r *Registry) Invoke(name string, ctx Context) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSkill, name)
	}
	return h(ctx)
}

// summarize lists the user's recent turns in the chat.
func summarize(ctx Context) (string, error) {
	var lines []string
	for _, m := range ctx.History {
		if m.Role == types.RoleUser {
			lines = append(lines, "- "+m.Content)
		}
	}
	if len(lines) == 0 {
		return "Nothing to summarize yet.", nil
	}
	return "Recent topics:\n" + strings.Join(lines, "\n"), nil
}

// recall searches the fact store for the query in the skill arguments.
func recall(ctx Context) (string, error) {
	if ctx.Facts == nil {
		return "No memory available.", nil
	}
	query := strings.TrimSpace(ctx.Args)
	if query == "" {
		return "Usage: /recall <what to look for>", nil
	}

	facts := ctx.Facts.Recall(query, 6)
	if len(facts) == 0 {
		return fmt.Sprintf("Nothing remembered about %q.", query), nil
	}
	var b strings.Builder
	b.WriteString("Here's what I remember:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s (confidence %.2f)\n", f.Text, f.Confidence)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
