package memory

import (
	"sync"
	"time"
)

// Instant holds the most recent entries in a fixed-size ring plus free-form context variables.
type Instant struct {
	mu       sync.Mutex
	capacity int
	entries  []*Entry
	context  map[string]any
}

// NewInstant creates an instant tier. Capacity below one means one.
func NewInstant(capacity int) *Instant {
	if capacity < 1 {
		capacity = 1
	}
	return &Instant{
		capacity: capacity,
		entries:  make([]*Entry, 0, capacity),
		context:  make(map[string]any),
	}
}

// Add appends an entry, evicting the oldest when full.
func (i *Instant) Add(e *Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.entries) == i.capacity {
		copy(i.entries, i.entries[1:])
		i.entries = i.entries[:len(i.entries)-1]
	}
	i.entries = append(i.entries, e)
}

// Search returns matching entries, oldest first, recording an access on each.
func (i *Instant) Search(query string, now time.Time) []Entry {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []Entry
	for _, e := range i.entries {
		if e.Matches(query) {
			e.Touch(now)
			out = append(out, e.Clone())
		}
	}
	return out
}

// Recent returns up to n entries, newest first.
func (i *Instant) Recent(n int) []Entry {
	i.mu.Lock()
	defer i.mu.Unlock()
	if n <= 0 || n > len(i.entries) {
		n = len(i.entries)
	}
	out := make([]Entry, 0, n)
	for k := len(i.entries) - 1; k >= len(i.entries)-n; k-- {
		out = append(out, i.entries[k].Clone())
	}
	return out
}

// SetContext stores a context variable.
func (i *Instant) SetContext(key string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.context[key] = value
}

// Context returns a context variable.
func (i *Instant) Context(key string) (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.context[key]
	return v, ok
}

// Len returns the number of held entries.
func (i *Instant) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}

// Clear drops all entries and context.
func (i *Instant) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries = i.entries[:0]
	i.context = make(map[string]any)
}

// InstantSummary describes the instant tier.
type InstantSummary struct {
	Entries     int      `json:"entries"`
	Capacity    int      `json:"capacity"`
	ContextKeys []string `json:"context_keys"`
	Newest      string   `json:"newest,omitempty"`
}

// Summary returns a snapshot description.
func (i *Instant) Summary() InstantSummary {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := InstantSummary{Entries: len(i.entries), Capacity: i.capacity}
	for k := range i.context {
		s.ContextKeys = append(s.ContextKeys, k)
	}
	if n := len(i.entries); n > 0 {
		s.Newest = i.entries[n-1].ID
	}
	return s
}
