package memory

import (
	"strings"
	"sync"
	"time"
)

// Long-term categories.
const (
	CategorySkills        = "skills"
	CategoryKnowledge     = "knowledge"
	CategoryExperiences   = "experiences"
	CategoryOptimizations = "optimizations"
	CategoryFailures      = "failures"
	CategorySuccesses     = "successes"
)

// Categories lists the fixed long-term categories.
var Categories = []string{
	CategorySkills,
	CategoryKnowledge,
	CategoryExperiences,
	CategoryOptimizations,
	CategoryFailures,
	CategorySuccesses,
}

// dedupPrefixLen is the number of runes compared when checking for an existing long-term entry.
const dedupPrefixLen = 50

// LongTerm is the categorized, unbounded tier.
type LongTerm struct {
	mu         sync.Mutex
	categories map[string][]*Entry
}

// NewLongTerm creates an empty long-term tier.
func NewLongTerm() *LongTerm {
	l := &LongTerm{categories: make(map[string][]*Entry, len(Categories))}
	for _, c := range Categories {
		l.categories[c] = nil
	}
	return l
}

// NormalizeCategory maps unknown categories to knowledge.
func NormalizeCategory(category string) string {
	for _, c := range Categories {
		if c == category {
			return c
		}
	}
	return CategoryKnowledge
}

// Add stores e under category at full importance. Returns the category used.
func (l *LongTerm) Add(category string, e *Entry) string {
	category = NormalizeCategory(category)
	e.Importance = 1.0
	l.mu.Lock()
	defer l.mu.Unlock()
	l.categories[category] = append(l.categories[category], e)
	return category
}

// Search returns matching entries in category, or in every category when category is empty.
func (l *LongTerm) Search(query, category string, now time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, c := range Categories {
		if category != "" && c != category {
			continue
		}
		for _, e := range l.categories[c] {
			if e.Matches(query) {
				e.Touch(now)
				out = append(out, e.Clone())
			}
		}
	}
	return out
}

// AddIfAbsent adds e unless category already contains its text prefix.
// The check and the insert happen under one lock.
func (l *LongTerm) AddIfAbsent(category string, e *Entry) bool {
	category = NormalizeCategory(category)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.containsLocked(category, e.Text()) {
		return false
	}
	e.Importance = 1.0
	l.categories[category] = append(l.categories[category], e)
	return true
}

// containsLocked reports whether category holds an entry containing the first
// runes of text. l.mu must be held.
func (l *LongTerm) containsLocked(category, text string) bool {
	prefix := []rune(strings.ToLower(text))
	if len(prefix) > dedupPrefixLen {
		prefix = prefix[:dedupPrefixLen]
	}
	needle := string(prefix)
	for _, e := range l.categories[category] {
		if strings.Contains(strings.ToLower(e.Text()), needle) {
			return true
		}
	}
	return false
}

// Category returns copies of every entry in a category.
func (l *LongTerm) Category(name string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.categories[NormalizeCategory(name)]
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Clone())
	}
	return out
}

// CategoryCounts returns the number of entries per category.
func (l *LongTerm) CategoryCounts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.categories))
	for c, entries := range l.categories {
		out[c] = len(entries)
	}
	return out
}

// Len returns the total number of entries.
func (l *LongTerm) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, entries := range l.categories {
		n += len(entries)
	}
	return n
}

func (l *LongTerm) snapshot() map[string][]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]Entry, len(l.categories))
	for c, entries := range l.categories {
		list := make([]Entry, 0, len(entries))
		for _, e := range entries {
			list = append(list, e.Clone())
		}
		out[c] = list
	}
	return out
}

func (l *LongTerm) replace(categories map[string][]Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.categories = make(map[string][]*Entry, len(Categories))
	for _, c := range Categories {
		l.categories[c] = nil
	}
	for c, entries := range categories {
		c = NormalizeCategory(c)
		for k := range entries {
			e := entries[k]
			l.categories[c] = append(l.categories[c], &e)
		}
	}
}
