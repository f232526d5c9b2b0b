package memory

import (
	"sort"
	"sync"
	"time"
)

// importantFloor protects entries from age-based eviction.
const importantFloor = 0.8

const day = 24 * time.Hour

// ShortTerm is the bounded, decaying tier.
type ShortTerm struct {
	mu        sync.Mutex
	entries   []*Entry
	capacity  int
	retention time.Duration
	grace     time.Duration
	decayRate float64
}

// NewShortTerm creates a short-term tier.
func NewShortTerm(capacity int, retention, grace time.Duration, decayRate float64) *ShortTerm {
	if capacity < 1 {
		capacity = 1
	}
	return &ShortTerm{
		capacity:  capacity,
		retention: retention,
		grace:     grace,
		decayRate: decayRate,
	}
}

// Add stores an entry and then enforces retention and capacity.
func (s *ShortTerm) Add(e *Entry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	s.sweep(now)
}

// sweep drops expired entries unless important, then keeps the most important up to capacity.
// Caller holds mu.
func (s *ShortTerm) sweep(now time.Time) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if now.Sub(e.CreatedAt) <= s.retention || e.Importance > importantFloor {
			kept = append(kept, e)
		}
	}
	for k := len(kept); k < len(s.entries); k++ {
		s.entries[k] = nil
	}
	s.entries = kept

	if len(s.entries) > s.capacity {
		sort.SliceStable(s.entries, func(a, b int) bool {
			return s.entries[a].Importance > s.entries[b].Importance
		})
		for k := s.capacity; k < len(s.entries); k++ {
			s.entries[k] = nil
		}
		s.entries = s.entries[:s.capacity]
	}
}

// Search returns matching entries, recording an access on each.
func (s *ShortTerm) Search(query string, now time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Matches(query) {
			e.Touch(now)
			out = append(out, e.Clone())
		}
	}
	return out
}

// Important returns up to k entries at or above threshold, most important first. k <= 0 means all.
func (s *ShortTerm) Important(threshold float64, k int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Importance >= threshold {
			out = append(out, e.Clone())
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Importance > out[b].Importance })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// DecayOld lowers importance of entries older than the grace period by
// decayRate per whole day past it. Returns the number of entries decayed.
func (s *ShortTerm) DecayOld(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	graceDays := int(s.grace / day)
	n := 0
	for _, e := range s.entries {
		days := int(now.Sub(e.CreatedAt) / day)
		if days > graceDays {
			e.Decay(s.decayRate * float64(days-graceDays))
			n++
		}
	}
	return n
}

// Snapshot returns copies of all entries in insertion order.
func (s *ShortTerm) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	return out
}

// Len returns the number of held entries.
func (s *ShortTerm) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ShortTerm) replace(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
	for k := range entries {
		e := entries[k]
		s.entries = append(s.entries, &e)
	}
}
