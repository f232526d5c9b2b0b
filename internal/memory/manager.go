package memory

import (
	"context"
	"sort"
	"time"

	"evogate/internal/logging"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Tier identifies a memory tier.
type Tier int

const (
	TierInstant Tier = iota
	TierShortTerm
	TierLongTerm
)

func (t Tier) String() string {
	switch t {
	case TierInstant:
		return "instant"
	case TierShortTerm:
		return "short_term"
	case TierLongTerm:
		return "long_term"
	default:
		return "unknown"
	}
}

// tierWrites decides which tiers a remembered entry reaches.
var tierWrites = []struct {
	tier          Tier
	minImportance float64
}{
	{TierInstant, 0},
	{TierShortTerm, 0.5},
	{TierLongTerm, 0.8},
}

// Options configures a Manager.
type Options struct {
	// Dir holds the tier files; empty disables persistence.
	Dir string

	InstantCapacity   int
	ShortTermCapacity int
	Retention         time.Duration
	DecayGrace        time.Duration
	DecayRate         float64
	RecallLimit       int // 0 = unlimited
	PromoteThreshold  float64

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultOptions returns the standard tier parameters.
func DefaultOptions() Options {
	return Options{
		InstantCapacity:   50,
		ShortTermCapacity: 500,
		Retention:         30 * day,
		DecayGrace:        7 * day,
		DecayRate:         0.02,
		RecallLimit:       10,
		PromoteThreshold:  0.85,
	}
}

// Manager coordinates the three tiers.
type Manager struct {
	opts    Options
	now     func() time.Time
	instant *Instant
	short   *ShortTerm
	long    *LongTerm
}

// NewManager creates a manager and loads persisted tiers from opts.Dir.
// Missing or malformed tier files yield empty tiers.
func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		opts:    opts,
		now:     now,
		instant: NewInstant(opts.InstantCapacity),
		short:   NewShortTerm(opts.ShortTermCapacity, opts.Retention, opts.DecayGrace, opts.DecayRate),
		long:    NewLongTerm(),
	}
	if opts.Dir != "" {
		m.load()
	}
	logging.Memory("memory manager ready: short_term=%d long_term=%d dir=%q", m.short.Len(), m.long.Len(), opts.Dir)
	return m
}

// Instant exposes the instant tier for context variables.
func (m *Manager) Instant() *Instant { return m.instant }

// ShortTerm exposes the short-term tier.
func (m *Manager) ShortTerm() *ShortTerm { return m.short }

// LongTerm exposes the long-term tier.
func (m *Manager) LongTerm() *LongTerm { return m.long }

// RememberResult reports where an entry was written.
type RememberResult struct {
	ID       string `json:"id"`
	Tiers    []Tier `json:"tiers"`
	Category string `json:"category,omitempty"` // long-term category, when written there
}

// Remember stores content in every tier whose threshold importance meets.
func (m *Manager) Remember(content any, importance float64, metadata map[string]any) RememberResult {
	now := m.now()
	base := NewEntry(content, importance, metadata, now)
	res := RememberResult{ID: base.ID}

	for _, w := range tierWrites {
		if base.Importance < w.minImportance {
			continue
		}
		e := base.Clone()
		switch w.tier {
		case TierInstant:
			m.instant.Add(&e)
		case TierShortTerm:
			m.short.Add(&e, now)
		case TierLongTerm:
			res.Category = m.long.Add(base.Category(CategoryKnowledge), &e)
		}
		res.Tiers = append(res.Tiers, w.tier)
		writesTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("tier", w.tier.String())))
	}

	logging.MemoryDebug("remembered %s importance=%.2f tiers=%v", base.ID, base.Importance, res.Tiers)
	return res
}

// RecallResult holds ranked matches per tier.
type RecallResult struct {
	Instant   []Entry `json:"instant,omitempty"`
	ShortTerm []Entry `json:"short_term,omitempty"`
	LongTerm  []Entry `json:"long_term,omitempty"`
}

// Total returns the number of matches across tiers.
func (r RecallResult) Total() int {
	return len(r.Instant) + len(r.ShortTerm) + len(r.LongTerm)
}

// Recall searches the given tiers (all when none given) for query.
// Every match records an access before ranking.
func (m *Manager) Recall(query string, tiers ...Tier) RecallResult {
	if len(tiers) == 0 {
		tiers = []Tier{TierInstant, TierShortTerm, TierLongTerm}
	}
	now := m.now()
	var res RecallResult
	for _, t := range tiers {
		switch t {
		case TierInstant:
			res.Instant = m.rank(m.instant.Search(query, now))
		case TierShortTerm:
			res.ShortTerm = m.rank(m.short.Search(query, now))
		case TierLongTerm:
			res.LongTerm = m.rank(m.long.Search(query, "", now))
		}
	}
	readsTotal.Add(context.Background(), int64(res.Total()))
	return res
}

// RecallCategory searches a single long-term category.
func (m *Manager) RecallCategory(query, category string) []Entry {
	return m.rank(m.long.Search(query, NormalizeCategory(category), m.now()))
}

func (m *Manager) rank(entries []Entry) []Entry {
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].Score() > entries[b].Score()
	})
	if m.opts.RecallLimit > 0 && len(entries) > m.opts.RecallLimit {
		entries = entries[:m.opts.RecallLimit]
	}
	return entries
}

// Consolidate copies important short-term entries into long-term memory,
// skipping those whose content prefix is already present in their category.
// Short-term memory is left unchanged. Returns the number promoted.
func (m *Manager) Consolidate() int {
	promoted := 0
	for _, e := range m.short.Important(m.opts.PromoteThreshold, 0) {
		c := e.Clone()
		if m.long.AddIfAbsent(e.Category(CategoryExperiences), &c) {
			promoted++
		}
	}
	if promoted > 0 {
		consolidations.Add(context.Background(), int64(promoted))
		logging.Memory("consolidated %d short-term entries into long-term memory", promoted)
	}
	return promoted
}

// DecayShortTerm applies age decay to the short-term tier.
func (m *Manager) DecayShortTerm() int {
	n := m.short.DecayOld(m.now())
	logging.MemoryDebug("decayed %d short-term entries", n)
	return n
}

// Stats summarizes tier sizes.
type Stats struct {
	Instant    int            `json:"instant"`
	ShortTerm  int            `json:"short_term"`
	LongTerm   int            `json:"long_term"`
	Categories map[string]int `json:"categories"`
}

// Stats returns current tier sizes.
func (m *Manager) Stats() Stats {
	return Stats{
		Instant:    m.instant.Len(),
		ShortTerm:  m.short.Len(),
		LongTerm:   m.long.Len(),
		Categories: m.long.CategoryCounts(),
	}
}
