// Package memory implements the three-tier memory store that records evaluation outcomes.
//
// Tiers:
//   - Instant: bounded ring of the most recent entries, never persisted
//   - ShortTerm: capacity and age bounded, importance decays past a grace period
//   - LongTerm: categorized, unbounded, entries start at full importance
//
// The Manager is the only mutator; each tier serializes access with its own lock.
package memory

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry is a single remembered item.
type Entry struct {
	ID             string         `json:"id"`
	Content        any            `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
	AccessCount    int            `json:"access_count"`
	Importance     float64        `json:"importance"`
}

// NewEntry creates an entry stamped at now. Importance is clamped to [0,1].
// Content and metadata are stored in their JSON form, numbers as json.Number,
// so an entry compares equal to itself after a save and load.
func NewEntry(content any, importance float64, metadata map[string]any, now time.Time) *Entry {
	now = now.UTC()
	content = normalizeJSON(content)
	if metadata != nil {
		if m, ok := normalizeJSON(metadata).(map[string]any); ok {
			metadata = m
		}
	}
	return &Entry{
		ID:             Fingerprint(content, now),
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      now,
		LastAccessedAt: now,
		Importance:     clamp(importance),
	}
}

// Fingerprint derives an entry ID from its content and creation time.
func Fingerprint(content any, at time.Time) string {
	sum := sha256.Sum256([]byte(ContentText(content) + at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// Boost raises importance by amount, capped at 1.0.
func (e *Entry) Boost(amount float64) {
	e.Importance = clamp(e.Importance + amount)
}

// Decay lowers importance by amount, floored at 0.0.
func (e *Entry) Decay(amount float64) {
	e.Importance = clamp(e.Importance - amount)
}

// Touch records an access.
func (e *Entry) Touch(now time.Time) {
	now = now.UTC()
	e.AccessCount++
	if now.After(e.LastAccessedAt) {
		e.LastAccessedAt = now
	}
}

// Score is the recall ranking key.
func (e *Entry) Score() float64 {
	return e.Importance * (1 + float64(e.AccessCount)*0.1)
}

// Category returns metadata["category"] or def.
func (e *Entry) Category(def string) string {
	if c, ok := e.Metadata["category"].(string); ok && c != "" {
		return c
	}
	return def
}

// Text is the searchable form of the content.
func (e *Entry) Text() string {
	return ContentText(e.Content)
}

// Matches reports a case-insensitive substring match against the content.
func (e *Entry) Matches(query string) bool {
	return strings.Contains(strings.ToLower(e.Text()), strings.ToLower(query))
}

// Clone returns a copy with its own metadata map.
func (e *Entry) Clone() Entry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func normalizeJSON(v any) any {
	switch v.(type) {
	case nil, string:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := decodeJSON(data, &out); err != nil {
		return v
	}
	return out
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// ContentText renders arbitrary content as text for matching and fingerprints.
func ContentText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprint(content)
	}
	return string(data)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
