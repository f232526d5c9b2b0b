// Package ledger keeps the append-only evolution log.
//
// The JSONL day files are the source of truth. An optional SQLite index
// mirrors every record for per-module summaries and rejection lookups, and
// is rebuilt from the files when it is empty.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"evogate/internal/logging"
)

// Ledger records evaluation outcomes.
type Ledger struct {
	journal *journal
	index   *index // nil when disabled
}

// Open opens the log in dir. dbPath enables the SQLite index; "" disables it.
func Open(ctx context.Context, dir, dbPath string) (*Ledger, error) {
	l := &Ledger{journal: &journal{dir: dir}}
	if dbPath == "" {
		logging.Ledger("evolution log at %s (no index)", dir)
		return l, nil
	}

	idx, err := openIndex(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	l.index = idx

	n, err := idx.count(ctx)
	if err != nil {
		idx.close()
		return nil, fmt.Errorf("failed to read ledger index: %w", err)
	}
	if n == 0 {
		if err := l.Reindex(ctx); err != nil {
			idx.close()
			return nil, err
		}
	}
	logging.Ledger("evolution log at %s, index %s", dir, dbPath)
	return l, nil
}

// Dir returns the log directory.
func (l *Ledger) Dir() string { return l.journal.dir }

// Append writes rec to the day file and the index. A failed index write is
// logged; the record is still durable in the journal.
func (l *Ledger) Append(ctx context.Context, rec Record) error {
	if err := l.journal.append(rec); err != nil {
		return err
	}
	if l.index != nil {
		if err := l.index.insert(ctx, rec); err != nil {
			logging.LedgerError("%v", err)
		}
	}
	return nil
}

// Reindex loads every journal record into the index.
func (l *Ledger) Reindex(ctx context.Context) error {
	if l.index == nil {
		return nil
	}
	var count int
	var insertErr error
	err := l.journal.scan(func(rec Record) bool {
		if insertErr = l.index.insert(ctx, rec); insertErr != nil {
			return false
		}
		count++
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to scan evolution log: %w", err)
	}
	if insertErr != nil {
		return insertErr
	}
	if count > 0 {
		logging.Ledger("reindexed %d evolution records", count)
	}
	return nil
}

// Records returns every journal record in chronological order.
func (l *Ledger) Records() ([]Record, error) {
	var out []Record
	err := l.journal.scan(func(rec Record) bool {
		out = append(out, rec)
		return true
	})
	return out, err
}

// Summaries aggregates the history per module. An empty module selects all.
func (l *Ledger) Summaries(ctx context.Context, module string) ([]Summary, error) {
	if l.index != nil {
		return l.index.summaries(ctx, module)
	}

	byModule := make(map[string]*Summary)
	err := l.journal.scan(func(rec Record) bool {
		if module != "" && rec.Module != module {
			return true
		}
		s, ok := byModule[rec.Module]
		if !ok {
			s = &Summary{Module: rec.Module, BestTotal: rec.TotalImprovement}
			byModule[rec.Module] = s
		}
		s.Evaluations++
		switch {
		case rec.Accepted:
			s.Accepted++
		case rec.Decision == DecisionRejectedUnsafe:
			s.Unsafe++
		default:
			s.Rejected++
		}
		if rec.TotalImprovement > s.BestTotal {
			s.BestTotal = rec.TotalImprovement
		}
		if !rec.Timestamp.Before(s.LastAt) {
			s.LastAt = rec.Timestamp
			s.LastDecision = rec.Decision
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(byModule))
	for _, s := range byModule {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out, nil
}

// History returns up to limit records of module, newest first.
func (l *Ledger) History(ctx context.Context, module string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	if l.index != nil {
		return l.index.history(ctx, module, limit)
	}

	var out []Record
	err := l.journal.scan(func(rec Record) bool {
		if rec.Module == module {
			out = append(out, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PreviouslyRejected reports whether this exact candidate was already rejected for module.
func (l *Ledger) PreviouslyRejected(ctx context.Context, module, code string) (bool, error) {
	fp := Fingerprint(code)
	if l.index != nil {
		return l.index.wasRejected(ctx, module, fp)
	}

	found := false
	err := l.journal.scan(func(rec Record) bool {
		if rec.Module == module && rec.NewFingerprint == fp && !rec.Accepted {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Close releases the index.
func (l *Ledger) Close() error {
	if l.index == nil {
		return nil
	}
	return l.index.close()
}
