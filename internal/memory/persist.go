package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"evogate/internal/logging"
)

// ErrPersistence wraps every failure to save a tier file.
var ErrPersistence = errors.New("memory persistence failed")

const (
	fileVersion   = "1.0"
	shortTermName = "short_term_memory.json"
	longTermName  = "long_term_memory.json"
)

type shortTermFile struct {
	Version string    `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

type longTermFile struct {
	Version    string             `json:"version"`
	SavedAt    time.Time          `json:"saved_at"`
	Categories map[string][]Entry `json:"categories"`
}

// SaveAll writes the short-term and long-term tiers. Each file is replaced atomically.
func (m *Manager) SaveAll() error {
	if m.opts.Dir == "" {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryMemory, "SaveAll")
	defer timer.Stop()

	if err := os.MkdirAll(m.opts.Dir, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrPersistence, m.opts.Dir, err)
	}

	now := m.now().UTC()
	st := shortTermFile{Version: fileVersion, SavedAt: now, Entries: m.short.Snapshot()}
	if err := writeJSONAtomic(filepath.Join(m.opts.Dir, shortTermName), st); err != nil {
		return err
	}

	lt := longTermFile{Version: fileVersion, SavedAt: now, Categories: m.long.snapshot()}
	if err := writeJSONAtomic(filepath.Join(m.opts.Dir, longTermName), lt); err != nil {
		return err
	}

	logging.Memory("saved memory tiers to %s (short_term=%d long_term=%d)", m.opts.Dir, len(st.Entries), m.long.Len())
	return nil
}

func (m *Manager) load() {
	var st shortTermFile
	if readJSON(filepath.Join(m.opts.Dir, shortTermName), &st) {
		m.short.replace(st.Entries)
	}
	var lt longTermFile
	if readJSON(filepath.Join(m.opts.Dir, longTermName), &lt) {
		m.long.replace(lt.Categories)
	}
}

// readJSON decodes path into v. Missing or malformed files report false; malformed ones are logged.
func readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.MemoryWarn("cannot read %s, starting empty: %v", path, err)
		}
		return false
	}
	if err := decodeJSON(data, v); err != nil {
		logging.MemoryWarn("malformed tier file %s, starting empty: %v", path, err)
		return false
	}
	return true
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write %s: %v", ErrPersistence, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync %s: %v", ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close %s: %v", ErrPersistence, tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename %s: %v", ErrPersistence, path, err)
	}
	return nil
}
