package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"evogate/internal/logging"
)

const (
	filePrefix = "evolution_"
	fileSuffix = ".jsonl"
)

// journal is the append-only JSONL log, one file per UTC day.
type journal struct {
	dir string
	mu  sync.Mutex
}

// FileName returns the log file name for the day of t.
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format("20060102") + fileSuffix
}

func (j *journal) append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	path := filepath.Join(j.dir, FileName(rec.Timestamp))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return nil
}

// files returns the day files in chronological order.
func (j *journal) files() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, filepath.Join(j.dir, name))
		}
	}
	sort.Strings(names)
	return names, nil
}

// scan calls fn for every record in chronological order. Malformed lines are skipped.
func (j *journal) scan(fn func(Record) bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := j.files()
	if err != nil {
		return err
	}
	for _, path := range files {
		stop, err := scanFile(path, fn)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func scanFile(path string, fn func(Record) bool) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			logging.LedgerError("skipping malformed record %s:%d: %v", filepath.Base(path), line, err)
			continue
		}
		if !fn(rec) {
			return true, nil
		}
	}
	return false, sc.Err()
}
