package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/driver"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/logging"
)

var logger = logging.Get("history")

// ErrNotFound is returned by Get when no entry matches.
var ErrNotFound = errors.New("history entry not found")

// Manifest stores sweep history entries in a directory.
type Manifest struct {
	dir string
	mu  sync.Mutex
}

// New creates a new Manifest with the given directory.
// The directory is not created until EnsureDir is called.
func New(dir string) (*Manifest, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &Manifest{dir: dir}, nil
}

// Dir returns the history directory.
func (m *Manifest) Dir() string {
	return m.dir
}

// EnsureDir creates the history directory if it does not exist.
func (m *Manifest) EnsureDir() error {
	return os.MkdirAll(m.dir, 0o755)
}

// FromSummary builds an entry from a finished sweep. runErr is the error
// Run returned alongside the summary.
func FromSummary(s *driver.Summary, runErr error) *Entry {
	e := &Entry{
		DeviceID: s.DeviceID,
		Beta:     s.Beta,
		Status:   StatusCompleted,
		Runs:     make([]RunRecord, 0, len(s.Outcomes)),
		Summary: Summary{
			Planned:    s.Planned,
			Dispatched: s.Dispatched,
			Succeeded:  s.Succeeded,
			Failed:     s.Failed,
			PeakActive: s.Gate.Peak,
			ElapsedMS:  s.Elapsed.Milliseconds(),
		},
	}
	if s.Failed > 0 {
		e.Status = StatusFailures
	}
	if runErr != nil {
		e.Status = StatusAborted
		e.Error = runErr.Error()
	}

	for _, o := range s.Outcomes {
		r := RunRecord{
			RunID:        o.RunID,
			Dataset:      o.Descriptor.Dataset,
			LearningRate: o.Descriptor.LearningRate,
			Optimizer:    o.Descriptor.Optimizer,
			StartedAt:    o.StartedAt.UTC(),
			DurationMS:   o.Duration.Milliseconds(),
			ExitCode:     o.ExitCode,
			Succeeded:    o.Succeeded(),
		}
		if o.Err != nil {
			r.Error = o.Err.Error()
		}
		e.Runs = append(e.Runs, r)
	}
	return e
}

// Record assigns the entry an id and timestamp and persists it.
func (m *Manifest) Record(e *Entry) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.Timestamp = time.Now().UTC()
	e.ID = generateID(e.Timestamp)

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := m.writeEntry(e); err != nil {
		return nil, fmt.Errorf("failed to write history entry: %w", err)
	}

	logger.Debug("recorded sweep", "id", e.ID, "status", e.Status)
	return e, nil
}

// writeEntry writes an entry to a JSON file in the history directory.
func (m *Manifest) writeEntry(entry *Entry) error {
	filePath := filepath.Join(m.dir, entry.ID+".json")

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	// Write atomically using a temp file and rename
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// List returns entries sorted newest first. If limit is 0 or negative, all
// entries are returned.
func (m *Manifest) List(limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readAll()
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Get retrieves an entry by id or by a unique id prefix.
func (m *Manifest) Get(id string) (*Entry, error) {
	if id == "" {
		return nil, errors.New("entry ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readAll()
	if err != nil {
		return nil, err
	}

	var match *Entry
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i], nil
		}
		if strings.HasPrefix(entries[i].ID, id) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous entry ID prefix: %s", id)
			}
			match = &entries[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return match, nil
}

// readAll parses every entry file, skipping ones that cannot be read.
func (m *Manifest) readAll() ([]Entry, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	entries := []Entry{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		entry, err := m.readEntryFile(f.Name())
		if err != nil {
			logger.Warn("skipping unreadable history entry", "file", f.Name(), "err", err)
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (m *Manifest) readEntryFile(filename string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Cleanup removes entries older than retentionDays and returns how many were
// removed.
func (m *Manifest) Cleanup(retentionDays int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	files, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read history directory: %w", err)
	}

	removed := 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(m.dir, f.Name())); err != nil {
				logger.Warn("removing history entry", "file", f.Name(), "err", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// generateID creates an id like "sweep-2024-06-15T10-30-00-1b4e28ba".
func generateID(ts time.Time) string {
	return fmt.Sprintf("sweep-%s-%s", ts.Format("2006-01-02T15-04-05"), uuid.NewString()[:8])
}
