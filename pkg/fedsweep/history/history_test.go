package history

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jamesainslie/fedsweep/pkg/fedsweep/driver"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/gate"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/launcher"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/space"
	"github.com/jamesainslie/fedsweep/pkg/fedsweep/types"
)

func sampleSummary() *driver.Summary {
	ok := space.Descriptor{Beta: 0.5, Dataset: "A", LearningRate: 0.1, Optimizer: "FedAvg"}
	bad := space.Descriptor{Beta: 0.5, Dataset: "A", LearningRate: 0.01, Optimizer: "FedAvg"}
	return &driver.Summary{
		DeviceID:   1,
		Beta:       0.5,
		Planned:    3,
		Dispatched: 2,
		Succeeded:  1,
		Failed:     1,
		Gate:       gate.Stats{Capacity: 50, Acquired: 2, Released: 2, Peak: 2},
		Elapsed:    90 * time.Second,
		Outcomes: []launcher.Outcome{
			{RunID: ok.RunID(), Descriptor: ok, Duration: time.Minute},
			{RunID: bad.RunID(), Descriptor: bad, ExitCode: 1, Duration: 2 * time.Second,
				Err: &types.WorkerExecutionError{RunID: bad.RunID(), ExitCode: 1}},
		},
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New() error = nil, want error for empty directory")
	}

	dir := filepath.Join(t.TempDir(), "history")
	m, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", m.Dir(), dir)
	}
	if err := m.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestFromSummary(t *testing.T) {
	t.Parallel()

	e := FromSummary(sampleSummary(), nil)
	if e.Status != StatusFailures {
		t.Errorf("Status = %q, want %q", e.Status, StatusFailures)
	}
	if e.Error != "" {
		t.Errorf("Error = %q, want empty", e.Error)
	}
	if len(e.Runs) != 2 {
		t.Fatalf("len(Runs) = %d, want 2", len(e.Runs))
	}
	if !e.Runs[0].Succeeded || e.Runs[0].DurationMS != 60000 {
		t.Errorf("Runs[0] = %+v", e.Runs[0])
	}
	if e.Runs[1].Succeeded || e.Runs[1].ExitCode != 1 || e.Runs[1].Error == "" {
		t.Errorf("Runs[1] = %+v", e.Runs[1])
	}
	if e.Summary.PeakActive != 2 || e.Summary.ElapsedMS != 90000 || e.Summary.Planned != 3 {
		t.Errorf("Summary = %+v", e.Summary)
	}

	clean := sampleSummary()
	clean.Outcomes = clean.Outcomes[:1]
	clean.Dispatched, clean.Failed = 1, 0
	if got := FromSummary(clean, nil).Status; got != StatusCompleted {
		t.Errorf("Status = %q, want %q", got, StatusCompleted)
	}

	aborted := FromSummary(sampleSummary(), errors.New("config read: missing"))
	if aborted.Status != StatusAborted || aborted.Error != "config read: missing" {
		t.Errorf("aborted entry = %q / %q", aborted.Status, aborted.Error)
	}
}

func TestManifest_RecordAndGet(t *testing.T) {
	t.Parallel()

	m, err := New(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	e, err := m.Record(FromSummary(sampleSummary(), nil))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "sweep-") {
		t.Errorf("ID = %q, want sweep- prefix", e.ID)
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if _, err := os.Stat(filepath.Join(m.Dir(), e.ID+".json")); err != nil {
		t.Fatalf("entry file not written: %v", err)
	}

	got, err := m.Get(e.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != e.ID || len(got.Runs) != 2 || got.Runs[1].RunID != e.Runs[1].RunID {
		t.Errorf("Get() = %+v", got)
	}

	byPrefix, err := m.Get(e.ID[:len(e.ID)-4])
	if err != nil {
		t.Fatalf("Get() by prefix error = %v", err)
	}
	if byPrefix.ID != e.ID {
		t.Errorf("Get() by prefix = %q, want %q", byPrefix.ID, e.ID)
	}

	if _, err := m.Get("sweep-1999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}
	if _, err := m.Get(""); err == nil {
		t.Error("Get(\"\") error = nil, want error")
	}
}

func TestManifest_GetAmbiguousPrefix(t *testing.T) {
	t.Parallel()

	m, _ := New(t.TempDir())
	for i := 0; i < 2; i++ {
		if _, err := m.Record(FromSummary(sampleSummary(), nil)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if _, err := m.Get("sweep-"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ambiguous prefix error", err)
	}
}

func TestManifest_List(t *testing.T) {
	t.Parallel()

	m, _ := New(filepath.Join(t.TempDir(), "history"))

	entries, err := m.List(0)
	if err != nil {
		t.Fatalf("List() on missing dir error = %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("List() = %v, want empty non-nil slice", entries)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		e, err := m.Record(FromSummary(sampleSummary(), nil))
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		ids = append(ids, e.ID)
		time.Sleep(5 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(m.Dir(), "junk.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err = m.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(List()) = %d, want 3 (unreadable files skipped)", len(entries))
	}
	if entries[0].ID != ids[2] {
		t.Errorf("List()[0] = %q, want newest %q", entries[0].ID, ids[2])
	}

	limited, _ := m.List(2)
	if len(limited) != 2 {
		t.Errorf("len(List(2)) = %d, want 2", len(limited))
	}
}

func TestManifest_Cleanup(t *testing.T) {
	t.Parallel()

	m, _ := New(t.TempDir())
	old, err := m.Record(FromSummary(sampleSummary(), nil))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	fresh, err := m.Record(FromSummary(sampleSummary(), nil))
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	past := time.Now().AddDate(0, 0, -40)
	if err := os.Chtimes(filepath.Join(m.Dir(), old.ID+".json"), past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := m.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed = %d, want 1", removed)
	}
	if _, err := m.Get(old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old entry still present: %v", err)
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("fresh entry removed: %v", err)
	}

	missing, _ := New(filepath.Join(t.TempDir(), "absent"))
	if n, err := missing.Cleanup(30); err != nil || n != 0 {
		t.Errorf("Cleanup() on missing dir = %d, %v", n, err)
	}
}
