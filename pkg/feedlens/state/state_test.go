package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
	"github.com/feedlens/feedlens/pkg/feedlens/taxonomy"
)

func sampleState(t *testing.T) ProcessorState {
	t.Helper()
	s := taxonomy.NewStore()
	a, err := s.Create("App crashed", taxonomy.CategoryIssue, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddVariant(a.ID, "App keeps crashing"); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(a.ID, "2024-06-01"); err != nil {
		t.Fatal(err)
	}

	st := FromSnapshot(s.Snapshot())
	st.ProcessedReviews = []string{"r1", "r2"}
	st.LastDate = "2024-06-01"
	return st
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processor_state.json")
	st := sampleState(t)

	if err := Save(path, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported no state for an existing file")
	}

	if len(loaded.Topics) != 1 {
		t.Fatalf("topics = %d, want 1", len(loaded.Topics))
	}
	got := loaded.Topics[0]
	if got.CanonicalName != "App crashed" || len(got.Variants) != 2 {
		t.Errorf("topic = %+v, want 'App crashed' with 2 variants", got)
	}
	if loaded.TotalMentions != 1 {
		t.Errorf("TotalMentions = %d, want 1", loaded.TotalMentions)
	}
	if len(loaded.ProcessedReviews) != 2 || loaded.LastDate != "2024-06-01" {
		t.Errorf("processed=%v lastDate=%q, want [r1 r2] and 2024-06-01",
			loaded.ProcessedReviews, loaded.LastDate)
	}

	// The loaded state rebuilds a working store.
	restored, err := taxonomy.NewStoreFromSnapshot(loaded.ToSnapshot())
	if err != nil {
		t.Fatalf("NewStoreFromSnapshot: %v", err)
	}
	if _, ok := restored.Lookup("app keeps crashing"); !ok {
		t.Error("restored store lost a variant mapping")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, ok, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load of absent file: %v, want nil", err)
	}
	if ok {
		t.Error("Load of absent file reported ok=true")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		data string
	}{
		{"truncated json", `{"consolidated_topics": [{"id": "x"`},
		{"wrong shape", `{"consolidated_topics": "not-a-list"}`},
		{"topic missing id", `{"consolidated_topics": [{"canonical_name": "X"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			_, _, err := Load(path)
			if !errors.Is(err, internalerr.ErrCorruptState) {
				t.Errorf("error = %v, want ErrCorruptState", err)
			}
		})
	}
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	data := `{
		"consolidated_topics": [],
		"topic_taxonomy": {},
		"daily_topic_counts": {},
		"total_extractions": 0,
		"some_future_field": {"nested": true}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	_, ok, err := Load(path)
	if err != nil || !ok {
		t.Errorf("Load = ok=%v err=%v, want ok=true err=nil", ok, err)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := Save(path, sampleState(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Overwrite with a second save; the file must stay readable and no
	// temp files may linger.
	st := sampleState(t)
	st.LastDate = "2024-06-02"
	if err := Save(path, st); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	loaded, ok, err := Load(path)
	if err != nil || !ok {
		t.Fatalf("Load after overwrite: ok=%v err=%v", ok, err)
	}
	if loaded.LastDate != "2024-06-02" {
		t.Errorf("LastDate = %q, want the newer save", loaded.LastDate)
	}
	if loaded.SavedAt.IsZero() || loaded.SavedAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("SavedAt = %v, want a recent timestamp", loaded.SavedAt)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only state.json", names)
	}
}
