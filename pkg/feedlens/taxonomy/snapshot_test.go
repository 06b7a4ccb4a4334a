package taxonomy

import (
	"errors"
	"testing"
	"time"

	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
)

func buildStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	clock := fixedClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	s.SetClock(clock.now)

	a, _ := s.Create("Delivery guy rude", CategoryIssue, "")
	clock.advance(time.Hour)
	b, _ := s.Create("App crashed", CategoryIssue, "")
	clock.advance(time.Hour)
	c, _ := s.Create("Delivery partner impolite", CategoryIssue, "")

	record(t, s, a.ID, "2024-06-01", 2)
	record(t, s, b.ID, "2024-06-01", 1)
	record(t, s, c.ID, "2024-06-02", 1)

	if _, err := s.Merge(a.ID, c.ID); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	s.RecordSkipped(1)
	return s
}

func TestSnapshotRoundtrip(t *testing.T) {
	s := buildStore(t)
	snap := s.Snapshot()

	restored, err := NewStoreFromSnapshot(snap)
	if err != nil {
		t.Fatalf("NewStoreFromSnapshot: %v", err)
	}

	if got, want := restored.TotalMentions(), s.TotalMentions(); got != want {
		t.Errorf("TotalMentions = %d, want %d", got, want)
	}
	if got, want := restored.SkippedMentions(), s.SkippedMentions(); got != want {
		t.Errorf("SkippedMentions = %d, want %d", got, want)
	}
	if got, want := len(restored.Topics()), len(s.Topics()); got != want {
		t.Errorf("live topics = %d, want %d", got, want)
	}

	// Redirects survive: the absorbed variant still resolves.
	orig, _ := s.Lookup("delivery partner impolite")
	got, ok := restored.Lookup("delivery partner impolite")
	if !ok || got.ID != orig.ID {
		t.Errorf("restored Lookup = %s, %v; want %s", got.ID, ok, orig.ID)
	}

	// Counts survive per date.
	for _, topic := range s.Topics() {
		want := s.Counts(topic.ID)
		have := restored.Counts(topic.ID)
		for date, n := range want {
			if have[date] != n {
				t.Errorf("restored counts[%s][%s] = %d, want %d", topic.ID, date, have[date], n)
			}
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	a, _ := s.Create("App crashed", CategoryIssue, "")
	record(t, s, a.ID, "2024-06-01", 1)

	snap := s.Snapshot()
	snap.Counts[a.ID]["2024-06-01"] = 99
	snap.Topics[0].Variants[0] = "mutated"

	if n := s.Counts(a.ID)["2024-06-01"]; n != 1 {
		t.Errorf("store counts mutated through snapshot: %d", n)
	}
	got, _ := s.Get(a.ID)
	if got.Variants[0] != "App crashed" {
		t.Errorf("store variants mutated through snapshot: %q", got.Variants[0])
	}
}

func TestNewStoreFromSnapshotRejectsCorruption(t *testing.T) {
	base := func() Snapshot { return buildStore(t).Snapshot() }

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"missing topic id", func(s *Snapshot) { s.Topics[0].ID = "" }},
		{"duplicate topic id", func(s *Snapshot) { s.Topics[1].ID = s.Topics[0].ID }},
		{"dangling redirect", func(s *Snapshot) { s.Redirects["ghost"] = "nowhere" }},
		{"dangling mapping", func(s *Snapshot) { s.Mapping["phantom phrase"] = "nowhere" }},
		{"counts for unknown topic", func(s *Snapshot) { s.Counts["nowhere"] = map[string]int{"2024-06-01": 1} }},
		{"negative count", func(s *Snapshot) { s.Counts[s.Topics[0].ID]["2024-06-01"] = -1 }},
		{"total mismatch", func(s *Snapshot) { s.TotalMentions += 7 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := base()
			tt.mutate(&snap)
			if _, err := NewStoreFromSnapshot(snap); !errors.Is(err, internalerr.ErrCorruptState) {
				t.Errorf("error = %v, want ErrCorruptState", err)
			}
		})
	}
}
