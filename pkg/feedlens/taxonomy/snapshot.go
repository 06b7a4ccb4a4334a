package taxonomy

import (
	"fmt"
	"sort"

	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
)

// Snapshot is a read-only export of the full taxonomy state, used for
// persistence and reporting. It shares no memory with the live store.
type Snapshot struct {
	Topics          []Topic
	Redirects       map[string]string
	Mapping         map[string]string
	Counts          map[string]map[string]int
	TotalMentions   int
	SkippedMentions int
}

// Snapshot exports a deep copy of the store's state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Topics:          make([]Topic, 0, len(s.topics)),
		Redirects:       make(map[string]string, len(s.redirects)),
		Mapping:         make(map[string]string, len(s.mapping)),
		Counts:          make(map[string]map[string]int, len(s.counts)),
		TotalMentions:   s.totalMentions,
		SkippedMentions: s.skippedMentions,
	}

	for _, t := range s.topics {
		snap.Topics = append(snap.Topics, copyTopic(t))
	}
	sortTopics(snap.Topics)

	for from, to := range s.redirects {
		snap.Redirects[from] = to
	}
	for norm, id := range s.mapping {
		snap.Mapping[norm] = id
	}
	for id, byDate := range s.counts {
		cp := make(map[string]int, len(byDate))
		for date, n := range byDate {
			cp[date] = n
		}
		snap.Counts[id] = cp
	}

	return snap
}

// NewStoreFromSnapshot reconstructs a store from a previously exported
// snapshot, validating referential integrity: every mapping entry and every
// redirect must land on a live topic, and the recorded mention total must
// match the summed counts. Violations mean the persisted state is corrupt
// and are reported rather than silently repaired.
func NewStoreFromSnapshot(snap Snapshot) (*Store, error) {
	s := NewStore()

	for i := range snap.Topics {
		t := copyTopic(&snap.Topics[i])
		if t.ID == "" || t.CanonicalName == "" {
			return nil, fmt.Errorf("topic %d missing id or name: %w", i, internalerr.ErrCorruptState)
		}
		if _, dup := s.topics[t.ID]; dup {
			return nil, fmt.Errorf("duplicate topic id %s: %w", t.ID, internalerr.ErrCorruptState)
		}
		s.topics[t.ID] = &t
	}

	for from, to := range snap.Redirects {
		s.redirects[from] = to
	}
	for from := range snap.Redirects {
		if _, ok := s.resolveLocked(from); !ok {
			return nil, fmt.Errorf("redirect from %s never reaches a live topic: %w",
				from, internalerr.ErrCorruptState)
		}
	}

	for norm, id := range snap.Mapping {
		live, ok := s.resolveLocked(id)
		if !ok {
			return nil, fmt.Errorf("mapping %q -> unknown topic %s: %w",
				norm, id, internalerr.ErrCorruptState)
		}
		s.mapping[norm] = live
	}

	total := 0
	for id, byDate := range snap.Counts {
		live, ok := s.resolveLocked(id)
		if !ok {
			return nil, fmt.Errorf("counts for unknown topic %s: %w", id, internalerr.ErrCorruptState)
		}
		if s.counts[live] == nil {
			s.counts[live] = make(map[string]int)
		}
		for date, n := range byDate {
			if n < 0 {
				return nil, fmt.Errorf("negative count for %s on %s: %w",
					id, date, internalerr.ErrCorruptState)
			}
			s.counts[live][date] += n
			total += n
		}
	}

	if snap.TotalMentions != total {
		return nil, fmt.Errorf("mention total %d does not match summed counts %d: %w",
			snap.TotalMentions, total, internalerr.ErrCorruptState)
	}

	s.totalMentions = snap.TotalMentions
	s.skippedMentions = snap.SkippedMentions
	return s, nil
}

func sortTopics(topics []Topic) {
	sort.Slice(topics, func(i, j int) bool {
		if !topics[i].CreatedAt.Equal(topics[j].CreatedAt) {
			return topics[i].CreatedAt.Before(topics[j].CreatedAt)
		}
		return topics[i].CanonicalName < topics[j].CanonicalName
	})
}
