// Package state persists the processor's full working state as a single
// JSON document, written atomically so a crash mid-save never leaves a
// half-written file behind.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/feedlens/feedlens/internal/logging"
	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
	"github.com/feedlens/feedlens/pkg/feedlens/taxonomy"
)

// TopicRecord is the persisted form of one canonical topic.
type TopicRecord struct {
	ID            string    `json:"id"`
	CanonicalName string    `json:"canonical_name"`
	Description   string    `json:"description,omitempty"`
	Category      string    `json:"category"`
	Variants      []string  `json:"variants"`
	CreatedAt     time.Time `json:"created_at"`
	LastMergedAt  time.Time `json:"last_merged_at,omitempty"`
}

// ProcessorState is the on-disk representation of everything the analyzer
// needs to resume: the taxonomy, its variant mapping and merge redirects,
// the daily mention counts, and the set of already-processed review ids
// that makes batch replay idempotent.
type ProcessorState struct {
	Topics          []TopicRecord             `json:"consolidated_topics"`
	Mapping         map[string]string         `json:"topic_taxonomy"`
	Redirects       map[string]string         `json:"topic_redirects,omitempty"`
	Counts          map[string]map[string]int `json:"daily_topic_counts"`
	TotalMentions   int                       `json:"total_extractions"`
	SkippedMentions int                       `json:"skipped_extractions,omitempty"`

	ProcessedReviews []string `json:"processed_review_ids,omitempty"`
	LastDate         string   `json:"last_processed_date,omitempty"`
	SavedAt          time.Time `json:"saved_at"`
}

// FromSnapshot converts a taxonomy snapshot into persistable form.
func FromSnapshot(snap taxonomy.Snapshot) ProcessorState {
	st := ProcessorState{
		Topics:          make([]TopicRecord, 0, len(snap.Topics)),
		Mapping:         snap.Mapping,
		Redirects:       snap.Redirects,
		Counts:          snap.Counts,
		TotalMentions:   snap.TotalMentions,
		SkippedMentions: snap.SkippedMentions,
	}
	for _, t := range snap.Topics {
		st.Topics = append(st.Topics, TopicRecord{
			ID:            t.ID,
			CanonicalName: t.CanonicalName,
			Description:   t.Description,
			Category:      string(t.Category),
			Variants:      t.Variants,
			CreatedAt:     t.CreatedAt,
			LastMergedAt:  t.LastMergedAt,
		})
	}
	return st
}

// ToSnapshot converts persisted state back into a taxonomy snapshot.
func (st ProcessorState) ToSnapshot() taxonomy.Snapshot {
	snap := taxonomy.Snapshot{
		Topics:          make([]taxonomy.Topic, 0, len(st.Topics)),
		Mapping:         st.Mapping,
		Redirects:       st.Redirects,
		Counts:          st.Counts,
		TotalMentions:   st.TotalMentions,
		SkippedMentions: st.SkippedMentions,
	}
	if snap.Mapping == nil {
		snap.Mapping = map[string]string{}
	}
	if snap.Redirects == nil {
		snap.Redirects = map[string]string{}
	}
	if snap.Counts == nil {
		snap.Counts = map[string]map[string]int{}
	}
	for _, r := range st.Topics {
		snap.Topics = append(snap.Topics, taxonomy.Topic{
			ID:            r.ID,
			CanonicalName: r.CanonicalName,
			Description:   r.Description,
			Category:      taxonomy.Category(r.Category),
			Variants:      r.Variants,
			CreatedAt:     r.CreatedAt,
			LastMergedAt:  r.LastMergedAt,
		})
	}
	return snap
}

// Save writes the state to path atomically: marshal to a temp file in the
// same directory, fsync, then rename over the destination. Readers always
// see either the old complete state or the new complete state.
func Save(path string, st ProcessorState) error {
	st.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	logging.Debug("state saved", "path", path, "topics", len(st.Topics), "mentions", st.TotalMentions)
	return nil
}

// Load reads persisted state from path. A missing file is a normal cold
// start and returns ok=false with no error. A file that exists but cannot
// be decoded, or that decodes into an internally inconsistent state, is
// reported as ErrCorruptState; the caller decides whether to halt or start
// fresh, the loader never guesses. Unknown JSON fields are ignored so old
// binaries can read state written by newer ones.
func Load(path string) (ProcessorState, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ProcessorState{}, false, nil
	}
	if err != nil {
		return ProcessorState{}, false, fmt.Errorf("read state file: %w", err)
	}

	var st ProcessorState
	if err := json.Unmarshal(data, &st); err != nil {
		return ProcessorState{}, false, fmt.Errorf("decode %s: %v: %w",
			path, err, internalerr.ErrCorruptState)
	}

	// Structural validation beyond what decoding gives us is delegated to
	// taxonomy.NewStoreFromSnapshot; here we only reject states that could
	// not have been produced by a completed save.
	for i, t := range st.Topics {
		if t.ID == "" || t.CanonicalName == "" {
			return ProcessorState{}, false, fmt.Errorf("topic %d missing id or name in %s: %w",
				i, path, internalerr.ErrCorruptState)
		}
	}

	logging.Debug("state loaded", "path", path, "topics", len(st.Topics), "mentions", st.TotalMentions)
	return st, true, nil
}
