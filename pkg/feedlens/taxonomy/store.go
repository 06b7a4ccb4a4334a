package taxonomy

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
)

// Category classifies what kind of feedback a topic represents.
type Category string

const (
	CategoryIssue    Category = "issue"
	CategoryRequest  Category = "request"
	CategoryFeedback Category = "feedback"
)

// Topic is a canonical topic: the single authoritative identity representing
// one or more raw topic variants judged semantically equivalent.
type Topic struct {
	ID            string
	CanonicalName string
	Description   string
	Category      Category
	Variants      []string
	CreatedAt     time.Time
	LastMergedAt  time.Time
}

// Candidate pairs a topic with its lexical prefilter score.
type Candidate struct {
	Topic Topic
	Score float64
}

// Store is the authoritative, queryable state of canonical topics, their
// variant mappings, and their date-indexed mention counts.
//
// Writes (Create, AddVariant, Merge, Record) are serialized behind the
// mutex; reads see a consistent snapshot and never observe a half-applied
// merge. Absorbed topics are never deleted: their id stays resolvable
// through the redirect table.
type Store struct {
	mu      sync.RWMutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time

	topics    map[string]*Topic         // live canonical topics by id
	redirects map[string]string         // absorbed id -> surviving id
	mapping   map[string]string         // normalized variant -> live canonical id
	counts    map[string]map[string]int // canonical id -> date (YYYY-MM-DD) -> mentions

	totalMentions   int
	skippedMentions int
}

// NewStore creates an empty taxonomy store.
func NewStore() *Store {
	return &Store{
		entropy:   ulid.Monotonic(rand.Reader, 0),
		now:       time.Now,
		topics:    make(map[string]*Topic),
		redirects: make(map[string]string),
		mapping:   make(map[string]string),
		counts:    make(map[string]map[string]int),
	}
}

// SetClock overrides the store's clock. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Lookup resolves a raw topic string against the variant mapping.
func (s *Store) Lookup(text string) (Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.mapping[Normalize(text)]
	if !ok {
		return Topic{}, false
	}
	return copyTopic(s.topics[id]), true
}

// Resolve follows redirects from a (possibly absorbed) canonical id to the
// live id that owns its history. Returns false for unknown ids.
func (s *Store) Resolve(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolveLocked(id)
}

func (s *Store) resolveLocked(id string) (string, bool) {
	for {
		if _, ok := s.topics[id]; ok {
			return id, true
		}
		next, ok := s.redirects[id]
		if !ok {
			return "", false
		}
		id = next
	}
}

// Get returns a live canonical topic, following redirects.
func (s *Store) Get(id string) (Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live, ok := s.resolveLocked(id)
	if !ok {
		return Topic{}, false
	}
	return copyTopic(s.topics[live]), true
}

// FindCandidates returns the top-k canonical topics most lexically similar
// to the given text. This is the cheap prefilter that bounds how many
// similarity-oracle calls the consolidation engine makes per incoming
// topic; it never calls the oracle itself.
//
// Results are ordered by score descending, then CreatedAt ascending, then
// canonical name, so candidate order is deterministic across runs.
func (s *Store) FindCandidates(text string, k int) []Candidate {
	if k <= 0 {
		return nil
	}

	toks := Tokens(text)
	if len(toks) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Candidate
	for _, t := range s.topics {
		best := overlap(toks, Tokens(t.CanonicalName))
		for _, v := range t.Variants {
			if sc := overlap(toks, Tokens(v)); sc > best {
				best = sc
			}
		}
		if best > 0 {
			out = append(out, Candidate{Topic: copyTopic(t), Score: best})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Topic.CreatedAt.Equal(out[j].Topic.CreatedAt) {
			return out[i].Topic.CreatedAt.Before(out[j].Topic.CreatedAt)
		}
		return out[i].Topic.CanonicalName < out[j].Topic.CanonicalName
	})

	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Create allocates a new canonical topic seeded with the given text as its
// first variant. Fails if the normalized text already belongs to a topic.
func (s *Store) Create(text string, category Category, description string) (Topic, error) {
	norm := Normalize(text)
	if norm == "" {
		return Topic{}, fmt.Errorf("create topic: empty text: %w", internalerr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.mapping[norm]; ok {
		return Topic{}, fmt.Errorf("create topic %q: variant already owned by %s: %w",
			text, id, internalerr.ErrInvalidInput)
	}

	if category == "" {
		category = CategoryIssue
	}

	t := &Topic{
		ID:            ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String(),
		CanonicalName: text,
		Description:   description,
		Category:      category,
		Variants:      []string{text},
		CreatedAt:     s.now(),
	}

	s.topics[t.ID] = t
	s.mapping[norm] = t.ID
	s.counts[t.ID] = make(map[string]int)

	return copyTopic(t), nil
}

// AddVariant registers text as a variant of the given canonical topic.
// Adding an already-present variant is a no-op; a variant owned by a
// different live topic is rejected, since every variant maps to exactly one
// canonical id at a time.
func (s *Store) AddVariant(id, text string) error {
	norm := Normalize(text)
	if norm == "" {
		return fmt.Errorf("add variant: empty text: %w", internalerr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live, ok := s.resolveLocked(id)
	if !ok {
		return fmt.Errorf("add variant: topic %s: %w", id, internalerr.ErrNotFound)
	}

	if owner, mapped := s.mapping[norm]; mapped {
		if owner == live {
			return nil
		}
		return fmt.Errorf("add variant %q: owned by %s: %w", text, owner, internalerr.ErrInvalidInput)
	}

	t := s.topics[live]
	t.Variants = append(t.Variants, text)
	s.mapping[norm] = live
	return nil
}

// Record increments the mention count for (topic, date). The id may be an
// absorbed one; mentions always land on the live survivor.
func (s *Store) Record(id, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live, ok := s.resolveLocked(id)
	if !ok {
		return fmt.Errorf("record mention: topic %s: %w", id, internalerr.ErrNotFound)
	}

	if s.counts[live] == nil {
		s.counts[live] = make(map[string]int)
	}
	s.counts[live][date]++
	s.totalMentions++
	return nil
}

// RecordSkipped adds to the count of extractions excluded by failures, so
// undercounting stays observable.
func (s *Store) RecordSkipped(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skippedMentions += n
}

// Merge unifies two canonical topics. The direction is normalized so the
// outcome does not depend on argument order: the topic created first
// survives, ties broken by lexicographically smaller canonical name. The
// absorbed topic's variants and per-date counts move to the survivor, and a
// redirect keeps the absorbed id resolvable.
//
// Returns the surviving id. Merging a topic with itself (directly or via
// redirects) is rejected, as is any merge whose count transfer would not
// reconcile.
func (s *Store) Merge(aID, bID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	liveA, okA := s.resolveLocked(aID)
	liveB, okB := s.resolveLocked(bID)
	if !okA || !okB {
		return "", fmt.Errorf("merge %s + %s: %w", aID, bID, internalerr.ErrNotFound)
	}
	if liveA == liveB {
		return "", fmt.Errorf("merge %s + %s: same live topic: %w", aID, bID, internalerr.ErrMergeRejected)
	}

	survivor, absorbed := s.topics[liveA], s.topics[liveB]
	if olderFirst(absorbed, survivor) {
		survivor, absorbed = absorbed, survivor
	}

	// Build the combined counts aside and verify the transfer reconciles
	// before touching the store, so a rejected merge leaves it untouched.
	before := s.sumCountsLocked(survivor.ID) + s.sumCountsLocked(absorbed.ID)
	merged := make(map[string]int, len(s.counts[survivor.ID])+len(s.counts[absorbed.ID]))
	for date, n := range s.counts[survivor.ID] {
		merged[date] = n
	}
	for date, n := range s.counts[absorbed.ID] {
		merged[date] += n
	}
	after := 0
	for _, n := range merged {
		after += n
	}
	if after != before {
		return "", fmt.Errorf("merge %s + %s: counts do not reconcile (%d != %d): %w",
			aID, bID, after, before, internalerr.ErrMergeRejected)
	}

	// Commit: re-point variants, swap in the combined counts, retire the
	// absorbed topic behind a redirect.
	for norm, id := range s.mapping {
		if id == absorbed.ID {
			s.mapping[norm] = survivor.ID
		}
	}
	survivor.Variants = append(survivor.Variants, absorbed.Variants...)
	survivor.Variants = dedupeVariants(survivor.Variants)

	s.counts[survivor.ID] = merged
	delete(s.counts, absorbed.ID)

	delete(s.topics, absorbed.ID)
	s.redirects[absorbed.ID] = survivor.ID
	survivor.LastMergedAt = s.now()

	return survivor.ID, nil
}

// olderFirst reports whether a should survive over b.
func olderFirst(a, b *Topic) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.CanonicalName < b.CanonicalName
}

// Topics returns all live canonical topics ordered by creation time.
func (s *Store) Topics() []Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, copyTopic(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CanonicalName < out[j].CanonicalName
	})
	return out
}

// Counts returns a copy of the per-date mention counts for a topic.
func (s *Store) Counts(id string) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live, ok := s.resolveLocked(id)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(s.counts[live]))
	for date, n := range s.counts[live] {
		out[date] = n
	}
	return out
}

// TotalMentions returns the number of recorded mentions across all live
// topics. The invariant TotalMentions == sum of all per-date counts holds
// after every merge.
func (s *Store) TotalMentions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalMentions
}

// SkippedMentions returns the number of extractions excluded by failures.
func (s *Store) SkippedMentions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skippedMentions
}

func (s *Store) sumCountsLocked(id string) int {
	total := 0
	for _, n := range s.counts[id] {
		total += n
	}
	return total
}

func copyTopic(t *Topic) Topic {
	out := *t
	out.Variants = make([]string, len(t.Variants))
	copy(out.Variants, t.Variants)
	return out
}

func dedupeVariants(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		norm := Normalize(v)
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, v)
	}
	return out
}
