// Package consolidate decides, for each incoming raw topic, whether it is a
// variant of a known canonical topic, a genuinely new concept, or evidence
// that two existing canonical topics should be merged.
package consolidate

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/feedlens/feedlens/internal/logging"
	"github.com/feedlens/feedlens/pkg/feedlens/taxonomy"
)

// Verdict is the similarity oracle's judgment on a pair of topic strings.
type Verdict struct {
	Match      bool
	Confidence float64
}

// Oracle judges semantic similarity between a raw topic string and a known
// canonical topic. Implementations may be LLM-backed and slow; the engine
// treats a failed comparison as distinct and keeps going.
type Oracle interface {
	Compare(ctx context.Context, text string, against taxonomy.Topic) (Verdict, error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(ctx context.Context, text string, against taxonomy.Topic) (Verdict, error)

func (f OracleFunc) Compare(ctx context.Context, text string, against taxonomy.Topic) (Verdict, error) {
	return f(ctx, text, against)
}

// RawTopic is one extracted topic occurrence awaiting classification.
type RawTopic struct {
	Text     string
	ReviewID string
	Date     string // YYYY-MM-DD
	Category taxonomy.Category
}

// Options configures a consolidation engine.
type Options struct {
	Store  *taxonomy.Store
	Oracle Oracle

	// Threshold is the minimum oracle confidence for accepting a match.
	Threshold float64

	// CandidateK bounds the per-topic candidate short-list, and with it the
	// number of oracle calls per incoming topic.
	CandidateK int

	// ReconcileK is the wider candidate window used by the batch-level
	// reconciliation pass.
	ReconcileK int

	// VerdictCacheSize bounds the LRU cache of oracle verdicts. Zero
	// disables caching.
	VerdictCacheSize int
}

// BatchResult summarizes one batch's consolidation outcome.
type BatchResult struct {
	Classified    int
	Skipped       int      // topics with unusable text, excluded and counted
	Created       []string // canonical ids created during this batch
	Merged        int
	OracleFailed  int
	MergeRejected int
}

// Engine applies the two-phase consolidation algorithm: cheap per-topic
// matching with a bounded oracle budget, then a once-per-batch wider
// reconciliation pass that recovers duplicates the short-list missed.
type Engine struct {
	store     *taxonomy.Store
	oracle    Oracle
	threshold float64
	shortK    int
	wideK     int
	verdicts  *lru.Cache[string, Verdict]
}

// New creates a consolidation engine. Threshold and window sizes fall back
// to defaults when unset.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("consolidate: store required")
	}
	if opts.Oracle == nil {
		return nil, fmt.Errorf("consolidate: oracle required")
	}

	e := &Engine{
		store:     opts.Store,
		oracle:    opts.Oracle,
		threshold: opts.Threshold,
		shortK:    opts.CandidateK,
		wideK:     opts.ReconcileK,
	}
	if e.threshold <= 0 {
		e.threshold = 0.8
	}
	if e.shortK <= 0 {
		e.shortK = 5
	}
	if e.wideK <= 0 {
		e.wideK = 4 * e.shortK
	}

	if opts.VerdictCacheSize > 0 {
		cache, err := lru.New[string, Verdict](opts.VerdictCacheSize)
		if err != nil {
			return nil, fmt.Errorf("consolidate: verdict cache: %w", err)
		}
		e.verdicts = cache
	}

	return e, nil
}

// ProcessBatch classifies every raw topic in the batch, records a mention
// per occurrence, and then runs the reconciliation pass over the topics the
// batch created. Single oracle failures degrade to "distinct"; they never
// abort the batch.
func (e *Engine) ProcessBatch(ctx context.Context, topics []RawTopic) (BatchResult, error) {
	var res BatchResult

	for _, raw := range topics {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// Text that normalizes to nothing (pure punctuation, blank) cannot
		// be classified; exclude it, count it, keep going.
		if taxonomy.Normalize(raw.Text) == "" {
			res.Skipped++
			e.store.RecordSkipped(1)
			logging.Warn("unusable topic text, skipping",
				"review", raw.ReviewID, "text", raw.Text)
			continue
		}

		id, created, err := e.classify(ctx, raw, &res)
		if err != nil {
			return res, err
		}
		if created {
			res.Created = append(res.Created, id)
		}

		if err := e.store.Record(id, raw.Date); err != nil {
			return res, fmt.Errorf("record %q on %s: %w", raw.Text, raw.Date, err)
		}
		res.Classified++
	}

	e.reconcile(ctx, &res)
	return res, nil
}

// classify resolves one raw topic to a canonical id, creating a topic when
// nothing matches. Returns the id and whether a topic was created.
func (e *Engine) classify(ctx context.Context, raw RawTopic, res *BatchResult) (string, bool, error) {
	if t, ok := e.store.Lookup(raw.Text); ok {
		return t.ID, false, nil
	}

	candidates := e.store.FindCandidates(raw.Text, e.shortK)

	bestID := ""
	bestConf := 0.0
	for _, cand := range candidates {
		v, err := e.compare(ctx, raw.Text, cand.Topic)
		if err != nil {
			res.OracleFailed++
			logging.Warn("oracle comparison failed, treating as distinct",
				"topic", raw.Text, "candidate", cand.Topic.CanonicalName, "err", err)
			continue
		}
		if v.Match && v.Confidence >= e.threshold && v.Confidence > bestConf {
			bestID = cand.Topic.ID
			bestConf = v.Confidence
		}
	}

	if bestID != "" {
		if err := e.store.AddVariant(bestID, raw.Text); err != nil {
			return "", false, fmt.Errorf("add variant %q: %w", raw.Text, err)
		}
		return bestID, false, nil
	}

	t, err := e.store.Create(raw.Text, raw.Category, "")
	if err != nil {
		// A concurrent occurrence of the same phrasing can win the race to
		// create; fall back to lookup before giving up.
		if existing, ok := e.store.Lookup(raw.Text); ok {
			return existing.ID, false, nil
		}
		return "", false, fmt.Errorf("create topic %q: %w", raw.Text, err)
	}
	return t.ID, true, nil
}

// reconcile compares canonical topics created in this batch against the
// wider taxonomy and merges any pair the oracle judges to be duplicates.
// Merges are an optimization: a rejected merge is logged and skipped, the
// batch's own data is already safely recorded.
func (e *Engine) reconcile(ctx context.Context, res *BatchResult) {
	for _, id := range res.Created {
		if ctx.Err() != nil {
			return
		}

		t, ok := e.store.Get(id)
		if !ok {
			continue // already absorbed by an earlier merge in this pass
		}

		for _, cand := range e.store.FindCandidates(t.CanonicalName, e.wideK) {
			if cand.Topic.ID == t.ID {
				continue
			}

			v, err := e.compare(ctx, t.CanonicalName, cand.Topic)
			if err != nil {
				res.OracleFailed++
				continue
			}
			if !v.Match || v.Confidence < e.threshold {
				continue
			}

			survivorID, err := e.store.Merge(t.ID, cand.Topic.ID)
			if err != nil {
				res.MergeRejected++
				logging.Warn("merge rejected",
					"topic", t.CanonicalName, "with", cand.Topic.CanonicalName, "err", err)
				continue
			}
			res.Merged++

			// Merge picks the direction itself (the older topic survives),
			// so read the labels off the outcome rather than the arguments.
			absorbedName := cand.Topic.CanonicalName
			if survivorID != t.ID {
				absorbedName = t.CanonicalName
			}
			survivor, _ := e.store.Get(survivorID)
			logging.Info("merged duplicate topics",
				"absorbed", absorbedName, "into", survivor.CanonicalName)
			break
		}
	}
}

// compare consults the oracle, going through the verdict cache when one is
// configured. Cache keys use normalized text so replayed batches hit.
func (e *Engine) compare(ctx context.Context, text string, against taxonomy.Topic) (Verdict, error) {
	key := ""
	if e.verdicts != nil {
		a, b := taxonomy.Normalize(text), taxonomy.Normalize(against.CanonicalName)
		if a > b {
			a, b = b, a
		}
		key = a + "|" + b
		if v, ok := e.verdicts.Get(key); ok {
			return v, nil
		}
	}

	v, err := e.oracle.Compare(ctx, text, against)
	if err != nil {
		return Verdict{}, err
	}

	if e.verdicts != nil {
		e.verdicts.Add(key, v)
	}
	return v, nil
}
