// Package feedlens is the review trend analysis facade. It ties topic
// extraction, incremental consolidation, daily aggregation, and state
// persistence together behind one Analyzer type.
package feedlens

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feedlens/feedlens/internal/logging"
	"github.com/feedlens/feedlens/pkg/feedlens/config"
	"github.com/feedlens/feedlens/pkg/feedlens/consolidate"
	"github.com/feedlens/feedlens/pkg/feedlens/state"
	"github.com/feedlens/feedlens/pkg/feedlens/taxonomy"
	"github.com/feedlens/feedlens/pkg/feedlens/trend"
)

// Review is one user review as ingested from a store listing.
type Review struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Rating int    `json:"rating"`
	Date   string `json:"date"` // YYYY-MM-DD
}

// Extraction is the set of raw topics an extractor pulled from one review.
type Extraction struct {
	Topics    []ExtractedTopic
	Sentiment string
	Reasoning string
}

// ExtractedTopic is a single raw topic phrase plus its feedback category.
type ExtractedTopic struct {
	Text     string
	Category taxonomy.Category
}

// Extractor pulls raw topics out of review text. Implementations may be
// LLM-backed; a failed extraction skips that review and is reported in the
// batch result rather than aborting the batch.
type Extractor interface {
	Extract(ctx context.Context, review Review) (Extraction, error)
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, review Review) (Extraction, error)

func (f ExtractorFunc) Extract(ctx context.Context, review Review) (Extraction, error) {
	return f(ctx, review)
}

// Options configures an Analyzer.
type Options struct {
	Config    config.Config
	Extractor Extractor
	Oracle    consolidate.Oracle

	// Store carries previously loaded taxonomy state. Nil starts fresh.
	Store *taxonomy.Store

	// Processed carries previously seen review ids. Nil starts fresh.
	Processed map[string]struct{}
}

// Analyzer is the top-level engine: it consumes daily review batches and
// maintains the canonical topic taxonomy and its trend counts.
type Analyzer struct {
	mu        sync.Mutex
	cfg       config.Config
	store     *taxonomy.Store
	engine    *consolidate.Engine
	extractor Extractor
	processed map[string]struct{}
	lastDate  string
}

// New creates an Analyzer, seeding configured topics into a fresh store.
func New(opts Options) (*Analyzer, error) {
	if opts.Extractor == nil {
		return nil, fmt.Errorf("feedlens: extractor required")
	}
	if opts.Oracle == nil {
		return nil, fmt.Errorf("feedlens: oracle required")
	}

	cfg := opts.Config
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = config.Default().MatchThreshold
	}
	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = config.Default().ExtractWorkers
	}
	if cfg.TrendWindowDays <= 0 {
		cfg.TrendWindowDays = config.Default().TrendWindowDays
	}
	if cfg.StatePath == "" {
		cfg.StatePath = config.Default().StatePath
	}

	st := opts.Store
	fresh := st == nil
	if fresh {
		st = taxonomy.NewStore()
	}

	a := &Analyzer{
		cfg:       cfg,
		store:     st,
		extractor: opts.Extractor,
		processed: opts.Processed,
	}
	if a.processed == nil {
		a.processed = make(map[string]struct{})
	}

	engine, err := consolidate.New(consolidate.Options{
		Store:            st,
		Oracle:           opts.Oracle,
		Threshold:        cfg.MatchThreshold,
		CandidateK:       cfg.CandidateK,
		ReconcileK:       cfg.ReconcileK,
		VerdictCacheSize: cfg.VerdictCacheSize,
	})
	if err != nil {
		return nil, err
	}
	a.engine = engine

	if fresh {
		for _, seed := range cfg.SeedTopics {
			cat := taxonomy.Category(seed.Category)
			if cat == "" {
				cat = taxonomy.CategoryIssue
			}
			if _, err := st.Create(seed.Name, cat, seed.Description); err != nil {
				return nil, fmt.Errorf("seed topic %q: %w", seed.Name, err)
			}
		}
	}

	return a, nil
}

// Restore rebuilds an Analyzer from persisted processor state.
func Restore(opts Options, st state.ProcessorState) (*Analyzer, error) {
	store, err := taxonomy.NewStoreFromSnapshot(st.ToSnapshot())
	if err != nil {
		return nil, err
	}

	processed := make(map[string]struct{}, len(st.ProcessedReviews))
	for _, id := range st.ProcessedReviews {
		processed[id] = struct{}{}
	}

	opts.Store = store
	opts.Processed = processed
	a, err := New(opts)
	if err != nil {
		return nil, err
	}
	a.lastDate = st.LastDate
	return a, nil
}

// BatchResult summarizes one daily batch.
type BatchResult struct {
	Date        string
	Reviews     int
	Duplicates  int
	ExtractFail int
	Consolidate consolidate.BatchResult
}

// ProcessBatch ingests one day's reviews: extraction fans out across a
// bounded worker pool, then consolidation runs sequentially so classify
// decisions see each other. Reviews whose ids were already processed are
// skipped, which makes replaying a batch a no-op.
func (a *Analyzer) ProcessBatch(ctx context.Context, date string, reviews []Review) (BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := BatchResult{Date: date}

	var fresh []Review
	for _, r := range reviews {
		if r.ID == "" {
			res.ExtractFail++
			continue
		}
		if _, seen := a.processed[r.ID]; seen {
			res.Duplicates++
			continue
		}
		fresh = append(fresh, r)
	}

	type outcome struct {
		review Review
		ext    Extraction
		err    error
	}
	outcomes := make([]outcome, len(fresh))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.ExtractWorkers)
	for i, r := range fresh {
		g.Go(func() error {
			ext, err := a.extractor.Extract(gctx, r)
			outcomes[i] = outcome{review: r, ext: ext, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Preserve input order so consolidation is deterministic regardless of
	// worker scheduling.
	var raw []consolidate.RawTopic
	for _, o := range outcomes {
		if o.err != nil {
			res.ExtractFail++
			a.store.RecordSkipped(1)
			logging.Warn("extraction failed, skipping review",
				"review", o.review.ID, "err", o.err)
			continue
		}
		rdate := o.review.Date
		if rdate == "" {
			rdate = date
		}
		for _, t := range o.ext.Topics {
			raw = append(raw, consolidate.RawTopic{
				Text:     t.Text,
				ReviewID: o.review.ID,
				Date:     rdate,
				Category: t.Category,
			})
		}
		a.processed[o.review.ID] = struct{}{}
		res.Reviews++
	}

	cres, err := a.engine.ProcessBatch(ctx, raw)
	res.Consolidate = cres
	if err != nil {
		return res, err
	}

	if date > a.lastDate {
		a.lastDate = date
	}

	logging.Info("batch processed",
		"date", date,
		"reviews", res.Reviews,
		"duplicates", res.Duplicates,
		"topics", res.Consolidate.Classified,
		"created", len(res.Consolidate.Created),
		"merged", res.Consolidate.Merged)

	return res, nil
}

// TrendMatrix returns the trend table for the window ending at targetDate.
func (a *Analyzer) TrendMatrix(targetDate string) (trend.Matrix, error) {
	return trend.Build(a.store.Snapshot(), targetDate, a.cfg.TrendWindowDays)
}

// Summary returns the headline statistics for targetDate.
func (a *Analyzer) Summary(targetDate string, newSince time.Time) (trend.Summary, error) {
	return trend.Summarize(a.store.Snapshot(), targetDate, trend.SummaryOptions{
		WindowDays:     a.cfg.TrendWindowDays,
		TopN:           a.cfg.TopN,
		TrendThreshold: a.cfg.AlertThreshold,
		NewSince:       newSince,
	})
}

// Topics exposes the live canonical topics.
func (a *Analyzer) Topics() []taxonomy.Topic { return a.store.Topics() }

// State exports the analyzer's full state for persistence.
func (a *Analyzer) State() state.ProcessorState {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := state.FromSnapshot(a.store.Snapshot())
	st.ProcessedReviews = make([]string, 0, len(a.processed))
	for id := range a.processed {
		st.ProcessedReviews = append(st.ProcessedReviews, id)
	}
	sort.Strings(st.ProcessedReviews)
	st.LastDate = a.lastDate
	return st
}

// Checkpoint saves the analyzer's state to the configured path.
func (a *Analyzer) Checkpoint() error {
	return state.Save(a.cfg.StatePath, a.State())
}
