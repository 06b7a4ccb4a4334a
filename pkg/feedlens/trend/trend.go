// Package trend turns taxonomy snapshots into date-windowed trend matrices
// and summary statistics for reporting.
package trend

import (
	"fmt"
	"sort"
	"time"

	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
	"github.com/feedlens/feedlens/pkg/feedlens/taxonomy"
)

// DateLayout is the canonical day format used across the engine.
const DateLayout = "2006-01-02"

// Row is one canonical topic's trend line across the requested window.
type Row struct {
	TopicID  string
	Topic    string
	Category taxonomy.Category
	Counts   []int // aligned with Matrix.Dates
	Total    int
	Trend    string  // formatted percentage, "NEW", or "-"
	TrendPct float64 // meaningful only when Trend is a percentage
}

// Matrix is the trend table for a date window ending at TargetDate.
// Rows are sorted by window total descending, canonical name ascending on
// ties, so report output is reproducible.
type Matrix struct {
	TargetDate string
	Dates      []string
	Rows       []Row
}

// Build computes the trend matrix for the windowDays-day window ending at
// targetDate. Topics without any mention inside the window are omitted.
//
// The trend compares the last 7 days of the window against the 7 days
// before that. A topic with no mentions in the earlier span reports "NEW"
// instead of an undefined percentage; windows shorter than 14 days report
// "-" since there is nothing to compare.
func Build(snap taxonomy.Snapshot, targetDate string, windowDays int) (Matrix, error) {
	end, err := time.Parse(DateLayout, targetDate)
	if err != nil {
		return Matrix{}, fmt.Errorf("target date %q: %w", targetDate, internalerr.ErrInvalidInput)
	}
	if windowDays <= 0 {
		return Matrix{}, fmt.Errorf("window days %d: %w", windowDays, internalerr.ErrInvalidInput)
	}

	dates := make([]string, windowDays)
	for i := range dates {
		dates[i] = end.AddDate(0, 0, i-windowDays+1).Format(DateLayout)
	}

	m := Matrix{TargetDate: targetDate, Dates: dates}

	for _, t := range snap.Topics {
		byDate := snap.Counts[t.ID]
		if len(byDate) == 0 {
			continue
		}

		row := Row{
			TopicID:  t.ID,
			Topic:    t.CanonicalName,
			Category: t.Category,
			Counts:   make([]int, windowDays),
		}
		for i, d := range dates {
			row.Counts[i] = byDate[d]
			row.Total += byDate[d]
		}
		if row.Total == 0 {
			continue
		}

		row.Trend, row.TrendPct = trendLabel(row.Counts)
		m.Rows = append(m.Rows, row)
	}

	sort.Slice(m.Rows, func(i, j int) bool {
		if m.Rows[i].Total != m.Rows[j].Total {
			return m.Rows[i].Total > m.Rows[j].Total
		}
		return m.Rows[i].Topic < m.Rows[j].Topic
	})

	return m, nil
}

func trendLabel(counts []int) (string, float64) {
	if len(counts) < 14 {
		return "-", 0
	}

	recent := sum(counts[len(counts)-7:])
	previous := sum(counts[len(counts)-14 : len(counts)-7])

	if previous == 0 {
		if recent > 0 {
			return "NEW", 0
		}
		return "-", 0
	}

	pct := 100 * float64(recent-previous) / float64(previous)
	return fmt.Sprintf("%+.1f%%", pct), pct
}

func sum(counts []int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// TopicTotal pairs a topic with its window mention total.
type TopicTotal struct {
	Topic string
	Total int
}

// Summary aggregates the headline numbers the report renderer and trend
// query interface expose.
type Summary struct {
	TargetDate      string
	TotalTopics     int
	TotalMentions   int
	SkippedMentions int
	Top             []TopicTotal
	NewTopics       []string // canonical names created on or after NewSince
	Trending        []Row    // rows whose trend percentage exceeds the threshold
}

// SummaryOptions controls summary construction.
type SummaryOptions struct {
	WindowDays     int
	TopN           int
	TrendThreshold float64   // percentage; rows above it land in Trending
	NewSince       time.Time // zero value disables new-topic listing
}

// Summarize builds the summary view over a snapshot for a target date.
func Summarize(snap taxonomy.Snapshot, targetDate string, opts SummaryOptions) (Summary, error) {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 31
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}

	m, err := Build(snap, targetDate, opts.WindowDays)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		TargetDate:      targetDate,
		TotalTopics:     len(snap.Topics),
		TotalMentions:   snap.TotalMentions,
		SkippedMentions: snap.SkippedMentions,
	}

	for _, row := range m.Rows {
		if len(s.Top) < opts.TopN {
			s.Top = append(s.Top, TopicTotal{Topic: row.Topic, Total: row.Total})
		}
		if row.Trend != "NEW" && row.Trend != "-" && row.TrendPct > opts.TrendThreshold {
			s.Trending = append(s.Trending, row)
		}
	}

	if !opts.NewSince.IsZero() {
		for _, t := range snap.Topics {
			if !t.CreatedAt.Before(opts.NewSince) {
				s.NewTopics = append(s.NewTopics, t.CanonicalName)
			}
		}
		sort.Strings(s.NewTopics)
	}

	return s, nil
}
