// Package report renders trend matrices and summaries as CSV, JSON, and
// plain text.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/feedlens/feedlens/pkg/feedlens/trend"
)

// WriteCSV renders the trend matrix as CSV: one header row of dates, then
// one row per topic with its per-date counts, window total, and trend.
func WriteCSV(w io.Writer, m trend.Matrix) error {
	cw := csv.NewWriter(w)

	header := append([]string{"topic", "category"}, m.Dates...)
	header = append(header, "total", "trend")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range m.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.Topic, string(row.Category))
		for _, n := range row.Counts {
			rec = append(rec, strconv.Itoa(n))
		}
		rec = append(rec, strconv.Itoa(row.Total), row.Trend)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %q: %w", row.Topic, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

type jsonReport struct {
	TargetDate string       `json:"target_date"`
	Dates      []string     `json:"dates"`
	Topics     []jsonTopic  `json:"topics"`
	Summary    *jsonSummary `json:"summary,omitempty"`
}

type jsonTopic struct {
	Topic    string         `json:"topic"`
	Category string         `json:"category"`
	Counts   map[string]int `json:"counts"`
	Total    int            `json:"total"`
	Trend    string         `json:"trend"`
}

type jsonSummary struct {
	TotalTopics     int      `json:"total_topics"`
	TotalMentions   int      `json:"total_mentions"`
	SkippedMentions int      `json:"skipped_mentions,omitempty"`
	NewTopics       []string `json:"new_topics,omitempty"`
}

// WriteJSON renders the trend matrix, with an optional summary block, as
// an indented JSON document.
func WriteJSON(w io.Writer, m trend.Matrix, s *trend.Summary) error {
	doc := jsonReport{TargetDate: m.TargetDate, Dates: m.Dates}

	for _, row := range m.Rows {
		counts := make(map[string]int, len(m.Dates))
		for i, d := range m.Dates {
			if row.Counts[i] > 0 {
				counts[d] = row.Counts[i]
			}
		}
		doc.Topics = append(doc.Topics, jsonTopic{
			Topic:    row.Topic,
			Category: string(row.Category),
			Counts:   counts,
			Total:    row.Total,
			Trend:    row.Trend,
		})
	}

	if s != nil {
		doc.Summary = &jsonSummary{
			TotalTopics:     s.TotalTopics,
			TotalMentions:   s.TotalMentions,
			SkippedMentions: s.SkippedMentions,
			NewTopics:       s.NewTopics,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// WriteText renders a human-readable summary: headline counts, the top
// topics by window total, and any topics trending above the alert
// threshold.
func WriteText(w io.Writer, s trend.Summary) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Review topic trends through %s\n", s.TargetDate)
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("=", 40))
	fmt.Fprintf(&b, "Canonical topics: %d\n", s.TotalTopics)
	fmt.Fprintf(&b, "Total mentions:   %d\n", s.TotalMentions)
	if s.SkippedMentions > 0 {
		fmt.Fprintf(&b, "Skipped:          %d\n", s.SkippedMentions)
	}

	if len(s.Top) > 0 {
		fmt.Fprintf(&b, "\nTop topics\n----------\n")
		for i, t := range s.Top {
			fmt.Fprintf(&b, "%2d. %-40s %d\n", i+1, t.Topic, t.Total)
		}
	}

	if len(s.Trending) > 0 {
		fmt.Fprintf(&b, "\nTrending up\n-----------\n")
		for _, row := range s.Trending {
			fmt.Fprintf(&b, "  %-40s %s\n", row.Topic, row.Trend)
		}
	}

	if len(s.NewTopics) > 0 {
		fmt.Fprintf(&b, "\nNew topics\n----------\n")
		for _, name := range s.NewTopics {
			fmt.Fprintf(&b, "  %s\n", name)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
