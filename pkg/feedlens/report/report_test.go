package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/feedlens/feedlens/pkg/feedlens/taxonomy"
	"github.com/feedlens/feedlens/pkg/feedlens/trend"
)

func sampleMatrix() trend.Matrix {
	return trend.Matrix{
		TargetDate: "2024-06-03",
		Dates:      []string{"2024-06-01", "2024-06-02", "2024-06-03"},
		Rows: []trend.Row{
			{
				Topic:    "Delivery guy rude",
				Category: taxonomy.CategoryIssue,
				Counts:   []int{1, 1, 0},
				Total:    2,
				Trend:    "NEW",
			},
			{
				Topic:    "App crashed",
				Category: taxonomy.CategoryIssue,
				Counts:   []int{1, 0, 0},
				Total:    1,
				Trend:    "-",
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleMatrix()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading back csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(records))
	}

	header := records[0]
	want := []string{"topic", "category", "2024-06-01", "2024-06-02", "2024-06-03", "total", "trend"}
	if len(header) != len(want) {
		t.Fatalf("header = %v, want %v", header, want)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Errorf("header[%d] = %q, want %q", i, header[i], want[i])
		}
	}

	row := records[1]
	if row[0] != "Delivery guy rude" || row[2] != "1" || row[5] != "2" || row[6] != "NEW" {
		t.Errorf("first row = %v", row)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	summary := trend.Summary{TotalTopics: 2, TotalMentions: 3}
	if err := WriteJSON(&buf, sampleMatrix(), &summary); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var doc struct {
		TargetDate string `json:"target_date"`
		Topics     []struct {
			Topic  string         `json:"topic"`
			Counts map[string]int `json:"counts"`
			Trend  string         `json:"trend"`
		} `json:"topics"`
		Summary *struct {
			TotalMentions int `json:"total_mentions"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decode output: %v", err)
	}

	if doc.TargetDate != "2024-06-03" || len(doc.Topics) != 2 {
		t.Errorf("doc = %+v", doc)
	}
	first := doc.Topics[0]
	if first.Topic != "Delivery guy rude" || first.Counts["2024-06-02"] != 1 || first.Trend != "NEW" {
		t.Errorf("first topic = %+v", first)
	}
	// Zero-count dates are omitted.
	if _, present := first.Counts["2024-06-03"]; present {
		t.Error("zero-count date serialized")
	}
	if doc.Summary == nil || doc.Summary.TotalMentions != 3 {
		t.Errorf("summary = %+v, want total_mentions 3", doc.Summary)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	s := trend.Summary{
		TargetDate:    "2024-06-03",
		TotalTopics:   2,
		TotalMentions: 3,
		Top: []trend.TopicTotal{
			{Topic: "Delivery guy rude", Total: 2},
			{Topic: "App crashed", Total: 1},
		},
		Trending:  []trend.Row{{Topic: "Delivery guy rude", Trend: "+120.0%"}},
		NewTopics: []string{"App crashed"},
	}
	if err := WriteText(&buf, s); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"2024-06-03",
		"Canonical topics: 2",
		"Delivery guy rude",
		"+120.0%",
		"New topics",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
