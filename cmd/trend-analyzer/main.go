// trend-analyzer processes archived daily review batches through the
// consolidation engine and writes trend reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/feedlens/feedlens/internal/llm"
	"github.com/feedlens/feedlens/internal/logging"
	"github.com/feedlens/feedlens/internal/reviewstore"
	"github.com/feedlens/feedlens/pkg/feedlens"
	"github.com/feedlens/feedlens/pkg/feedlens/config"
	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
	"github.com/feedlens/feedlens/pkg/feedlens/report"
	"github.com/feedlens/feedlens/pkg/feedlens/state"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (optional, defaults apply)")
		appPkg     = flag.String("app", "", "App package name (overrides config)")
		batchDir   = flag.String("batches", "", "Directory of YYYY-MM-DD.json review batches (instead of the archive)")
		date       = flag.String("date", "", "Target report date YYYY-MM-DD (default: today)")
		since      = flag.String("since", "", "Only process batches on or after this date")
		reportOnly = flag.Bool("report-only", false, "Skip processing, render reports from saved state")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logging.Init(nil, *debug)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logging.Fatal("load config", "err", err)
		}
		cfg = loaded
	}
	if *appPkg != "" {
		cfg.AppPackage = *appPkg
	}
	if cfg.AppPackage == "" {
		logging.Fatal("--app or app_package in config required")
	}

	target := *date
	if target == "" {
		target = time.Now().UTC().Format("2006-01-02")
	}

	ctx := context.Background()

	client := llm.NewClient(
		cfg.LLM.BaseURL,
		os.Getenv(cfg.LLM.APIKeyEnv),
		cfg.LLM.Model,
		cfg.LLM.RatePerSec,
		cfg.LLM.MaxRetries,
		time.Duration(cfg.LLM.TimeoutSecs)*time.Second,
	)

	analyzer, err := buildAnalyzer(cfg, client)
	if err != nil {
		logging.Fatal("initialize analyzer", "err", err)
	}

	if !*reportOnly {
		if err := processBatches(ctx, analyzer, cfg, *batchDir, *since, target); err != nil {
			logging.Fatal("process batches", "err", err)
		}
	}

	if err := writeReports(analyzer, cfg, target); err != nil {
		logging.Fatal("write reports", "err", err)
	}
	logging.Info("reports written", "dir", cfg.ReportDir, "date", target)
}

// processBatches feeds review batches into the analyzer in date order,
// checkpointing after each day. Batches come from the sqlite archive, or
// from a directory of YYYY-MM-DD.json files when one is given.
func processBatches(ctx context.Context, analyzer *feedlens.Analyzer, cfg config.Config, batchDir, since, target string) error {
	var (
		dates []string
		read  func(date string) ([]feedlens.Review, error)
	)

	if batchDir != "" {
		entries, err := os.ReadDir(batchDir)
		if err != nil {
			return fmt.Errorf("read batch dir: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || filepath.Ext(name) != ".json" {
				continue
			}
			dates = append(dates, strings.TrimSuffix(name, ".json"))
		}
		sort.Strings(dates)
		read = func(date string) ([]feedlens.Review, error) {
			data, err := os.ReadFile(filepath.Join(batchDir, date+".json"))
			if err != nil {
				return nil, err
			}
			var reviews []feedlens.Review
			if err := json.Unmarshal(data, &reviews); err != nil {
				return nil, fmt.Errorf("batch %s: %w", date, err)
			}
			return reviews, nil
		}
	} else {
		archive, err := reviewstore.Open(ctx, cfg.ReviewDB)
		if err != nil {
			return fmt.Errorf("open review archive: %w", err)
		}
		defer archive.Close()

		dates, err = archive.Dates(ctx, cfg.AppPackage)
		if err != nil {
			return err
		}
		read = func(date string) ([]feedlens.Review, error) {
			return archive.ByDate(ctx, cfg.AppPackage, date)
		}
	}

	for _, d := range dates {
		if since != "" && d < since {
			continue
		}
		if d > target {
			break
		}

		reviews, err := read(d)
		if err != nil {
			return fmt.Errorf("read batch %s: %w", d, err)
		}

		res, err := analyzer.ProcessBatch(ctx, d, reviews)
		if err != nil {
			return fmt.Errorf("process batch %s: %w", d, err)
		}
		if res.Reviews == 0 && res.Duplicates > 0 {
			continue // batch already fully processed on a previous run
		}

		if err := analyzer.Checkpoint(); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	return nil
}

func buildAnalyzer(cfg config.Config, client *llm.Client) (*feedlens.Analyzer, error) {
	opts := feedlens.Options{
		Config:    cfg,
		Extractor: client,
		Oracle:    client,
	}

	st, ok, err := state.Load(cfg.StatePath)
	if err != nil {
		if errors.Is(err, internalerr.ErrCorruptState) {
			return nil, fmt.Errorf("state file %s is corrupt, refusing to continue: %w", cfg.StatePath, err)
		}
		return nil, err
	}
	if !ok {
		logging.Info("no prior state, starting fresh", "path", cfg.StatePath)
		return feedlens.New(opts)
	}

	logging.Info("resuming from saved state",
		"path", cfg.StatePath, "topics", len(st.Topics), "last_date", st.LastDate)
	return feedlens.Restore(opts, st)
}

func writeReports(a *feedlens.Analyzer, cfg config.Config, target string) error {
	if err := os.MkdirAll(cfg.ReportDir, 0o755); err != nil {
		return err
	}

	matrix, err := a.TrendMatrix(target)
	if err != nil {
		return err
	}
	summary, err := a.Summary(target, time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		return err
	}

	csvPath := filepath.Join(cfg.ReportDir, fmt.Sprintf("trends_%s.csv", target))
	f, err := os.Create(csvPath)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(f, matrix); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	jsonPath := filepath.Join(cfg.ReportDir, fmt.Sprintf("trends_%s.json", target))
	f, err = os.Create(jsonPath)
	if err != nil {
		return err
	}
	if err := report.WriteJSON(f, matrix, &summary); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return report.WriteText(os.Stdout, summary)
}
