// scrape-reviews fetches recent Play Store reviews for an app and archives
// them into the local SQLite review store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"

	"github.com/feedlens/feedlens/internal/logging"
	"github.com/feedlens/feedlens/internal/playstore"
	"github.com/feedlens/feedlens/internal/reviewstore"
	"github.com/feedlens/feedlens/pkg/feedlens"
)

func main() {
	var (
		appPkg  = flag.String("app", "", "App package name (required)")
		dbPath  = flag.String("db", "reviews.db", "Review archive path")
		outDir  = flag.String("out", "", "Also write daily YYYY-MM-DD.json batch files here")
		maxRevs = flag.Int("max", 200, "Maximum reviews to fetch")
		since   = flag.String("since", "", "Skip reviews posted before this date (YYYY-MM-DD)")
		rps     = flag.Float64("rate", 1, "Requests per second against the store")
		debug   = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logging.Init(nil, *debug)

	if *appPkg == "" {
		logging.Fatal("--app required")
	}

	ctx := context.Background()
	client := playstore.NewClient(*rps)

	info, err := client.AppInfo(ctx, *appPkg)
	if err != nil {
		logging.Fatal("fetch app info", "app", *appPkg, "err", err)
	}
	logging.Info("scraping reviews", "app", info.Title, "developer", info.Developer)

	reviews, err := client.Reviews(ctx, *appPkg, *maxRevs, *since)
	if err != nil {
		logging.Fatal("fetch reviews", "app", *appPkg, "err", err)
	}

	archive, err := reviewstore.Open(ctx, *dbPath)
	if err != nil {
		logging.Fatal("open review archive", "path", *dbPath, "err", err)
	}
	defer archive.Close()

	if err := archive.Upsert(ctx, *appPkg, reviews); err != nil {
		logging.Fatal("archive reviews", "err", err)
	}

	byDate, dates := playstore.GroupByDate(reviews)
	for _, d := range dates {
		logging.Info("archived batch", "date", d, "reviews", len(byDate[d]))
		if *outDir != "" {
			if err := writeBatchFile(*outDir, d, byDate[d]); err != nil {
				logging.Fatal("write batch file", "date", d, "err", err)
			}
		}
	}
	logging.Info("done", "app", *appPkg, "reviews", len(reviews), "days", len(dates))
}

func writeBatchFile(dir, date string, reviews []feedlens.Review) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(reviews, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, date+".json"), data, 0o644)
}
