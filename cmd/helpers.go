package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sgtransit/mrt-pipeline/internal/artifact"
	"github.com/sgtransit/mrt-pipeline/internal/fetcher"
	"github.com/sgtransit/mrt-pipeline/internal/store"
)

// outputDir is the --output-dir persistent flag value; empty means the
// configured default.
var outputDir string

func init() {
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "override the configured output directory")
}

func resolvedOutputDir() string {
	if outputDir != "" {
		return outputDir
	}
	return cfg.Output.Dir
}

func newFetcher() *fetcher.HTTPFetcher {
	return fetcher.New(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout(),
		MaxRetries:   cfg.Fetch.MaxRetries,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
}

func openPageCache() *store.PageCache {
	cache, err := store.NewPageCache(cfg.Cache.Path)
	if err != nil {
		zap.L().Warn("page cache unavailable, fetching without cache", zap.Error(err))
		return nil
	}
	return cache
}

// latestRun loads the manifest of the most recent run.
func latestRun() (string, *artifact.Manifest, error) {
	dir, err := artifact.LatestRunDir(resolvedOutputDir())
	if err != nil {
		return "", nil, eris.Wrap(err, "no pipeline run found, run `mrt-pipeline ingest` first")
	}
	m, err := artifact.ReadManifest(dir)
	if err != nil {
		return "", nil, err
	}
	return dir, m, nil
}

func saveManifest(runDir string, m *artifact.Manifest) {
	if err := artifact.WriteManifest(runDir, m); err != nil {
		zap.L().Warn("manifest write failed", zap.Error(err))
	}
}

func minutesToDuration(mins int) time.Duration {
	return time.Duration(mins) * time.Minute
}

func printf(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}
