package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sgtransit/mrt-pipeline/internal/artifact"
	"github.com/sgtransit/mrt-pipeline/internal/checkpoint"
	"github.com/sgtransit/mrt-pipeline/internal/enrich"
	"github.com/sgtransit/mrt-pipeline/internal/model"
	"github.com/sgtransit/mrt-pipeline/pkg/anthropic"
)

var (
	enrichResume      bool
	enrichRestart     bool
	enrichRetryFailed bool
	enrichLimit       int
	enrichStation     string
	enrichBudgetMins  int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run the resumable wiki enrichment over the ingested stations",
	Long:  "Processes stations one at a time with checkpointing after each. Interrupted or timed-out runs resume where they left off; failed stations are skipped until --retry-failed or --restart.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}
		mode, err := enrichMode()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		runDir, manifest, err := latestRun()
		if err != nil {
			return err
		}
		set, err := artifact.ReadStationSet(runDir)
		if err != nil {
			return eris.Wrap(err, "enrich: load stations, has ingest run?")
		}

		stations := selectStations(set.Stations)
		if len(stations) == 0 {
			return eris.New("enrich: no stations selected")
		}

		cache := openPageCache()
		if cache != nil {
			defer cache.Close()
			if err := cache.Migrate(ctx); err != nil {
				return err
			}
		}

		extractor := enrich.NewLLMExtractor(
			anthropic.NewClient(cfg.Anthropic.Key),
			enrich.LLMOptions{
				Model:       cfg.Anthropic.Model,
				MaxTokens:   cfg.Anthropic.MaxTokens,
				Temperature: cfg.Anthropic.Temperature,
			},
		)
		source := enrich.NewWikiSource(newFetcher(), cache, cfg.Cache.TTL())
		cpStore := checkpoint.NewStore(filepath.Join(runDir, artifact.CheckpointFile))

		budget := cfg.Enrich.TimeBudget()
		if cmd.Flags().Changed("time-budget-mins") {
			budget = minutesToDuration(enrichBudgetMins)
		}

		engine := enrich.NewEngine(extractor, source, cpStore, enrich.Config{
			TimeBudget:   budget,
			StationDelay: cfg.Enrich.StationDelay(),
			Mode:         mode,
		})

		cp, state, err := engine.Run(ctx, stations)
		if err != nil {
			return err
		}

		printf("Enrichment %s: %d succeeded, %d failed, %d of %d processed",
			state, cp.Metadata.CompletedCount, cp.Metadata.FailedCount,
			len(cp.ProcessedStationIDs), len(stations))

		if state == enrich.RunTimedOut {
			printf("Time budget reached. Run `mrt-pipeline enrich` again to resume.")
			return nil
		}

		// Retire the checkpoint so the merge stage reads a stable artifact.
		if err := cpStore.Archive(filepath.Join(runDir, artifact.EnrichmentFile)); err != nil {
			return err
		}
		manifest.MarkStage("enrich")
		saveManifest(runDir, manifest)
		printf("Enrichment artifact written to %s", filepath.Join(runDir, artifact.EnrichmentFile))
		return nil
	},
}

// enrichMode folds the mode flags down to one run mode. A plain invocation
// resumes; --resume is the explicit spelling of that default.
func enrichMode() (enrich.Mode, error) {
	set := 0
	for _, on := range []bool{enrichResume, enrichRestart, enrichRetryFailed} {
		if on {
			set++
		}
	}
	if set > 1 {
		return 0, eris.New("--resume, --restart and --retry-failed are mutually exclusive")
	}
	switch {
	case enrichRestart:
		return enrich.ModeRestart, nil
	case enrichRetryFailed:
		return enrich.ModeRetryFailed, nil
	default:
		return enrich.ModeResume, nil
	}
}

// selectStations applies the --station and --limit filters in input order.
func selectStations(all []model.Station) []model.Station {
	stations := all
	if enrichStation != "" {
		stations = nil
		for _, st := range all {
			if st.StationID == enrichStation {
				stations = append(stations, st)
			}
		}
	}
	if enrichLimit > 0 && len(stations) > enrichLimit {
		stations = stations[:enrichLimit]
	}
	return stations
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichResume, "resume", false, "continue from the existing checkpoint (the default)")
	enrichCmd.Flags().BoolVar(&enrichRestart, "restart", false, "discard the checkpoint and process everything")
	enrichCmd.Flags().BoolVar(&enrichRetryFailed, "retry-failed", false, "re-attempt previously failed stations")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "process at most N stations")
	enrichCmd.Flags().StringVar(&enrichStation, "station", "", "process only the given station ID")
	enrichCmd.Flags().IntVar(&enrichBudgetMins, "time-budget-mins", 0, "override the configured time budget")
	rootCmd.AddCommand(enrichCmd)
}
