package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sgtransit/mrt-pipeline/internal/artifact"
	"github.com/sgtransit/mrt-pipeline/internal/merge"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Reconcile the deterministic set with the enrichment results",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("merge"); err != nil {
			return err
		}

		runDir, manifest, err := latestRun()
		if err != nil {
			return err
		}
		set, err := artifact.ReadStationSet(runDir)
		if err != nil {
			return eris.Wrap(err, "merge: load stations, has ingest run?")
		}
		enrichment, err := artifact.ReadEnrichment(runDir)
		if err != nil {
			return err
		}

		out, issues := merge.Merge(set.Stations, enrichment, merge.Options{
			PipelineVersion: cfg.Pipeline.Version,
		})
		if err := artifact.WriteFinalOutput(runDir, out, issues); err != nil {
			return err
		}
		manifest.MarkStage("merge")
		saveManifest(runDir, manifest)

		printf("Merge complete: %d stations, %d enriched, %d issue(s)",
			out.Metadata.TotalStations, out.Metadata.EnrichedCount, len(issues))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
