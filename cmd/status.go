package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sgtransit/mrt-pipeline/internal/artifact"
	"github.com/sgtransit/mrt-pipeline/internal/checkpoint"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest run's progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		runDir, manifest, err := latestRun()
		if err != nil {
			return err
		}

		printf("Run:       %s", manifest.RunID)
		printf("Version:   %s", manifest.PipelineVersion)
		printf("Started:   %s", manifest.StartedAt.Format("2006-01-02 15:04:05 MST"))
		stages := "none"
		if len(manifest.StagesCompleted) > 0 {
			stages = strings.Join(manifest.StagesCompleted, ", ")
		}
		printf("Completed: %s", stages)

		// An in-flight enrichment checkpoint means the stage is resumable.
		cp, err := checkpoint.NewStore(filepath.Join(runDir, artifact.CheckpointFile)).Load()
		if err == nil && cp != nil {
			printf("Enrichment in progress: %d succeeded, %d failed, %d of %d processed",
				cp.Metadata.CompletedCount, cp.Metadata.FailedCount,
				len(cp.ProcessedStationIDs), cp.Metadata.TotalStations)
			if cp.Metadata.TimeoutReached {
				printf("Last run hit its time budget. Resume with `mrt-pipeline enrich`.")
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
