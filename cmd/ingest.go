package main

import (
	"github.com/spf13/cobra"

	"github.com/sgtransit/mrt-pipeline/internal/artifact"
	"github.com/sgtransit/mrt-pipeline/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch the deterministic station set from OneMap and data.gov.sg",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}
		ctx := cmd.Context()

		runDir, manifest, err := artifact.NewRunDir(resolvedOutputDir(), cfg.Pipeline.Version)
		if err != nil {
			return err
		}

		f := newFetcher()
		svc := ingest.NewService(
			ingest.NewOneMapClient(f),
			ingest.NewDataGovClient(f),
			ingest.Options{
				PipelineVersion:  cfg.Pipeline.Version,
				WikiURLOverrides: cfg.Output.WikiURLOverrides,
			},
		)

		set, err := svc.Run(ctx)
		if err != nil {
			return err
		}
		if err := artifact.WriteStationSet(runDir, set); err != nil {
			return err
		}
		manifest.MarkStage("ingest")
		saveManifest(runDir, manifest)

		exits := 0
		for _, st := range set.Stations {
			exits += len(st.Exits)
		}
		printf("Ingest complete: %d stations, %d exits", len(set.Stations), exits)
		printf("Run directory: %s", runDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
