package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sgtransit/mrt-pipeline/internal/artifact"
	"github.com/sgtransit/mrt-pipeline/internal/monitoring"
	"github.com/sgtransit/mrt-pipeline/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run sanity checks over the reconciled output",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("validate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		runDir, manifest, err := latestRun()
		if err != nil {
			return err
		}
		out, err := artifact.ReadFinalOutput(runDir)
		if err != nil {
			return eris.Wrap(err, "validate: load final output, has merge run?")
		}

		report := validate.Validate(out, validate.Options{
			MinStations:        cfg.Output.MinStations,
			InterchangeAliases: cfg.Output.InterchangeAliases,
		})
		if err := artifact.WriteReport(runDir, report); err != nil {
			return err
		}
		manifest.MarkStage("validate")
		saveManifest(runDir, manifest)

		alerter := monitoring.NewAlerter(cfg.Alerts)
		alerts := alerter.Evaluate(monitoring.RunSummary{
			TotalStations:        out.Metadata.TotalStations,
			EnrichedStations:     out.Metadata.EnrichedCount,
			ValidationViolations: len(report.Violations),
		})
		alerter.SendAlerts(ctx, alerts)
		if err := monitoring.WriteAlertsFile(runDir, alerts); err != nil {
			zap.L().Warn("alerts file write failed", zap.Error(err))
		}

		if report.OK() {
			printf("Validation passed: %d stations checked", report.Valid)
			return nil
		}
		printf("Validation found %d violation(s):", len(report.Violations))
		for _, v := range report.Violations {
			printf("  [%s] %s %s", v.Check, v.StationID, v.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
