// Package monitoring evaluates a finished run against configured
// expectations and delivers alerts over the webhook and alerts.json file
// channels.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sgtransit/mrt-pipeline/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStationCountLow    AlertType = "station_count_low"
	AlertEnrichmentCoverage AlertType = "enrichment_coverage_low"
	AlertValidationFailed   AlertType = "validation_failed"
	AlertRunTimedOut        AlertType = "run_timed_out"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunSummary is the post-run state the alerter evaluates.
type RunSummary struct {
	TotalStations        int
	EnrichedStations     int
	ValidationViolations int
	TimedOut             bool
}

// Alerter evaluates a RunSummary against configured thresholds and sends
// alerts via webhook and the alerts.json file.
type Alerter struct {
	cfg    config.AlertsConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given alerts config.
func NewAlerter(cfg config.AlertsConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the summary against thresholds and returns any alerts.
func (a *Alerter) Evaluate(sum RunSummary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.ExpectedStationCount > 0 && sum.TotalStations < a.cfg.ExpectedStationCount {
		alerts = append(alerts, Alert{
			Type:     AlertStationCountLow,
			Severity: "high",
			Message: fmt.Sprintf(
				"output has %d stations, expected at least %d",
				sum.TotalStations, a.cfg.ExpectedStationCount,
			),
			Details: map[string]any{
				"total_stations": sum.TotalStations,
				"expected":       a.cfg.ExpectedStationCount,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinEnrichedRatio > 0 && sum.TotalStations > 0 {
		ratio := float64(sum.EnrichedStations) / float64(sum.TotalStations)
		if ratio < a.cfg.MinEnrichedRatio {
			alerts = append(alerts, Alert{
				Type:     AlertEnrichmentCoverage,
				Severity: "warning",
				Message: fmt.Sprintf(
					"enrichment coverage %.1f%% below threshold %.1f%% (%d of %d stations)",
					ratio*100, a.cfg.MinEnrichedRatio*100,
					sum.EnrichedStations, sum.TotalStations,
				),
				Details: map[string]any{
					"coverage":  ratio,
					"threshold": a.cfg.MinEnrichedRatio,
				},
				Timestamp: now,
			})
		}
	}

	if sum.ValidationViolations > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertValidationFailed,
			Severity: "high",
			Message:  fmt.Sprintf("output validation reported %d violation(s)", sum.ValidationViolations),
			Details: map[string]any{
				"violations": sum.ValidationViolations,
			},
			Timestamp: now,
		})
	}

	if sum.TimedOut {
		alerts = append(alerts, Alert{
			Type:      AlertRunTimedOut,
			Severity:  "info",
			Message:   "enrichment run hit its time budget; re-run with --resume to continue",
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// WriteAlertsFile appends alerts to alerts.json in the output directory so
// every run leaves a durable alert trail even without a webhook.
func WriteAlertsFile(outputDir string, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	path := filepath.Join(outputDir, "alerts.json")

	var existing []Alert
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt history is discarded, not fatal.
		_ = json.Unmarshal(data, &existing)
	}
	existing = append(existing, alerts...)

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alerts")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "monitoring: write %s", path)
	}
	return nil
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
