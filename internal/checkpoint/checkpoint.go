// Package checkpoint persists per-station enrichment progress so a batch
// run can resume across process invocations. The file is rewritten after
// every station via an atomic temp-write-then-rename, so a reader never
// observes a partially written checkpoint.
package checkpoint

import (
	"time"

	"github.com/sgtransit/mrt-pipeline/internal/model"
)

// Metadata summarizes the state of a checkpoint.
type Metadata struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalStations  int       `json:"total_stations"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	TimeoutReached bool      `json:"timeout_reached"`
}

// FailureRecord is one terminally failed station attempt.
type FailureRecord struct {
	StationID string    `json:"station_id"`
	Error     string    `json:"error"`
	Permanent bool      `json:"permanent"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint is the durable record of a batch enrichment run. The batch
// engine is the only writer; the merge stage reads a finalized copy.
type Checkpoint struct {
	Metadata            Metadata                           `json:"metadata"`
	Stations            map[string]model.StationEnrichment `json:"stations"`
	FailedStations      []FailureRecord                    `json:"failed_stations"`
	ProcessedStationIDs []string                           `json:"processed_station_ids"`
}

// New returns an empty checkpoint for a run over total stations.
func New(total int) *Checkpoint {
	return &Checkpoint{
		Metadata: Metadata{
			Timestamp:     time.Now().UTC(),
			TotalStations: total,
		},
		Stations:            make(map[string]model.StationEnrichment),
		FailedStations:      []FailureRecord{},
		ProcessedStationIDs: []string{},
	}
}

// MarkSuccess records a successful extraction and marks the station processed.
func (c *Checkpoint) MarkSuccess(enrichment model.StationEnrichment) {
	if c.Stations == nil {
		c.Stations = make(map[string]model.StationEnrichment)
	}
	c.Stations[enrichment.StationID] = enrichment
	c.markProcessed(enrichment.StationID)
	c.Metadata.CompletedCount = len(c.Stations)
	c.Metadata.Timestamp = time.Now().UTC()
}

// MarkFailed records a terminally failed attempt and marks the station
// processed. Failures reaching the checkpoint are always permanent; the
// retry budget was spent before the outcome was folded in.
func (c *Checkpoint) MarkFailed(stationID string, attemptErr error) {
	c.FailedStations = append(c.FailedStations, FailureRecord{
		StationID: stationID,
		Error:     attemptErr.Error(),
		Permanent: true,
		Timestamp: time.Now().UTC(),
	})
	c.markProcessed(stationID)
	c.Metadata.FailedCount = len(c.FailedStations)
	c.Metadata.Timestamp = time.Now().UTC()
}

func (c *Checkpoint) markProcessed(stationID string) {
	for _, id := range c.ProcessedStationIDs {
		if id == stationID {
			return
		}
	}
	c.ProcessedStationIDs = append(c.ProcessedStationIDs, stationID)
}

// Processed returns the set of station IDs already attempted, success or
// failure. The batch engine subtracts this from the input set on resume.
func (c *Checkpoint) Processed() map[string]bool {
	done := make(map[string]bool, len(c.ProcessedStationIDs))
	for _, id := range c.ProcessedStationIDs {
		done[id] = true
	}
	return done
}

// StripFailures removes all failure records and unmarks the corresponding
// stations so a later run re-attempts them. Successful extractions are kept.
func (c *Checkpoint) StripFailures() {
	failed := make(map[string]bool, len(c.FailedStations))
	for _, f := range c.FailedStations {
		failed[f.StationID] = true
	}

	kept := c.ProcessedStationIDs[:0]
	for _, id := range c.ProcessedStationIDs {
		if !failed[id] {
			kept = append(kept, id)
		}
	}
	c.ProcessedStationIDs = kept
	c.FailedStations = []FailureRecord{}
	c.Metadata.FailedCount = 0
	c.Metadata.Timestamp = time.Now().UTC()
}
