package model

import "time"

// FinalExit is one reconciled access point. Deterministic exits always keep
// their coordinate; exits known only to the enrichment source are preserved
// with HasCoordinate=false rather than a fabricated (0,0).
type FinalExit struct {
	Code            string     `json:"exit_code"`
	Lat             float64    `json:"lat,omitempty"`
	Lng             float64    `json:"lng,omitempty"`
	HasCoordinate   bool       `json:"has_coordinate"`
	Platforms       []Platform `json:"platforms,omitempty"`
	Accessibility   []string   `json:"accessibility,omitempty"`
	BusStops        []BusStop  `json:"bus_stops,omitempty"`
	NearbyLandmarks []string   `json:"nearby_landmarks,omitempty"`
}

// DataQuality records enrichment provenance for a reconciled station.
type DataQuality struct {
	Enriched   bool       `json:"enriched"`
	Confidence Confidence `json:"extraction_confidence,omitempty"`
	Source     string     `json:"source,omitempty"`
}

// FinalStation is the merged, per-station output record.
type FinalStation struct {
	StationID          string      `json:"station_id"`
	OfficialName       string      `json:"official_name"`
	DisplayName        string      `json:"display_name"`
	Codes              []string    `json:"mrt_codes"`
	Type               StationType `json:"station_type"`
	Exits              []FinalExit `json:"exits"`
	LinesServed        []string    `json:"lines_served,omitempty"`
	AccessibilityNotes []string    `json:"accessibility_notes,omitempty"`
	EnrichedAt         *time.Time  `json:"enrichment_last_updated,omitempty"`
	DataQuality        DataQuality `json:"data_quality"`
}

// FinalMetadata summarizes a merge run.
type FinalMetadata struct {
	RunTimestamp    string `json:"run_timestamp"`
	PipelineVersion string `json:"pipeline_version"`
	TotalStations   int    `json:"total_stations"`
	EnrichedCount   int    `json:"enriched_count"`
}

// FinalOutput is the reconciled artifact consumed by downstream clients.
type FinalOutput struct {
	Metadata FinalMetadata  `json:"metadata"`
	Stations []FinalStation `json:"stations"`
}
