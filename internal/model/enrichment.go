package model

import "time"

// ExtractionResult is the per-station outcome of the enrichment extraction.
type ExtractionResult string

const (
	ExtractionSuccess ExtractionResult = "success"
	ExtractionFailed  ExtractionResult = "failed"
)

// Confidence is the extractor's self-reported confidence, present only on
// successful extractions.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the known confidence levels.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Platform is a platform/direction reference attached to an enriched exit.
type Platform struct {
	Code        string `json:"platform_code"`
	TowardsCode string `json:"towards_code"`
	LineCode    string `json:"line_code"`
}

// BusStop is a nearby bus stop reference. Codes are 5-digit LTA stop codes.
type BusStop struct {
	Code     string   `json:"code"`
	Services []string `json:"services,omitempty"`
}

// EnrichedExit describes one exit as seen by the enrichment source. Code is
// free-form text from the wiki ("Exit A", "a", "EXIT 1") and must be
// normalized before comparison against deterministic exit codes.
type EnrichedExit struct {
	Code            string     `json:"exit_code"`
	Platforms       []Platform `json:"platforms,omitempty"`
	Accessibility   []string   `json:"accessibility,omitempty"`
	BusStops        []BusStop  `json:"bus_stops,omitempty"`
	NearbyLandmarks []string   `json:"nearby_landmarks,omitempty"`
}

// StationEnrichment is the extraction output for one station.
type StationEnrichment struct {
	StationID          string           `json:"station_id"`
	OfficialName       string           `json:"official_name"`
	Result             ExtractionResult `json:"extraction_result"`
	Confidence         Confidence       `json:"extraction_confidence,omitempty"`
	Exits              []EnrichedExit   `json:"exits"`
	AccessibilityNotes []string         `json:"accessibility_notes,omitempty"`
	ExtractedAt        time.Time        `json:"extraction_timestamp"`
	SourceURL          string           `json:"source_url"`
	ErrorMessage       string           `json:"error_message,omitempty"`
}
