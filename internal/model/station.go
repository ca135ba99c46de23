package model

import "regexp"

// StationType distinguishes heavy rail from light rail stations.
type StationType string

const (
	StationTypeMRT StationType = "mrt"
	StationTypeLRT StationType = "lrt"
)

// ExitSource identifies which deterministic API supplied an exit coordinate.
type ExitSource string

const (
	ExitSourceOneMap  ExitSource = "onemap"
	ExitSourceDataGov ExitSource = "datagov"
)

// Singapore bounding box. Every deterministic coordinate must fall inside.
const (
	MinLat = 1.0
	MaxLat = 2.0
	MinLng = 103.0
	MaxLng = 105.0
)

// StationIDPattern matches primary station codes like NS13 or STC1.
var StationIDPattern = regexp.MustCompile(`^[A-Z]{1,3}\d+$`)

// Exit is a deterministic station access point with its own coordinate.
type Exit struct {
	Code   string     `json:"exit_code"`
	Lat    float64    `json:"lat"`
	Lng    float64    `json:"lng"`
	Source ExitSource `json:"source"`
}

// InBounds reports whether the exit coordinate lies inside Singapore.
func (e Exit) InBounds() bool {
	return e.Lat >= MinLat && e.Lat <= MaxLat && e.Lng >= MinLng && e.Lng <= MaxLng
}

// Station is the deterministic record for one station, assembled during
// ingest from OneMap and data.gov.sg. StationID is the primary code and is
// unique across the set; Codes carries every code sharing the physical
// location (interchanges like NS1/EW24 have two or more).
type Station struct {
	StationID    string      `json:"station_id"`
	OfficialName string      `json:"official_name"`
	DisplayName  string      `json:"display_name"`
	Codes        []string    `json:"mrt_codes"`
	Lines        []string    `json:"lines"`
	Type         StationType `json:"station_type"`
	Exits        []Exit      `json:"exits"`
	WikiURL      string      `json:"fandom_url"`
}

// StationSet is the ingest stage output artifact.
type StationSet struct {
	Metadata RunMetadata `json:"metadata"`
	Stations []Station   `json:"stations"`
}

// RunMetadata is shared run bookkeeping written into stage artifacts.
type RunMetadata struct {
	RunTimestamp    string `json:"run_timestamp"`
	PipelineVersion string `json:"pipeline_version"`
	TotalStations   int    `json:"total_stations"`
}
