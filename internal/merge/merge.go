// Package merge reconciles the deterministic station set with the wiki
// enrichment results into the final output records. Missing enrichment is a
// valid state, never an error; the merge is total over deterministic input.
package merge

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sgtransit/mrt-pipeline/internal/model"
)

// IssueKind classifies a data-quality signal observed during the merge.
type IssueKind string

const (
	// IssueUnmatchedEnrichmentExit means the wiki described an exit the
	// deterministic sources do not know about.
	IssueUnmatchedEnrichmentExit IssueKind = "unmatched_enrichment_exit"
	// IssueExtractionFailed means an enrichment record exists but carries a
	// failed extraction; the station is treated as unenriched.
	IssueExtractionFailed IssueKind = "extraction_failed"
)

// Issue is one data-quality observation. Issues never block the merge.
type Issue struct {
	StationID string    `json:"station_id"`
	ExitCode  string    `json:"exit_code,omitempty"`
	Kind      IssueKind `json:"kind"`
	Message   string    `json:"message"`
}

// Options configures a merge run.
type Options struct {
	PipelineVersion string
	Now             func() time.Time
}

// Merge combines the deterministic station set with enrichment results into
// one reconciled record per station. Every deterministic exit appears in the
// output exactly once with its coordinate unchanged; enrichment-only exits
// are preserved without a coordinate rather than dropped. Output ordering is
// fully deterministic: stations by ID, exits by code.
func Merge(stations []model.Station, enrichment map[string]model.StationEnrichment, opts Options) (*model.FinalOutput, []Issue) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	log := zap.L().With(zap.String("component", "merge"))

	issues := []Issue{}
	out := &model.FinalOutput{
		Metadata: model.FinalMetadata{
			RunTimestamp:    now().UTC().Format(time.RFC3339),
			PipelineVersion: opts.PipelineVersion,
			TotalStations:   len(stations),
		},
		Stations: make([]model.FinalStation, 0, len(stations)),
	}

	for _, st := range stations {
		record, stationIssues := mergeStation(st, enrichment, log)
		if record.DataQuality.Enriched {
			out.Metadata.EnrichedCount++
		}
		out.Stations = append(out.Stations, record)
		issues = append(issues, stationIssues...)
	}

	sort.Slice(out.Stations, func(i, j int) bool {
		return out.Stations[i].StationID < out.Stations[j].StationID
	})
	return out, issues
}

func mergeStation(st model.Station, enrichment map[string]model.StationEnrichment, log *zap.Logger) (model.FinalStation, []Issue) {
	record := model.FinalStation{
		StationID:    st.StationID,
		OfficialName: st.OfficialName,
		DisplayName:  st.DisplayName,
		Codes:        append([]string(nil), st.Codes...),
		Type:         st.Type,
		LinesServed:  sortedUnique(st.Lines),
	}

	var issues []Issue
	enr, enriched := enrichment[st.StationID]
	if enriched && enr.Result != model.ExtractionSuccess {
		issues = append(issues, Issue{
			StationID: st.StationID,
			Kind:      IssueExtractionFailed,
			Message:   fmt.Sprintf("enrichment for %s recorded as failed: %s", st.StationID, enr.ErrorMessage),
		})
		enriched = false
	}

	if !enriched {
		record.Exits = deterministicOnlyExits(st.Exits)
		record.DataQuality = model.DataQuality{Enriched: false}
		return record, issues
	}

	// Index enrichment exits by normalized code. First occurrence wins.
	byCode := make(map[string]model.EnrichedExit, len(enr.Exits))
	enrichedOrder := make([]string, 0, len(enr.Exits))
	for _, ex := range enr.Exits {
		code := model.NormalizeExitCode(ex.Code)
		if _, seen := byCode[code]; !seen {
			byCode[code] = ex
			enrichedOrder = append(enrichedOrder, code)
		}
	}

	matched := make(map[string]bool, len(st.Exits))
	var platformLines []string
	for _, det := range st.Exits {
		final := model.FinalExit{
			Code:          det.Code,
			Lat:           det.Lat,
			Lng:           det.Lng,
			HasCoordinate: true,
		}
		if ex, ok := byCode[model.NormalizeExitCode(det.Code)]; ok {
			matched[model.NormalizeExitCode(det.Code)] = true
			final.Platforms = ex.Platforms
			final.Accessibility = ex.Accessibility
			final.BusStops = ex.BusStops
			final.NearbyLandmarks = ex.NearbyLandmarks
			for _, p := range ex.Platforms {
				platformLines = append(platformLines, p.LineCode)
			}
		}
		record.Exits = append(record.Exits, final)
	}

	// Exits the wiki knows about but the deterministic sources do not are a
	// data-quality signal. Keep them, without inventing a coordinate.
	for _, code := range enrichedOrder {
		if matched[code] {
			continue
		}
		ex := byCode[code]
		record.Exits = append(record.Exits, model.FinalExit{
			Code:            code,
			HasCoordinate:   false,
			Platforms:       ex.Platforms,
			Accessibility:   ex.Accessibility,
			BusStops:        ex.BusStops,
			NearbyLandmarks: ex.NearbyLandmarks,
		})
		issues = append(issues, Issue{
			StationID: st.StationID,
			ExitCode:  code,
			Kind:      IssueUnmatchedEnrichmentExit,
			Message:   fmt.Sprintf("exit %q described by enrichment has no deterministic coordinate", code),
		})
		log.Warn("enrichment exit has no deterministic counterpart",
			zap.String("station_id", st.StationID),
			zap.String("exit_code", code),
		)
	}

	sort.Slice(record.Exits, func(i, j int) bool {
		return record.Exits[i].Code < record.Exits[j].Code
	})

	if lines := sortedUnique(platformLines); len(lines) > 0 {
		record.LinesServed = lines
	}
	record.AccessibilityNotes = enr.AccessibilityNotes
	ts := enr.ExtractedAt
	record.EnrichedAt = &ts
	record.DataQuality = model.DataQuality{
		Enriched:   true,
		Confidence: enr.Confidence,
		Source:     enr.SourceURL,
	}
	return record, issues
}

func deterministicOnlyExits(exits []model.Exit) []model.FinalExit {
	out := make([]model.FinalExit, 0, len(exits))
	for _, det := range exits {
		out = append(out, model.FinalExit{
			Code:          det.Code,
			Lat:           det.Lat,
			Lng:           det.Lng,
			HasCoordinate: true,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
