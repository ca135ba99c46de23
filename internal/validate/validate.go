// Package validate runs sanity checks over the reconciled output. The
// validator only observes: it never mutates its input and never fails a
// run; violations are returned as data for the operator and the alerter.
package validate

import (
	"fmt"
	"regexp"

	"github.com/twpayne/go-geom"

	"github.com/sgtransit/mrt-pipeline/internal/model"
)

// Check names one validation family.
type Check string

const (
	CheckCardinality Check = "cardinality"
	CheckGeographic  Check = "geographic"
	CheckIdentity    Check = "identity"
	CheckSchema      Check = "schema"
)

// Violation is one failed check with a human-readable message.
type Violation struct {
	StationID string `json:"station_id,omitempty"`
	Check     Check  `json:"check"`
	Message   string `json:"message"`
}

// Report is the full validation result. Valid is a convenience over
// len(Violations) == 0.
type Report struct {
	Valid         int           `json:"stations_checked"`
	Violations    []Violation   `json:"violations"`
	ViolationsFor map[Check]int `json:"violations_by_check"`
}

// OK reports whether the output passed every check.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// Options configures the validator.
type Options struct {
	// MinStations is the minimum acceptable record count. The network has
	// well over a hundred stations; a tiny output means ingest broke.
	MinStations int

	// InterchangeAliases lists display names allowed to appear on more than
	// one record (physical interchanges published per line).
	InterchangeAliases []string
}

var busStopPattern = regexp.MustCompile(`^\d{5}$`)

// Validate runs every check over the reconciled output and returns the
// combined report. All checks run even when earlier ones fail.
func Validate(out *model.FinalOutput, opts Options) *Report {
	r := &Report{
		Valid:         len(out.Stations),
		Violations:    []Violation{},
		ViolationsFor: map[Check]int{},
	}

	checkCardinality(r, out, opts)
	checkGeographic(r, out)
	checkIdentity(r, out, opts)
	checkSchema(r, out)

	for _, v := range r.Violations {
		r.ViolationsFor[v.Check]++
	}
	return r
}

func (r *Report) add(stationID string, check Check, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		StationID: stationID,
		Check:     check,
		Message:   fmt.Sprintf(format, args...),
	})
}

func checkCardinality(r *Report, out *model.FinalOutput, opts Options) {
	if len(out.Stations) < opts.MinStations {
		r.add("", CheckCardinality, "only %d stations in output, expected at least %d",
			len(out.Stations), opts.MinStations)
	}
	for _, st := range out.Stations {
		if len(st.Exits) == 0 {
			r.add(st.StationID, CheckCardinality, "station has no exits")
		}
	}
}

func checkGeographic(r *Report, out *model.FinalOutput) {
	bounds := geom.NewBounds(geom.XY)
	bounds.Set(model.MinLng, model.MinLat, model.MaxLng, model.MaxLat)

	for _, st := range out.Stations {
		for _, ex := range st.Exits {
			if !ex.HasCoordinate {
				continue
			}
			if !bounds.OverlapsPoint(geom.XY, geom.Coord{ex.Lng, ex.Lat}) {
				r.add(st.StationID, CheckGeographic,
					"exit %s at (%.4f, %.4f) outside Singapore bounds", ex.Code, ex.Lat, ex.Lng)
			}
		}
	}
}

func checkIdentity(r *Report, out *model.FinalOutput, opts Options) {
	allowed := make(map[string]bool, len(opts.InterchangeAliases))
	for _, name := range opts.InterchangeAliases {
		allowed[name] = true
	}

	seen := map[string]string{}
	for _, st := range out.Stations {
		if st.DisplayName == "" {
			continue
		}
		if prev, dup := seen[st.DisplayName]; dup && !allowed[st.DisplayName] {
			r.add(st.StationID, CheckIdentity,
				"display name %q already used by %s", st.DisplayName, prev)
			continue
		}
		if _, dup := seen[st.DisplayName]; !dup {
			seen[st.DisplayName] = st.StationID
		}
	}
}

func checkSchema(r *Report, out *model.FinalOutput) {
	seenIDs := map[string]bool{}
	for _, st := range out.Stations {
		switch {
		case st.StationID == "":
			r.add("", CheckSchema, "station with empty station_id")
		case !model.StationIDPattern.MatchString(st.StationID):
			r.add(st.StationID, CheckSchema, "station_id does not match expected pattern")
		case seenIDs[st.StationID]:
			r.add(st.StationID, CheckSchema, "duplicate station_id")
		}
		seenIDs[st.StationID] = true

		if st.OfficialName == "" {
			r.add(st.StationID, CheckSchema, "missing official_name")
		}
		if st.Type != model.StationTypeMRT && st.Type != model.StationTypeLRT {
			r.add(st.StationID, CheckSchema, "unknown station_type %q", st.Type)
		}
		if st.DataQuality.Enriched && !st.DataQuality.Confidence.Valid() {
			r.add(st.StationID, CheckSchema,
				"enriched station has invalid confidence %q", st.DataQuality.Confidence)
		}

		for _, ex := range st.Exits {
			if ex.Code == "" {
				r.add(st.StationID, CheckSchema, "exit with empty code")
			}
			for _, bs := range ex.BusStops {
				if !busStopPattern.MatchString(bs.Code) {
					r.add(st.StationID, CheckSchema,
						"exit %s has malformed bus stop code %q", ex.Code, bs.Code)
				}
			}
		}
	}
}
