package ingest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sgtransit/mrt-pipeline/internal/model"
)

const wikiBaseURL = "https://singapore-mrt-lines.fandom.com/wiki/"

// lrtPrefixes are the code prefixes of light rail lines and loops.
var lrtPrefixes = map[string]bool{
	"BP": true, "SW": true, "SE": true, "PW": true, "PE": true,
	"STC": true, "PTC": true,
}

// Options tunes the ingest stage.
type Options struct {
	PipelineVersion string
	// ExitConcurrency bounds parallel per-station exit lookups.
	ExitConcurrency int
	// WikiURLOverrides maps display names to manually curated wiki URLs for
	// stations whose page title does not follow the usual convention.
	WikiURLOverrides map[string]string
}

// Service assembles the deterministic station set from both upstream
// sources.
type Service struct {
	onemap  *OneMapClient
	datagov *DataGovClient
	opts    Options
	titler  cases.Caser
	log     *zap.Logger
}

// NewService wires the ingest stage.
func NewService(onemap *OneMapClient, datagov *DataGovClient, opts Options) *Service {
	if opts.ExitConcurrency <= 0 {
		opts.ExitConcurrency = 4
	}
	return &Service{
		onemap:  onemap,
		datagov: datagov,
		opts:    opts,
		titler:  cases.Title(language.English),
		log:     zap.L().With(zap.String("component", "ingest")),
	}
}

// Run discovers stations, attaches exits from both sources and returns the
// assembled set. An empty result is fatal; nothing downstream can work
// without the deterministic set.
func (s *Service) Run(ctx context.Context) (*model.StationSet, error) {
	raw, err := s.onemap.SearchStations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: station discovery")
	}
	if len(raw) == 0 {
		return nil, eris.New("ingest: no stations discovered, refusing to produce an empty set")
	}
	s.log.Info("stations discovered", zap.Int("count", len(raw)))

	// The datagov dataset is one download for the whole network. A failure
	// here degrades exit coverage but does not abort the run.
	datagovByName := map[string][]model.Exit{}
	if dgExits, err := s.datagov.FetchExits(ctx); err != nil {
		s.log.Warn("datagov exits unavailable, continuing with onemap only", zap.Error(err))
	} else {
		for _, e := range dgExits {
			key := baseName(e.StationName)
			datagovByName[key] = append(datagovByName[key], e.toModelExit())
		}
	}

	stations := make([]model.Station, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ExitConcurrency)
	for i, rs := range raw {
		i, rs := i, rs
		g.Go(func() error {
			st := s.assemble(rs, datagovByName[baseName(rs.OfficialName)])
			exits, err := s.onemap.FetchExits(gctx, rs.OfficialName)
			if err != nil {
				s.log.Warn("onemap exit lookup failed",
					zap.String("station", rs.OfficialName),
					zap.Error(err),
				)
			}
			st.Exits = mergeExits(exits, st.Exits)
			stations[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(stations, func(i, j int) bool { return stations[i].StationID < stations[j].StationID })
	return &model.StationSet{
		Metadata: model.RunMetadata{
			RunTimestamp:    time.Now().UTC().Format(time.RFC3339),
			PipelineVersion: s.opts.PipelineVersion,
			TotalStations:   len(stations),
		},
		Stations: stations,
	}, nil
}

// assemble derives the station record from a discovery hit plus any datagov
// exits that matched on base name.
func (s *Service) assemble(rs RawStation, datagovExits []model.Exit) model.Station {
	display := s.titler.String(strings.ToLower(baseName(rs.OfficialName)))
	wikiURL, ok := s.opts.WikiURLOverrides[display]
	if !ok {
		wikiURL = wikiBaseURL + strings.ReplaceAll(display, " ", "_")
	}
	return model.Station{
		StationID:    rs.Codes[0],
		OfficialName: rs.OfficialName,
		DisplayName:  display,
		Codes:        rs.Codes,
		Lines:        linesFromCodes(rs.Codes),
		Type:         stationType(rs.Codes),
		Exits:        datagovExits,
		WikiURL:      wikiURL,
	}
}

// baseName strips the MRT/LRT suffix for cross-source name matching.
func baseName(officialName string) string {
	base := strings.ToUpper(officialName)
	for _, suffix := range []string{" MRT/LRT STATION", " MRT STATION", " LRT STATION", " STATION"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return strings.TrimSpace(base)
}

// linesFromCodes derives the sorted set of line codes from station codes.
func linesFromCodes(codes []string) []string {
	seen := map[string]bool{}
	var lines []string
	for _, code := range codes {
		line := strings.TrimRight(code, "0123456789")
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return lines
}

// stationType is lrt only when every code belongs to a light rail line.
func stationType(codes []string) model.StationType {
	for _, code := range codes {
		if !lrtPrefixes[strings.TrimRight(code, "0123456789")] {
			return model.StationTypeMRT
		}
	}
	return model.StationTypeLRT
}

// mergeExits combines exits from both sources, deduplicating on normalized
// code with OneMap taking precedence, and sorts letters before numbers.
// Exits whose coordinate falls outside Singapore are dropped without
// claiming their code, so the other source can still supply it.
func mergeExits(onemap, datagov []model.Exit) []model.Exit {
	seen := map[string]bool{}
	var out []model.Exit
	for _, ex := range append(append([]model.Exit{}, onemap...), datagov...) {
		code := model.NormalizeExitCode(ex.Code)
		if code == "" || seen[code] {
			continue
		}
		if !ex.InBounds() {
			continue
		}
		seen[code] = true
		ex.Code = code
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool {
		return exitSortKey(out[i].Code) < exitSortKey(out[j].Code)
	})
	return out
}

// exitSortKey orders letter exits before numeric ones (A, B, ... 1, 2).
func exitSortKey(code string) string {
	if n, err := strconv.Atoi(code); err == nil {
		return fmt.Sprintf("~%04d", n)
	}
	return code
}
