// Package ingest builds the deterministic station set from OneMap and
// data.gov.sg. This stage has no LLM involvement; given stable upstream
// data it always produces the same output.
package ingest

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sgtransit/mrt-pipeline/internal/model"
)

// JSONFetcher is the subset of the HTTP fetcher this package needs.
type JSONFetcher interface {
	GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error
}

const oneMapSearchURL = "https://www.onemap.gov.sg/api/common/elastic/search"

// linePrefixes are the line codes searched to discover stations. Single
// letters are excluded; those collide with exit codes.
var linePrefixes = []string{"NS", "EW", "NE", "CC", "DT", "TE", "BP", "SW", "SE", "PW"}

// targetedStations covers stations the prefix searches miss (newly opened
// terminals indexed under their own names).
var targetedStations = []string{"PUNGGOL COAST", "SUNGEI BEDOK"}

var (
	stationCodeRe = regexp.MustCompile(`\b(?:NS|EW|NE|CC|DT|TE|CG|CE|BP|SW|SE|PW|PE|STC|PTC|CR|JS|JW|JE)\d*\b`)
	bracketRe     = regexp.MustCompile(`\(.*?\)`)
	exitSuffixRe  = regexp.MustCompile(`\s+EXIT\s+[A-Z0-9]+`)
	exitCodeRe    = regexp.MustCompile(`EXIT\s+([A-Z0-9]+)`)
)

// RawStation is one station as discovered from OneMap search results,
// before exits are attached.
type RawStation struct {
	OfficialName string
	Codes        []string
	Lat          float64
	Lng          float64
}

type oneMapSearchResponse struct {
	Found   int                  `json:"found"`
	Results []oneMapSearchResult `json:"results"`
}

type oneMapSearchResult struct {
	Building  string `json:"BUILDING"`
	Latitude  string `json:"LATITUDE"`
	Longitude string `json:"LONGITUDE"`
}

// OneMapClient discovers stations and exit coordinates via the OneMap
// elastic search API.
type OneMapClient struct {
	fetcher   JSONFetcher
	searchURL string
	log       *zap.Logger
}

// NewOneMapClient creates a OneMap client over the shared fetcher.
func NewOneMapClient(f JSONFetcher) *OneMapClient {
	return &OneMapClient{
		fetcher:   f,
		searchURL: oneMapSearchURL,
		log:       zap.L().With(zap.String("component", "onemap")),
	}
}

func (c *OneMapClient) search(ctx context.Context, query string) ([]oneMapSearchResult, error) {
	params := url.Values{
		"searchVal":      {query},
		"returnGeom":     {"Y"},
		"getAddrDetails": {"Y"},
	}
	var resp oneMapSearchResponse
	if err := c.fetcher.GetJSON(ctx, c.searchURL, params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SearchStations discovers every station reachable via line-prefix searches
// plus the targeted fallbacks. A failed prefix search is logged and skipped;
// the other prefixes still contribute.
func (c *OneMapClient) SearchStations(ctx context.Context) ([]RawStation, error) {
	var mu sync.Mutex
	byName := map[string]RawStation{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, prefix := range linePrefixes {
		prefix := prefix
		g.Go(func() error {
			results, err := c.search(gctx, prefix+" MRT STATION")
			if err != nil {
				c.log.Warn("prefix search failed",
					zap.String("prefix", prefix),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			collectStations(byName, results)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, name := range targetedStations {
		if _, ok := byName[name]; ok {
			continue
		}
		results, err := c.search(ctx, name+" MRT STATION")
		if err != nil {
			c.log.Warn("targeted search failed", zap.String("station", name), zap.Error(err))
			continue
		}
		collectStations(byName, results)
	}

	out := make([]RawStation, 0, len(byName))
	for _, st := range byName {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfficialName < out[j].OfficialName })
	return out, nil
}

// collectStations folds search results into the accumulator, keeping the
// first record seen per cleaned name. Exit records are filtered out here;
// they come back through FetchExits.
func collectStations(byName map[string]RawStation, results []oneMapSearchResult) {
	for _, res := range results {
		building := strings.ToUpper(res.Building)
		if !strings.Contains(building, "MRT STATION") || strings.Contains(building, "EXIT") {
			continue
		}
		codes := uniqueCodes(stationCodeRe.FindAllString(building, -1))
		if len(codes) == 0 {
			continue
		}
		name := cleanStationName(building)
		if _, ok := byName[name]; ok {
			continue
		}
		byName[name] = RawStation{
			OfficialName: name,
			Codes:        codes,
			Lat:          parseCoord(res.Latitude),
			Lng:          parseCoord(res.Longitude),
		}
	}
}

// FetchExits searches OneMap for the station's exit records. Stations whose
// exits are not indexed under "<NAME> EXIT" fall back to per-number probes.
func (c *OneMapClient) FetchExits(ctx context.Context, officialName string) ([]model.Exit, error) {
	results, err := c.search(ctx, officialName+" EXIT")
	if err != nil {
		return nil, err
	}

	upper := strings.ToUpper(officialName)
	var exits []model.Exit
	for _, res := range results {
		building := strings.ToUpper(res.Building)
		if !strings.Contains(building, upper) || !strings.Contains(building, "EXIT") {
			continue
		}
		m := exitCodeRe.FindStringSubmatch(building)
		if m == nil {
			continue
		}
		exits = append(exits, model.Exit{
			Code:   m[1],
			Lat:    parseCoord(res.Latitude),
			Lng:    parseCoord(res.Longitude),
			Source: model.ExitSourceOneMap,
		})
	}
	if len(exits) > 0 {
		return exits, nil
	}

	for num := 1; num <= 14; num++ {
		results, err := c.search(ctx, officialName+" EXIT "+strconv.Itoa(num))
		if err != nil {
			return exits, err
		}
		for _, res := range results {
			if !strings.Contains(strings.ToUpper(res.Building), upper) {
				continue
			}
			exits = append(exits, model.Exit{
				Code:   strconv.Itoa(num),
				Lat:    parseCoord(res.Latitude),
				Lng:    parseCoord(res.Longitude),
				Source: model.ExitSourceOneMap,
			})
			break
		}
	}
	return exits, nil
}

func cleanStationName(building string) string {
	name := bracketRe.ReplaceAllString(building, "")
	name = exitSuffixRe.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

func uniqueCodes(codes []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		// Bare prefixes without a number are line references, not codes.
		if !model.StationIDPattern.MatchString(c) || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func parseCoord(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
