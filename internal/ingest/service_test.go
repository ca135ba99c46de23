package ingest

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgtransit/mrt-pipeline/internal/model"
)

// cannedFetcher serves fixed JSON bodies keyed by search value or URL.
type cannedFetcher struct {
	searches map[string]string // searchVal → body
	urls     map[string]string // rawURL → body
}

func (f *cannedFetcher) GetJSON(_ context.Context, rawURL string, params url.Values, out any) error {
	if body, ok := f.urls[rawURL]; ok {
		return json.Unmarshal([]byte(body), out)
	}
	if body, ok := f.searches[params.Get("searchVal")]; ok {
		return json.Unmarshal([]byte(body), out)
	}
	return json.Unmarshal([]byte(`{"found": 0, "results": []}`), out)
}

func TestServiceRun_AssemblesStations(t *testing.T) {
	f := &cannedFetcher{
		searches: map[string]string{
			"NS MRT STATION": `{"found": 1, "results": [
				{"BUILDING": "YISHUN MRT STATION (NS13)", "LATITUDE": "1.4294", "LONGITUDE": "103.8350"}
			]}`,
			"YISHUN MRT STATION EXIT": `{"found": 2, "results": [
				{"BUILDING": "YISHUN MRT STATION EXIT A", "LATITUDE": "1.4295", "LONGITUDE": "103.8351"},
				{"BUILDING": "YISHUN MRT STATION EXIT B", "LATITUDE": "1.4290", "LONGITUDE": "103.8348"}
			]}`,
		},
		urls: map[string]string{
			"https://api-open.data.gov.sg/v1/public/api/datasets/d_b39d3a0871985372d7e1637193335da5/poll-download": `{"data": {"url": "https://example.com/exits.geojson"}}`,
			"https://example.com/exits.geojson": `{"features": [
				{"properties": {"STATION_NA": "YISHUN MRT STATION", "EXIT_CODE": "C"},
				 "geometry": {"coordinates": [103.8340, 1.4299]}}
			]}`,
		},
	}

	svc := NewService(NewOneMapClient(f), NewDataGovClient(f), Options{PipelineVersion: "test"})
	set, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, set.Stations, 1)

	st := set.Stations[0]
	assert.Equal(t, "NS13", st.StationID)
	assert.Equal(t, "YISHUN MRT STATION", st.OfficialName)
	assert.Equal(t, "Yishun", st.DisplayName)
	assert.Equal(t, []string{"NS"}, st.Lines)
	assert.Equal(t, model.StationTypeMRT, st.Type)
	assert.Equal(t, "https://singapore-mrt-lines.fandom.com/wiki/Yishun", st.WikiURL)

	require.Len(t, st.Exits, 3)
	assert.Equal(t, "A", st.Exits[0].Code)
	assert.Equal(t, model.ExitSourceOneMap, st.Exits[0].Source)
	assert.Equal(t, "C", st.Exits[2].Code)
	assert.Equal(t, model.ExitSourceDataGov, st.Exits[2].Source)
}

func TestServiceRun_EmptyDiscoveryIsFatal(t *testing.T) {
	f := &cannedFetcher{}
	svc := NewService(NewOneMapClient(f), NewDataGovClient(f), Options{})
	_, err := svc.Run(context.Background())
	require.Error(t, err)
}

func TestCollectStations_FiltersExitRecords(t *testing.T) {
	byName := map[string]RawStation{}
	collectStations(byName, []oneMapSearchResult{
		{Building: "YISHUN MRT STATION (NS13)", Latitude: "1.4294", Longitude: "103.8350"},
		{Building: "YISHUN MRT STATION EXIT A", Latitude: "1.4295", Longitude: "103.8351"},
		{Building: "SOME OFFICE TOWER", Latitude: "1.30", Longitude: "103.80"},
	})
	require.Len(t, byName, 1)
	st := byName["YISHUN MRT STATION"]
	assert.Equal(t, []string{"NS13"}, st.Codes)
	assert.Equal(t, 1.4294, st.Lat)
}

func TestCollectStations_InterchangeKeepsAllCodes(t *testing.T) {
	byName := map[string]RawStation{}
	collectStations(byName, []oneMapSearchResult{
		{Building: "JURONG EAST MRT STATION (NS1 / EW24)", Latitude: "1.3332", Longitude: "103.7422"},
	})
	st := byName["JURONG EAST MRT STATION"]
	assert.Equal(t, []string{"EW24", "NS1"}, st.Codes)
}

func TestStationType(t *testing.T) {
	assert.Equal(t, model.StationTypeMRT, stationType([]string{"NS13"}))
	assert.Equal(t, model.StationTypeLRT, stationType([]string{"BP7"}))
	assert.Equal(t, model.StationTypeLRT, stationType([]string{"STC1"}))
	// Interchange between heavy and light rail counts as MRT.
	assert.Equal(t, model.StationTypeMRT, stationType([]string{"NE17", "PTC1"}))
}

func TestLinesFromCodes(t *testing.T) {
	assert.Equal(t, []string{"EW", "NS"}, linesFromCodes([]string{"NS1", "EW24"}))
	assert.Equal(t, []string{"NS"}, linesFromCodes([]string{"NS13"}))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "YISHUN", baseName("YISHUN MRT STATION"))
	assert.Equal(t, "SENGKANG", baseName("Sengkang LRT Station"))
	assert.Equal(t, "BUKIT PANJANG", baseName("BUKIT PANJANG MRT/LRT STATION"))
}

func TestMergeExits_DedupesAndSorts(t *testing.T) {
	onemap := []model.Exit{
		{Code: "B", Lat: 1.43, Lng: 103.83, Source: model.ExitSourceOneMap},
		{Code: "A", Lat: 1.43, Lng: 103.83, Source: model.ExitSourceOneMap},
	}
	datagov := []model.Exit{
		{Code: "Exit A", Lat: 1.43, Lng: 103.83, Source: model.ExitSourceDataGov}, // dup of A
		{Code: "2", Lat: 1.43, Lng: 103.83, Source: model.ExitSourceDataGov},
		{Code: "1", Lat: 1.43, Lng: 103.83, Source: model.ExitSourceDataGov},
	}

	got := mergeExits(onemap, datagov)
	codes := make([]string, len(got))
	for i, e := range got {
		codes[i] = e.Code
	}
	assert.Equal(t, []string{"A", "B", "1", "2"}, codes)
	assert.Equal(t, model.ExitSourceOneMap, got[0].Source, "onemap wins on duplicate codes")
}

func TestMergeExits_DropsOutOfBoundsCoordinates(t *testing.T) {
	// An unparseable upstream coordinate comes through as (0, 0); it must
	// neither reach the set nor shadow a valid exit from the other source.
	onemap := []model.Exit{
		{Code: "A", Lat: 0, Lng: 0, Source: model.ExitSourceOneMap},
		{Code: "B", Lat: 1.4290, Lng: 103.8348, Source: model.ExitSourceOneMap},
	}
	datagov := []model.Exit{
		{Code: "A", Lat: 1.4294, Lng: 103.8350, Source: model.ExitSourceDataGov},
	}

	got := mergeExits(onemap, datagov)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Code)
	assert.Equal(t, model.ExitSourceDataGov, got[0].Source)
	assert.Equal(t, "B", got[1].Code)
	for _, e := range got {
		assert.True(t, e.InBounds())
	}
}
