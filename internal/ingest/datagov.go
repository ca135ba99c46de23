package ingest

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sgtransit/mrt-pipeline/internal/model"
)

// exitDatasetID is the data.gov.sg "LTA MRT Station Exit" GeoJSON dataset.
const exitDatasetID = "d_b39d3a0871985372d7e1637193335da5"

// DataGovExit is one exit record from the data.gov.sg dataset, keyed by
// station name rather than station code.
type DataGovExit struct {
	StationName string
	ExitCode    string
	Lat         float64
	Lng         float64
}

type pollResponse struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

type geoJSONDoc struct {
	Features []struct {
		Properties struct {
			StationName string `json:"STATION_NA"`
			ExitCode    string `json:"EXIT_CODE"`
		} `json:"properties"`
		Geometry struct {
			// GeoJSON order is [lng, lat].
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// DataGovClient downloads the station-exit GeoJSON dataset.
type DataGovClient struct {
	fetcher JSONFetcher
	pollURL string
	log     *zap.Logger
}

// NewDataGovClient creates a data.gov.sg client over the shared fetcher.
func NewDataGovClient(f JSONFetcher) *DataGovClient {
	return &DataGovClient{
		fetcher: f,
		pollURL: fmt.Sprintf("https://api-open.data.gov.sg/v1/public/api/datasets/%s/poll-download", exitDatasetID),
		log:     zap.L().With(zap.String("component", "datagov")),
	}
}

// FetchExits polls for the dataset download URL, downloads the GeoJSON and
// flattens it to exit records.
func (c *DataGovClient) FetchExits(ctx context.Context) ([]DataGovExit, error) {
	var poll pollResponse
	if err := c.fetcher.GetJSON(ctx, c.pollURL, nil, &poll); err != nil {
		return nil, eris.Wrap(err, "datagov: poll download url")
	}
	if poll.Data.URL == "" {
		return nil, eris.New("datagov: poll response carried no download url")
	}

	var doc geoJSONDoc
	if err := c.fetcher.GetJSON(ctx, poll.Data.URL, nil, &doc); err != nil {
		return nil, eris.Wrap(err, "datagov: download geojson")
	}

	exits := make([]DataGovExit, 0, len(doc.Features))
	for _, f := range doc.Features {
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		exits = append(exits, DataGovExit{
			StationName: f.Properties.StationName,
			ExitCode:    f.Properties.ExitCode,
			Lat:         f.Geometry.Coordinates[1],
			Lng:         f.Geometry.Coordinates[0],
		})
	}
	c.log.Info("datagov exits downloaded", zap.Int("count", len(exits)))
	return exits, nil
}

// toModelExit converts a dataset record into a deterministic exit.
func (e DataGovExit) toModelExit() model.Exit {
	return model.Exit{
		Code:   model.NormalizeExitCode(e.ExitCode),
		Lat:    e.Lat,
		Lng:    e.Lng,
		Source: model.ExitSourceDataGov,
	}
}
