package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sgtransit/mrt-pipeline/internal/fetcher"
	"github.com/sgtransit/mrt-pipeline/internal/model"
	"github.com/sgtransit/mrt-pipeline/internal/store"
)

// DocumentSource resolves the raw document a station's enrichment is
// extracted from.
type DocumentSource interface {
	Document(ctx context.Context, station model.Station) (string, error)
}

// PageFetcher is the subset of the HTTP fetcher WikiSource needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) (string, error)
}

// WikiSource fetches station wiki pages through the page cache. Cache
// read/write failures are logged and the fetch proceeds; the cache is an
// optimization, never a correctness dependency.
type WikiSource struct {
	fetcher PageFetcher
	cache   *store.PageCache
	ttl     time.Duration
	log     *zap.Logger
}

// NewWikiSource creates a WikiSource. cache may be nil to disable caching.
func NewWikiSource(f PageFetcher, cache *store.PageCache, ttl time.Duration) *WikiSource {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &WikiSource{
		fetcher: f,
		cache:   cache,
		ttl:     ttl,
		log:     zap.L().With(zap.String("component", "wiki_source")),
	}
}

// Document returns the station's wiki page HTML, from cache when fresh.
func (s *WikiSource) Document(ctx context.Context, station model.Station) (string, error) {
	if s.cache != nil {
		page, err := s.cache.Get(ctx, station.StationID)
		if err != nil {
			s.log.Warn("page cache read failed",
				zap.String("station_id", station.StationID),
				zap.Error(err),
			)
		} else if page != nil {
			s.log.Debug("page cache hit", zap.String("station_id", station.StationID))
			return page.HTML, nil
		}
	}

	html, err := s.fetcher.FetchPage(ctx, station.WikiURL)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, station.StationID, station.WikiURL, html, s.ttl); err != nil {
			s.log.Warn("page cache write failed",
				zap.String("station_id", station.StationID),
				zap.Error(err),
			)
		}
	}
	return html, nil
}

var _ PageFetcher = (*fetcher.HTTPFetcher)(nil)
