package enrich

import (
	"context"

	"github.com/sgtransit/mrt-pipeline/internal/model"
	"github.com/sgtransit/mrt-pipeline/internal/resilience"
)

// OutcomeKind classifies one station attempt after retries are spent.
type OutcomeKind int

const (
	// OutcomeSuccess means enrichment data was produced.
	OutcomeSuccess OutcomeKind = iota
	// OutcomePermanent means the station failed terminally: retries were
	// exhausted or the failure was non-transient. The station is skipped on
	// resume and revisited only via a retry-failed or restart run.
	OutcomePermanent
)

// Outcome is the terminal result of attempting one station.
type Outcome struct {
	Kind       OutcomeKind
	Enrichment *model.StationEnrichment
	Err        error
}

// Policy runs a single-station attempt under the retry configuration and
// folds the final error into an Outcome.
type Policy struct {
	Retry resilience.RetryConfig
}

// NewPolicy returns a Policy with the default retry configuration.
func NewPolicy() Policy {
	return Policy{Retry: resilience.DefaultRetryConfig()}
}

// Attempt executes fn with retries. Transient failures are retried inside
// the loop; whatever error is left standing after the final attempt is
// permanent, transient or not.
func (p Policy) Attempt(ctx context.Context, stationID string, fn func(ctx context.Context) (*model.StationEnrichment, error)) Outcome {
	cfg := p.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("enrich", stationID)
	}

	enrichment, err := resilience.DoVal(ctx, cfg, fn)
	if err == nil {
		return Outcome{Kind: OutcomeSuccess, Enrichment: enrichment}
	}
	return Outcome{Kind: OutcomePermanent, Err: err}
}
