package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sgtransit/mrt-pipeline/internal/checkpoint"
	"github.com/sgtransit/mrt-pipeline/internal/model"
)

// Mode selects how a run treats an existing checkpoint.
type Mode int

const (
	// ModeResume continues from the checkpoint, skipping every station
	// already attempted, failures included.
	ModeResume Mode = iota
	// ModeRestart discards the checkpoint and processes everything.
	ModeRestart
	// ModeRetryFailed keeps successes but re-attempts failed stations.
	ModeRetryFailed
)

// RunState is the terminal state of a batch run.
type RunState int

const (
	// RunCompleted means every remaining station was attempted.
	RunCompleted RunState = iota
	// RunTimedOut means the time budget expired with stations left; the
	// checkpoint holds everything attempted so far.
	RunTimedOut
)

func (s RunState) String() string {
	if s == RunTimedOut {
		return "timed_out"
	}
	return "completed"
}

// Config tunes a batch run.
type Config struct {
	// TimeBudget bounds the whole run. Checked before each station, never
	// mid-station, so the budget can be overshot by at most one station's
	// processing time. A zero budget times out before the first station.
	TimeBudget time.Duration

	// StationDelay paces requests between stations.
	StationDelay time.Duration

	Mode Mode
}

// Engine processes a batch of stations one at a time, checkpointing after
// every station so any interruption loses at most the station in flight.
type Engine struct {
	extractor Extractor
	docs      DocumentSource
	store     *checkpoint.Store
	policy    Policy
	cfg       Config
	log       *zap.Logger
}

// NewEngine wires a batch engine.
func NewEngine(extractor Extractor, docs DocumentSource, store *checkpoint.Store, cfg Config) *Engine {
	return &Engine{
		extractor: extractor,
		docs:      docs,
		store:     store,
		policy:    NewPolicy(),
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "batch_engine")),
	}
}

// Run processes every station not already covered by the checkpoint, in
// input order. It returns the final checkpoint and whether the run finished
// or hit its time budget. A non-nil error means the run itself broke
// (cancelled context, unwritable checkpoint), not that stations failed.
func (e *Engine) Run(ctx context.Context, stations []model.Station) (*checkpoint.Checkpoint, RunState, error) {
	cp, err := e.prepare(stations)
	if err != nil {
		return nil, RunCompleted, err
	}

	remaining := e.remaining(stations, cp)
	e.log.Info("batch run starting",
		zap.Int("total", len(stations)),
		zap.Int("already_processed", len(stations)-len(remaining)),
		zap.Int("remaining", len(remaining)),
		zap.Duration("time_budget", e.cfg.TimeBudget),
	)

	if len(remaining) == 0 {
		cp.Metadata.TimeoutReached = false
		if err := e.store.Save(cp); err != nil {
			return cp, RunCompleted, err
		}
		return cp, RunCompleted, nil
	}

	var pacer *rate.Limiter
	if e.cfg.StationDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(e.cfg.StationDelay), 1)
	}

	start := time.Now()
	for i, station := range remaining {
		if err := ctx.Err(); err != nil {
			return cp, RunTimedOut, eris.Wrap(err, "engine: run cancelled")
		}

		if time.Since(start) >= e.cfg.TimeBudget {
			cp.Metadata.TimeoutReached = true
			if err := e.store.Save(cp); err != nil {
				return cp, RunTimedOut, err
			}
			e.log.Warn("time budget reached, stopping",
				zap.Int("processed_this_run", i),
				zap.Int("left_for_next_run", len(remaining)-i),
			)
			return cp, RunTimedOut, nil
		}

		if pacer != nil {
			if err := pacer.Wait(ctx); err != nil {
				return cp, RunTimedOut, eris.Wrap(err, "engine: pacing wait")
			}
		}

		outcome := e.process(ctx, station)
		switch outcome.Kind {
		case OutcomeSuccess:
			cp.MarkSuccess(*outcome.Enrichment)
			e.log.Info("station enriched",
				zap.String("station_id", station.StationID),
				zap.Int("exits", len(outcome.Enrichment.Exits)),
				zap.String("confidence", string(outcome.Enrichment.Confidence)),
			)
		case OutcomePermanent:
			cp.MarkFailed(station.StationID, outcome.Err)
			e.log.Error("station failed permanently",
				zap.String("station_id", station.StationID),
				zap.Error(outcome.Err),
			)
		}

		if err := e.store.Save(cp); err != nil {
			return cp, RunCompleted, eris.Wrapf(err, "engine: save after %s", station.StationID)
		}
	}

	cp.Metadata.TimeoutReached = false
	if err := e.store.Save(cp); err != nil {
		return cp, RunCompleted, err
	}
	e.log.Info("batch run complete",
		zap.Int("completed", cp.Metadata.CompletedCount),
		zap.Int("failed", cp.Metadata.FailedCount),
	)
	return cp, RunCompleted, nil
}

// prepare loads or resets the checkpoint according to the run mode.
func (e *Engine) prepare(stations []model.Station) (*checkpoint.Checkpoint, error) {
	if e.cfg.Mode == ModeRestart {
		if err := e.store.Discard(); err != nil {
			return nil, err
		}
		return checkpoint.New(len(stations)), nil
	}

	cp, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return checkpoint.New(len(stations)), nil
	}

	if e.cfg.Mode == ModeRetryFailed {
		cp.StripFailures()
	}
	cp.Metadata.TotalStations = len(stations)
	return cp, nil
}

// remaining filters the input to stations not yet attempted, preserving
// input order.
func (e *Engine) remaining(stations []model.Station, cp *checkpoint.Checkpoint) []model.Station {
	done := cp.Processed()
	out := make([]model.Station, 0, len(stations))
	for _, st := range stations {
		if !done[st.StationID] {
			out = append(out, st)
		}
	}
	return out
}

// process attempts one station end to end. A panic in the fetch or extract
// path is converted to a permanent failure so one pathological station
// cannot take down the whole run.
func (e *Engine) process(ctx context.Context, station model.Station) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				Kind: OutcomePermanent,
				Err:  eris.Errorf("panic processing %s: %v", station.StationID, r),
			}
		}
	}()

	// The fetcher retries transient failures internally, so an error here
	// is already a final one.
	html, err := e.docs.Document(ctx, station)
	if err != nil {
		return Outcome{Kind: OutcomePermanent, Err: err}
	}

	return e.policy.Attempt(ctx, station.StationID, func(ctx context.Context) (*model.StationEnrichment, error) {
		return e.extractor.Extract(ctx, station, html)
	})
}
