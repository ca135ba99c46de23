package enrich

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgtransit/mrt-pipeline/internal/checkpoint"
	"github.com/sgtransit/mrt-pipeline/internal/model"
	"github.com/sgtransit/mrt-pipeline/internal/resilience"
)

type fakeSource struct{}

func (fakeSource) Document(_ context.Context, st model.Station) (string, error) {
	return "<html>" + st.OfficialName + "</html>", nil
}

type errSource struct{ err error }

func (s errSource) Document(context.Context, model.Station) (string, error) {
	return "", s.err
}

// scriptedExtractor fails or panics per station and records call order.
type scriptedExtractor struct {
	calls     []string
	failWith  map[string]error
	panicOn   map[string]bool
	callCount map[string]int
}

func newScriptedExtractor() *scriptedExtractor {
	return &scriptedExtractor{
		failWith:  map[string]error{},
		panicOn:   map[string]bool{},
		callCount: map[string]int{},
	}
}

func (x *scriptedExtractor) Extract(_ context.Context, st model.Station, _ string) (*model.StationEnrichment, error) {
	x.calls = append(x.calls, st.StationID)
	x.callCount[st.StationID]++
	if x.panicOn[st.StationID] {
		panic("extractor blew up")
	}
	if err := x.failWith[st.StationID]; err != nil {
		return nil, err
	}
	return &model.StationEnrichment{
		StationID:    st.StationID,
		OfficialName: st.OfficialName,
		Result:       model.ExtractionSuccess,
		Confidence:   model.ConfidenceHigh,
		Exits:        []model.EnrichedExit{{Code: "A"}},
	}, nil
}

func testStations(ids ...string) []model.Station {
	out := make([]model.Station, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Station{StationID: id, OfficialName: id + " Station"})
	}
	return out
}

func newTestEngine(t *testing.T, x Extractor, docs DocumentSource, cfg Config) (*Engine, *checkpoint.Store) {
	t.Helper()
	if cfg.TimeBudget == 0 {
		cfg.TimeBudget = time.Minute
	}
	st := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	return NewEngine(x, docs, st, cfg), st
}

func TestEngineRun_ProcessesAllStations(t *testing.T) {
	x := newScriptedExtractor()
	eng, _ := newTestEngine(t, x, fakeSource{}, Config{})

	cp, state, err := eng.Run(context.Background(), testStations("NS1", "NS2", "NS3"))
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, state)
	assert.Equal(t, []string{"NS1", "NS2", "NS3"}, x.calls)
	assert.Equal(t, 3, cp.Metadata.CompletedCount)
	assert.Zero(t, cp.Metadata.FailedCount)
	assert.False(t, cp.Metadata.TimeoutReached)
}

func TestEngineRun_ResumeIsIdempotent(t *testing.T) {
	x := newScriptedExtractor()
	eng, store := newTestEngine(t, x, fakeSource{}, Config{})
	stations := testStations("NS1", "NS2")

	_, _, err := eng.Run(context.Background(), stations)
	require.NoError(t, err)

	// Second run over the same input must not re-process anything.
	eng2 := NewEngine(x, fakeSource{}, store, Config{TimeBudget: time.Minute})
	cp, state, err := eng2.Run(context.Background(), stations)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, state)
	assert.Equal(t, 2, len(x.calls))
	assert.Equal(t, 2, cp.Metadata.CompletedCount)
}

func TestEngineRun_ResumeProcessesOnlyRemaining(t *testing.T) {
	// Seed a checkpoint with A and B done, then run over A..D.
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	seed := checkpoint.New(4)
	seed.MarkSuccess(model.StationEnrichment{StationID: "NS1", Result: model.ExtractionSuccess})
	seed.MarkSuccess(model.StationEnrichment{StationID: "NS2", Result: model.ExtractionSuccess})
	require.NoError(t, store.Save(seed))

	x := newScriptedExtractor()
	eng := NewEngine(x, fakeSource{}, store, Config{TimeBudget: time.Minute})
	cp, _, err := eng.Run(context.Background(), testStations("NS1", "NS2", "NS3", "NS4"))
	require.NoError(t, err)

	assert.Equal(t, []string{"NS3", "NS4"}, x.calls, "only unprocessed stations, in input order")
	assert.Equal(t, 4, cp.Metadata.CompletedCount)
}

func TestEngineRun_PermanentFailureDoesNotAbortRun(t *testing.T) {
	x := newScriptedExtractor()
	x.failWith["NS2"] = resilience.NewPermanentError(errors.New("page gone"))
	eng, _ := newTestEngine(t, x, fakeSource{}, Config{})

	cp, state, err := eng.Run(context.Background(), testStations("NS1", "NS2", "NS3"))
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, state)
	assert.Equal(t, 2, cp.Metadata.CompletedCount)
	require.Len(t, cp.FailedStations, 1)
	assert.Equal(t, "NS2", cp.FailedStations[0].StationID)
	assert.True(t, cp.FailedStations[0].Permanent)
}

func TestEngineRun_FailedStationsSkippedOnResume(t *testing.T) {
	x := newScriptedExtractor()
	x.failWith["NS2"] = resilience.NewPermanentError(errors.New("page gone"))
	eng, store := newTestEngine(t, x, fakeSource{}, Config{})
	stations := testStations("NS1", "NS2", "NS3")

	_, _, err := eng.Run(context.Background(), stations)
	require.NoError(t, err)
	callsAfterFirst := len(x.calls)

	// Plain resume skips the failure.
	eng2 := NewEngine(x, fakeSource{}, store, Config{TimeBudget: time.Minute})
	_, _, err = eng2.Run(context.Background(), stations)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, len(x.calls))

	// Retry-failed re-attempts exactly the failed station.
	delete(x.failWith, "NS2")
	eng3 := NewEngine(x, fakeSource{}, store, Config{TimeBudget: time.Minute, Mode: ModeRetryFailed})
	cp, _, err := eng3.Run(context.Background(), stations)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst+1, len(x.calls))
	assert.Equal(t, 3, cp.Metadata.CompletedCount)
	assert.Empty(t, cp.FailedStations)
}

func TestEngineRun_ZeroBudgetTimesOutImmediately(t *testing.T) {
	x := newScriptedExtractor()
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	eng := NewEngine(x, fakeSource{}, store, Config{TimeBudget: 0})

	cp, state, err := eng.Run(context.Background(), testStations("NS1", "NS2", "NS3"))
	require.NoError(t, err)
	assert.Equal(t, RunTimedOut, state)
	assert.Empty(t, x.calls)
	assert.True(t, cp.Metadata.TimeoutReached)

	// The timeout state survives the round trip to disk.
	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Metadata.TimeoutReached)
}

func TestEngineRun_PanicBecomesPermanentFailure(t *testing.T) {
	x := newScriptedExtractor()
	x.panicOn["NS1"] = true
	eng, _ := newTestEngine(t, x, fakeSource{}, Config{})

	cp, state, err := eng.Run(context.Background(), testStations("NS1", "NS2"))
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, state)
	assert.Equal(t, 1, cp.Metadata.CompletedCount)
	require.Len(t, cp.FailedStations, 1)
	assert.True(t, cp.FailedStations[0].Permanent)
	assert.Contains(t, cp.FailedStations[0].Error, "panic")
}

func TestEngineRun_RestartDiscardsCheckpoint(t *testing.T) {
	x := newScriptedExtractor()
	eng, store := newTestEngine(t, x, fakeSource{}, Config{})
	stations := testStations("NS1", "NS2")

	_, _, err := eng.Run(context.Background(), stations)
	require.NoError(t, err)

	eng2 := NewEngine(x, fakeSource{}, store, Config{TimeBudget: time.Minute, Mode: ModeRestart})
	_, _, err = eng2.Run(context.Background(), stations)
	require.NoError(t, err)
	assert.Equal(t, 2, x.callCount["NS1"], "restart must re-process everything")
}

func TestEngineRun_FetchFailureIsPermanent(t *testing.T) {
	// The document source retries internally, so even a transient error
	// surfacing here is final.
	src := errSource{err: resilience.NewTransientError(errors.New("upstream flapping"), 503)}
	eng, _ := newTestEngine(t, newScriptedExtractor(), src, Config{})

	cp, _, err := eng.Run(context.Background(), testStations("NS1"))
	require.NoError(t, err)
	require.Len(t, cp.FailedStations, 1)
	assert.True(t, cp.FailedStations[0].Permanent)
}

func TestEngineRun_ExhaustedRetriesRecordedAsPermanent(t *testing.T) {
	x := newScriptedExtractor()
	x.failWith["NS1"] = resilience.NewTransientError(errors.New("llm timeout"), 0)
	eng, store := newTestEngine(t, x, fakeSource{}, Config{})
	eng.policy.Retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}

	cp, _, err := eng.Run(context.Background(), testStations("NS1"))
	require.NoError(t, err)
	assert.Equal(t, 2, x.callCount["NS1"])
	require.Len(t, cp.FailedStations, 1)
	assert.True(t, cp.FailedStations[0].Permanent, "final-attempt failure must be recorded as permanent")

	// And a plain resume must skip it.
	eng2 := NewEngine(x, fakeSource{}, store, Config{TimeBudget: time.Minute})
	_, _, err = eng2.Run(context.Background(), testStations("NS1"))
	require.NoError(t, err)
	assert.Equal(t, 2, x.callCount["NS1"])
}

func TestPolicyAttempt_ExhaustedTransientIsPermanent(t *testing.T) {
	p := Policy{Retry: resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}}
	attempts := 0
	out := p.Attempt(context.Background(), "NS1", func(context.Context) (*model.StationEnrichment, error) {
		attempts++
		return nil, resilience.NewTransientError(errors.New("timeout"), 0)
	})
	assert.Equal(t, OutcomePermanent, out.Kind)
	assert.Equal(t, 2, attempts)
}

func TestPolicyAttempt_PermanentFailsFast(t *testing.T) {
	p := NewPolicy()
	attempts := 0
	out := p.Attempt(context.Background(), "NS1", func(context.Context) (*model.StationEnrichment, error) {
		attempts++
		return nil, resilience.NewPermanentError(errors.New("not found"))
	})
	assert.Equal(t, OutcomePermanent, out.Kind)
	assert.Equal(t, 1, attempts)
}
