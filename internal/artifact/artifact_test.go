package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgtransit/mrt-pipeline/internal/checkpoint"
	"github.com/sgtransit/mrt-pipeline/internal/model"
)

func TestRunDirLifecycle(t *testing.T) {
	out := t.TempDir()

	dir, m, err := NewRunDir(out, "2.0.0")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, "2.0.0", m.PipelineVersion)

	latest, err := LatestRunDir(out)
	require.NoError(t, err)
	assert.Equal(t, dir, latest)

	// A second run repoints latest.
	dir2, _, err := NewRunDir(out, "2.0.0")
	require.NoError(t, err)
	latest, err = LatestRunDir(out)
	require.NoError(t, err)
	assert.Equal(t, dir2, latest)
}

func TestLatestRunDir_NoRuns(t *testing.T) {
	_, err := LatestRunDir(t.TempDir())
	assert.Error(t, err)
}

func TestStationSetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	set := &model.StationSet{
		Metadata: model.RunMetadata{PipelineVersion: "2.0.0", TotalStations: 1},
		Stations: []model.Station{{StationID: "NS13", OfficialName: "YISHUN MRT STATION"}},
	}

	require.NoError(t, WriteStationSet(dir, set))
	got, err := ReadStationSet(dir)
	require.NoError(t, err)
	assert.Equal(t, set, got)
}

func TestReadEnrichment_MissingFileIsEmpty(t *testing.T) {
	got, err := ReadEnrichment(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadEnrichment_FromFinalizedCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cp := checkpoint.New(1)
	cp.MarkSuccess(model.StationEnrichment{StationID: "NS13", Result: model.ExtractionSuccess})

	store := checkpoint.NewStore(filepath.Join(dir, CheckpointFile))
	require.NoError(t, store.Save(cp))
	require.NoError(t, store.Archive(filepath.Join(dir, EnrichmentFile)))

	got, err := ReadEnrichment(dir)
	require.NoError(t, err)
	require.Contains(t, got, "NS13")
	assert.Equal(t, model.ExtractionSuccess, got["NS13"].Result)
}

func TestManifestMarkStage(t *testing.T) {
	m := &Manifest{RunID: "r"}
	m.MarkStage("ingest")
	m.MarkStage("ingest")
	m.MarkStage("enrich")
	assert.Equal(t, []string{"ingest", "enrich"}, m.StagesCompleted)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{RunID: "run-1", PipelineVersion: "2.0.0"}
	m.MarkStage("ingest")

	require.NoError(t, WriteManifest(dir, m))
	got, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, []string{"ingest"}, got.StagesCompleted)
}

func TestWriteFinalOutput_WritesIssuesFile(t *testing.T) {
	dir := t.TempDir()
	out := &model.FinalOutput{Stations: []model.FinalStation{}}

	require.NoError(t, WriteFinalOutput(dir, out, nil))
	assert.FileExists(t, filepath.Join(dir, FinalFile))

	data, err := os.ReadFile(filepath.Join(dir, IssuesFile))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	got, err := ReadFinalOutput(dir)
	require.NoError(t, err)
	assert.Empty(t, got.Stations)
}
